// Package mocks provides in-memory collaborators for tests.
package mocks

import (
	"fmt"

	"frame-player/pkg/media"
)

// Renderer is a mock implementation of media.Renderer.
type Renderer struct {
	// FailCreateAt makes the n-th CreateBuffer call (1-based) fail. 0 disables.
	FailCreateAt int
	UploadFunc   func(h media.BufferHandle, frame *media.RawFrame) error

	// Recorded calls for verification
	Created   []media.BufferHandle
	Destroyed []media.BufferHandle
	Uploads   []UploadCall
	Presented []media.BufferHandle
}

// UploadCall records a call to UploadPlanes.
type UploadCall struct {
	Handle media.BufferHandle
	PTS    int64
}

// handleBase keeps handles distinct from pool slot indices in assertions.
const handleBase = 100

func (m *Renderer) CreateBuffer() (media.BufferHandle, error) {
	n := len(m.Created) + 1
	if m.FailCreateAt > 0 && n == m.FailCreateAt {
		return 0, fmt.Errorf("framebuffer %d incomplete", n)
	}
	h := media.BufferHandle(handleBase + len(m.Created))
	m.Created = append(m.Created, h)
	return h, nil
}

func (m *Renderer) DestroyBuffer(h media.BufferHandle) {
	m.Destroyed = append(m.Destroyed, h)
}

func (m *Renderer) UploadPlanes(h media.BufferHandle, frame *media.RawFrame) error {
	m.Uploads = append(m.Uploads, UploadCall{Handle: h, PTS: frame.PTS})
	if m.UploadFunc != nil {
		return m.UploadFunc(h, frame)
	}
	return nil
}

func (m *Renderer) Present(h media.BufferHandle) {
	m.Presented = append(m.Presented, h)
}

// LastUpload returns the most recent upload into h.
func (m *Renderer) LastUpload(h media.BufferHandle) (UploadCall, bool) {
	for i := len(m.Uploads) - 1; i >= 0; i-- {
		if m.Uploads[i].Handle == h {
			return m.Uploads[i], true
		}
	}
	return UploadCall{}, false
}

var _ media.Renderer = (*Renderer)(nil)
