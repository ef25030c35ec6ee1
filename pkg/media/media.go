// Package media defines the collaborator contracts the pacing core consumes:
// a Decoder that yields raw frames and a Renderer that owns display buffers.
package media

import "errors"

var (
	// ErrEndOfStream is returned by ReadPacket when the container has no more
	// packets and by ReceiveFrame once a flushed decoder has emitted everything.
	ErrEndOfStream = errors.New("media: end of stream")

	// ErrNeedMoreInput is returned by ReceiveFrame when the codec wants another
	// packet before it can emit a frame.
	ErrNeedMoreInput = errors.New("media: need more input")

	// ErrNoVideoStream means the container has no video track to play.
	ErrNoVideoStream = errors.New("media: no video stream")
)

// BufferHandle identifies a renderer-owned display buffer. Handles are
// allocated once and reused for the lifetime of the pool that owns them.
type BufferHandle int

// StreamInfo describes the selected video stream. It is read once at startup.
type StreamInfo struct {
	Width  int
	Height int

	// TimeBaseScale converts a raw PTS tick into milliseconds.
	TimeBaseScale float64

	// StartPTS is the stream's declared start time in PTS ticks, 0 when unknown.
	StartPTS int64

	Codec     string
	FrameRate float64
}

// TimestampMs converts a raw PTS into a presentation timestamp in
// milliseconds relative to the stream start. Values before the start clamp to 0.
func (s StreamInfo) TimestampMs(pts int64) int64 {
	ms := int64(float64(pts-s.StartPTS) * s.TimeBaseScale)
	if ms < 0 {
		return 0
	}
	return ms
}

// Packet is one compressed access unit of the video stream.
type Packet struct {
	Data []byte
	PTS  int64
}

// RawFrame is a decoded I420 picture. Planes alias decoder memory and are only
// valid until the next ReceiveFrame call.
type RawFrame struct {
	Planes  [3][]byte
	Strides [3]int
	PTS     int64
}

// Decoder demuxes and decodes a single video stream.
type Decoder interface {
	// Info returns the stream metadata.
	Info() StreamInfo

	// ReadPacket returns the next video packet or ErrEndOfStream.
	ReadPacket() (*Packet, error)

	// SubmitPacket feeds a packet to the codec. A nil packet flushes it.
	SubmitPacket(pkt *Packet) error

	// ReceiveFrame returns the next decoded frame, ErrNeedMoreInput or
	// ErrEndOfStream.
	ReceiveFrame() (*RawFrame, error)

	// Close releases decoder resources.
	Close()
}

// BufferAllocator creates and destroys display buffers.
type BufferAllocator interface {
	CreateBuffer() (BufferHandle, error)
	DestroyBuffer(h BufferHandle)
}

// Renderer uploads decoded planes into display buffers and presents them.
type Renderer interface {
	BufferAllocator

	// UploadPlanes writes a decoded frame into the buffer.
	UploadPlanes(h BufferHandle, frame *RawFrame) error

	// Present draws the buffer into the current window frame.
	Present(h BufferHandle)
}
