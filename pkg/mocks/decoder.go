package mocks

import "frame-player/pkg/media"

// Step scripts one ReadPacket call of a Decoder.
type Step struct {
	ReadErr   error   // returned by ReadPacket instead of a packet
	SubmitErr error   // returned by SubmitPacket for this packet
	Frames    []int64 // PTS of frames ready after the packet is submitted
}

// Decoder is a scripted implementation of media.Decoder. Each ReadPacket
// consumes one Step; once the script is exhausted ReadPacket reports
// media.ErrEndOfStream.
type Decoder struct {
	StreamInfo media.StreamInfo
	Steps      []Step

	// FlushFrames are released when a nil packet is submitted.
	FlushFrames []int64

	// Recorded calls for verification
	ReadCalls    int
	SubmitCalls  int
	ReceiveCalls int
	Flushed      bool
	Closed       bool

	pos     int
	current *Step
	ready   []int64
	planes  [3][]byte
}

// NewDecoder returns a decoder emitting one frame per packet with the given
// PTS values, in milliseconds.
func NewDecoder(pts ...int64) *Decoder {
	d := &Decoder{StreamInfo: media.StreamInfo{Width: 4, Height: 4, TimeBaseScale: 1, Codec: "mock"}}
	for _, p := range pts {
		d.Steps = append(d.Steps, Step{Frames: []int64{p}})
	}
	return d
}

func (d *Decoder) Info() media.StreamInfo { return d.StreamInfo }

func (d *Decoder) ReadPacket() (*media.Packet, error) {
	d.ReadCalls++
	if d.pos >= len(d.Steps) {
		return nil, media.ErrEndOfStream
	}
	step := &d.Steps[d.pos]
	d.pos++
	if step.ReadErr != nil {
		return nil, step.ReadErr
	}
	d.current = step
	return &media.Packet{Data: []byte{byte(d.pos)}, PTS: int64(d.pos)}, nil
}

func (d *Decoder) SubmitPacket(pkt *media.Packet) error {
	d.SubmitCalls++
	if pkt == nil {
		d.Flushed = true
		d.ready = append(d.ready, d.FlushFrames...)
		return nil
	}
	step := d.current
	d.current = nil
	if step == nil {
		return nil
	}
	if step.SubmitErr != nil {
		return step.SubmitErr
	}
	d.ready = append(d.ready, step.Frames...)
	return nil
}

func (d *Decoder) ReceiveFrame() (*media.RawFrame, error) {
	d.ReceiveCalls++
	if len(d.ready) == 0 {
		if d.Flushed {
			return nil, media.ErrEndOfStream
		}
		return nil, media.ErrNeedMoreInput
	}
	pts := d.ready[0]
	d.ready = d.ready[1:]

	w, h := d.StreamInfo.Width, d.StreamInfo.Height
	if d.planes[0] == nil {
		d.planes = [3][]byte{make([]byte, w*h), make([]byte, w*h/4), make([]byte, w*h/4)}
	}
	return &media.RawFrame{
		Planes:  d.planes,
		Strides: [3]int{w, w / 2, w / 2},
		PTS:     pts,
	}, nil
}

func (d *Decoder) Close() { d.Closed = true }

var _ media.Decoder = (*Decoder)(nil)
