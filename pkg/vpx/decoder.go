// Package vpx is the libvpx decoder backend for VP8 and VP9 streams stored in
// IVF files.
package vpx

/*
#cgo pkg-config: vpx
#include <stdlib.h>
#include <vpx/vpx_decoder.h>
#include <vpx/vp8dx.h>
#include <vpx/vpx_image.h>

vpx_codec_iface_t *ifaceVP8Decoder() {
    return vpx_codec_vp8_dx();
}
vpx_codec_iface_t *ifaceVP9Decoder() {
    return vpx_codec_vp9_dx();
}

vpx_codec_ctx_t *newDecoderCtx() {
    return (vpx_codec_ctx_t *)calloc(1, sizeof(vpx_codec_ctx_t));
}

vpx_codec_err_t decoderInit(vpx_codec_ctx_t *ctx, vpx_codec_iface_t *iface, unsigned int threads) {
    vpx_codec_dec_cfg_t cfg = {0};
    cfg.threads = threads;
    return vpx_codec_dec_init_ver(ctx, iface, &cfg, 0, VPX_DECODER_ABI_VERSION);
}

// A NULL buffer flushes the decoder.
vpx_codec_err_t decodeFrame(vpx_codec_ctx_t *ctx, const uint8_t *data, unsigned int size) {
    return vpx_codec_decode(ctx, data, size, NULL, 0);
}

vpx_image_t *getFrame(vpx_codec_ctx_t *ctx, vpx_codec_iter_t *iter) {
    return vpx_codec_get_frame(ctx, iter);
}

int isI420(vpx_image_t *img) {
    return img->fmt == VPX_IMG_FMT_I420;
}

void freeDecoderCtx(vpx_codec_ctx_t *ctx) {
    vpx_codec_destroy(ctx);
    free(ctx);
}
*/
import "C"

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"unsafe"

	"github.com/pion/webrtc/v4/pkg/media/ivfreader"

	"frame-player/pkg/media"
)

var (
	// ErrUnsupportedCodec is returned for IVF FourCCs other than VP80/VP90.
	ErrUnsupportedCodec = errors.New("vpx: unsupported codec")

	// ErrPixelFormat is returned for images that are not 8-bit 4:2:0.
	ErrPixelFormat = errors.New("vpx: only 8-bit 4:2:0 images are supported")
)

// Codec is the libvpx interface matching an IVF FourCC.
type Codec int

const (
	CodecVP8 Codec = iota + 1
	CodecVP9
)

func (c Codec) String() string {
	switch c {
	case CodecVP8:
		return "vp8"
	case CodecVP9:
		return "vp9"
	}
	return "unknown"
}

// CodecForFourCC resolves an IVF FourCC.
func CodecForFourCC(fourcc string) (Codec, error) {
	switch fourcc {
	case "VP80":
		return CodecVP8, nil
	case "VP90":
		return CodecVP9, nil
	}
	return 0, fmt.Errorf("%w: fourcc %q", ErrUnsupportedCodec, fourcc)
}

// Decoder implements media.Decoder for IVF files.
type Decoder struct {
	file   *os.File
	reader *ivfreader.IVFReader
	info   media.StreamInfo

	codecCtx *C.vpx_codec_ctx_t
	iter     C.vpx_codec_iter_t

	// First packet, read at open to learn the start timestamp.
	peeked *media.Packet

	pendingPTS int64
	flushed    bool
	frame      media.RawFrame

	closeOnce sync.Once
}

// Open reads the IVF header of path and initializes the matching libvpx
// decoder. threads of 0 leaves libvpx to decide.
func Open(path string, threads int) (*Decoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vpx: %w", err)
	}

	reader, hdr, err := ivfreader.NewWith(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("vpx: %s: %w", path, err)
	}
	codec, err := CodecForFourCC(hdr.FourCC)
	if err != nil {
		f.Close()
		return nil, err
	}

	d := &Decoder{
		file:   f,
		reader: reader,
		info: media.StreamInfo{
			Width:         int(hdr.Width),
			Height:        int(hdr.Height),
			TimeBaseScale: timeBaseScale(hdr.TimebaseNumerator, hdr.TimebaseDenominator),
			Codec:         codec.String(),
			FrameRate:     frameRate(hdr.TimebaseNumerator, hdr.TimebaseDenominator),
		},
	}

	first, err := d.next()
	switch {
	case errors.Is(err, media.ErrEndOfStream):
		f.Close()
		return nil, fmt.Errorf("vpx: %s: %w", path, media.ErrNoVideoStream)
	case err != nil:
		f.Close()
		return nil, err
	}
	d.peeked = first
	d.info.StartPTS = first.PTS

	iface := C.ifaceVP8Decoder()
	if codec == CodecVP9 {
		iface = C.ifaceVP9Decoder()
	}
	d.codecCtx = C.newDecoderCtx()
	if d.codecCtx == nil {
		f.Close()
		return nil, errors.New("vpx: could not allocate codec context")
	}
	if status := C.decoderInit(d.codecCtx, iface, C.uint(threads)); status != C.VPX_CODEC_OK {
		C.free(unsafe.Pointer(d.codecCtx))
		f.Close()
		return nil, fmt.Errorf("vpx: vpx_codec_dec_init failed: %v", status)
	}
	return d, nil
}

// timeBaseScale is milliseconds per IVF timestamp tick.
func timeBaseScale(num, den uint32) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den) * 1000
}

// frameRate assumes one frame per tick, which is how IVF writers set the
// time base.
func frameRate(num, den uint32) float64 {
	if num == 0 {
		return 0
	}
	return float64(den) / float64(num)
}

func (d *Decoder) Info() media.StreamInfo { return d.info }

func (d *Decoder) next() (*media.Packet, error) {
	payload, fh, err := d.reader.ParseNextFrame()
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return nil, media.ErrEndOfStream
	case err != nil:
		return nil, fmt.Errorf("vpx: read frame: %w", err)
	}
	return &media.Packet{Data: payload, PTS: int64(fh.Timestamp)}, nil
}

// ReadPacket returns the next IVF frame.
func (d *Decoder) ReadPacket() (*media.Packet, error) {
	if p := d.peeked; p != nil {
		d.peeked = nil
		return p, nil
	}
	return d.next()
}

// SubmitPacket decodes one IVF frame. A nil packet flushes libvpx.
func (d *Decoder) SubmitPacket(pkt *media.Packet) error {
	d.iter = nil
	if pkt == nil {
		d.flushed = true
		if status := C.decodeFrame(d.codecCtx, nil, 0); status != C.VPX_CODEC_OK {
			return fmt.Errorf("vpx: flush: %v", status)
		}
		return nil
	}
	if len(pkt.Data) == 0 {
		return nil
	}

	d.pendingPTS = pkt.PTS
	status := C.decodeFrame(d.codecCtx, (*C.uint8_t)(&pkt.Data[0]), C.uint(len(pkt.Data)))
	if status != C.VPX_CODEC_OK {
		return fmt.Errorf("vpx: decode pts=%d: %v", pkt.PTS, status)
	}
	return nil
}

// ReceiveFrame returns the next shown image of the last submitted packet.
// Images belong to libvpx and stay valid until the next SubmitPacket.
func (d *Decoder) ReceiveFrame() (*media.RawFrame, error) {
	img := C.getFrame(d.codecCtx, &d.iter)
	if img == nil {
		if d.flushed {
			return nil, media.ErrEndOfStream
		}
		return nil, media.ErrNeedMoreInput
	}
	if C.isI420(img) == 0 {
		return nil, fmt.Errorf("%w: format %d", ErrPixelFormat, int(img.fmt))
	}

	h := int(img.d_h)
	for i := 0; i < 3; i++ {
		rows := h
		if i > 0 {
			rows = (h + 1) / 2
		}
		stride := int(img.stride[i])
		d.frame.Strides[i] = stride
		d.frame.Planes[i] = unsafe.Slice((*byte)(unsafe.Pointer(img.planes[i])), stride*rows)
	}
	d.frame.PTS = d.pendingPTS
	return &d.frame, nil
}

// Close destroys the codec and closes the file. It is safe to call twice.
func (d *Decoder) Close() {
	d.closeOnce.Do(func() {
		if d.codecCtx != nil {
			C.freeDecoderCtx(d.codecCtx)
			d.codecCtx = nil
		}
		d.file.Close()
	})
}

var _ media.Decoder = (*Decoder)(nil)
