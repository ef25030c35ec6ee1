// Package mpeg is the FFmpeg decoder backend: libavformat demuxes the first
// video stream, libavcodec decodes it and libswscale converts anything that
// is not planar 4:2:0 into I420.
package mpeg

/*
#cgo pkg-config: libavformat libavcodec libavutil libswscale

#include <stdlib.h>
#include <string.h>
#include <libavformat/avformat.h>
#include <libavcodec/avcodec.h>
#include <libavutil/imgutils.h>
#include <libavutil/log.h>
#include <libswscale/swscale.h>

typedef struct {
    AVFormatContext   *formatCtx;
    AVCodecContext    *codecCtx;
    AVPacket          *packet;
    AVFrame           *frame;
    AVFrame           *yuv;
    struct SwsContext *swsCtx;
    int                videoStream;
} Decoder;

// Returns 0 or a negative step code, see openErrors on the Go side.
int open_decoder(const char *filename, const char *codecName, int threads, Decoder *d) {
    av_log_set_level(AV_LOG_ERROR);
    d->videoStream = -1;

    if (avformat_open_input(&d->formatCtx, filename, NULL, NULL) != 0) {
        return -1;
    }
    if (avformat_find_stream_info(d->formatCtx, NULL) < 0) {
        return -2;
    }

    int idx = av_find_best_stream(d->formatCtx, AVMEDIA_TYPE_VIDEO, -1, -1, NULL, 0);
    if (idx < 0) {
        return -3;
    }
    d->videoStream = idx;
    AVCodecParameters *par = d->formatCtx->streams[idx]->codecpar;

    // A named decoder is only used when it handles the stream's codec.
    const AVCodec *codec = NULL;
    if (codecName && codecName[0] != '\0') {
        codec = avcodec_find_decoder_by_name(codecName);
        if (codec && codec->id != par->codec_id) {
            codec = NULL;
        }
    }
    if (!codec) {
        codec = avcodec_find_decoder(par->codec_id);
    }
    if (!codec) {
        return -4;
    }

    d->codecCtx = avcodec_alloc_context3(codec);
    if (!d->codecCtx) {
        return -5;
    }
    if (avcodec_parameters_to_context(d->codecCtx, par) < 0) {
        return -6;
    }
    // Frame threading holds back one frame per thread; slice threading adds
    // no output delay.
    d->codecCtx->thread_type = FF_THREAD_SLICE;
    d->codecCtx->thread_count = threads;
    d->codecCtx->pkt_timebase = d->formatCtx->streams[idx]->time_base;

    if (avcodec_open2(d->codecCtx, codec, NULL) < 0) {
        return -7;
    }

    d->packet = av_packet_alloc();
    d->frame = av_frame_alloc();
    if (!d->packet || !d->frame) {
        return -8;
    }
    return 0;
}

// 0 packet read, 1 end of input, negative AVERROR. Packets of other streams
// are skipped.
int read_packet(Decoder *d) {
    for (;;) {
        av_packet_unref(d->packet);
        int ret = av_read_frame(d->formatCtx, d->packet);
        if (ret == AVERROR_EOF) {
            return 1;
        }
        if (ret < 0) {
            return ret;
        }
        if (d->packet->stream_index == d->videoStream) {
            return 0;
        }
    }
}

// Submits the last read packet, or flushes the codec when flush is set.
int send_packet(Decoder *d, int flush) {
    int ret;
    if (flush) {
        ret = avcodec_send_packet(d->codecCtx, NULL);
        if (ret == AVERROR_EOF) {
            ret = 0;
        }
        return ret;
    }
    ret = avcodec_send_packet(d->codecCtx, d->packet);
    av_packet_unref(d->packet);
    return ret;
}

static int is_i420(int fmt) {
    return fmt == AV_PIX_FMT_YUV420P || fmt == AV_PIX_FMT_YUVJ420P;
}

// 0 frame ready, 1 needs input, 2 drained, negative AVERROR.
int receive_frame(Decoder *d) {
    int ret = avcodec_receive_frame(d->codecCtx, d->frame);
    if (ret == AVERROR(EAGAIN)) {
        return 1;
    }
    if (ret == AVERROR_EOF) {
        return 2;
    }
    if (ret < 0) {
        return ret;
    }
    if (is_i420(d->frame->format)) {
        return 0;
    }

    int w = d->frame->width, h = d->frame->height;
    if (!d->yuv || d->yuv->width != w || d->yuv->height != h) {
        av_frame_free(&d->yuv);
        d->yuv = av_frame_alloc();
        if (!d->yuv) {
            return AVERROR(ENOMEM);
        }
        d->yuv->format = AV_PIX_FMT_YUV420P;
        d->yuv->width = w;
        d->yuv->height = h;
        if ((ret = av_frame_get_buffer(d->yuv, 0)) < 0) {
            return ret;
        }
    }
    d->swsCtx = sws_getCachedContext(d->swsCtx, w, h, d->frame->format,
                                     w, h, AV_PIX_FMT_YUV420P,
                                     SWS_BILINEAR, NULL, NULL, NULL);
    if (!d->swsCtx) {
        return AVERROR(EINVAL);
    }
    sws_scale(d->swsCtx, (const uint8_t * const *)d->frame->data, d->frame->linesize,
              0, h, d->yuv->data, d->yuv->linesize);
    return 0;
}

AVFrame *output_frame(Decoder *d) {
    return is_i420(d->frame->format) ? d->frame : d->yuv;
}

int frame_pts(Decoder *d, int64_t *pts) {
    if (d->frame->best_effort_timestamp != AV_NOPTS_VALUE) {
        *pts = d->frame->best_effort_timestamp;
        return 1;
    }
    if (d->frame->pts != AV_NOPTS_VALUE) {
        *pts = d->frame->pts;
        return 1;
    }
    return 0;
}

int packet_pts(Decoder *d, int64_t *pts) {
    int64_t v = d->packet->pts != AV_NOPTS_VALUE ? d->packet->pts : d->packet->dts;
    if (v == AV_NOPTS_VALUE) {
        return 0;
    }
    *pts = v;
    return 1;
}

int64_t stream_start(Decoder *d) {
    AVStream *st = d->formatCtx->streams[d->videoStream];
    return st->start_time == AV_NOPTS_VALUE ? 0 : st->start_time;
}

AVRational stream_time_base(Decoder *d) {
    return d->formatCtx->streams[d->videoStream]->time_base;
}

double stream_fps(Decoder *d) {
    AVStream *st = d->formatCtx->streams[d->videoStream];
    AVRational r = av_guess_frame_rate(d->formatCtx, st, NULL);
    return r.den == 0 ? 0 : av_q2d(r);
}

const char *codec_name(Decoder *d) {
    return d->codecCtx && d->codecCtx->codec ? d->codecCtx->codec->name : "";
}

void close_decoder(Decoder *d) {
    sws_freeContext(d->swsCtx);
    d->swsCtx = NULL;
    av_frame_free(&d->yuv);
    av_frame_free(&d->frame);
    av_packet_free(&d->packet);
    avcodec_free_context(&d->codecCtx);
    if (d->formatCtx) {
        avformat_close_input(&d->formatCtx);
    }
}
*/
import "C"

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"unsafe"

	"frame-player/pkg/media"
)

// ErrForeignPacket is returned when SubmitPacket receives a packet this
// decoder did not read.
var ErrForeignPacket = errors.New("mpeg: packet was not read by this decoder")

var openErrors = map[int]string{
	-1: "could not open input",
	-2: "could not find stream information",
	-4: "no decoder for stream codec",
	-5: "could not allocate codec context",
	-6: "could not copy codec parameters",
	-7: "could not open codec",
	-8: "could not allocate frame",
}

// openError maps an open_decoder step code to an error.
func openError(code int, path string) error {
	if code == -3 {
		return fmt.Errorf("mpeg: %s: %w", path, media.ErrNoVideoStream)
	}
	msg, ok := openErrors[code]
	if !ok {
		msg = "unknown failure"
	}
	return fmt.Errorf("mpeg: %s: %s (code=%d)", path, msg, code)
}

// avError formats a negative AVERROR.
func avError(op string, code C.int) error {
	buf := make([]byte, 128)
	C.av_strerror(code, (*C.char)(unsafe.Pointer(&buf[0])), C.size_t(len(buf)))
	return fmt.Errorf("mpeg: %s: %s", op, C.GoString((*C.char)(unsafe.Pointer(&buf[0]))))
}

// Options tune the FFmpeg backend.
type Options struct {
	// Codec names a specific libavcodec decoder, e.g. "h264" or "libdav1d".
	// It is ignored when it does not match the stream.
	Codec string

	// Threads is the slice thread count, 0 lets FFmpeg decide.
	Threads int
}

// Decoder implements media.Decoder on top of libavformat and libavcodec.
type Decoder struct {
	cdec C.Decoder
	info media.StreamInfo

	last  *media.Packet
	frame media.RawFrame

	// Synthesized timestamps for frames that carry none.
	nextPTS   int64
	frameTick int64

	closeOnce sync.Once
}

// Open opens path and prepares the codec for its best video stream.
func Open(path string, opts Options) (*Decoder, error) {
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))
	cCodec := C.CString(opts.Codec)
	defer C.free(unsafe.Pointer(cCodec))

	d := &Decoder{}
	if ret := C.open_decoder(cPath, cCodec, C.int(opts.Threads), &d.cdec); ret != 0 {
		C.close_decoder(&d.cdec)
		return nil, openError(int(ret), path)
	}

	tb := C.stream_time_base(&d.cdec)
	fps := float64(C.stream_fps(&d.cdec))
	d.info = media.StreamInfo{
		Width:         int(d.cdec.codecCtx.width),
		Height:        int(d.cdec.codecCtx.height),
		TimeBaseScale: timeBaseScale(int(tb.num), int(tb.den)),
		StartPTS:      int64(C.stream_start(&d.cdec)),
		Codec:         C.GoString(C.codec_name(&d.cdec)),
		FrameRate:     fps,
	}
	d.nextPTS = d.info.StartPTS
	d.frameTick = frameTicks(int(tb.num), int(tb.den), fps)
	return d, nil
}

// timeBaseScale converts a stream time base into milliseconds per tick.
func timeBaseScale(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den) * 1000
}

// frameTicks is the duration of one frame in time-base ticks.
func frameTicks(num, den int, fps float64) int64 {
	if num == 0 || fps <= 0 {
		return 1
	}
	t := int64(math.Round(float64(den) / float64(num) / fps))
	if t < 1 {
		return 1
	}
	return t
}

func (d *Decoder) Info() media.StreamInfo { return d.info }

// ReadPacket returns the next packet of the video stream. Its Data aliases
// demuxer memory and is only valid until the packet is submitted.
func (d *Decoder) ReadPacket() (*media.Packet, error) {
	ret := C.read_packet(&d.cdec)
	switch {
	case ret == 1:
		return nil, media.ErrEndOfStream
	case ret < 0:
		return nil, avError("read packet", ret)
	}

	pkt := &media.Packet{
		Data: unsafe.Slice((*byte)(unsafe.Pointer(d.cdec.packet.data)), int(d.cdec.packet.size)),
	}
	var pts C.int64_t
	if C.packet_pts(&d.cdec, &pts) == 1 {
		pkt.PTS = int64(pts)
	}
	d.last = pkt
	return pkt, nil
}

// SubmitPacket sends the packet returned by the previous ReadPacket to the
// codec. A nil packet flushes it.
func (d *Decoder) SubmitPacket(pkt *media.Packet) error {
	if pkt == nil {
		if ret := C.send_packet(&d.cdec, 1); ret < 0 {
			return avError("flush", ret)
		}
		return nil
	}
	if pkt != d.last {
		return ErrForeignPacket
	}
	d.last = nil
	if ret := C.send_packet(&d.cdec, 0); ret < 0 {
		return avError("send packet", ret)
	}
	return nil
}

// ReceiveFrame returns the next decoded picture as I420 planes aliasing
// FFmpeg memory.
func (d *Decoder) ReceiveFrame() (*media.RawFrame, error) {
	ret := C.receive_frame(&d.cdec)
	switch {
	case ret == 1:
		return nil, media.ErrNeedMoreInput
	case ret == 2:
		return nil, media.ErrEndOfStream
	case ret < 0:
		return nil, avError("receive frame", ret)
	}

	out := C.output_frame(&d.cdec)
	h := int(out.height)
	chromaH := (h + 1) / 2
	for i := 0; i < 3; i++ {
		rows := h
		if i > 0 {
			rows = chromaH
		}
		stride := int(out.linesize[i])
		d.frame.Strides[i] = stride
		d.frame.Planes[i] = unsafe.Slice((*byte)(unsafe.Pointer(out.data[i])), stride*rows)
	}

	var pts C.int64_t
	if C.frame_pts(&d.cdec, &pts) == 1 {
		d.frame.PTS = int64(pts)
	} else {
		d.frame.PTS = d.nextPTS
	}
	d.nextPTS = d.frame.PTS + d.frameTick

	return &d.frame, nil
}

// Close frees every FFmpeg object. It is safe to call twice.
func (d *Decoder) Close() {
	d.closeOnce.Do(func() {
		C.close_decoder(&d.cdec)
	})
}

var _ media.Decoder = (*Decoder)(nil)
