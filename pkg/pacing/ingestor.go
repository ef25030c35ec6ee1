// Package pacing drives decode-ahead and frame selection for one display tick.
package pacing

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"frame-player/pkg/framepool"
	"frame-player/pkg/media"
)

// ErrUpload wraps a renderer failure while filling an acquired buffer.
var ErrUpload = errors.New("pacing: frame upload failed")

// Uploader writes decoded planes into a display buffer.
type Uploader interface {
	UploadPlanes(h media.BufferHandle, frame *media.RawFrame) error
}

// IngestReport summarizes one Ingest call.
type IngestReport struct {
	Packets int // packets submitted, flush excluded
	Frames  int // frames appended to the Live queue
	Dropped int // frames rejected for an out-of-order timestamp
	Evicted int // Live frames recycled while acquiring buffers

	// Transient is the decoder error that cut ingestion short, if any.
	Transient error

	// EndOfStream is set on the call that observed the decoder running dry.
	EndOfStream bool
}

// Ingestor keeps the Live queue ahead of the clock.
type Ingestor struct {
	dec  media.Decoder
	up   Uploader
	pool *framepool.Pool
	info media.StreamInfo
	log  *logrus.Entry

	readDone  bool // container reported end of input
	flushSent bool // nil packet accepted by the codec
	ended     bool // codec drained, no more frames will come

	// The codec still holds frames from an earlier drain that stopped once
	// the look-ahead was met. They are taken before any new packet.
	pending bool

	transientLog rate.Sometimes
	dropLog      rate.Sometimes
}

// NewIngestor reads the stream info once and returns an ingestor feeding pool.
func NewIngestor(dec media.Decoder, up Uploader, pool *framepool.Pool, log *logrus.Entry) *Ingestor {
	return &Ingestor{
		dec:          dec,
		up:           up,
		pool:         pool,
		info:         dec.Info(),
		log:          log,
		transientLog: rate.Sometimes{First: 3, Interval: 2 * time.Second},
		dropLog:      rate.Sometimes{First: 3, Interval: 2 * time.Second},
	}
}

// Ended reports whether the decoder has emitted its last frame.
func (in *Ingestor) Ended() bool { return in.ended }

// satisfied is the look-ahead condition: some frame is already scheduled
// after now.
func (in *Ingestor) satisfied(now int64) bool {
	tail, ok := in.pool.Tail()
	return ok && tail.Timestamp > now
}

// Ingest decodes until the Live tail lies in the future or the stream ends.
// Decoder errors abort the call without an error; the returned error is
// always fatal.
func (in *Ingestor) Ingest(now int64) (rep IngestReport, err error) {
	before := in.pool.Evictions()
	defer func() { rep.Evicted = int(in.pool.Evictions() - before) }()

	for !in.ended && !in.satisfied(now) {
		// Frames left in the codec come before any new packet.
		if !in.pending && !in.flushSent {
			if !in.readDone {
				pkt, err := in.dec.ReadPacket()
				switch {
				case errors.Is(err, media.ErrEndOfStream):
					in.readDone = true
					in.log.Info("Decoder: end of input, flushing codec")
					continue
				case err != nil:
					in.transient(&rep, fmt.Errorf("read packet: %w", err))
					return rep, nil
				}
				if err := in.dec.SubmitPacket(pkt); err != nil {
					in.transient(&rep, fmt.Errorf("submit packet pts=%d: %w", pkt.PTS, err))
					return rep, nil
				}
				rep.Packets++
			} else {
				if err := in.dec.SubmitPacket(nil); err != nil {
					in.transient(&rep, fmt.Errorf("flush codec: %w", err))
					return rep, nil
				}
				in.flushSent = true
			}
		}

		stop, err := in.drain(now, &rep)
		if err != nil {
			return rep, err
		}
		if stop {
			return rep, nil
		}
	}
	return rep, nil
}

// drain takes the frames the codec has ready until the look-ahead is met.
// stop reports a transient failure that ends ingestion for this tick.
func (in *Ingestor) drain(now int64, rep *IngestReport) (stop bool, err error) {
	in.pending = false
	for {
		if in.satisfied(now) {
			in.pending = true
			return false, nil
		}

		raw, err := in.dec.ReceiveFrame()
		switch {
		case errors.Is(err, media.ErrNeedMoreInput):
			if in.flushSent {
				// A flushed codec has nothing left to ask for.
				in.finish(rep)
			}
			return false, nil
		case errors.Is(err, media.ErrEndOfStream):
			in.finish(rep)
			return false, nil
		case err != nil:
			in.transient(rep, fmt.Errorf("receive frame: %w", err))
			return true, nil
		}

		if err := in.store(now, raw, rep); err != nil {
			return true, err
		}
	}
}

func (in *Ingestor) store(now int64, raw *media.RawFrame, rep *IngestReport) error {
	ts := in.info.TimestampMs(raw.PTS)

	f, err := in.pool.Acquire(now, ts)
	switch {
	case errors.Is(err, framepool.ErrOutOfOrder):
		rep.Dropped++
		in.dropLog.Do(func() {
			in.log.WithError(err).WithField("pts", raw.PTS).Warn("Decoder: dropping out-of-order frame")
		})
		return nil
	case err != nil:
		return fmt.Errorf("acquire buffer for %dms at %dms: %w", ts, now, err)
	}

	if err := in.up.UploadPlanes(f.Handle, raw); err != nil {
		if abortErr := in.pool.Abort(f.Slot); abortErr != nil {
			return errors.Join(fmt.Errorf("%w: %w", ErrUpload, err), abortErr)
		}
		return fmt.Errorf("%w: buffer %d: %w", ErrUpload, f.Handle, err)
	}
	if err := in.pool.Commit(f.Slot); err != nil {
		return err
	}
	rep.Frames++
	return nil
}

func (in *Ingestor) finish(rep *IngestReport) {
	if in.ended {
		return
	}
	in.ended = true
	rep.EndOfStream = true
	in.log.WithField("live", in.pool.LiveLen()).Info("Decoder: end of stream")
}

func (in *Ingestor) transient(rep *IngestReport, err error) {
	rep.Transient = err
	in.transientLog.Do(func() {
		in.log.WithError(err).Warn("Decoder: transient error, retrying next tick")
	})
}
