package pacing

import (
	"frame-player/pkg/framepool"
)

// TickResult is everything the display side needs after one tick.
type TickResult struct {
	Now    int64
	Frame  framepool.Frame
	Ingest IngestReport
	Pool   framepool.Snapshot
}

// Pacer runs decode-ahead and selection for a clock reading. Presentation
// stays with the caller.
type Pacer struct {
	pool   *framepool.Pool
	ingest *Ingestor
}

func NewPacer(pool *framepool.Pool, ingest *Ingestor) *Pacer {
	return &Pacer{pool: pool, ingest: ingest}
}

// Ended reports whether the decoder is exhausted.
func (p *Pacer) Ended() bool { return p.ingest.Ended() }

// Tick ingests up to now and selects the frame to show. Any error is fatal.
func (p *Pacer) Tick(now int64) (TickResult, error) {
	res := TickResult{Now: now}

	rep, err := p.ingest.Ingest(now)
	res.Ingest = rep
	if err != nil {
		res.Pool = p.pool.Snapshot()
		return res, err
	}

	f, err := Select(p.pool, now)
	res.Pool = p.pool.Snapshot()
	if err != nil {
		return res, err
	}
	res.Frame = f
	return res, nil
}
