// Package player runs the presentation loop. Each iteration polls window
// events, ticks the pacer at the clock reading, presents the selected buffer
// and sleeps out the rest of the frame interval.
package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"frame-player/pkg/clock"
	"frame-player/pkg/framepool"
	"frame-player/pkg/input"
	"frame-player/pkg/logging"
	"frame-player/pkg/media"
	"frame-player/pkg/pacing"
	"frame-player/pkg/performance"
)

// Display is a renderer with an event pump.
type Display interface {
	media.Renderer
	PollEvents() input.StopReason
}

// Options tune the loop.
type Options struct {
	// FrameInterval is the target tick period. Ticks that finish early
	// sleep for the remainder; 0 runs unthrottled.
	FrameInterval time.Duration

	// StatsInterval is the period of the debug statistics line; 0 disables it.
	StatsInterval time.Duration

	// StatsWindow is the number of ticks the rolling averages cover.
	StatsWindow int
}

// Summary describes a finished playback.
type Summary struct {
	Session string
	Reason  input.StopReason
	Ended   bool // decoder ran dry before the stop
	Report  performance.Report
}

// Player owns the pool and decoder for one playback session.
type Player struct {
	pool    *framepool.Pool
	dec     media.Decoder
	display Display
	clock   clock.Clock
	pacer   *pacing.Pacer
	monitor *performance.Monitor
	opts    Options
	session uuid.UUID
	log     *logrus.Entry

	sleep     func(time.Duration)
	lastStats time.Time
	closeOnce sync.Once
}

// New wires a pacer over pool, dec and display. The pool must have been
// built with display as its allocator.
func New(pool *framepool.Pool, dec media.Decoder, display Display, clk clock.Clock, opts Options, log *logrus.Entry) *Player {
	if opts.StatsWindow <= 0 {
		opts.StatsWindow = 120
	}
	session := uuid.New()
	log = log.WithField("session", session.String())

	ingest := pacing.NewIngestor(dec, display, pool, logging.Component(log, "decoder"))
	return &Player{
		pool:    pool,
		dec:     dec,
		display: display,
		clock:   clk,
		pacer:   pacing.NewPacer(pool, ingest),
		monitor: performance.NewMonitor(opts.StatsWindow, opts.FrameInterval),
		opts:    opts,
		session: session,
		log:     logging.Component(log, "player"),
		sleep:   time.Sleep,
	}
}

// Session is the id attached to every log line of this playback.
func (p *Player) Session() string { return p.session.String() }

// Run ticks until the display asks to stop, ctx is cancelled or a tick fails.
// Tick failures are fatal and returned wrapped.
func (p *Player) Run(ctx context.Context) (Summary, error) {
	if s, ok := p.clock.(interface{ Start() }); ok {
		s.Start()
	}
	info := p.dec.Info()
	p.log.WithFields(logrus.Fields{
		"width":    info.Width,
		"height":   info.Height,
		"codec":    info.Codec,
		"fps":      info.FrameRate,
		"capacity": p.pool.Capacity(),
	}).Info("Player: playback started")

	sum := Summary{Session: p.session.String()}
	p.lastStats = time.Now()

	for {
		if ctx.Err() != nil {
			sum.Reason = input.StopSignal
			break
		}
		if reason := p.display.PollEvents(); reason != input.StopNone {
			sum.Reason = reason
			break
		}

		elapsed, err := p.tick()
		if err != nil {
			sum.Ended = p.pacer.Ended()
			sum.Report = p.monitor.Report()
			return sum, err
		}

		p.maybeLogStats()
		if p.opts.FrameInterval > 0 && elapsed < p.opts.FrameInterval {
			p.sleep(p.opts.FrameInterval - elapsed)
		}
	}

	sum.Ended = p.pacer.Ended()
	sum.Report = p.monitor.Report()
	p.log.WithFields(sum.Report.Fields()).
		WithField("reason", string(sum.Reason)).
		Info("Player: playback stopped")
	return sum, nil
}

// tick runs one pacer tick and presents its frame. It returns the time the
// tick took.
func (p *Player) tick() (time.Duration, error) {
	start := time.Now()
	res, err := p.pacer.Tick(p.clock.Now())
	ingested := time.Since(start)
	if err != nil {
		p.log.WithError(err).WithFields(logrus.Fields{
			"now":  res.Now,
			"live": res.Pool.Timestamps(),
			"free": res.Pool.Free,
		}).Error("Player: " + describe(err))
		return 0, fmt.Errorf("player: tick at %dms: %w", res.Now, err)
	}

	p.display.Present(res.Frame.Handle)
	total := time.Since(start)

	p.monitor.Record(performance.TickSample{
		Ingest:    ingested,
		Present:   total - ingested,
		Total:     total,
		Timestamp: res.Frame.Timestamp,
		Ingested:  res.Ingest.Frames,
		Dropped:   res.Ingest.Dropped,
		Evicted:   res.Ingest.Evicted,
		Transient: res.Ingest.Transient != nil,
	})
	return total, nil
}

func (p *Player) maybeLogStats() {
	if p.opts.StatsInterval <= 0 || time.Since(p.lastStats) < p.opts.StatsInterval {
		return
	}
	p.lastStats = time.Now()

	rep := p.monitor.Report()
	entry := p.log.WithFields(rep.Fields())
	if !rep.Healthy() {
		entry.Warn("Player: falling behind")
	} else {
		entry.Debug("Player: stats")
	}
	performance.LogMemorySnapshot(p.log)
}

// describe names the fatal condition behind a tick error.
func describe(err error) string {
	switch {
	case errors.Is(err, framepool.ErrPoolExhausted):
		return "decode-ahead outran the display"
	case errors.Is(err, pacing.ErrNoCurrentFrame):
		return "no frame due for display"
	case errors.Is(err, pacing.ErrUpload):
		return "frame upload failed"
	}
	return "tick failed"
}

// Close releases the pool buffers, then the decoder. The display is closed
// by its owner afterwards.
func (p *Player) Close() {
	p.closeOnce.Do(func() {
		p.pool.Close()
		p.dec.Close()
		p.log.Debug("Player: resources released")
	})
}
