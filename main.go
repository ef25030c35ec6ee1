package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/sirupsen/logrus"

	"frame-player/pkg/app"
	"frame-player/pkg/clock"
	"frame-player/pkg/framepool"
	"frame-player/pkg/logging"
	"frame-player/pkg/media"
	"frame-player/pkg/mpeg"
	"frame-player/pkg/performance"
	"frame-player/pkg/player"
	"frame-player/pkg/probe"
	"frame-player/pkg/render"
	"frame-player/pkg/settings"
	"frame-player/pkg/source"
	"frame-player/pkg/vpx"
)

var version = "dev"

func init() {
	// SDL calls must stay on the main thread.
	runtime.LockOSThread()
}

func main() {
	if err := app.New(version, play).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "frame-player: %v\n", err)
		os.Exit(app.ExitFailure)
	}
}

func play(ctx context.Context, cfg settings.Settings, arg string, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logging.Component(logger, "main")

	m, err := source.NewResolver(cfg.DownloadDir, logging.Component(logger, "source")).Resolve(ctx, arg)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Cleanup(); err != nil {
			log.WithError(err).Warn("Source: could not remove download")
		}
	}()

	info, err := probe.Check(m.Path, logging.Component(logger, "probe"))
	if err != nil {
		return err
	}

	dec, err := openDecoder(app.Backend(cfg.Decoder, info), m.Path, cfg)
	if err != nil {
		return err
	}
	// Decoders close once; this only matters when setup fails before the
	// player takes ownership.
	defer dec.Close()
	stream := dec.Info()

	if err := render.Init(logging.Component(logger, "render")); err != nil {
		return err
	}
	defer render.Quit()

	win, err := render.Open(render.Options{
		Title:      cfg.WindowTitle,
		Width:      stream.Width,
		Height:     stream.Height,
		Fullscreen: cfg.Fullscreen,
		VSync:      cfg.VSync,
	}, logging.Component(logger, "render"))
	if err != nil {
		return err
	}
	defer func() {
		dec.Close()
		win.Close()
	}()

	performance.LogMemorySnapshot(log)
	poolBytes := performance.PoolBytes(stream.Width, stream.Height, cfg.PoolCapacity)
	if err := performance.CheckPoolBudget(performance.GetSystemMemory(), poolBytes); err != nil {
		log.WithError(err).Warn("Memory: frame pool may not fit in memory")
	}

	pool, err := framepool.New(cfg.PoolCapacity, win)
	if err != nil {
		return fmt.Errorf("create frame pool: %w", err)
	}

	p := player.New(pool, dec, win, clock.NewWall(), player.Options{
		FrameInterval: cfg.FrameInterval(),
		StatsInterval: cfg.StatsInterval,
	}, logger.WithField("file", arg))
	defer p.Close()

	sum, err := p.Run(ctx)
	if err != nil {
		return err
	}
	if !sum.Report.Healthy() {
		log.WithFields(sum.Report.Fields()).Warn("Player: playback was not smooth")
	}
	return nil
}

// openDecoder opens the named backend.
func openDecoder(backend, path string, cfg settings.Settings) (media.Decoder, error) {
	if backend == settings.DecoderVPX {
		d, err := vpx.Open(path, cfg.Threads)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	d, err := mpeg.Open(path, mpeg.Options{Codec: cfg.Codec, Threads: cfg.Threads})
	if err != nil {
		return nil, err
	}
	return d, nil
}
