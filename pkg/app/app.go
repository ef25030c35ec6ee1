// Package app is the command-line surface of the player: flags, argument
// checks, settings layering and exit codes. Playback itself is injected so
// the surface carries no native dependencies.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"frame-player/pkg/logging"
	"frame-player/pkg/probe"
	"frame-player/pkg/settings"
)

// ExitFailure is the status for usage, initialization and playback errors.
const ExitFailure = -1

// PlayFunc plays the media named by arg.
type PlayFunc func(ctx context.Context, cfg settings.Settings, arg string, logger *logrus.Logger) error

// New builds the CLI around play.
func New(version string, play PlayFunc) *cli.App {
	return &cli.App{
		Name:            "frame-player",
		Usage:           "play a video file paced to the wall clock",
		ArgsUsage:       "<media-file|s3://bucket/key>",
		Version:         version,
		HideHelpCommand: true,
		ErrWriter:       os.Stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "settings file (YAML)"},
			&cli.IntFlag{Name: "capacity", Usage: "number of frame buffers in the pool"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
			&cli.StringFlag{Name: "decoder", Usage: "auto, ffmpeg or vpx"},
			&cli.StringFlag{Name: "codec", Usage: "libavcodec decoder name for the ffmpeg backend"},
			&cli.IntFlag{Name: "threads", Usage: "decoder threads, 0 for automatic"},
			&cli.BoolFlag{Name: "fullscreen", Usage: "fill the screen, letterboxing the video"},
		},
		Action: func(c *cli.Context) error {
			return run(c, play)
		},
	}
}

func run(c *cli.Context, play PlayFunc) error {
	if c.NArg() != 1 {
		fmt.Fprintf(c.App.ErrWriter, "usage: %s [options] %s\n", c.App.Name, c.App.ArgsUsage)
		return cli.Exit("", ExitFailure)
	}

	cfg, err := loadSettings(c)
	if err != nil {
		return fail(err)
	}
	logger, err := logging.Setup(cfg.LogLevel, c.App.ErrWriter)
	if err != nil {
		return fail(err)
	}

	if err := play(c.Context, cfg, c.Args().First(), logger); err != nil {
		return fail(err)
	}
	return nil
}

func fail(err error) error {
	return cli.Exit(fmt.Sprintf("frame-player: %v", err), ExitFailure)
}

// loadSettings layers .env, the settings file, PLAYER_* variables and flags.
func loadSettings(c *cli.Context) (settings.Settings, error) {
	if err := settings.LoadDotEnv(); err != nil {
		return settings.Settings{}, err
	}
	cfg, err := settings.Load(c.String("config"))
	if err != nil {
		return cfg, err
	}

	if c.IsSet("capacity") {
		cfg.PoolCapacity = c.Int("capacity")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("decoder") {
		cfg.Decoder = c.String("decoder")
	}
	if c.IsSet("codec") {
		cfg.Codec = c.String("codec")
	}
	if c.IsSet("threads") {
		cfg.Threads = c.Int("threads")
	}
	if c.IsSet("fullscreen") {
		cfg.Fullscreen = c.Bool("fullscreen")
	}
	return cfg, cfg.Validate()
}

// Backend resolves the decoder setting for a probed file. auto sends IVF
// files to libvpx and everything else to FFmpeg.
func Backend(name string, info probe.Info) string {
	if name != settings.DecoderAuto {
		return name
	}
	if info.Container == probe.ContainerIVF {
		return settings.DecoderVPX
	}
	return settings.DecoderFFmpeg
}
