// Package settings loads the player configuration from defaults, a YAML
// file, the environment and command-line flags.
package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Decoder backend names.
const (
	DecoderAuto   = "auto"
	DecoderFFmpeg = "ffmpeg"
	DecoderVPX    = "vpx"
)

// DefaultFile is read when no configuration path is given and it exists.
const DefaultFile = "player.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PLAYER_"

// Settings is the player configuration. Precedence, lowest first: defaults,
// YAML file, environment, command-line flags.
type Settings struct {
	PoolCapacity  int           `yaml:"pool_capacity"`
	TargetFPS     int           `yaml:"target_fps"`
	VSync         bool          `yaml:"vsync"`
	Fullscreen    bool          `yaml:"fullscreen"`
	WindowTitle   string        `yaml:"window_title"`
	LogLevel      string        `yaml:"log_level"`
	Decoder       string        `yaml:"decoder"`
	Codec         string        `yaml:"codec"`           // libavcodec decoder name, FFmpeg backend only
	Threads       int           `yaml:"decoder_threads"` // 0 lets the codec library decide
	StatsInterval time.Duration `yaml:"stats_interval"`
	DownloadDir   string        `yaml:"download_dir"`
}

// Defaults returns the built-in configuration.
func Defaults() Settings {
	return Settings{
		PoolCapacity:  5,
		TargetFPS:     60,
		VSync:         true,
		WindowTitle:   "Frame Player",
		LogLevel:      "info",
		Decoder:       DecoderAuto,
		StatsInterval: 5 * time.Second,
		DownloadDir:   os.TempDir(),
	}
}

// LoadDotEnv loads .env files into the process environment. Missing files
// are not an error; variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load resolves the configuration file and environment overrides from the
// process environment.
func Load(path string) (Settings, error) {
	return LoadWith(path, os.LookupEnv)
}

// LoadWith is Load with an explicit environment lookup. An empty path falls
// back to PLAYER_CONFIG, then to DefaultFile when it exists.
func LoadWith(path string, lookup func(string) (string, bool)) (Settings, error) {
	s := Defaults()

	explicit := path != ""
	if !explicit {
		if v, ok := lookup(EnvPrefix + "CONFIG"); ok && v != "" {
			path, explicit = v, true
		} else {
			path = DefaultFile
		}
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &s); err != nil {
			return s, fmt.Errorf("parse %s: %w", path, err)
		}
	case explicit || !errors.Is(err, fs.ErrNotExist):
		return s, fmt.Errorf("read settings: %w", err)
	}

	if err := s.applyEnv(lookup); err != nil {
		return s, err
	}

	// Partially written files leave zero values behind; fill them from the
	// defaults so new fields do not break older configuration files.
	d := Defaults()
	if s.WindowTitle == "" {
		s.WindowTitle = d.WindowTitle
	}
	if s.LogLevel == "" {
		s.LogLevel = d.LogLevel
	}
	if s.Decoder == "" {
		s.Decoder = d.Decoder
	}
	if s.DownloadDir == "" {
		s.DownloadDir = d.DownloadDir
	}
	if s.StatsInterval == 0 {
		s.StatsInterval = d.StatsInterval
	}

	return s, nil
}

func (s *Settings) applyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}

	if v, ok := get("POOL_CAPACITY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sPOOL_CAPACITY: %w", EnvPrefix, err)
		}
		s.PoolCapacity = n
	}
	if v, ok := get("TARGET_FPS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sTARGET_FPS: %w", EnvPrefix, err)
		}
		s.TargetFPS = n
	}
	if v, ok := get("VSYNC"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sVSYNC: %w", EnvPrefix, err)
		}
		s.VSync = b
	}
	if v, ok := get("FULLSCREEN"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sFULLSCREEN: %w", EnvPrefix, err)
		}
		s.Fullscreen = b
	}
	if v, ok := get("STATS_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sSTATS_INTERVAL: %w", EnvPrefix, err)
		}
		s.StatsInterval = d
	}
	if v, ok := get("WINDOW_TITLE"); ok {
		s.WindowTitle = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		s.LogLevel = v
	}
	if v, ok := get("DECODER"); ok {
		s.Decoder = strings.ToLower(v)
	}
	if v, ok := get("CODEC"); ok {
		s.Codec = v
	}
	if v, ok := get("DECODER_THREADS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sDECODER_THREADS: %w", EnvPrefix, err)
		}
		s.Threads = n
	}
	if v, ok := get("DOWNLOAD_DIR"); ok {
		s.DownloadDir = v
	}
	return nil
}

// Validate reports the first setting the player cannot run with.
func (s Settings) Validate() error {
	if s.PoolCapacity < 2 {
		return fmt.Errorf("pool_capacity must be at least 2, got %d", s.PoolCapacity)
	}
	if s.TargetFPS <= 0 {
		return fmt.Errorf("target_fps must be positive, got %d", s.TargetFPS)
	}
	if s.Threads < 0 {
		return fmt.Errorf("decoder_threads must not be negative, got %d", s.Threads)
	}
	if s.StatsInterval < 0 {
		return fmt.Errorf("stats_interval must not be negative, got %s", s.StatsInterval)
	}
	switch s.Decoder {
	case DecoderAuto, DecoderFFmpeg, DecoderVPX:
	default:
		return fmt.Errorf("unknown decoder %q (want %s, %s or %s)", s.Decoder, DecoderAuto, DecoderFFmpeg, DecoderVPX)
	}
	return nil
}

// FrameInterval is the tick period implied by TargetFPS.
func (s Settings) FrameInterval() time.Duration {
	if s.TargetFPS <= 0 {
		return 0
	}
	return time.Second / time.Duration(s.TargetFPS)
}
