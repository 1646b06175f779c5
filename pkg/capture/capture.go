// Package capture writes a time bounded, codec preserving copy of a stream
// to a file.
package capture

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"time"

	"github.com/zachfi/zkit/pkg/util"

	"github.com/zachfi/streamsniffer/pkg/shoutcast"
)

const (
	BackendFFmpeg = "ffmpeg"
	BackendDirect = "direct"
)

// Target is what to capture and where to put it.
type Target struct {
	URL      string
	Path     string
	Duration time.Duration
}

// Capturer starts captures.
type Capturer interface {
	Start(ctx context.Context, t Target) (Process, error)
}

// Process is a running capture. Wait blocks until it ends on its own or
// after Stop. Stop may be called any number of times.
type Process interface {
	Wait() error
	Stop() error
}

type Config struct {
	Backend string       `yaml:"backend,omitempty"`
	FFmpeg  FFmpegConfig `yaml:"ffmpeg,omitempty"`
	Direct  DirectConfig `yaml:"direct,omitempty"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Backend, util.PrefixConfig(prefix, "backend"), BackendFFmpeg,
		"How audio is captured: ffmpeg (external process, stream copy) or direct (built-in ICY reader).")
	cfg.FFmpeg.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "ffmpeg"), f)
	cfg.Direct.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "direct"), f)
}

// New returns the Capturer selected by cfg.Backend. The direct backend opens
// its streams through client.
func New(cfg Config, client *shoutcast.Client, logger *slog.Logger) (Capturer, error) {
	switch cfg.Backend {
	case BackendFFmpeg, "":
		return NewFFmpeg(cfg.FFmpeg, logger), nil
	case BackendDirect:
		return NewDirect(cfg.Direct, client, logger), nil
	default:
		return nil, fmt.Errorf("unknown capture backend %q", cfg.Backend)
	}
}
