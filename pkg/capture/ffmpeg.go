package capture

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/zachfi/zkit/pkg/util"
)

const defaultStopTimeout = 5 * time.Second

type FFmpegConfig struct {
	Path        string        `yaml:"path,omitempty"`
	LogLevel    string        `yaml:"log-level,omitempty"`
	StopTimeout time.Duration `yaml:"stop-timeout,omitempty"` // SIGKILL after this long without exiting on SIGINT
}

func (cfg *FFmpegConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Path, util.PrefixConfig(prefix, "path"), "ffmpeg", "ffmpeg binary to run.")
	f.StringVar(&cfg.LogLevel, util.PrefixConfig(prefix, "log-level"), "warning", "ffmpeg -loglevel value.")
	f.DurationVar(&cfg.StopTimeout, util.PrefixConfig(prefix, "stop-timeout"), defaultStopTimeout,
		"How long to wait for ffmpeg to exit after SIGINT before killing it.")
}

// FFmpeg captures by running ffmpeg with stream copy, so the output keeps
// the source codec.
type FFmpeg struct {
	cfg    FFmpegConfig
	logger *slog.Logger
}

func NewFFmpeg(cfg FFmpegConfig, logger *slog.Logger) *FFmpeg {
	if cfg.Path == "" {
		cfg.Path = "ffmpeg"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "warning"
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	return &FFmpeg{cfg: cfg, logger: logger.With("capture", BackendFFmpeg)}
}

// Args returns the ffmpeg arguments for t.
func (c *FFmpeg) Args(t Target) []string {
	return []string{
		"-nostdin",
		"-loglevel", c.cfg.LogLevel,
		"-i", t.URL,
		"-t", strconv.FormatFloat(t.Duration.Seconds(), 'f', -1, 64),
		"-c", "copy",
		"-y", // Overwrite output
		t.Path,
	}
}

// Start launches ffmpeg. The process is not bound to ctx; it ends on its own
// after t.Duration or when stopped.
func (c *FFmpeg) Start(_ context.Context, t Target) (Process, error) {
	args := c.Args(t)
	c.logger.Info("starting ffmpeg", "command", c.cfg.Path+" "+strings.Join(args, " "))

	cmd := exec.Command(c.cfg.Path, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to create stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to start ffmpeg")
	}

	p := &ffmpegProcess{
		cmd:         cmd,
		stopTimeout: c.cfg.StopTimeout,
		logger:      c.logger,
		done:        make(chan struct{}),
	}

	go func() {
		defer close(p.done)
		// All reads from the pipe have to finish before Wait.
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			p.logger.Warn("ffmpeg output", "line", scanner.Text())
		}
		p.err = cmd.Wait()
	}()

	return p, nil
}

type ffmpegProcess struct {
	cmd         *exec.Cmd
	stopTimeout time.Duration
	logger      *slog.Logger

	stopOnce sync.Once
	stopped  atomic.Bool

	done chan struct{}
	err  error
}

func (p *ffmpegProcess) Wait() error {
	<-p.done

	if p.err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if p.stopped.Load() && errors.As(p.err, &exitErr) {
		// 255 is ffmpeg's answer to SIGINT; a signal state means it was killed.
		if exitErr.ExitCode() == 255 || exitErr.ExitCode() == -1 {
			p.logger.Debug("ffmpeg exited after stop", "state", exitErr.String())
			return nil
		}
	}

	return pkgerrors.Wrap(p.err, "ffmpeg failed")
}

// Stop sends SIGINT so ffmpeg can finalize the container, and kills it if it
// does not exit within the stop timeout.
func (p *ffmpegProcess) Stop() error {
	p.stopOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}

		p.stopped.Store(true)
		p.logger.Debug("sending SIGINT to ffmpeg")
		if err := p.cmd.Process.Signal(os.Interrupt); err != nil {
			p.logger.Debug("failed to interrupt ffmpeg, killing", "err", err)
			_ = p.cmd.Process.Kill()
		}

		select {
		case <-p.done:
		case <-time.After(p.stopTimeout):
			p.logger.Warn("ffmpeg did not exit within timeout, force killing")
			_ = p.cmd.Process.Kill()
			<-p.done
		}
	})

	return nil
}
