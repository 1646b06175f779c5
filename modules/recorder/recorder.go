package recorder

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/grafana/dskit/modules"
	"github.com/grafana/dskit/services"

	"github.com/zachfi/streamsniffer/pkg/capture"
	"github.com/zachfi/streamsniffer/pkg/session"
	"github.com/zachfi/streamsniffer/pkg/shoutcast"
)

var module = "recorder"

type Recorder struct {
	services.Service
	cfg    *Config
	logger *slog.Logger

	rec *session.Recorder

	// oneshot is the recording started from configuration, if any.
	oneshot *session.Session
}

// New creates and returns a new Recorder.
func New(cfg Config, logger *slog.Logger) (*Recorder, error) {
	logger = logger.With("module", module)

	client := shoutcast.NewClient(cfg.Client, logger)

	capturer, err := capture.New(cfg.Capture, client, logger)
	if err != nil {
		return nil, err
	}

	r := &Recorder{
		cfg:    &cfg,
		logger: logger,
		rec:    session.NewRecorder(cfg.Session, client, capturer, logger),
	}

	r.Service = services.NewBasicService(r.starting, r.running, r.stopping)

	return r, nil
}

func (r *Recorder) starting(ctx context.Context) error {
	if r.cfg.URL == "" {
		r.logger.Info("waiting for recording requests")
		return nil
	}

	d, err := session.ParseDuration(strconv.Itoa(r.cfg.Duration), r.cfg.Unit)
	if err != nil {
		return err
	}

	s, err := r.Start(ctx, session.Params{
		URL:      r.cfg.URL,
		Folder:   r.cfg.Dir,
		BaseName: r.cfg.Name,
		Duration: d,
	})
	if err != nil {
		return err
	}
	r.oneshot = s

	return nil
}

func (r *Recorder) running(ctx context.Context) error {
	if r.oneshot == nil {
		<-ctx.Done()
		return nil
	}

	select {
	case <-ctx.Done():
		return nil
	case <-r.oneshot.Done():
	}

	res, err := r.oneshot.Wait(context.Background())
	if err != nil {
		return err
	}
	if res.Err != nil {
		r.logger.Warn("recording finished with errors", "err", res.Err)
	}

	// The configured recording is the whole job.
	return modules.ErrStopProcess
}

func (r *Recorder) stopping(_ error) error {
	r.logger.Info("stopping")

	s := r.rec.Current()
	if s == nil {
		return nil
	}

	s.Cancel()
	res, err := s.Wait(context.Background())
	if err != nil {
		return err
	}
	r.logger.Info("recording closed", "state", res.State, "audio", res.AudioPath, "metadata", res.MetadataPath)

	return nil
}

// Start begins a recording and wires it to the recorder metrics.
func (r *Recorder) Start(ctx context.Context, p session.Params) (*session.Session, error) {
	obs := session.Observer{
		OnProgress: func(s session.ProgressSample) {
			metricRecording.Set(1)
			metricProgress.Set(float64(s.Percent))
		},
		OnEvent: func(shoutcast.MetadataEvent) {
			metricMetadataEvents.Inc()
		},
		OnDone: func(res session.Result) {
			metricRecording.Set(0)
			metricSessions.WithLabelValues(string(res.State)).Inc()
			metricDemuxedBytes.Add(float64(res.DemuxedBytes))
		},
	}

	s, err := r.rec.Start(ctx, p, obs)
	if err != nil {
		reason := failureReason(err)
		metricStartFailures.WithLabelValues(reason).Inc()
		if reason != "validation" && reason != "busy" {
			metricSessions.WithLabelValues(string(session.StateFailed)).Inc()
		}
		return nil, err
	}

	return s, nil
}

// Current returns the running or last finished session.
func (r *Recorder) Current() *session.Session {
	return r.rec.Current()
}

// LastResult returns the outcome of the last recording, including one that
// failed to start.
func (r *Recorder) LastResult() (session.Result, bool) {
	return r.rec.LastResult()
}

func failureReason(err error) string {
	var (
		verr *session.ValidationError
		perr *shoutcast.ProtocolError
		nerr *shoutcast.NetworkError
	)
	switch {
	case errors.As(err, &verr):
		return "validation"
	case errors.Is(err, session.ErrBusy):
		return "busy"
	case errors.As(err, &perr):
		return "protocol"
	case errors.As(err, &nerr):
		return "network"
	default:
		return "other"
	}
}
