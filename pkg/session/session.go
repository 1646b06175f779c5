// Package session records a stream to a file while logging its now playing
// metadata, and reports progress until the requested duration has elapsed.
package session

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/zachfi/zkit/pkg/tracing"
	"github.com/zachfi/zkit/pkg/util"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/zachfi/streamsniffer/pkg/capture"
	"github.com/zachfi/streamsniffer/pkg/shoutcast"
)

const defaultProgressInterval = time.Second

type Config struct {
	ProgressInterval time.Duration `yaml:"progress-interval,omitempty"`
	CreateFolder     bool          `yaml:"create-folder,omitempty"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.DurationVar(&cfg.ProgressInterval, util.PrefixConfig(prefix, "progress-interval"), defaultProgressInterval,
		"How often recording progress is reported.")
	f.BoolVar(&cfg.CreateFolder, util.PrefixConfig(prefix, "create-folder"), true,
		"Create the output folder if it does not exist.")
}

// State of a recorder or a session.
type State string

const (
	StateIdle        State = "idle"
	StateHandshaking State = "handshaking"
	StateRecording   State = "recording"
	StateCompleted   State = "completed"
	StateCancelled   State = "cancelled"
	StateFailed      State = "failed"
)

// Terminal reports whether s is an end state of a session.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// Observer receives session notifications. Any field may be nil. Callbacks
// run on the session's goroutines and must not block for long.
type Observer struct {
	OnProgress func(ProgressSample)
	OnEvent    func(shoutcast.MetadataEvent)
	OnDone     func(Result)
}

// Result is the outcome of a finished session.
type Result struct {
	State        State
	AudioPath    string
	MetadataPath string
	Events       int
	DemuxedBytes int64
	StartedAt    time.Time
	EndedAt      time.Time

	// Err joins the failures of individual activities. They do not change
	// State; the output they left behind is kept.
	Err error
}

// Recorder runs one recording at a time.
type Recorder struct {
	cfg      Config
	client   *shoutcast.Client
	capturer capture.Capturer
	logger   *slog.Logger
	tracer   trace.Tracer

	// now is swapped in tests.
	now func() time.Time

	mu      sync.Mutex
	state   State
	current *Session
	last    *Result
}

// NewRecorder returns an idle Recorder. Metadata is read through client and
// audio is written by capturer.
func NewRecorder(cfg Config, client *shoutcast.Client, capturer capture.Capturer, logger *slog.Logger) *Recorder {
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = defaultProgressInterval
	}
	return &Recorder{
		cfg:      cfg,
		client:   client,
		capturer: capturer,
		logger:   logger,
		tracer:   otel.Tracer("streamsniffer/session"),
		now:      time.Now,
		state:    StateIdle,
	}
}

// State returns idle, handshaking or recording.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Current returns the running session, or the last one to finish. It is nil
// before the first successful Start.
func (r *Recorder) Current() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// LastResult returns the outcome of the last recording: its Result once a
// session finished, or a failed Result when Start gave up after the
// handshake began.
func (r *Recorder) LastResult() (Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return Result{}, false
	}
	return *r.last, true
}

func (r *Recorder) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Start validates p, performs the ICY handshake, creates both output files
// and starts the demultiplexer, the audio capture and the progress reporter.
//
// Validation, handshake and file errors are returned before anything runs;
// on a returned error no output file is left behind. The session outlives
// ctx; use Cancel to end it early.
func (r *Recorder) Start(ctx context.Context, p Params, observers ...Observer) (_ *Session, err error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.state != StateIdle {
		r.mu.Unlock()
		return nil, ErrBusy
	}
	r.state = StateHandshaking
	r.mu.Unlock()

	ctx, span := r.tracer.Start(ctx, "Recorder.Start", trace.WithAttributes(
		attribute.String("url", p.URL),
		attribute.Int64("duration_seconds", int64(p.Duration.Seconds())),
	))
	failedAt := r.now()
	defer func() {
		if err != nil {
			r.mu.Lock()
			r.state = StateIdle
			r.last = &Result{State: StateFailed, StartedAt: failedAt, EndedAt: r.now(), Err: err}
			r.mu.Unlock()
		}
		_ = tracing.ErrHandler(span, err, "failed to start recording", r.logger)
	}()

	// The metadata connection belongs to the session, not to the caller.
	connCtx, connCancel := context.WithCancel(context.WithoutCancel(ctx))

	stream, err := r.client.Open(connCtx, p.URL)
	if err != nil {
		connCancel()
		return nil, err
	}

	s, err := r.prepare(ctx, stream, p)
	if err != nil {
		stream.Close()
		connCancel()
		return nil, err
	}
	s.closeConn = connCancel
	s.observers = append(s.observers, observers...)

	r.mu.Lock()
	r.state = StateRecording
	r.current = s
	r.mu.Unlock()

	r.logger.Info("recording started",
		"url", stream.URL,
		"station", stream.Name,
		"metaint", stream.MetaInt,
		"audio", s.AudioPath,
		"metadata", s.MetadataPath,
		"duration", p.Duration,
	)

	go r.run(s, stream)

	return s, nil
}

// prepare creates the output files and starts the audio capture.
func (r *Recorder) prepare(ctx context.Context, stream *shoutcast.Stream, p Params) (*Session, error) {
	if r.cfg.CreateFolder && p.Folder != "" {
		if err := os.MkdirAll(p.Folder, 0o755); err != nil {
			return nil, pkgerrors.Wrap(err, "failed to create output folder")
		}
	}

	startedAt := r.now()
	audioPath, metadataPath, metalog, err := createOutputs(p, startedAt, extensionFor(stream.ContentType))
	if err != nil {
		return nil, err
	}

	proc, err := r.capturer.Start(ctx, capture.Target{URL: stream.URL, Path: audioPath, Duration: p.Duration})
	if err != nil {
		_ = metalog.Remove()
		return nil, pkgerrors.Wrap(err, "failed to start audio capture")
	}

	runCtx, cancel := context.WithCancel(context.Background())

	return &Session{
		Handle:       stream.Handle(),
		AudioPath:    audioPath,
		MetadataPath: metadataPath,
		Duration:     p.Duration,
		StartedAt:    startedAt,
		metalog:      metalog,
		proc:         proc,
		runCtx:       runCtx,
		cancelRun:    cancel,
		now:          r.now,
		done:         make(chan struct{}),
	}, nil
}

// createOutputs picks the first free pair of output names and creates the
// metadata log, whose header row goes out before any audio is captured.
func createOutputs(p Params, t time.Time, ext string) (string, string, *MetadataLog, error) {
	for attempt := 1; ; attempt++ {
		audioPath, metadataPath := outputPaths(p, t, ext, attempt)

		_, statErr := os.Stat(audioPath)
		if statErr == nil && attempt < maxNameAttempts {
			continue
		}

		metalog, err := CreateMetadataLog(metadataPath)
		if err == nil {
			return audioPath, metadataPath, metalog, nil
		}
		if !errors.Is(err, fs.ErrExist) || attempt >= maxNameAttempts {
			return "", "", nil, err
		}
	}
}

func (r *Recorder) run(s *Session, stream *shoutcast.Stream) {
	// Duration is a soft deadline: activities notice it at their next check.
	deadlineCtx, cancelDeadline := context.WithDeadline(s.runCtx, s.StartedAt.Add(s.Duration))
	defer cancelDeadline()

	var g errgroup.Group

	// Unblocks a read waiting on a quiet stream once the session is over.
	stopConn := context.AfterFunc(deadlineCtx, s.closeConn)
	defer stopConn()

	g.Go(func() error {
		defer s.closeConn()
		defer stream.Close()

		err := stream.Demux(deadlineCtx, &s.demuxed, func(e shoutcast.MetadataEvent) {
			r.logger.Info("now playing", "artist", e.Artist, "title", e.Title)
			if err := s.metalog.Append(e); err != nil {
				r.logger.Error("failed to log metadata", "err", err)
			}
			s.addEvent(e)
		})
		if err != nil {
			r.logger.Error("metadata stream ended with error", "err", err)
			return pkgerrors.Wrap(err, "metadata")
		}
		return nil
	})

	g.Go(func() error {
		waitDone := make(chan error, 1)
		go func() { waitDone <- s.proc.Wait() }()

		var err error
		select {
		case err = <-waitDone:
		case <-s.runCtx.Done():
			r.logger.Info("stopping audio capture")
			_ = s.proc.Stop()
			err = <-waitDone
		}
		if err != nil {
			r.logger.Error("audio capture failed", "err", err)
			return pkgerrors.Wrap(err, "audio capture")
		}
		return nil
	})

	g.Go(func() error {
		ReportProgress(deadlineCtx, s.StartedAt, s.Duration, r.cfg.ProgressInterval, r.now, s.setProgress)
		return nil
	})

	activityErr := g.Wait()

	if err := s.metalog.Close(); err != nil {
		r.logger.Error("failed to close metadata log", "err", err)
		activityErr = errors.Join(activityErr, err)
	}

	state := StateCompleted
	if s.cancelledEarly() {
		state = StateCancelled
	}

	result := Result{
		State:        state,
		AudioPath:    s.AudioPath,
		MetadataPath: s.MetadataPath,
		Events:       s.metalog.Rows(),
		DemuxedBytes: s.demuxed.Load(),
		StartedAt:    s.StartedAt,
		EndedAt:      r.now(),
		Err:          activityErr,
	}

	r.logger.Info("recording finished",
		"state", state,
		"audio", s.AudioPath,
		"events", result.Events,
		"elapsed", result.EndedAt.Sub(s.StartedAt).Round(time.Millisecond),
	)

	r.mu.Lock()
	r.state = StateIdle
	r.last = &result
	r.mu.Unlock()

	s.finish(result)
}

// Session is a recording in progress or finished.
type Session struct {
	Handle       shoutcast.StreamHandle
	AudioPath    string
	MetadataPath string
	Duration     time.Duration
	StartedAt    time.Time

	metalog   *MetadataLog
	proc      capture.Process
	closeConn context.CancelFunc

	runCtx    context.Context
	cancelRun context.CancelFunc
	cancelled atomic.Bool
	now       func() time.Time

	demuxed  countingWriter
	progress atomic.Int32

	mu        sync.Mutex
	events    []shoutcast.MetadataEvent
	observers []Observer
	result    *Result
	done      chan struct{}

	// cancelledAfter is the elapsed time at the first Cancel.
	cancelledAfter time.Duration
}

// Cancel asks every activity to stop at its next check point. It does not
// wait; use Wait for that. A Cancel after the duration has run out does not
// turn the session into a cancelled one.
func (s *Session) Cancel() {
	elapsed := s.now().Sub(s.StartedAt)

	s.mu.Lock()
	first := !s.cancelled.Load()
	if first {
		s.cancelledAfter = elapsed
		s.cancelled.Store(true)
	}
	s.mu.Unlock()

	if first {
		s.cancelRun()
	}
}

// cancelledEarly reports whether Cancel came before the duration ran out.
func (s *Session) cancelledEarly() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled.Load() && s.cancelledAfter < s.Duration
}

// Subscribe adds an observer. When the session has already finished, only
// OnDone is called, immediately.
func (s *Session) Subscribe(o Observer) {
	s.mu.Lock()
	if s.result == nil {
		s.observers = append(s.observers, o)
		s.mu.Unlock()
		return
	}
	result := *s.result
	s.mu.Unlock()

	if o.OnDone != nil {
		o.OnDone(result)
	}
}

// Wait blocks until the session reaches a terminal state and its files are
// closed.
func (s *Session) Wait(ctx context.Context) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-s.done:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.result, nil
}

// Done is closed when the session has finished.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// State returns recording until the session finishes.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return StateRecording
	}
	return s.result.State
}

// Progress returns the last reported percentage.
func (s *Session) Progress() int {
	return int(s.progress.Load())
}

// Events returns the metadata events seen so far, oldest first.
func (s *Session) Events() []shoutcast.MetadataEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]shoutcast.MetadataEvent(nil), s.events...)
}

func (s *Session) snapshotObservers() []Observer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Observer(nil), s.observers...)
}

func (s *Session) addEvent(e shoutcast.MetadataEvent) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()

	for _, o := range s.snapshotObservers() {
		if o.OnEvent != nil {
			o.OnEvent(e)
		}
	}
}

func (s *Session) setProgress(p ProgressSample) {
	s.progress.Store(int32(p.Percent))

	for _, o := range s.snapshotObservers() {
		if o.OnProgress != nil {
			o.OnProgress(p)
		}
	}
}

func (s *Session) finish(result Result) {
	s.mu.Lock()
	s.result = &result
	observers := s.observers
	s.observers = nil
	s.mu.Unlock()

	s.cancelRun()
	close(s.done)

	for _, o := range observers {
		if o.OnDone != nil {
			o.OnDone(result)
		}
	}
}

// countingWriter discards what it is given and counts the bytes.
type countingWriter struct {
	n atomic.Int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n.Add(int64(len(p)))
	return len(p), nil
}

func (w *countingWriter) Load() int64 {
	return w.n.Load()
}
