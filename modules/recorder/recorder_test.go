package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/grafana/dskit/modules"
	"github.com/grafana/dskit/services"

	"github.com/zachfi/streamsniffer/pkg/capture"
	"github.com/zachfi/streamsniffer/pkg/session"
	"github.com/zachfi/streamsniffer/pkg/shoutcast/shoutcasttest"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func testConfig(t *testing.T) Config {
	return Config{
		Dir:     t.TempDir(),
		Name:    "show",
		Capture: capture.Config{Backend: capture.BackendDirect},
		Session: session.Config{ProgressInterval: 20 * time.Millisecond, CreateFolder: true},
	}
}

func newTestRecorder(t *testing.T, cfg Config) (*Recorder, *mux.Router) {
	t.Helper()

	r, err := New(cfg, discard)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	router := mux.NewRouter()
	r.RegisterRoutes(router)

	return r, router
}

func do(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func waitFinished(t *testing.T, r *Recorder) session.Result {
	t.Helper()

	s := r.Current()
	if s == nil {
		t.Fatal("no session")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := s.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return res
}

func TestAPIRecordingLifecycle(t *testing.T) {
	srv := shoutcasttest.NewServer(shoutcasttest.Options{
		MetaInt:  256,
		Blocks:   []string{"StreamTitle='A - B';"},
		Interval: 20 * time.Millisecond,
	})
	defer srv.Close()

	r, router := newTestRecorder(t, testConfig(t))

	if rec := do(router, http.MethodGet, pathCurrent, ""); rec.Code != http.StatusNotFound {
		t.Errorf("GET before any recording = %d", rec.Code)
	}

	rec := do(router, http.MethodPost, pathRecordings, `{"url":"`+srv.URL+`","name":"show","duration":1,"unit":"hours"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST = %d: %s", rec.Code, rec.Body)
	}

	var started sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &started); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if started.State != session.StateRecording || started.Station != "Test Radio" {
		t.Errorf("started = %+v", started)
	}
	if !strings.HasPrefix(started.AudioPath, r.cfg.Dir) {
		t.Errorf("audio path %q not in default dir", started.AudioPath)
	}

	if rec := do(router, http.MethodPost, pathRecordings, `{"url":"`+srv.URL+`","name":"other","duration":"5","unit":"s"}`); rec.Code != http.StatusConflict {
		t.Errorf("second POST = %d", rec.Code)
	}

	time.Sleep(100 * time.Millisecond)

	rec = do(router, http.MethodGet, pathCurrent, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET = %d", rec.Code)
	}
	var current sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &current); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(current.Events) != 1 || current.Events[0].Artist != "A" || current.Events[0].Title != "B" {
		t.Errorf("events = %+v", current.Events)
	}

	if rec := do(router, http.MethodDelete, pathCurrent, ""); rec.Code != http.StatusAccepted {
		t.Fatalf("DELETE = %d", rec.Code)
	}

	res := waitFinished(t, r)
	if res.State != session.StateCancelled {
		t.Errorf("state = %s", res.State)
	}
	if _, err := os.Stat(res.MetadataPath); err != nil {
		t.Errorf("metadata log: %v", err)
	}

	if rec := do(router, http.MethodDelete, pathCurrent, ""); rec.Code != http.StatusNotFound {
		t.Errorf("DELETE after finish = %d", rec.Code)
	}
}

func TestAPIStartErrors(t *testing.T) {
	noMeta := shoutcasttest.NewServer(shoutcasttest.Options{OmitMetaInt: true, Cycles: 1})
	defer noMeta.Close()

	_, router := newTestRecorder(t, testConfig(t))

	tests := []struct {
		name  string
		body  string
		code  int
		field string
	}{
		{name: "malformed json", body: `{"url":`, code: http.StatusBadRequest},
		{name: "unknown field", body: `{"uri":"http://x"}`, code: http.StatusBadRequest},
		{name: "bad unit", body: `{"url":"http://x","name":"a","duration":3,"unit":"days"}`, code: http.StatusBadRequest, field: "unit"},
		{name: "zero duration", body: `{"url":"http://x","name":"a","duration":0,"unit":"s"}`, code: http.StatusBadRequest, field: "duration"},
		{name: "missing name", body: `{"url":"http://x","duration":3,"unit":"s"}`, code: http.StatusBadRequest, field: "name"},
		{name: "no metadata", body: `{"url":"` + noMeta.URL + `","name":"a","duration":3,"unit":"s"}`, code: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(router, http.MethodPost, pathRecordings, tt.body)
			if rec.Code != tt.code {
				t.Fatalf("POST = %d, want %d: %s", rec.Code, tt.code, rec.Body)
			}

			var resp errorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Field != tt.field {
				t.Errorf("field = %q, want %q", resp.Field, tt.field)
			}
		})
	}
}

func TestOneshotRecording(t *testing.T) {
	srv := shoutcasttest.NewServer(shoutcasttest.Options{
		MetaInt:  256,
		Blocks:   []string{"StreamTitle='A - B';"},
		Interval: 20 * time.Millisecond,
	})
	defer srv.Close()

	cfg := testConfig(t)
	cfg.URL = srv.URL
	cfg.Duration = 1
	cfg.Unit = "seconds"

	r, _ := newTestRecorder(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := services.StartAndAwaitRunning(ctx, r); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = r.AwaitTerminated(ctx)

	if !errors.Is(r.FailureCase(), modules.ErrStopProcess) {
		t.Errorf("failure case = %v, want ErrStopProcess", r.FailureCase())
	}

	res := waitFinished(t, r)
	if res.State != session.StateCompleted {
		t.Errorf("state = %s, err = %v", res.State, res.Err)
	}
	if res.Events != 1 {
		t.Errorf("events = %d", res.Events)
	}
}

func TestOneshotRecordingStartFailure(t *testing.T) {
	srv := shoutcasttest.NewServer(shoutcasttest.Options{OmitMetaInt: true, Cycles: 1})
	defer srv.Close()

	cfg := testConfig(t)
	cfg.URL = srv.URL
	cfg.Duration = 1
	cfg.Unit = "seconds"

	r, _ := newTestRecorder(t, cfg)

	if err := services.StartAndAwaitRunning(context.Background(), r); err == nil {
		t.Fatal("expected the service to fail")
	}
	if r.Current() != nil {
		t.Error("no session should exist")
	}
}

func TestStopCancelsRecording(t *testing.T) {
	srv := shoutcasttest.NewServer(shoutcasttest.Options{MetaInt: 256, Interval: 20 * time.Millisecond})
	defer srv.Close()

	cfg := testConfig(t)
	cfg.URL = srv.URL
	cfg.Duration = 1
	cfg.Unit = "hours"

	r, _ := newTestRecorder(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := services.StartAndAwaitRunning(ctx, r); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if err := services.StopAndAwaitTerminated(ctx, r); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if got := r.Current().State(); got != session.StateCancelled {
		t.Errorf("state = %s", got)
	}
}
