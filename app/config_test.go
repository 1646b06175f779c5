package app

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zachfi/streamsniffer/pkg/capture"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streamsniffer.yaml")
	err := os.WriteFile(path, []byte(`
target: recorder
recorder:
  url: http://radio.example/stream
  dir: /srv/recordings
  name: morning
  duration: 90
  unit: minutes
  capture:
    backend: direct
  session:
    progress-interval: 2s
`), 0o644)
	if err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Target != Recorder {
		t.Errorf("target = %q", cfg.Target)
	}
	r := cfg.Recorder
	if r.URL != "http://radio.example/stream" || r.Name != "morning" || r.Duration != 90 || r.Unit != "minutes" {
		t.Errorf("recorder = %+v", r)
	}
	if r.Capture.Backend != capture.BackendDirect {
		t.Errorf("backend = %q", r.Capture.Backend)
	}
	if r.Session.ProgressInterval != 2*time.Second {
		t.Errorf("progress interval = %v", r.Session.ProgressInterval)
	}
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streamsniffer.yaml")
	if err := os.WriteFile(path, []byte("recorder:\n  stream: http://x\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected an error for an unknown key")
	}
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.RegisterFlagsAndApplyDefaults("", flag.NewFlagSet("test", flag.ContinueOnError))

	if cfg.Server.HTTPListenPort != 3030 {
		t.Errorf("http port = %d", cfg.Server.HTTPListenPort)
	}
	if cfg.Recorder.Capture.Backend != capture.BackendFFmpeg {
		t.Errorf("backend = %q", cfg.Recorder.Capture.Backend)
	}
	if cfg.Recorder.Client.ReadTimeout != 30*time.Second {
		t.Errorf("read timeout = %v", cfg.Recorder.Client.ReadTimeout)
	}
	if !cfg.Recorder.EnableAPI {
		t.Error("api should be enabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	var cfg Config
	cfg.RegisterFlagsAndApplyDefaults("", flag.NewFlagSet("test", flag.ContinueOnError))

	cfg.Recorder.EnableAPI = false
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error with nothing to record")
	}

	cfg.Recorder.URL = "http://radio.example/stream"
	cfg.Recorder.Capture.Backend = "vlc"
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for an unknown backend")
	}
}

func TestConfigValidateTarget(t *testing.T) {
	var cfg Config
	cfg.RegisterFlagsAndApplyDefaults("", flag.NewFlagSet("test", flag.ContinueOnError))
	cfg.Recorder.URL = "http://radio.example/stream"

	for _, target := range []string{"", All, Recorder} {
		cfg.Target = target
		if err := cfg.Validate(); err != nil {
			t.Errorf("target %q: %v", target, err)
		}
	}

	cfg.Target = "ripper"
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for an unknown target")
	}
}
