package recorder

import (
	"flag"

	"github.com/zachfi/zkit/pkg/util"

	"github.com/zachfi/streamsniffer/pkg/capture"
	"github.com/zachfi/streamsniffer/pkg/session"
	"github.com/zachfi/streamsniffer/pkg/shoutcast"
)

const (
	defaultName     = "recording"
	defaultDuration = 60
	defaultUnit     = "minutes"
)

type Config struct {
	// When URL is set, one recording is made at startup and the process
	// exits when it finishes. Otherwise recordings are driven over HTTP.
	URL      string `yaml:"url,omitempty"`
	Dir      string `yaml:"dir,omitempty"`
	Name     string `yaml:"name,omitempty"`
	Duration int    `yaml:"duration,omitempty"`
	Unit     string `yaml:"unit,omitempty"`

	// EnableAPI registers the /api/recordings endpoints.
	EnableAPI bool `yaml:"enable-api,omitempty"`

	Client  shoutcast.Config `yaml:"client,omitempty"`
	Capture capture.Config   `yaml:"capture,omitempty"`
	Session session.Config   `yaml:"session,omitempty"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.URL, util.PrefixConfig(prefix, "url"), "", "Stream URL to record at startup. Leave empty to record on demand over HTTP.")
	f.StringVar(&cfg.Dir, util.PrefixConfig(prefix, "dir"), "", "The directory to save recordings in")
	f.StringVar(&cfg.Name, util.PrefixConfig(prefix, "name"), defaultName, "Base name of the recording files")
	f.IntVar(&cfg.Duration, util.PrefixConfig(prefix, "duration"), defaultDuration, "How long to record, in units of -"+util.PrefixConfig(prefix, "unit"))
	f.StringVar(&cfg.Unit, util.PrefixConfig(prefix, "unit"), defaultUnit, "Unit of the duration: seconds, minutes or hours")
	f.BoolVar(&cfg.EnableAPI, util.PrefixConfig(prefix, "enable-api"), true, "Serve the recording API on the HTTP server")

	cfg.Client.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "client"), f)
	cfg.Capture.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "capture"), f)
	cfg.Session.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "session"), f)
}
