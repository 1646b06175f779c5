package session

import (
	"fmt"
	"mime"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// stampFormat suffixes both output files of a session.
	stampFormat = "20060102_150405"

	// TimeFormat is used for the Start Time column of the metadata log.
	TimeFormat = "2006-01-02 15:04:05"
)

// Params are the inputs of a recording.
type Params struct {
	URL      string
	Folder   string
	BaseName string
	Duration time.Duration
}

// Validate checks p without touching the network or the filesystem.
func (p Params) Validate() error {
	switch {
	case strings.TrimSpace(p.URL) == "":
		return &ValidationError{Field: "url", Reason: "must not be empty"}
	case !strings.HasPrefix(p.URL, "http://") && !strings.HasPrefix(p.URL, "https://"):
		return &ValidationError{Field: "url", Reason: "must be an http or https URL"}
	case strings.TrimSpace(p.BaseName) == "":
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	case strings.ContainsAny(p.BaseName, `/\`):
		return &ValidationError{Field: "name", Reason: "must not contain path separators"}
	case p.Duration <= 0:
		return &ValidationError{Field: "duration", Reason: "must be positive"}
	}
	return nil
}

// ParseDuration converts a user supplied amount and unit (seconds, minutes
// or hours) to a duration.
func ParseDuration(amount, unit string) (time.Duration, error) {
	n, err := strconv.Atoi(strings.TrimSpace(amount))
	if err != nil {
		return 0, &ValidationError{Field: "duration", Reason: fmt.Sprintf("%q is not a whole number", amount)}
	}
	if n <= 0 {
		return 0, &ValidationError{Field: "duration", Reason: "must be positive"}
	}

	var d time.Duration
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "", "s", "sec", "secs", "second", "seconds":
		d = time.Second
	case "m", "min", "mins", "minute", "minutes":
		d = time.Minute
	case "h", "hour", "hours":
		d = time.Hour
	default:
		return 0, &ValidationError{Field: "unit", Reason: fmt.Sprintf("unknown unit %q", unit)}
	}

	return time.Duration(n) * d, nil
}

// maxNameAttempts bounds the search for a free name when sessions with the
// same base name start within the same second.
const maxNameAttempts = 100

// outputPaths returns the audio and metadata file names for a session
// started at t. Attempts past the first get a _2, _3, ... suffix.
func outputPaths(p Params, t time.Time, ext string, attempt int) (audio, metadata string) {
	stamp := t.Format(stampFormat)
	if attempt > 1 {
		stamp = fmt.Sprintf("%s_%d", stamp, attempt)
	}
	audio = filepath.Join(p.Folder, fmt.Sprintf("%s_%s%s", p.BaseName, stamp, ext))
	metadata = filepath.Join(p.Folder, fmt.Sprintf("%s_metadata_%s.csv", p.BaseName, stamp))
	return audio, metadata
}

// extensionFor maps a stream Content-Type to the extension of its native
// container. Unknown types are stored as .mp3.
func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".mp3"
	}

	switch mediaType {
	case "audio/aac", "audio/aacp", "audio/x-aac":
		return ".aac"
	case "audio/ogg", "application/ogg", "audio/vorbis":
		return ".ogg"
	case "audio/opus":
		return ".opus"
	case "audio/flac", "audio/x-flac":
		return ".flac"
	default:
		return ".mp3"
	}
}
