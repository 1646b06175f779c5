package shoutcast

import (
	"strings"
	"time"
)

const streamTitleMarker = "StreamTitle="

// Metadata represents the key/value pairs of one ICY metadata block.
type Metadata struct {
	StreamTitle string
	StreamURL   string

	// Fields holds every key seen in the block, including the two above.
	Fields map[string]string
}

// Track is the artist and title carried by a StreamTitle value.
type Track struct {
	Artist string
	Title  string
}

// MetadataEvent is a Track observed on the wire at a point in time.
type MetadataEvent struct {
	Track
	ObservedAt time.Time
}

// NewMetadata returns parsed metadata. Values may be quoted with ' or " and
// may themselves contain '=' characters.
func NewMetadata(b []byte) *Metadata {
	m := &Metadata{Fields: map[string]string{}}

	props := strings.Split(decodeBlock(b), ";")
	for _, prop := range props {
		prop = strings.TrimSpace(prop)
		if prop == "" {
			continue
		}
		key, value, ok := strings.Cut(prop, "=")
		if !ok {
			continue
		}
		value = strings.Trim(value, `'"`)
		m.Fields[key] = value

		switch key {
		case "StreamTitle":
			m.StreamTitle = value
		case "StreamUrl":
			m.StreamURL = value
		}
	}

	return m
}

// Equals reports whether both blocks carry the same title.
func (m *Metadata) Equals(other *Metadata) bool {
	if m == nil || other == nil {
		return m == other
	}
	return m.StreamTitle == other.StreamTitle
}

// ParseStreamTitle extracts artist and title from a raw metadata block.
//
// The StreamTitle value runs up to the next ';' and is split on the first
// '-'. A block without the marker, or a title without a separator, yields
// false; stations that omit the artist are not recorded.
func ParseStreamTitle(raw string) (Track, bool) {
	raw = strings.TrimRight(raw, "\x00")

	_, value, found := strings.Cut(raw, streamTitleMarker)
	if !found {
		return Track{}, false
	}
	value, _, _ = strings.Cut(value, ";")
	value = strings.Trim(value, `'"`)

	artist, title, found := strings.Cut(value, "-")
	if !found {
		return Track{}, false
	}

	return Track{
		Artist: strings.TrimSpace(artist),
		Title:  strings.TrimSpace(title),
	}, true
}

// decodeBlock turns a raw block into text, dropping NUL padding and
// replacing invalid UTF-8.
func decodeBlock(b []byte) string {
	return strings.ToValidUTF8(strings.TrimRight(string(b), "\x00"), "\uFFFD")
}
