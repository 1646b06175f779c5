package shoutcast

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/zachfi/zkit/pkg/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("streamsniffer/shoutcast")

// MetadataCallbackFunc is the type of the function called when the stream metadata changes
type MetadataCallbackFunc func(m *Metadata)

// StreamHandle describes a stream that passed the ICY handshake.
type StreamHandle struct {
	// URL the stream was opened from, after playlist resolution
	URL string

	// Amount of bytes to read before expecting a metadata block
	MetaInt int

	// The name of the server
	Name string

	// What category the server falls under
	Genre string

	// The description of the stream
	Description string

	// Homepage of the server
	Homepage string

	// Bitrate of the server
	Bitrate int

	// Content-Type of the audio payload
	ContentType string
}

// Stream represents an open shoutcast stream.
//
// A Stream is consumed either through Read, which yields audio only, or
// through Demux. Mixing both on one Stream desynchronizes the block cadence.
type Stream struct {
	StreamHandle

	// Optional function to be executed when stream metadata changes
	MetadataCallbackFunc MetadataCallbackFunc

	// Stream metadata
	metadata *Metadata

	demux *Demuxer

	// The underlying data stream
	rc io.ReadCloser

	logger *slog.Logger
}

// Open establishes a connection to a remote server.
// It automatically handles playlist files (.pls, .m3u) and resolves them to stream URLs.
func (c *Client) Open(ctx context.Context, url string) (*Stream, error) {
	c.logger.Info("opening stream", "url", url)

	resolvedURL, err := c.resolvePlaylistURL(ctx, url)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve playlist URL")
	}
	if resolvedURL != url {
		c.logger.Info("resolved playlist to stream URL", "url", resolvedURL)
	}

	return c.Handshake(ctx, resolvedURL)
}

// Handshake requests url with in-band metadata enabled and validates that the
// server announces a metadata interval. The connection stays open and is
// owned by the returned Stream.
func (c *Client) Handshake(ctx context.Context, url string) (_ *Stream, err error) {
	ctx, span := tracer.Start(ctx, "Client.Handshake", trace.WithAttributes(attribute.String("url", url)))
	defer func() {
		// Callers log the failure.
		_ = tracing.ErrHandler(span, err, "handshake failed", nil)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Icy-MetaData", "1")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: "connect " + url, Err: err}
	}

	for k, v := range resp.Header {
		c.logger.Debug("http header", "key", k, "value", v[0])
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &ProtocolError{URL: url, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	metaint, err := parseMetaInt(resp.Header.Get("icy-metaint"))
	if err != nil {
		resp.Body.Close()
		return nil, &ProtocolError{URL: url, Err: err}
	}

	var body io.ReadCloser = resp.Body
	if c.cfg.ReadTimeout > 0 {
		body = newIdleTimeoutBody(body, c.cfg.ReadTimeout)
	}

	s := &Stream{
		StreamHandle: StreamHandle{
			URL:         url,
			MetaInt:     metaint,
			Name:        resp.Header.Get("icy-name"),
			Genre:       resp.Header.Get("icy-genre"),
			Description: resp.Header.Get("icy-description"),
			Homepage:    resp.Header.Get("icy-url"),
			Bitrate:     parseBitrate(resp.Header.Get("icy-br")),
			ContentType: resp.Header.Get("Content-Type"),
		},
		rc:     body,
		logger: c.logger,
	}
	s.demux = NewDemuxer(body, metaint)
	s.demux.onBlock = s.handleBlock

	return s, nil
}

func parseMetaInt(raw string) (int, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, ErrNoMetadata
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return 0, errors.Wrapf(ErrInvalidMetaInt, "%q", value)
	}
	return n, nil
}

// parseBitrate accepts the "128" and "128,128" forms servers send.
func parseBitrate(raw string) int {
	raw, _, _ = strings.Cut(raw, ",")
	br, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return br
}

func (s *Stream) handleBlock(b []byte) {
	if m := NewMetadata(b); !m.Equals(s.metadata) {
		s.metadata = m
		if s.MetadataCallbackFunc != nil {
			s.MetadataCallbackFunc(s.metadata)
		}
	}
}

// Handle returns the immutable description of the stream.
func (s *Stream) Handle() StreamHandle {
	return s.StreamHandle
}

// Read implements the standard Read interface, returning audio bytes only.
func (s *Stream) Read(buf []byte) (int, error) {
	return s.demux.Read(buf)
}

// Demux runs the metadata demultiplexer over the raw stream body.
func (s *Stream) Demux(ctx context.Context, audio io.Writer, sink func(MetadataEvent)) error {
	return Demux(ctx, s.rc, s.MetaInt, audio, sink, s.logger)
}

// Close closes the stream
func (s *Stream) Close() error {
	return s.rc.Close()
}
