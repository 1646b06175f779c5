// Package shoutcasttest provides an ICY server for tests.
package shoutcasttest

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"time"
)

// Filler is the byte used for synthetic audio payloads.
const Filler byte = 0x55

// FrameSync opens the first audio payload of every stream so MP3 aware
// consumers find a frame boundary at offset zero.
var FrameSync = []byte{0xFF, 0xFB}

// BuildBlock encodes text as an ICY metadata block: a length byte counting
// 16 byte units followed by the NUL padded payload. Text longer than 4080
// bytes is truncated.
func BuildBlock(text string) []byte {
	payload := []byte(text)
	if len(payload) > 255*16 {
		payload = payload[:255*16]
	}

	units := (len(payload) + 15) / 16

	var buf bytes.Buffer
	buf.WriteByte(byte(units))
	buf.Write(payload)
	buf.Write(make([]byte, units*16-len(payload)))

	return buf.Bytes()
}

// Audio returns n bytes of synthetic audio. The first payload of a stream
// starts with FrameSync.
func Audio(n int, first bool) []byte {
	b := bytes.Repeat([]byte{Filler}, n)
	if first && n >= len(FrameSync) {
		copy(b, FrameSync)
	}
	return b
}

// Encode builds an interleaved body: one cycle per entry of blocks, each
// cycle being metaint audio bytes and the encoded block.
func Encode(metaint int, blocks ...string) []byte {
	var buf bytes.Buffer
	for i, text := range blocks {
		buf.Write(Audio(metaint, i == 0))
		buf.Write(BuildBlock(text))
	}
	return buf.Bytes()
}

// Options control the stream served by a Server.
type Options struct {
	MetaInt int

	// Blocks holds the metadata text of each cycle. Cycles past the end of
	// Blocks carry an empty block.
	Blocks []string

	// Cycles is the number of cycles to serve. 0 serves until the client
	// goes away.
	Cycles int

	// Interval is the pause after each cycle.
	Interval time.Duration

	ContentType string

	// OmitMetaInt serves the stream without announcing icy-metaint.
	OmitMetaInt bool
}

// Server is an httptest.Server speaking ICY.
type Server struct {
	*httptest.Server

	opts     Options
	requests atomic.Int32
}

// NewServer starts a Server. Callers must Close it.
func NewServer(opts Options) *Server {
	if opts.MetaInt <= 0 {
		opts.MetaInt = 1024
	}
	if opts.ContentType == "" {
		opts.ContentType = "audio/mpeg"
	}

	s := &Server{opts: opts}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// Requests returns how many stream requests the server has answered.
func (s *Server) Requests() int {
	return int(s.requests.Load())
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)

	withMeta := r.Header.Get("Icy-MetaData") == "1" && !s.opts.OmitMetaInt

	w.Header().Set("Content-Type", s.opts.ContentType)
	w.Header().Set("icy-name", "Test Radio")
	w.Header().Set("icy-genre", "Test")
	w.Header().Set("icy-br", "128")
	if withMeta {
		w.Header().Set("icy-metaint", strconv.Itoa(s.opts.MetaInt))
	}
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)

	for i := 0; s.opts.Cycles == 0 || i < s.opts.Cycles; i++ {
		if _, err := w.Write(Audio(s.opts.MetaInt, i == 0)); err != nil {
			return
		}
		if withMeta {
			var text string
			if i < len(s.opts.Blocks) {
				text = s.opts.Blocks[i]
			}
			if _, err := w.Write(BuildBlock(text)); err != nil {
				return
			}
		}
		if flusher != nil {
			flusher.Flush()
		}

		if s.opts.Interval > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(s.opts.Interval):
			}
		} else if r.Context().Err() != nil {
			return
		}
	}
}
