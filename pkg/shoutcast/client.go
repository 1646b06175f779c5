package shoutcast

import (
	"bytes"
	"context"
	"flag"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/zachfi/zkit/pkg/util"
)

const (
	defaultUserAgent     = "iTunes/12.9.2 (Macintosh; OS X 10.14.3) AppleWebKit/606.4.5"
	defaultDialTimeout   = 5 * time.Second
	defaultHeaderTimeout = 10 * time.Second
	defaultReadTimeout   = 30 * time.Second
)

// ErrIdleTimeout is returned by a stream body that produced no data for the
// configured read timeout.
var ErrIdleTimeout = errors.New("stream idle timeout")

type Config struct {
	UserAgent     string        `yaml:"user-agent,omitempty"`
	DialTimeout   time.Duration `yaml:"dial-timeout,omitempty"`
	HeaderTimeout time.Duration `yaml:"header-timeout,omitempty"`
	ReadTimeout   time.Duration `yaml:"read-timeout,omitempty"` // 0 disables the idle timeout
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.UserAgent, util.PrefixConfig(prefix, "user-agent"), defaultUserAgent, "User-Agent sent to the stream server.")
	f.DurationVar(&cfg.DialTimeout, util.PrefixConfig(prefix, "dial-timeout"), defaultDialTimeout, "Timeout for establishing the connection.")
	f.DurationVar(&cfg.HeaderTimeout, util.PrefixConfig(prefix, "header-timeout"), defaultHeaderTimeout, "Timeout for the server to answer with response headers.")
	f.DurationVar(&cfg.ReadTimeout, util.PrefixConfig(prefix, "read-timeout"), defaultReadTimeout,
		"Close a stream that delivers no bytes for this long. 0 waits forever.")
}

// Client opens ICY streams.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// NewClient returns a Client. Zero durations in cfg disable the matching timeout.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	// Timeout for establishing the connection.
	// We don't want for the stream to timeout while we're reading it, but
	// we do want a timeout for establishing the connection to the server.
	dialer := &net.Dialer{Timeout: cfg.DialTimeout}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			return &icyConn{Conn: conn}, nil
		},
		DisableCompression:    true,
		ResponseHeaderTimeout: cfg.HeaderTimeout,
	}

	return &Client{
		cfg: cfg,
		// No timeout on the client - we want to stream indefinitely
		http:   &http.Client{Transport: transport},
		logger: logger,
	}
}

// icyConn rewrites the "ICY 200 OK" status line sent by SHOUTcast v1
// servers into something net/http accepts.
type icyConn struct {
	net.Conn
	sniffed bool
	pending []byte
	err     error
}

var icyStatusPrefix = []byte("ICY ")

func (c *icyConn) Read(p []byte) (int, error) {
	if !c.sniffed {
		c.sniffed = true
		c.sniff()
	}

	if len(c.pending) > 0 {
		n := copy(p, c.pending)
		c.pending = c.pending[n:]
		return n, nil
	}
	if c.err != nil {
		return 0, c.err
	}

	return c.Conn.Read(p)
}

// sniff reads until the first bytes either match or rule out the ICY status
// prefix, which may arrive split across segments.
func (c *icyConn) sniff() {
	var buf []byte
	chunk := make([]byte, 512)
	for len(buf) < len(icyStatusPrefix) && bytes.HasPrefix(icyStatusPrefix, buf) {
		n, err := c.Conn.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err != nil {
			c.err = err
			break
		}
	}

	if bytes.HasPrefix(buf, icyStatusPrefix) {
		buf = append([]byte("HTTP/1.0 "), buf[len(icyStatusPrefix):]...)
	}
	c.pending = buf
}

// idleTimeoutBody closes the wrapped body when no bytes arrive for timeout.
type idleTimeoutBody struct {
	rc      io.ReadCloser
	timeout time.Duration
	timer   *time.Timer
	expired atomic.Bool
}

func newIdleTimeoutBody(rc io.ReadCloser, timeout time.Duration) *idleTimeoutBody {
	b := &idleTimeoutBody{rc: rc, timeout: timeout}
	b.timer = time.AfterFunc(timeout, func() {
		b.expired.Store(true)
		_ = rc.Close()
	})
	return b
}

func (b *idleTimeoutBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if n > 0 && !b.expired.Load() {
		b.timer.Reset(b.timeout)
	}
	if err != nil && b.expired.Load() {
		err = ErrIdleTimeout
	}
	return n, err
}

func (b *idleTimeoutBody) Close() error {
	b.timer.Stop()
	return b.rc.Close()
}
