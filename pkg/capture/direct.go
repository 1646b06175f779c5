package capture

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/zachfi/zkit/pkg/util"

	"github.com/zachfi/streamsniffer/pkg/shoutcast"
)

// Write buffer sizing guidance (write-buffer-size):
// - SSD wear: fewer, larger writes reduce I/O overhead; 256KiB–1MiB is a good range.
// - NFS: larger buffers amortize round-trip cost; 512KiB–1MiB often performs better than 256KiB.
// - Upper bound: config is clamped to 4MiB to limit memory and avoid huge single writes.
const (
	defaultWriteBufferSize = 256 * 1024 // 256 KiB
	defaultChannelDepth    = 1024
	readChunkSize          = 16 * 1024
)

// minWriteBufSize and maxWriteBufSize clamp the configured write buffer to avoid
// tiny writes (no benefit) or very large buffers (memory and latency).
const (
	minWriteBufSize = 32 * 1024       // 32 KiB
	maxWriteBufSize = 4 * 1024 * 1024 // 4 MiB
)

// maxSyncSearch bounds how much audio is held back looking for the first frame.
const maxSyncSearch = 8192

type DirectConfig struct {
	WriteBufferSize int `yaml:"write-buffer-size,omitempty"` // bytes to buffer before writing (reduces write frequency)
}

func (cfg *DirectConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.IntVar(&cfg.WriteBufferSize, util.PrefixConfig(prefix, "write-buffer-size"), defaultWriteBufferSize,
		"Bytes to buffer in memory before writing to disk (default 256KiB). Larger values reduce write frequency (helps SSD longevity and NFS). Reasonable range: 256KiB-1MiB.")
}

// Direct captures with the built-in ICY reader: it opens its own connection,
// strips metadata and writes the audio payload untouched.
type Direct struct {
	cfg    DirectConfig
	client *shoutcast.Client
	logger *slog.Logger
}

func NewDirect(cfg DirectConfig, client *shoutcast.Client, logger *slog.Logger) *Direct {
	return &Direct{
		cfg:    cfg,
		client: client,
		logger: logger.With("capture", BackendDirect),
	}
}

func (c *Direct) writeBufSize() int {
	size := c.cfg.WriteBufferSize
	if size < minWriteBufSize {
		size = minWriteBufSize
	}
	if size > maxWriteBufSize {
		size = maxWriteBufSize
	}
	return size
}

// Start connects to t.URL and begins writing to a temporary file next to
// t.Path, renamed into place when the capture ends.
func (c *Direct) Start(ctx context.Context, t Target) (Process, error) {
	// The connection lives until the capture ends, not until ctx does.
	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	stream, err := c.client.Open(connCtx, t.URL)
	if err != nil {
		cancel()
		return nil, err
	}

	stream.MetadataCallbackFunc = func(m *shoutcast.Metadata) {
		c.logger.Info("now listening to", "title", m.StreamTitle, "stream_url", m.StreamURL)
	}

	f, err := os.Create(t.Path + ".part")
	if err != nil {
		cancel()
		stream.Close()
		return nil, pkgerrors.Wrap(err, "failed to create capture file")
	}

	p := &directProcess{
		target:     t,
		stream:     stream,
		f:          f,
		cancel:     cancel,
		syncFrames: isMPEGAudio(stream.ContentType),
		bufSize:    c.writeBufSize(),
		logger:     c.logger,
		done:       make(chan struct{}),
	}

	go p.run()

	return p, nil
}

type directProcess struct {
	target     Target
	stream     *shoutcast.Stream
	f          *os.File
	cancel     context.CancelFunc
	syncFrames bool
	bufSize    int
	logger     *slog.Logger

	stopped  atomic.Bool
	stopOnce sync.Once

	done chan struct{}
	err  error
}

func (p *directProcess) run() {
	defer close(p.done)

	cw := NewChannelWriter(defaultChannelDepth)
	deadline := time.Now().Add(p.target.Duration)

	var readErr error
	go func() {
		defer cw.Close()
		buf := make([]byte, readChunkSize)
		for !p.stopped.Load() && time.Now().Before(deadline) {
			n, err := p.stream.Read(buf)
			if n > 0 {
				_, _ = cw.Write(buf[:n])
			}
			if err != nil {
				if err != io.EOF && !p.stopped.Load() {
					readErr = err
				}
				return
			}
		}
	}()

	writeErr := p.writeToFile(cw.C())

	p.cancel()
	_ = p.stream.Close()

	// readErr is settled: cw.C() is only closed once the reader returned.
	commitErr := p.commit()

	p.err = errors.Join(readErr, writeErr, commitErr)
}

// writeToFile drains chunks into the file. Until the first MPEG frame sync is
// seen, data is held back so the file starts on a frame boundary.
func (p *directProcess) writeToFile(chunks <-chan []byte) error {
	var err error
	firstWrite := p.syncFrames
	buffer := make([]byte, 0, 4096)        // Buffer to accumulate data until we find frame sync
	writeBuf := make([]byte, 0, p.bufSize) // Batch writes to reduce disk I/O

	flushWriteBuf := func() {
		if len(writeBuf) == 0 || err != nil {
			return
		}
		_, err = p.f.Write(writeBuf)
		writeBuf = writeBuf[:0]
	}

	for b := range chunks {
		if err != nil {
			// Keep draining so the reader never blocks on a full channel.
			continue
		}

		if firstWrite {
			buffer = append(buffer, b...)
			framePos := findMP3FrameSync(buffer)
			switch {
			case framePos >= 0:
				writeBuf = append(writeBuf, buffer[framePos:]...)
				firstWrite = false
			case len(buffer) > maxSyncSearch:
				// Buffer is getting large, write it anyway (might be valid MP3 without sync)
				p.logger.Warn("no MP3 frame sync found in first 8KB, writing anyway")
				writeBuf = append(writeBuf, buffer...)
				firstWrite = false
			}
			continue
		}

		writeBuf = append(writeBuf, b...)
		if len(writeBuf) >= p.bufSize {
			flushWriteBuf()
		}
	}

	if firstWrite {
		writeBuf = append(writeBuf, buffer...)
	}
	flushWriteBuf()

	if err != nil {
		p.logger.Error("error writing to file", "err", err)
		return pkgerrors.Wrap(err, "failed to write capture file")
	}

	return nil
}

// commit syncs and closes the temp file and renames it to the target path.
// Partial captures are kept.
func (p *directProcess) commit() error {
	tempPath := p.f.Name()

	if err := p.f.Sync(); err != nil {
		p.logger.Error("error syncing file", "err", err)
	}
	if err := p.f.Close(); err != nil {
		p.logger.Error("error closing file", "err", err)
	}

	info, err := os.Stat(tempPath)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to stat capture file")
	}
	if info.Size() == 0 {
		_ = os.Remove(tempPath)
		return fmt.Errorf("no audio captured from %s", p.target.URL)
	}

	if err := os.Rename(tempPath, p.target.Path); err != nil {
		_ = os.Remove(tempPath)
		return pkgerrors.Wrap(err, "failed to move capture into place")
	}

	p.logger.Debug("saved recording", "path", p.target.Path, "size", ByteCountIEC(info.Size()))
	return nil
}

func (p *directProcess) Wait() error {
	<-p.done
	return p.err
}

// Stop ends the capture at the next read and waits for the file to be
// committed.
func (p *directProcess) Stop() error {
	p.stopOnce.Do(func() {
		p.stopped.Store(true)
		p.cancel()
	})
	<-p.done
	return nil
}

// ByteCountIEC formats b as a human readable size.
func ByteCountIEC(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
