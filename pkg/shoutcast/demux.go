package shoutcast

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"
)

// metaBlockUnit is the multiplier applied to the metadata length byte.
const metaBlockUnit = 16

// Demuxer splits an ICY body into audio bytes and metadata blocks.
//
// The wire format repeats: metaint audio bytes, one length byte, length*16
// metadata bytes. Losing a single byte desynchronizes every following block,
// so all reads go through io.CopyN/io.ReadFull.
type Demuxer struct {
	r       io.Reader
	metaint int

	// audio bytes left before the next length byte
	remaining int

	// called from Read for every non-empty block
	onBlock func([]byte)

	lenBuf [1]byte
}

// NewDemuxer returns a Demuxer positioned at the start of an ICY body.
func NewDemuxer(r io.Reader, metaint int) *Demuxer {
	return &Demuxer{
		r:         r,
		metaint:   metaint,
		remaining: metaint,
	}
}

// Next reads one full cycle. Audio is written to audio and the raw metadata
// block, or nil when the server sent an empty one, is returned.
//
// A stream that ends inside the audio payload or before the length byte
// returns io.EOF; one that ends inside a metadata block returns
// io.ErrUnexpectedEOF.
func (d *Demuxer) Next(audio io.Writer) ([]byte, error) {
	if d.remaining > 0 {
		n, err := io.CopyN(audio, d.r, int64(d.remaining))
		d.remaining -= int(n)
		if err != nil {
			return nil, err
		}
	}

	block, err := d.readBlock()
	if err != nil {
		return nil, err
	}
	d.remaining = d.metaint

	return block, nil
}

// Read implements io.Reader over the audio payload only. Metadata blocks are
// consumed transparently and handed to the block callback.
func (d *Demuxer) Read(p []byte) (int, error) {
	for d.remaining == 0 {
		block, err := d.readBlock()
		if err != nil {
			return 0, err
		}
		d.remaining = d.metaint
		if block != nil && d.onBlock != nil {
			d.onBlock(block)
		}
	}

	if len(p) > d.remaining {
		p = p[:d.remaining]
	}
	n, err := d.r.Read(p)
	d.remaining -= n

	return n, err
}

func (d *Demuxer) readBlock() ([]byte, error) {
	if _, err := io.ReadFull(d.r, d.lenBuf[:]); err != nil {
		return nil, err
	}

	size := int(d.lenBuf[0]) * metaBlockUnit
	if size == 0 {
		return nil, nil
	}

	block := make([]byte, size)
	if _, err := io.ReadFull(d.r, block); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	return block, nil
}

// Demux reads cycles from r until ctx is done or the stream ends, sending a
// MetadataEvent to sink for every block carrying an artist and title.
//
// ctx is checked between cycles only; a read in progress is never abandoned.
// The end of the stream is not an error. Other read failures are returned as
// *NetworkError. Blocks without an artist and title are logged at debug on
// logger, which may be nil.
func Demux(ctx context.Context, r io.Reader, metaint int, audio io.Writer, sink func(MetadataEvent), logger *slog.Logger) error {
	if metaint <= 0 {
		return ErrInvalidMetaInt
	}
	if audio == nil {
		audio = io.Discard
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	d := NewDemuxer(r, metaint)
	for ctx.Err() == nil {
		block, err := d.Next(audio)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || ctx.Err() != nil {
				return nil
			}
			return &NetworkError{Op: "read icy stream", Err: err}
		}

		if len(block) == 0 {
			continue
		}

		raw := decodeBlock(block)
		track, ok := ParseStreamTitle(raw)
		if !ok {
			logger.Debug("ignoring metadata block", "raw", raw)
			continue
		}

		if sink != nil {
			sink(MetadataEvent{Track: track, ObservedAt: time.Now()})
		}
	}

	return nil
}
