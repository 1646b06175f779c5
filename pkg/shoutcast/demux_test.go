package shoutcast

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/zachfi/streamsniffer/pkg/shoutcast/shoutcasttest"
)

func collect(events *[]MetadataEvent) func(MetadataEvent) {
	return func(e MetadataEvent) { *events = append(*events, e) }
}

func TestDemux(t *testing.T) {
	const metaint = 64

	blocks := []string{
		"",
		"StreamTitle='Daft Punk - One More Time';",
		"StreamTitle='Ambient Mix';",
		"StreamUrl='http://example.com';",
		"StreamTitle='A - B';StreamUrl='';",
		"",
	}
	body := shoutcasttest.Encode(metaint, blocks...)

	tests := []struct {
		name   string
		reader func(io.Reader) io.Reader
	}{
		{name: "whole reads", reader: func(r io.Reader) io.Reader { return r }},
		{name: "one byte reads", reader: iotest.OneByteReader},
		{name: "half reads", reader: iotest.HalfReader},
		{name: "data with EOF", reader: iotest.DataErrReader},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var audio bytes.Buffer
			var events []MetadataEvent

			err := Demux(context.Background(), tt.reader(bytes.NewReader(body)), metaint, &audio, collect(&events), nil)
			if err != nil {
				t.Fatalf("Demux: %v", err)
			}

			if audio.Len() != len(blocks)*metaint {
				t.Errorf("audio bytes = %d, want %d", audio.Len(), len(blocks)*metaint)
			}

			want := []Track{
				{Artist: "Daft Punk", Title: "One More Time"},
				{Artist: "A", Title: "B"},
			}
			if len(events) != len(want) {
				t.Fatalf("got %d events, want %d: %+v", len(events), len(want), events)
			}
			for i := range want {
				if events[i].Track != want[i] {
					t.Errorf("event %d = %+v, want %+v", i, events[i].Track, want[i])
				}
				if events[i].ObservedAt.IsZero() {
					t.Errorf("event %d has no timestamp", i)
				}
			}
		})
	}
}

func TestDemuxAudioCountIndependentOfMetadata(t *testing.T) {
	const metaint = 32
	const cycles = 10

	for _, text := range []string{"", "x", "StreamTitle='Long Artist Name - Long Title With Words';"} {
		blocks := make([]string, cycles)
		for i := range blocks {
			blocks[i] = text
		}

		var audio bytes.Buffer
		err := Demux(context.Background(), bytes.NewReader(shoutcasttest.Encode(metaint, blocks...)), metaint, &audio, nil, nil)
		if err != nil {
			t.Fatalf("Demux: %v", err)
		}
		if audio.Len() != cycles*metaint {
			t.Errorf("block %q: audio bytes = %d, want %d", text, audio.Len(), cycles*metaint)
		}
	}
}

func TestDemuxTruncatedStream(t *testing.T) {
	const metaint = 16
	body := shoutcasttest.Encode(metaint, "StreamTitle='A - B';", "StreamTitle='C - D';")

	tests := []struct {
		name       string
		cut        int
		wantEvents int
	}{
		{name: "inside audio", cut: metaint / 2, wantEvents: 0},
		{name: "before length byte", cut: metaint, wantEvents: 0},
		{name: "inside block", cut: metaint + 5, wantEvents: 0},
		{name: "inside second audio", cut: len(body) - 40, wantEvents: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var events []MetadataEvent
			err := Demux(context.Background(), bytes.NewReader(body[:tt.cut]), metaint, io.Discard, collect(&events), nil)
			if err != nil {
				t.Fatalf("truncated stream should end cleanly, got %v", err)
			}
			if len(events) != tt.wantEvents {
				t.Errorf("got %d events, want %d", len(events), tt.wantEvents)
			}
		})
	}
}

func TestDemuxNetworkError(t *testing.T) {
	boom := errors.New("connection reset")
	r := io.MultiReader(bytes.NewReader(make([]byte, 10)), iotest.ErrReader(boom))

	err := Demux(context.Background(), r, 64, io.Discard, nil, nil)

	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped cause, got %v", err)
	}
}

func TestDemuxStopsBetweenCycles(t *testing.T) {
	const metaint = 8
	body := shoutcasttest.Encode(metaint, "StreamTitle='A - B';", "StreamTitle='C - D';", "StreamTitle='E - F';")

	ctx, cancel := context.WithCancel(context.Background())
	var events []MetadataEvent
	sink := func(e MetadataEvent) {
		events = append(events, e)
		cancel()
	}

	var audio bytes.Buffer
	if err := Demux(ctx, bytes.NewReader(body), metaint, &audio, sink, nil); err != nil {
		t.Fatalf("Demux: %v", err)
	}

	if len(events) != 1 {
		t.Errorf("expected to stop after the first event, got %d", len(events))
	}
	if audio.Len() != metaint {
		t.Errorf("audio bytes = %d, want %d", audio.Len(), metaint)
	}
}

func TestDemuxInvalidMetaInt(t *testing.T) {
	if err := Demux(context.Background(), bytes.NewReader(nil), 0, nil, nil, nil); !errors.Is(err, ErrInvalidMetaInt) {
		t.Errorf("expected ErrInvalidMetaInt, got %v", err)
	}
}

func TestDemuxerRead(t *testing.T) {
	const metaint = 10
	body := shoutcasttest.Encode(metaint, "StreamTitle='A - B';", "", "StreamTitle='C - D';")

	d := NewDemuxer(iotest.HalfReader(bytes.NewReader(body)), metaint)
	var blocks []string
	d.onBlock = func(b []byte) { blocks = append(blocks, decodeBlock(b)) }

	audio, err := io.ReadAll(d)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	want := shoutcasttest.Audio(metaint, true)
	want = append(want, shoutcasttest.Audio(2*metaint, false)...)
	if !bytes.Equal(audio, want) {
		t.Errorf("audio = %x, want %x", audio, want)
	}
	if len(blocks) != 2 || blocks[1] != "StreamTitle='C - D';" {
		t.Errorf("blocks = %q", blocks)
	}
}

func TestDemuxLogsSkippedBlocks(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	body := shoutcasttest.Encode(32, "StreamTitle='Ambient Mix';", "StreamTitle='A - B';")

	var events []MetadataEvent
	if err := Demux(context.Background(), bytes.NewReader(body), 32, nil, collect(&events), logger); err != nil {
		t.Fatalf("Demux: %v", err)
	}

	if len(events) != 1 {
		t.Errorf("events = %+v", events)
	}
	if !strings.Contains(logs.String(), "ignoring metadata block") || !strings.Contains(logs.String(), "Ambient Mix") {
		t.Errorf("skipped block not logged: %q", logs.String())
	}
}
