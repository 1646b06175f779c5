package shoutcast

import (
	"strings"
	"testing"
)

func TestParsePLS(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{
			name: "first entry",
			body: "[playlist]\nNumberOfEntries=2\nFile1=http://a.example/stream\nFile2=http://b.example/stream\n",
			want: "http://a.example/stream",
		},
		{
			name: "crlf and spaces",
			body: "[playlist]\r\nFile1 = http://a.example/stream?x=1 \r\n",
			want: "http://a.example/stream?x=1",
		},
		{
			name:    "no entries",
			body:    "[playlist]\nNumberOfEntries=0\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePLS(strings.NewReader(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("parsePLS() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parsePLS() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseM3U(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{
			name: "extended m3u",
			body: "#EXTM3U\n#EXTINF:-1,Radio\nhttps://radio.example/live\n",
			want: "https://radio.example/live",
		},
		{
			name: "bare url",
			body: "http://radio.example:8000/stream\n",
			want: "http://radio.example:8000/stream",
		},
		{
			name:    "relative entries only",
			body:    "#EXTM3U\nstream.mp3\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseM3U(strings.NewReader(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseM3U() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseM3U() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLooksLikePlaylist(t *testing.T) {
	for url, want := range map[string]bool{
		"http://x/listen.pls":          true,
		"http://x/listen.M3U":          true,
		"http://x/live.m3u8?token=abc": true,
		"http://x/stream":              false,
		"http://x/stream.mp3":          false,
	} {
		if got := looksLikePlaylist(url); got != want {
			t.Errorf("looksLikePlaylist(%q) = %v, want %v", url, got, want)
		}
	}
}
