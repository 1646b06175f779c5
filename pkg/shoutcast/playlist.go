package shoutcast

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// parsePLS returns the first FileN= entry of a PLS playlist.
func parsePLS(body io.Reader) (string, error) {
	sc := bufio.NewScanner(body)
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok || !strings.HasPrefix(key, "File") {
			continue
		}
		if value = strings.TrimSpace(value); value != "" {
			return value, nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("failed to read playlist: %w", err)
	}

	return "", fmt.Errorf("no stream URL found in PLS playlist")
}

// parseM3U returns the first http(s) entry of an M3U playlist, skipping
// comments and #EXT directives.
func parseM3U(body io.Reader) (string, error) {
	sc := bufio.NewScanner(body)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
			return line, nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("failed to read playlist: %w", err)
	}

	return "", fmt.Errorf("no stream URL found in M3U playlist")
}

// resolvePlaylistURL checks if the URL is a playlist file and resolves it to a stream URL
func (c *Client) resolvePlaylistURL(ctx context.Context, url string) (string, error) {
	// Anything that does not look like a playlist is handed to the handshake
	// as-is; probing it would cost a second connection to the stream.
	if !looksLikePlaylist(url) {
		return url, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Add("accept", "*/*")
	req.Header.Add("user-agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")

	// Check if it's already a stream (has icy-metaint header)
	if resp.Header.Get("icy-metaint") != "" {
		// It's already a stream, return as-is
		return url, nil
	}

	// Playlists are small; never read more than this from a mislabelled stream.
	bodyData, err := io.ReadAll(io.LimitReader(resp.Body, maxPlaylistSize))
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	content := string(bodyData)

	isPLS := strings.Contains(contentType, "audio/x-scpls") ||
		strings.Contains(contentType, "application/pls+xml") ||
		strings.Contains(content, "[playlist]") ||
		strings.Contains(content, "File1=")

	if isPLS || strings.HasSuffix(pathOf(url), ".pls") {
		streamURL, err := parsePLS(strings.NewReader(content))
		if err != nil {
			return "", fmt.Errorf("failed to parse PLS playlist: %w", err)
		}
		return streamURL, nil
	}

	streamURL, err := parseM3U(strings.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("failed to parse M3U playlist: %w", err)
	}
	return streamURL, nil
}

const maxPlaylistSize = 64 * 1024

func looksLikePlaylist(url string) bool {
	p := strings.ToLower(pathOf(url))
	return strings.HasSuffix(p, ".pls") ||
		strings.HasSuffix(p, ".m3u") ||
		strings.HasSuffix(p, ".m3u8")
}

// pathOf strips the query string and fragment from url.
func pathOf(url string) string {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		return url[:i]
	}
	return url
}
