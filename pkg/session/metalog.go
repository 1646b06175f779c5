package session

import (
	"encoding/csv"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/zachfi/streamsniffer/pkg/shoutcast"
)

var metadataHeader = []string{"Artist", "Title", "Start Time"}

// MetadataLog is the CSV record of the tracks seen during a session. Every
// row is flushed as it is written so the file is complete at any point.
type MetadataLog struct {
	mu   sync.Mutex
	f    *os.File
	w    *csv.Writer
	rows int
}

// CreateMetadataLog creates path, which must not exist, and writes the header.
func CreateMetadataLog(path string) (*MetadataLog, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create metadata log")
	}

	l := &MetadataLog{f: f, w: csv.NewWriter(f)}
	if err := l.write(metadataHeader); err != nil {
		f.Close()
		_ = os.Remove(path)
		return nil, errors.Wrap(err, "failed to write metadata header")
	}

	return l, nil
}

// Append writes one row for e.
func (l *MetadataLog) Append(e shoutcast.MetadataEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.write([]string{e.Artist, e.Title, e.ObservedAt.Format(TimeFormat)}); err != nil {
		return errors.Wrap(err, "failed to append metadata row")
	}
	l.rows++
	return nil
}

// Rows returns the number of data rows written.
func (l *MetadataLog) Rows() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rows
}

func (l *MetadataLog) write(record []string) error {
	if err := l.w.Write(record); err != nil {
		return err
	}
	l.w.Flush()
	return l.w.Error()
}

// Close syncs and closes the file.
func (l *MetadataLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.w.Flush()
	if err := l.w.Error(); err != nil {
		l.f.Close()
		return err
	}
	if err := l.f.Sync(); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}

// Remove closes and deletes the log; used when a session fails to start.
func (l *MetadataLog) Remove() error {
	name := l.f.Name()
	_ = l.Close()
	return os.Remove(name)
}
