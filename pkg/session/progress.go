package session

import (
	"context"
	"time"
)

// ProgressSample is one progress report.
type ProgressSample struct {
	Elapsed time.Duration
	Percent int
}

// Percent returns floor(elapsed/target*100) clamped to [0, 100].
func Percent(elapsed, target time.Duration) int {
	if target <= 0 || elapsed >= target {
		return 100
	}
	if elapsed <= 0 {
		return 0
	}
	return int(elapsed * 100 / target)
}

// ReportProgress emits a sample every interval while ctx is live and the
// target has not been reached, then a final 100% sample.
func ReportProgress(ctx context.Context, start time.Time, target, interval time.Duration, now func() time.Time, emit func(ProgressSample)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := 0
	for {
		elapsed := now().Sub(start)
		if ctx.Err() != nil || elapsed >= target {
			break
		}

		// A clock stepping backwards must not move the bar backwards.
		if p := Percent(elapsed, target); p > last {
			last = p
		}
		emit(ProgressSample{Elapsed: elapsed, Percent: last})

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}

	emit(ProgressSample{Elapsed: now().Sub(start), Percent: 100})
}
