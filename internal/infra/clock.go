package infra

import (
	"context"
	"time"
)

// Clock supplies UTC time to the pipeline. Backoff delays and freshness
// checks go through it so tests can run without real waiting.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

// NewClock returns the wall clock.
func NewClock() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now().UTC()
}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Timestamp formats t as an ISO-8601 UTC instant with millisecond
// precision and Z suffix, the form OKX expects in OK-ACCESS-TIMESTAMP.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
