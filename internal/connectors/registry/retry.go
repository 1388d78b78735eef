package registry

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// DefaultMaxRetries is the number of retries a connector spends on a
// transient failure of an idempotent read before giving up.
const DefaultMaxRetries = 2

// RetryAfterDuration parses a Retry-After header given in whole seconds.
func RetryAfterDuration(header string) (time.Duration, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// RetryBackoff returns the exponential delay before retry number attempt.
func RetryBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return time.Second
	}
	wait := time.Second * time.Duration(1<<attempt)
	const max = 30 * time.Second
	if wait > max {
		wait = max
	}
	return wait
}

// Sleep waits for d unless ctx ends first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
