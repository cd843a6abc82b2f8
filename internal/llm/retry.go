package llm

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ccastromar/termai/internal/logx"
)

const maxRetryDelay = time.Second

// retryHTTP wraps an operation with small exponential backoff retries for transient failures.
// It retries when:
// - the op returns a retriable error (network timeout), or
// - the returned HTTP status code is retriable (429, 408)
// Only the response headers have been seen when a retry is decided, so a
// stream is never replayed after its body started.
func retryHTTP(ctx context.Context, maxAttempts int, baseDelay time.Duration, op func() (*http.Response, error)) (*http.Response, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := op()
		if err == nil && !isRetriableStatus(resp.StatusCode) {
			return resp, nil
		}
		if err != nil && !isRetriableError(err) {
			return nil, err
		}
		if attempt == maxAttempts {
			return resp, err
		}

		delay := backoff(baseDelay, attempt)
		if resp != nil {
			if ra := retryAfter(resp.Header.Get("Retry-After")); ra > 0 {
				delay = min(ra, maxRetryDelay)
			}
			// close body before retry to avoid leaks
			resp.Body.Close()
			logx.Debug("Retry", "status %d, attempt %d/%d, retrying in %v", resp.StatusCode, attempt, maxAttempts, delay)
		} else {
			logx.Debug("Retry", "%v, attempt %d/%d, retrying in %v", err, attempt, maxAttempts, delay)
		}
		lastErr = err

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

// backoff doubles baseDelay per attempt, capped, with +/-10% jitter.
func backoff(baseDelay time.Duration, attempt int) time.Duration {
	delay := baseDelay << (attempt - 1)
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay/5) + 1))
	return delay - delay/10 + jitter
}

func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}

func isRetriableStatus(code int) bool {
	// Retry only on rate limit or request timeout; 5xx fails fast.
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

func isRetriableError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
