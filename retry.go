package restwrap

import (
	"context"
	"fmt"
	"time"

	http "github.com/bogdanfinn/fhttp"
)

const (
	defaultRetryAttempts = 3
	defaultRetryBackoff  = 300 * time.Millisecond
)

// Retrier sends a request, retrying only on connection resets. The delay
// between attempts is fixed.
type Retrier struct {
	Attempts int           // total attempts, default 3
	Backoff  time.Duration // delay after each reset, default 300ms
	Logger   Logger

	// sleep waits for d or until ctx is done.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrier returns a Retrier with the default budget and backoff.
func NewRetrier(logger Logger) *Retrier {
	return &Retrier{
		Attempts: defaultRetryAttempts,
		Backoff:  defaultRetryBackoff,
		Logger:   logger,
	}
}

// Send transmits req through t. A successful exchange returns at once. A
// connection reset is logged when logCfg selects a sink, then retried after
// the backoff until the budget runs out, which yields ErrRetriesExhausted.
// Any other failure returns a *SendError immediately.
func (r *Retrier) Send(ctx context.Context, t Transport, req *http.Request, logCfg LogConfig) (*http.Response, error) {
	remaining := r.Attempts
	if remaining <= 0 {
		remaining = defaultRetryAttempts
	}
	sleep := r.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, &SendError{Method: req.Method, URL: req.URL.String(), Err: err}
			}
			req.Body = body
		}

		resp, err := t.Do(req)
		if err == nil {
			return resp, nil
		}
		if !IsConnectionReset(err) {
			return nil, &SendError{Method: req.Method, URL: req.URL.String(), Err: err}
		}

		lastErr = err
		if logCfg.Enabled() && r.Logger != nil {
			r.Logger.Log("Connection reset by peer. Retrying...", LevelNone, logCfg)
		}
		if err := sleep(ctx, r.backoff()); err != nil {
			return nil, &SendError{Method: req.Method, URL: req.URL.String(), Err: err}
		}

		remaining--
		if remaining == 0 {
			return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt+1, lastErr)
		}
	}
}

func (r *Retrier) backoff() time.Duration {
	if r.Backoff <= 0 {
		return defaultRetryBackoff
	}
	return r.Backoff
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
