package datasource

import (
	"context"
	"math"
	"time"

	"github.com/iddaa-lens/edge/pkg/logger"
)

// RetryPolicy bounds the exponential backoff applied to transient failures
type RetryPolicy struct {
	// MaxAttempts includes the initial attempt
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryPolicy returns three attempts starting at 500ms, capped at 5s
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = def.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = def.MaxBackoff
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	return p
}

// Backoff returns the delay before the given retry (1 = first retry)
func (p RetryPolicy) Backoff(retry int) time.Duration {
	p = p.normalized()
	if retry < 1 {
		retry = 1
	}
	delay := float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(retry-1))
	if delay > float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	return time.Duration(delay)
}

// do runs fn until it succeeds, returns a non-retryable error, the attempts
// run out, or ctx is done. The last error is returned.
func (p RetryPolicy) do(ctx context.Context, log *logger.Logger, resource string, fn func(ctx context.Context) error) (int, error) {
	p = p.normalized()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := p.Backoff(attempt - 1)
			log.Warn().
				Err(lastErr).
				Str("resource", resource).
				Int("attempt", attempt).
				Int("max_attempts", p.MaxAttempts).
				Dur("backoff", backoff).
				Str("action", "source_retry").
				Msg("Retrying data source request")

			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return attempt - 1, ctx.Err()
			}
		}

		err := fn(ctx)
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		if ctx.Err() != nil || !isRetryable(err) {
			return attempt, err
		}
	}
	return p.MaxAttempts, lastErr
}
