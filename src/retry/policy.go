package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"budgee-sync/src/logger"
)

// Policy is exponential backoff with jitter, bounded by MaxAttempts.
type Policy struct {
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	MaxAttempts int

	// Jitter is the fraction of the delay added at random, 0 disables it.
	Jitter float64

	// AttemptTimeout bounds every single call; exceeding it counts as a
	// retryable network error.
	AttemptTimeout time.Duration

	// Sleep and Rand are replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
	Rand  func() float64
}

func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:      500 * time.Millisecond,
		Multiplier:     2,
		MaxDelay:       30 * time.Second,
		Jitter:         0.2,
		MaxAttempts:    4,
		AttemptTimeout: 30 * time.Second,
	}
}

// Delay is the backoff before retry number n (1-based), without jitter.
// Successive delays never decrease and never exceed MaxDelay.
func (p Policy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(n-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

func (p Policy) jittered(d time.Duration) time.Duration {
	if p.Jitter <= 0 {
		return d
	}
	r := rand.Float64
	if p.Rand != nil {
		r = p.Rand
	}
	d += time.Duration(float64(d) * p.Jitter * r())
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do calls fn until it succeeds, fails with a non-retryable error, or
// MaxAttempts is reached, in which case an *ExhaustedError is returned.
func (p Policy) Do(ctx context.Context, endpoint string, fn func(ctx context.Context) error) error {
	log := logger.FromContext(ctx)
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		err := p.call(ctx, fn)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", endpoint, ctx.Err())
		}
		if Classify(err) == NonRetryable {
			return err
		}
		if attempt >= attempts {
			return &ExhaustedError{Attempts: attempt, LastStatus: statusOf(err), Endpoint: endpoint, Err: err}
		}

		delay := p.jittered(p.Delay(attempt))
		if ra := retryAfterOf(err); ra > 0 {
			delay = ra
			if p.MaxDelay > 0 && delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}
		log.Debug().
			Err(err).
			Str("endpoint", endpoint).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("retrying provider call")

		if err := p.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s: %w", endpoint, err)
		}
	}
}

func (p Policy) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()
	return fn(attemptCtx)
}

// DoValue is Do for calls that produce a value.
func DoValue[T any](ctx context.Context, p Policy, endpoint string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, endpoint, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
