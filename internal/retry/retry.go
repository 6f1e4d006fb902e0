// Package retry provides exponential backoff for calls to backing services
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Config holds retry configuration
type Config struct {
	MaxAttempts     int              // total attempts including the first; < 1 means 1
	InitialDelay    time.Duration    // delay before the second attempt
	MaxDelay        time.Duration    // backoff ceiling
	Multiplier      float64          // backoff growth per attempt
	RandomizeFactor float64          // jitter in [0,1]
	RetryIf         func(error) bool // nil retries every error

	// OnRetry is called before sleeping ahead of attempt+1
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig returns the backoff used for store calls
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     3,
		InitialDelay:    200 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0.1,
	}
}

// Result describes how an operation finished
type Result struct {
	Attempts int
	Duration time.Duration
	Err      error
}

// Retrier runs operations under a Config
type Retrier struct {
	config Config
	sleep  func(context.Context, time.Duration) error
}

// New creates a retrier, clamping nonsensical settings
func New(config Config) *Retrier {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.Multiplier < 1 {
		config.Multiplier = 1
	}
	if config.RandomizeFactor < 0 {
		config.RandomizeFactor = 0
	} else if config.RandomizeFactor > 1 {
		config.RandomizeFactor = 1
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = config.InitialDelay
	}
	return &Retrier{config: config, sleep: sleepContext}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do executes op until it succeeds, a non-retryable error occurs, attempts run
// out or ctx is done.
func (r *Retrier) Do(ctx context.Context, op func(context.Context) error) Result {
	start := time.Now()
	delay := r.config.InitialDelay
	var res Result

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		res.Attempts = attempt
		if err := ctx.Err(); err != nil {
			res.Err = fmt.Errorf("context cancelled: %w", err)
			break
		}

		err := op(ctx)
		if err == nil {
			res.Err = nil
			break
		}
		res.Err = err

		if attempt == r.config.MaxAttempts || (r.config.RetryIf != nil && !r.config.RetryIf(err)) {
			break
		}

		wait := r.jitter(delay)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, wait)
		}
		if err := r.sleep(ctx, wait); err != nil {
			res.Err = fmt.Errorf("context cancelled during retry delay: %w", err)
			break
		}
		delay = r.next(delay)
	}

	res.Duration = time.Since(start)
	return res
}

// Value is Do for operations returning a value
func Value[T any](ctx context.Context, r *Retrier, op func(context.Context) (T, error)) (T, Result) {
	var out T
	res := r.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, res
}

func (r *Retrier) jitter(delay time.Duration) time.Duration {
	if r.config.RandomizeFactor == 0 {
		return delay
	}
	delta := float64(delay) * r.config.RandomizeFactor
	return time.Duration(float64(delay) - delta + rand.Float64()*2*delta) //nolint:gosec // jitter only
}

func (r *Retrier) next(current time.Duration) time.Duration {
	n := time.Duration(float64(current) * r.config.Multiplier)
	if n > r.config.MaxDelay {
		return r.config.MaxDelay
	}
	return n
}
