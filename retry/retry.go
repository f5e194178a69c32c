// Package retry runs an operation under a bounded, fixed-delay attempt budget.
package retry

import (
	"context"
	"time"
)

// Policy bounds a retry loop. Delay is fixed between attempts: no backoff, no jitter.
type Policy struct {
	Attempts int
	Delay    time.Duration
}

var (
	// InitialLoad is used for the first projection of a contract.
	InitialLoad = Policy{Attempts: 4, Delay: 2500 * time.Millisecond}
	// Once is used right after a confirmed write, when the causing write is already final.
	Once = Policy{Attempts: 1}
)

func (p Policy) withDefaults() Policy {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	return p
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

// Observer is told about every failed attempt; final reports the last one.
type Observer func(attempt int, err error, final bool)

// Config carries the optional collaborators of Do.
type Config struct {
	Sleep   Sleeper
	Observe Observer
}

// Do calls fn until it succeeds or the policy's attempts are used up.
//
// attempt is 1-based. On exhaustion Do returns the error of the last attempt
// and the number of attempts made. If ctx ends while waiting between attempts
// the context error is returned instead.
func Do[T any](ctx context.Context, p Policy, cfg Config, fn func(ctx context.Context, attempt int) (T, error)) (T, int, error) {
	p = p.withDefaults()
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var zero T
	for attempt := 1; ; attempt++ {
		v, err := fn(ctx, attempt)
		if err == nil {
			return v, attempt, nil
		}
		final := attempt >= p.Attempts
		if cfg.Observe != nil {
			cfg.Observe(attempt, err, final)
		}
		if final {
			return zero, attempt, err
		}
		if serr := sleep(ctx, p.Delay); serr != nil {
			return zero, attempt, serr
		}
	}
}
