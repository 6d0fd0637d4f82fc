package peerchat

import (
	"context"
	"time"
)

// Backoff is a capped exponential retry schedule. The delay before retry n
// (counting from zero) is BaseDelay * Multiplier^n, limited to MaxDelay, and at
// most MaxAttempts calls are made in total.
type Backoff struct {
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultBackoff returns the schedule used for directory calls.
func DefaultBackoff() Backoff {
	return Backoff{
		BaseDelay:   500 * time.Millisecond,
		Multiplier:  1.5,
		MaxDelay:    10 * time.Second,
		MaxAttempts: 5,
	}
}

func (b Backoff) withDefaults() Backoff {
	def := DefaultBackoff()
	if b.BaseDelay <= 0 {
		b.BaseDelay = def.BaseDelay
	}
	if b.Multiplier < 1 {
		b.Multiplier = def.Multiplier
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = def.MaxDelay
	}
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = def.MaxAttempts
	}
	return b
}

// Delay returns the wait before retry n.
func (b Backoff) Delay(retry int) time.Duration {
	d := float64(b.BaseDelay)
	for i := 0; i < retry; i++ {
		d *= b.Multiplier
		if d >= float64(b.MaxDelay) {
			return b.MaxDelay
		}
	}
	if time.Duration(d) > b.MaxDelay {
		return b.MaxDelay
	}
	return time.Duration(d)
}

// Schedule returns every delay the backoff would wait through when all attempts fail.
func (b Backoff) Schedule() []time.Duration {
	if b.MaxAttempts <= 1 {
		return nil
	}
	out := make([]time.Duration, b.MaxAttempts-1)
	for i := range out {
		out[i] = b.Delay(i)
	}
	return out
}

// Do calls fn until it succeeds, retryable reports false, the attempts run out or
// ctx ends. It returns the number of calls made and the last error.
func (b Backoff) Do(ctx context.Context, sleeper Sleeper, retryable func(error) bool, fn func(context.Context) error) (int, error) {
	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return attempt, nil
		}
		if attempt >= b.MaxAttempts || (retryable != nil && !retryable(err)) {
			return attempt, err
		}
		if serr := sleeper.Sleep(ctx, b.Delay(attempt-1)); serr != nil {
			return attempt, err
		}
	}
}

// Sleeper waits between retries. Tests substitute one that records delays.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type timerSleeper struct{}

// Sleep waits for d or until ctx ends.
func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
