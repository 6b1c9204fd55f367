// Package poll runs bounded, fixed-tick wait loops. Every wait in the bot goes
// through Until so that no loop can outlive its deadline by more than one tick.
package poll

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// ErrTimeout is returned when the deadline passes before the condition holds.
var ErrTimeout = errors.New("poll: deadline exceeded")

// Clock abstracts wall time so loops can be driven deterministically.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

// Real is the wall clock.
var Real Clock = realClock{}

// Options configures a loop.
type Options struct {
	Timeout  time.Duration
	Interval time.Duration
	Clock    Clock
}

// Tick describes where a loop is within its budget.
type Tick struct {
	N         int
	Elapsed   time.Duration
	Remaining time.Duration
	Budget    time.Duration
}

// FirstHalf reports whether the loop has used less than half of its budget.
func (t Tick) FirstHalf() bool {
	return t.Elapsed*2 < t.Budget
}

// Condition is evaluated once per tick. done ends the loop successfully; a
// non-nil error ends it immediately and is returned unchanged. Conditions
// should swallow transient failures and report them as not done.
type Condition func(ctx context.Context, tick Tick) (done bool, err error)

// Until evaluates cond immediately and then once per interval until it is
// done, fails, ctx is cancelled, or the deadline (computed once, at entry)
// passes. The condition is always evaluated at least once.
func Until(ctx context.Context, opts Options, cond Condition) error {
	clock := opts.Clock
	if clock == nil {
		clock = Real
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Second
	}

	start := clock.Now()
	deadline := start.Add(opts.Timeout)

	// Burst of one, with the initial token spent at entry: each later
	// reservation lands exactly one interval after the previous tick began.
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	limiter.ReserveN(start, 1)

	for n := 0; ; n++ {
		now := clock.Now()
		tick := Tick{
			N:         n,
			Elapsed:   now.Sub(start),
			Remaining: deadline.Sub(now),
			Budget:    opts.Timeout,
		}

		done, err := cond(ctx, tick)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		now = clock.Now()
		if !now.Before(deadline) {
			return ErrTimeout
		}
		delay := limiter.ReserveN(now, 1).DelayFrom(now)
		if remaining := deadline.Sub(now); delay > remaining {
			delay = remaining
		}
		if err := clock.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// Sleep pauses for d on the given clock.
func Sleep(ctx context.Context, clock Clock, d time.Duration) error {
	if clock == nil {
		clock = Real
	}
	return clock.Sleep(ctx, d)
}
