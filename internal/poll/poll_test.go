package poll_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jaywee92/Slack-Attendance-Bot/internal/poll"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/poll/polltest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"pgregory.net/rapid"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestUntil_ImmediateSuccess(t *testing.T) {
	clock := polltest.NewClock()
	calls := 0
	err := poll.Until(context.Background(), poll.Options{Timeout: time.Minute, Interval: time.Second, Clock: clock},
		func(ctx context.Context, tick poll.Tick) (bool, error) {
			calls++
			return true, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, clock.Sleeps())
}

func TestUntil_SucceedsOnLaterTick(t *testing.T) {
	clock := polltest.NewClock()
	var seen []int
	err := poll.Until(context.Background(), poll.Options{Timeout: 10 * time.Second, Interval: time.Second, Clock: clock},
		func(ctx context.Context, tick poll.Tick) (bool, error) {
			seen = append(seen, tick.N)
			return tick.N == 3, nil
		})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, seen)
	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second}, clock.Sleeps())
}

func TestUntil_TimesOut(t *testing.T) {
	clock := polltest.NewClock()
	start := clock.Now()
	err := poll.Until(context.Background(), poll.Options{Timeout: 5 * time.Second, Interval: time.Second, Clock: clock},
		func(ctx context.Context, tick poll.Tick) (bool, error) { return false, nil })
	assert.ErrorIs(t, err, poll.ErrTimeout)
	assert.Equal(t, 5*time.Second, clock.Now().Sub(start))
}

func TestUntil_SlowConditionShortensSleep(t *testing.T) {
	clock := polltest.NewClock()
	err := poll.Until(context.Background(), poll.Options{Timeout: 10 * time.Second, Interval: time.Second, Clock: clock},
		func(ctx context.Context, tick poll.Tick) (bool, error) {
			clock.Advance(300 * time.Millisecond)
			return tick.N == 1, nil
		})
	require.NoError(t, err)
	sleeps := clock.Sleeps()
	require.Len(t, sleeps, 1)
	assert.InDelta(t, float64(700*time.Millisecond), float64(sleeps[0]), float64(time.Millisecond))
}

func TestUntil_ConditionErrorAborts(t *testing.T) {
	fatal := errors.New("workspace attempts exhausted")
	clock := polltest.NewClock()
	calls := 0
	err := poll.Until(context.Background(), poll.Options{Timeout: time.Minute, Interval: time.Second, Clock: clock},
		func(ctx context.Context, tick poll.Tick) (bool, error) {
			calls++
			if tick.N == 2 {
				return false, fatal
			}
			return false, nil
		})
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 3, calls)
}

func TestUntil_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	clock := polltest.NewClock()
	err := poll.Until(ctx, poll.Options{Timeout: time.Minute, Interval: time.Second, Clock: clock},
		func(ctx context.Context, tick poll.Tick) (bool, error) {
			cancel()
			return false, nil
		})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUntil_ZeroTimeoutStillEvaluatesOnce(t *testing.T) {
	calls := 0
	err := poll.Until(context.Background(), poll.Options{Timeout: 0, Interval: time.Second, Clock: polltest.NewClock()},
		func(ctx context.Context, tick poll.Tick) (bool, error) {
			calls++
			return false, nil
		})
	assert.ErrorIs(t, err, poll.ErrTimeout)
	assert.Equal(t, 1, calls)
}

func TestUntil_RealClock(t *testing.T) {
	start := time.Now()
	err := poll.Until(context.Background(), poll.Options{Timeout: 60 * time.Millisecond, Interval: 20 * time.Millisecond},
		func(ctx context.Context, tick poll.Tick) (bool, error) { return false, nil })
	assert.ErrorIs(t, err, poll.ErrTimeout)
	assert.Less(t, time.Since(start), 60*time.Millisecond+20*time.Millisecond+50*time.Millisecond)
}

func TestTick_FirstHalf(t *testing.T) {
	assert.True(t, poll.Tick{Elapsed: 4 * time.Second, Budget: 10 * time.Second}.FirstHalf())
	assert.False(t, poll.Tick{Elapsed: 5 * time.Second, Budget: 10 * time.Second}.FirstHalf())
}

// Whatever the budget, tick and per-call cost, a loop whose condition never
// holds returns no later than deadline + one tick.
func TestUntil_DeadlineBoundProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		timeout := time.Duration(rapid.IntRange(0, 30_000).Draw(rt, "timeoutMs")) * time.Millisecond
		interval := time.Duration(rapid.IntRange(10, 5_000).Draw(rt, "intervalMs")) * time.Millisecond
		cost := time.Duration(rapid.IntRange(0, 5_000).Draw(rt, "costMs")) * time.Millisecond
		if cost > interval {
			cost = interval
		}

		clock := polltest.NewClock()
		start := clock.Now()
		calls := 0
		err := poll.Until(context.Background(), poll.Options{Timeout: timeout, Interval: interval, Clock: clock},
			func(ctx context.Context, tick poll.Tick) (bool, error) {
				calls++
				clock.Advance(cost)
				return false, nil
			})
		if !errors.Is(err, poll.ErrTimeout) {
			rt.Fatalf("expected timeout, got %v", err)
		}
		if calls < 1 {
			rt.Fatalf("condition never evaluated")
		}
		if elapsed := clock.Now().Sub(start); elapsed > timeout+interval {
			rt.Fatalf("elapsed %v exceeds deadline %v + tick %v", elapsed, timeout, interval)
		}
	})
}
