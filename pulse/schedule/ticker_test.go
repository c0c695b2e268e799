package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/marketpulse/errors"
)

func TestNextDailyRun(t *testing.T) {
	times, err := ParseDailyTimes([]string{"16:00", "09:30"})
	require.NoError(t, err)

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before first", time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC), time.Date(2024, 6, 3, 9, 30, 0, 0, time.UTC)},
		{"between", time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC), time.Date(2024, 6, 3, 16, 0, 0, 0, time.UTC)},
		{"exactly at a time moves on", time.Date(2024, 6, 3, 16, 0, 0, 0, time.UTC), time.Date(2024, 6, 4, 9, 30, 0, 0, time.UTC)},
		{"across midnight", time.Date(2024, 6, 3, 23, 59, 0, 0, time.UTC), time.Date(2024, 6, 4, 9, 30, 0, 0, time.UTC)},
		{"across month end", time.Date(2024, 6, 30, 17, 0, 0, 0, time.UTC), time.Date(2024, 7, 1, 9, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(NextDailyRun(tt.now, times, time.UTC)))
		})
	}

	t.Run("evaluated in the configured zone", func(t *testing.T) {
		ny := time.FixedZone("EDT", -4*60*60)
		// 13:00 UTC is 09:00 EDT
		now := time.Date(2024, 6, 3, 13, 0, 0, 0, time.UTC)
		next := NextDailyRun(now, times, ny)
		assert.True(t, time.Date(2024, 6, 3, 13, 30, 0, 0, time.UTC).Equal(next))
	})
}

func TestParseDailyTimes_Invalid(t *testing.T) {
	_, err := ParseDailyTimes([]string{"9:30pm"})
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequest(err))
}

// Test Case 1: Interval trigger
// Given: A 30 minute interval ticker on a fake clock
// When: Three batches have run
// Then: Each wait was one interval and the iteration hook saw every batch
func TestTicker_Interval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := newFakeClock(testNow)

	runs := 0
	batch := func(ctx context.Context) error {
		runs++
		if runs == 3 {
			cancel()
		}
		return nil
	}

	ticker, err := NewTicker(ctx, batch, TickerConfig{Interval: 30 * time.Minute}, clock, nopLogger())
	require.NoError(t, err)
	assert.Equal(t, TriggerInterval, ticker.Trigger())

	var observed []string
	ticker.OnIteration(func(trigger string, err error) { observed = append(observed, trigger) })

	ticker.Start()
	ticker.Wait()

	assert.Equal(t, 3, runs)
	assert.Equal(t, int64(3), ticker.Iterations())
	assert.Equal(t, []string{TriggerInterval, TriggerInterval, TriggerInterval}, observed)
	for _, d := range clock.Sleeps()[:3] {
		assert.Equal(t, 30*time.Minute, d)
	}
}

func TestTicker_Daily(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := newFakeClock(time.Date(2024, 6, 3, 23, 50, 0, 0, time.UTC))

	var ranAt []time.Time
	batch := func(ctx context.Context) error {
		ranAt = append(ranAt, clock.Now())
		if len(ranAt) == 2 {
			cancel()
		}
		return errors.New("feed down")
	}

	ticker, err := NewTicker(ctx, batch, TickerConfig{DailyTimes: []string{"00:10", "09:30"}}, clock, nopLogger())
	require.NoError(t, err)
	ticker.Start()
	ticker.Wait()

	require.Len(t, ranAt, 2)
	assert.Equal(t, time.Date(2024, 6, 4, 0, 10, 0, 0, time.UTC), ranAt[0])
	assert.Equal(t, time.Date(2024, 6, 4, 9, 30, 0, 0, time.UTC), ranAt[1])
	assert.Equal(t, 20*time.Minute, clock.Sleeps()[0])
}

func TestTicker_StopBeforeFirstBatch(t *testing.T) {
	blocked := make(chan time.Time)
	clock := &blockingClock{now: testNow, ch: blocked}

	ran := false
	ticker, err := NewTicker(context.Background(), func(context.Context) error { ran = true; return nil },
		TickerConfig{Interval: time.Hour}, clock, nopLogger())
	require.NoError(t, err)

	ticker.Start()
	ticker.Stop()

	assert.False(t, ran)
	assert.Equal(t, int64(0), ticker.Iterations())
}

func TestNewTicker_InvalidConfig(t *testing.T) {
	_, err := NewTicker(context.Background(), nil, TickerConfig{}, nil, nopLogger())
	assert.True(t, errors.IsInvalidRequest(err))

	_, err = NewTicker(context.Background(), nil, TickerConfig{DailyTimes: []string{"noon"}}, nil, nopLogger())
	assert.True(t, errors.IsInvalidRequest(err))
}

// blockingClock never fires
type blockingClock struct {
	now time.Time
	ch  chan time.Time
}

func (c *blockingClock) Now() time.Time                       { return c.now }
func (c *blockingClock) After(time.Duration) <-chan time.Time { return c.ch }

// Test Case 2: Continuous loop stops at the cutoff
// Given: A one hour budget and 25 minute sleeps
// When: Every batch succeeds
// Then: Three iterations run and the last sleep is cut to the remaining 10 minutes
func TestLoop_Cutoff(t *testing.T) {
	clock := newFakeClock(testNow)
	loop := NewLoop(func(context.Context) error { return nil }, 1, 25, clock, nopLogger())

	iterations, err := loop.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, iterations)
	assert.Equal(t, []time.Duration{25 * time.Minute, 25 * time.Minute, 10 * time.Minute}, clock.Sleeps())
	assert.Equal(t, testNow.Add(time.Hour), clock.Now(), "never sleeps past the cutoff")
}

// Test Case 3: Error backoff
// Given: 20 minute sleeps and a failing first batch
// When: The loop runs for an hour
// Then: The first sleep is stretched by 1.5x
func TestLoop_ErrorBackoff(t *testing.T) {
	clock := newFakeClock(testNow)
	calls := 0
	loop := NewLoop(func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("feed unavailable")
		}
		return nil
	}, 1, 20, clock, nopLogger())

	var errs []error
	loop.OnIteration(func(trigger string, err error) {
		assert.Equal(t, TriggerLoop, trigger)
		errs = append(errs, err)
	})

	iterations, err := loop.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, iterations)
	assert.Equal(t, []time.Duration{30 * time.Minute, 20 * time.Minute, 10 * time.Minute}, clock.Sleeps())
	require.Len(t, errs, 3)
	assert.Error(t, errs[0])
	assert.NoError(t, errs[1])
}

func TestLoop_Cancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := newFakeClock(testNow)

	calls := 0
	loop := NewLoop(func(context.Context) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return nil
	}, 5.5, 30, clock, nopLogger())

	iterations, err := loop.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, iterations)
}

func TestLoop_MinimumSleep(t *testing.T) {
	clock := newFakeClock(testNow)
	loop := NewLoop(func(context.Context) error { return nil }, 0.05, 0, clock, nopLogger())

	iterations, err := loop.Run(context.Background())
	require.NoError(t, err)

	// 3 minute budget, 1 minute floor
	assert.Equal(t, 3, iterations)
	assert.Equal(t, time.Minute, clock.Sleeps()[0])
}

func TestLoop_ZeroBudget(t *testing.T) {
	loop := NewLoop(func(context.Context) error { t.Fatal("batch must not run"); return nil }, 0, 5, newFakeClock(testNow), nopLogger())

	iterations, err := loop.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, iterations)
}
