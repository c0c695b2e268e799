package budget

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/teranos/marketpulse/errors"
)

// settleMargin is added to window waits so the oldest call has certainly
// left the window when the caller wakes up.
const settleMargin = 100 * time.Millisecond

const spacingTolerance = time.Microsecond

// SleepFunc blocks for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Limiter enforces at most maxCallsPerMinute calls in any rolling 60s window,
// plus a minimum spacing of 60s/maxCallsPerMinute between consecutive calls.
// It is safe for concurrent use.
type Limiter struct {
	maxCallsPerMinute int
	window            time.Duration
	mu                sync.Mutex
	callTimes         []time.Time // FIFO, oldest first
	spacing           *rate.Limiter
	timeNow           func() time.Time // Injectable for testing
	sleep             SleepFunc
	onWait            func(time.Duration)
}

// NewLimiter creates a rate limiter with real time
func NewLimiter(maxCallsPerMinute int) *Limiter {
	return NewLimiterWithClock(maxCallsPerMinute, time.Now, sleepContext)
}

// NewLimiterWithClock creates a rate limiter with an injectable clock and sleeper
// (for testing). A non-positive maxCallsPerMinute is treated as 1.
func NewLimiterWithClock(maxCallsPerMinute int, timeNow func() time.Time, sleep SleepFunc) *Limiter {
	if maxCallsPerMinute <= 0 {
		maxCallsPerMinute = 1
	}
	window := 60 * time.Second
	return &Limiter{
		maxCallsPerMinute: maxCallsPerMinute,
		window:            window,
		callTimes:         make([]time.Time, 0, maxCallsPerMinute),
		spacing:           rate.NewLimiter(rate.Every(window/time.Duration(maxCallsPerMinute)), 1),
		timeNow:           timeNow,
		sleep:             sleep,
	}
}

// OnWait registers a hook observing every non-zero wait inside Acquire
func (r *Limiter) OnWait(fn func(time.Duration)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onWait = fn
}

// MinSpacing returns the enforced gap between consecutive calls
func (r *Limiter) MinSpacing() time.Duration {
	return r.window / time.Duration(r.maxCallsPerMinute)
}

// Acquire blocks until one more call is compliant with both the window cap and
// the spacing, then records it. Returns ctx.Err() if cancelled while waiting.
func (r *Limiter) Acquire(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		r.mu.Lock()
		now := r.timeNow()
		wait := r.waitLocked(now)
		if wait <= 0 {
			r.recordLocked(now)
			r.mu.Unlock()
			return nil
		}
		onWait := r.onWait
		r.mu.Unlock()

		if onWait != nil {
			onWait(wait)
		}
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
		// re-evaluate: another goroutine may have taken the slot
	}
}

// Allow records a call if it is compliant right now, without blocking.
// Returns an error describing the required wait otherwise.
func (r *Limiter) Allow() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.timeNow()
	if wait := r.waitLocked(now); wait > 0 {
		err := errors.Newf("rate limit exceeded: %d calls per minute (limit: %d)",
			len(r.callTimes), r.maxCallsPerMinute)
		err = errors.WithDetail(err, fmt.Sprintf("Current calls in window: %d", len(r.callTimes)))
		err = errors.WithDetail(err, fmt.Sprintf("Retry after: %s", wait))
		return err
	}

	r.recordLocked(now)
	return nil
}

// waitLocked returns how long the caller must wait before a call at now is
// compliant, or zero. Must be called with lock held.
func (r *Limiter) waitLocked(now time.Time) time.Duration {
	r.removeExpiredCalls(now)

	if len(r.callTimes) >= r.maxCallsPerMinute {
		oldest := r.callTimes[0]
		return r.window - now.Sub(oldest) + settleMargin
	}

	if tokens := r.spacing.TokensAt(now); tokens < 1 {
		need := time.Duration(math.Ceil((1 - tokens) / float64(r.spacing.Limit()) * float64(time.Second)))
		// float residue from the token arithmetic is not a real wait
		if need > spacingTolerance {
			return need
		}
	}
	return 0
}

// recordLocked consumes the spacing token and appends the call.
// Must be called with lock held.
func (r *Limiter) recordLocked(now time.Time) {
	r.spacing.ReserveN(now, 1)
	r.callTimes = append(r.callTimes, now)
}

// removeExpiredCalls removes call timestamps that are outside the sliding window
// Must be called with lock held
func (r *Limiter) removeExpiredCalls(now time.Time) {
	cutoff := now.Add(-r.window)

	// timestamps are ordered, so expired calls form a prefix
	expired := 0
	for _, callTime := range r.callTimes {
		if !callTime.After(cutoff) {
			expired++
		} else {
			break
		}
	}

	r.callTimes = r.callTimes[expired:]
}

// Reset clears the recorded calls and the spacing gate
func (r *Limiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.callTimes = r.callTimes[:0]
	r.spacing = rate.NewLimiter(r.spacing.Limit(), 1)
}

// Stats returns current rate limiter statistics
func (r *Limiter) Stats() (callsInWindow int, remaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeExpiredCalls(r.timeNow())

	callsInWindow = len(r.callTimes)
	remaining = r.maxCallsPerMinute - callsInWindow
	if remaining < 0 {
		remaining = 0
	}
	return callsInWindow, remaining
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
