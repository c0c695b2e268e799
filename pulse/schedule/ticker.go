package schedule

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/marketpulse/errors"
	"github.com/teranos/marketpulse/logger"
)

// Clock is the time source of every trigger
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// RealClock is the wall clock
type RealClock struct{}

// Now returns time.Now()
func (RealClock) Now() time.Time { return time.Now() }

// After returns time.After(d)
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// BatchFunc runs one batch. Cancellation of ctx stops it between entities.
type BatchFunc func(ctx context.Context) error

// IterationFunc observes every completed trigger iteration
type IterationFunc func(trigger string, err error)

// Trigger names, also recorded on batch runs
const (
	TriggerManual   = "manual"
	TriggerInterval = "interval"
	TriggerDaily    = "daily"
	TriggerLoop     = "loop"
	TriggerUpdate   = "update"
)

// DailyTime is a wall-clock time of day
type DailyTime struct {
	Hour   int
	Minute int
}

// ParseDailyTimes parses "HH:MM" entries
func ParseDailyTimes(specs []string) ([]DailyTime, error) {
	out := make([]DailyTime, 0, len(specs))
	for _, s := range specs {
		t, err := time.Parse("15:04", s)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrInvalidRequest, "daily time %q is not HH:MM", s)
		}
		out = append(out, DailyTime{Hour: t.Hour(), Minute: t.Minute()})
	}
	return out, nil
}

// NextDailyRun returns the earliest configured time of day strictly after now,
// evaluated in loc.
func NextDailyRun(now time.Time, times []DailyTime, loc *time.Location) time.Time {
	local := now.In(loc)
	var candidates []time.Time
	for _, dt := range times {
		c := time.Date(local.Year(), local.Month(), local.Day(), dt.Hour, dt.Minute, 0, 0, loc)
		if !c.After(local) {
			c = time.Date(local.Year(), local.Month(), local.Day()+1, dt.Hour, dt.Minute, 0, 0, loc)
		}
		candidates = append(candidates, c)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Before(candidates[j]) })
	return candidates[0]
}

// Ticker runs a batch every interval, or at fixed times of day. A batch in
// progress is never interrupted by Stop.
type Ticker struct {
	batch      BatchFunc
	trigger    string
	interval   time.Duration
	dailyTimes []DailyTime
	location   *time.Location
	clock      Clock

	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	pulseLog    *zap.SugaredLogger
	onIteration IterationFunc

	mu         sync.Mutex
	iterations int64
	nextRunAt  time.Time
}

// TickerConfig selects the trigger mode: DailyTimes set means daily, otherwise interval.
type TickerConfig struct {
	Interval   time.Duration
	DailyTimes []string
	Location   *time.Location
}

// NewTicker creates a ticker. Batches receive parent, so cancelling parent
// stops a running batch between entities while Stop only prevents new ones.
func NewTicker(parent context.Context, batch BatchFunc, cfg TickerConfig, clock Clock, log *zap.SugaredLogger) (*Ticker, error) {
	if clock == nil {
		clock = RealClock{}
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	t := &Ticker{
		batch:    batch,
		clock:    clock,
		location: loc,
		parent:   parent,
		pulseLog: logger.AddPulseSymbol(log),
	}

	if len(cfg.DailyTimes) > 0 {
		times, err := ParseDailyTimes(cfg.DailyTimes)
		if err != nil {
			return nil, err
		}
		t.trigger = TriggerDaily
		t.dailyTimes = times
	} else {
		if cfg.Interval <= 0 {
			return nil, errors.Wrapf(errors.ErrInvalidRequest, "ticker interval must be > 0, got %s", cfg.Interval)
		}
		t.trigger = TriggerInterval
		t.interval = cfg.Interval
	}

	t.ctx, t.cancel = context.WithCancel(parent)
	return t, nil
}

// OnIteration registers an observer for completed iterations
func (t *Ticker) OnIteration(fn IterationFunc) {
	t.onIteration = fn
}

// Trigger returns "interval" or "daily"
func (t *Ticker) Trigger() string {
	return t.trigger
}

// Start begins the ticker loop
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.run()
	t.pulseLog.Infow("Pulse ticker started", logger.FieldTrigger, t.trigger, "interval", t.interval, "daily_times", len(t.dailyTimes))
}

// Stop prevents further batches and waits for a running one to finish
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.pulseLog.Infow("Pulse ticker stopped", logger.FieldIteration, t.Iterations())
}

// Wait blocks until the ticker loop exits
func (t *Ticker) Wait() {
	t.wg.Wait()
}

// Iterations returns the number of batches started
func (t *Ticker) Iterations() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.iterations
}

// NextRunAt returns when the next batch is due
func (t *Ticker) NextRunAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nextRunAt
}

func (t *Ticker) next(now time.Time) time.Time {
	if t.trigger == TriggerDaily {
		return NextDailyRun(now, t.dailyTimes, t.location)
	}
	return now.Add(t.interval)
}

// run is the main ticker loop
func (t *Ticker) run() {
	defer t.wg.Done()

	for {
		now := t.clock.Now()
		next := t.next(now)

		t.mu.Lock()
		t.nextRunAt = next
		t.mu.Unlock()
		t.pulseLog.Infow("Pulse - next batch scheduled",
			logger.FieldTrigger, t.trigger,
			logger.FieldNextRunAt, next.Format(time.RFC3339),
			"in", next.Sub(now).Round(time.Second).String(),
		)

		select {
		case <-t.ctx.Done():
			return
		case <-t.clock.After(next.Sub(now)):
		}

		// Stop may race the timer; never start a batch after Stop
		if t.ctx.Err() != nil {
			return
		}

		t.mu.Lock()
		t.iterations++
		iteration := t.iterations
		t.mu.Unlock()

		err := t.batch(t.parent)
		if err != nil {
			t.pulseLog.Warnw("Pulse batch failed", logger.FieldTrigger, t.trigger, logger.FieldIteration, iteration, logger.FieldError, err)
		} else {
			t.pulseLog.Infow("Pulse batch complete", logger.FieldTrigger, t.trigger, logger.FieldIteration, iteration)
		}
		if t.onIteration != nil {
			t.onIteration(t.trigger, err)
		}
	}
}

// ErrorBackoffFactor stretches the sleep after a failed iteration
const ErrorBackoffFactor = 1.5

// Loop runs batches back to back with a sleep in between, until a wall-clock
// cutoff. It never sleeps past the cutoff.
type Loop struct {
	batch       BatchFunc
	maxDuration time.Duration
	sleep       time.Duration
	clock       Clock
	pulseLog    *zap.SugaredLogger
	onIteration IterationFunc
}

// NewLoop creates a bounded continuous loop. sleepMinutes below 1 is raised to 1.
func NewLoop(batch BatchFunc, maxHours float64, sleepMinutes int, clock Clock, log *zap.SugaredLogger) *Loop {
	if clock == nil {
		clock = RealClock{}
	}
	if sleepMinutes < 1 {
		sleepMinutes = 1
	}
	return &Loop{
		batch:       batch,
		maxDuration: time.Duration(maxHours * float64(time.Hour)),
		sleep:       time.Duration(sleepMinutes) * time.Minute,
		clock:       clock,
		pulseLog:    logger.AddPulseSymbol(log),
	}
}

// OnIteration registers an observer for completed iterations
func (l *Loop) OnIteration(fn IterationFunc) {
	l.onIteration = fn
}

// Run blocks until the cutoff passes or ctx is cancelled and returns the
// number of iterations. Batch errors only lengthen the following sleep.
// Cancellation returns ctx.Err().
func (l *Loop) Run(ctx context.Context) (int, error) {
	started := l.clock.Now()
	cutoff := started.Add(l.maxDuration)
	iterations := 0

	l.pulseLog.Infow("Pulse loop starting",
		logger.FieldCutoff, cutoff.Format(time.RFC3339),
		"sleep", l.sleep.String(),
	)

	for l.clock.Now().Before(cutoff) {
		if err := ctx.Err(); err != nil {
			return iterations, err
		}

		iterations++
		l.pulseLog.Infow("Pulse loop iteration", logger.FieldIteration, iterations)
		err := l.batch(ctx)

		sleep := l.sleep
		if err != nil {
			sleep = time.Duration(float64(sleep) * ErrorBackoffFactor)
			l.pulseLog.Warnw("Pulse loop iteration failed, backing off",
				logger.FieldIteration, iterations,
				logger.FieldError, err,
				logger.FieldWait, sleep.String(),
			)
		}
		if l.onIteration != nil {
			l.onIteration(TriggerLoop, err)
		}

		remaining := cutoff.Sub(l.clock.Now())
		if remaining <= 0 {
			break
		}
		if sleep > remaining {
			sleep = remaining
		}

		select {
		case <-ctx.Done():
			return iterations, ctx.Err()
		case <-l.clock.After(sleep):
		}
	}

	l.pulseLog.Infow("Pulse loop finished",
		logger.FieldIteration, iterations,
		"elapsed", l.clock.Now().Sub(started).Round(time.Second).String(),
	)
	return iterations, nil
}
