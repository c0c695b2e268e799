// Package schedule decides which entities a batch processes and when the
// batch runs. It owns the per-entity ingestion state, the priority engine,
// the trigger loops and the batch run history.
package schedule

import (
	"math"
	"time"

	"github.com/teranos/marketpulse/internal/util"
)

// neverObservedStalenessDays is the staleness of an entity without any stored price
const neverObservedStalenessDays = 999.0

// Entity is a schedulable stock
type Entity struct {
	ID     int64
	Symbol string
}

// State is the persistent ingestion record of one entity
type State struct {
	StockID               int64
	Symbol                string // joined from stocks, read-only
	LastPriceUpdate       *time.Time
	LastFundamentalUpdate *time.Time
	LastPrediction        *time.Time
	SuccessStreak         int
	FailureStreak         int
	PriorityScore         float64
	AvgRuntimeMS          *int64
	LastRunAt             *time.Time
	NextRunAt             *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// IsDue reports whether the entity may be processed at now
func (s *State) IsDue(now time.Time) bool {
	return s == nil || s.NextRunAt == nil || !s.NextRunAt.After(now)
}

// Outcome is what a completed run attempt reports back to UpdateState.
// A category flag is true only when that artifact was written.
type Outcome struct {
	OK                 bool
	PriceUpdated       bool
	FundamentalUpdated bool
	PredictionUpdated  bool
	RuntimeMS          int64
}

// Observation is what the score reads from stored market data
type Observation struct {
	LastPriceAt *time.Time
	Volume      int64 // most recent stored volume, the liquidity proxy
}

// Weights are the tunable constants of the priority score
type Weights struct {
	Staleness      float64
	Volume         float64
	VolumeDivisor  float64
	FailurePenalty float64
}

// DefaultWeights returns the stock scoring constants
func DefaultWeights() Weights {
	return Weights{
		Staleness:      2.0,
		Volume:         1.0,
		VolumeDivisor:  1e7,
		FailurePenalty: 2.0,
	}
}

// Score computes the priority of an entity; higher is more urgent.
//
//	score = stalenessDays*Staleness + (volume/VolumeDivisor)*Volume - failureStreak*FailurePenalty
func Score(obs Observation, failureStreak int, w Weights, now time.Time) float64 {
	stalenessDays := neverObservedStalenessDays
	volume := 0.0
	if obs.LastPriceAt != nil {
		stalenessDays = math.Max(0, now.Sub(*obs.LastPriceAt).Hours()/24)
		volume = float64(obs.Volume)
	}

	divisor := w.VolumeDivisor
	if divisor <= 0 {
		divisor = DefaultWeights().VolumeDivisor
	}

	return stalenessDays*w.Staleness + (volume/divisor)*w.Volume - float64(failureStreak)*w.FailurePenalty
}

// NextRunAt maps a score onto the revisit range: the higher the score, the
// closer to now+minDays. Negative scores revisit at now+maxDays.
func NextRunAt(score float64, now time.Time, minDays, maxDays int) time.Time {
	minD := util.MaxInt(1, minDays)
	maxD := util.MaxInt(minD, maxDays)

	prNorm := 1.0
	if score >= 0 {
		prNorm = 1 / (1 + score)
	}

	days := float64(minD) + float64(maxD-minD)*prNorm
	whole := math.Floor(days)
	return now.AddDate(0, 0, int(whole)).Add(time.Duration((days - whole) * float64(24*time.Hour)))
}

// ema folds a new runtime into the running average (0.3 weight on the new value)
func ema(prev *int64, sample int64) int64 {
	if prev == nil {
		return sample
	}
	return int64(float64(*prev)*0.7 + float64(sample)*0.3)
}

// apply mutates s for a completed run attempt. Score and next run are
// computed by the caller once observables are known.
func (s *State) apply(o Outcome, now time.Time) {
	s.LastRunAt = &now

	avg := ema(s.AvgRuntimeMS, o.RuntimeMS)
	s.AvgRuntimeMS = &avg

	if o.OK {
		s.SuccessStreak++
		s.FailureStreak = 0
	} else {
		s.FailureStreak++
		s.SuccessStreak = 0
	}

	if o.PriceUpdated {
		s.LastPriceUpdate = &now
	}
	if o.FundamentalUpdated {
		s.LastFundamentalUpdate = &now
	}
	if o.PredictionUpdated {
		s.LastPrediction = &now
	}
}
