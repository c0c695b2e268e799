package schedule

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/marketpulse/am"
	"github.com/teranos/marketpulse/errors"
	"github.com/teranos/marketpulse/logger"
)

// PrioritizerConfig bounds batch selection and revisit timing
type PrioritizerConfig struct {
	MaxSymbolsPerRun int
	ExplorationRate  float64
	MinRevisitDays   int
	MaxRevisitDays   int
	Weights          Weights
}

// ConfigFromAM extracts the prioritizer settings from the ingest config
func ConfigFromAM(in am.IngestConfig) PrioritizerConfig {
	return PrioritizerConfig{
		MaxSymbolsPerRun: in.MaxSymbolsPerRun,
		ExplorationRate:  in.ExplorationRate,
		MinRevisitDays:   in.MinRevisitDays,
		MaxRevisitDays:   in.MaxRevisitDays,
		Weights: Weights{
			Staleness:      in.Weights.Staleness,
			Volume:         in.Weights.Volume,
			VolumeDivisor:  in.Weights.VolumeDivisor,
			FailurePenalty: in.Weights.FailurePenalty,
		},
	}
}

// Prioritizer selects the entities of each batch and is the sole writer of
// ingestion state.
type Prioritizer struct {
	store  *StateStore
	logger *zap.SugaredLogger

	mu  sync.Mutex
	cfg PrioritizerConfig
	rng *rand.Rand
}

// NewPrioritizer creates a prioritizer with a time-seeded exploration source
func NewPrioritizer(store *StateStore, cfg PrioritizerConfig, log *zap.SugaredLogger) *Prioritizer {
	return &Prioritizer{
		store:  store,
		logger: logger.AddPulseSymbol(log),
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithRand replaces the exploration source (for deterministic tests)
func (p *Prioritizer) WithRand(r *rand.Rand) *Prioritizer {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rng = r
	return p
}

// SetConfig swaps the selection settings; used by config hot reload
func (p *Prioritizer) SetConfig(cfg PrioritizerConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
}

// Config returns the current selection settings
func (p *Prioritizer) Config() PrioritizerConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// Quotas splits max into main and exploration slots. Both are at least 1, so
// their sum may exceed max; the selection is truncated to max afterwards.
func Quotas(max int, explorationRate float64) (mainQuota, exploreQuota int) {
	mainQuota = int(math.Floor(float64(max) * (1 - explorationRate)))
	if mainQuota < 1 {
		mainQuota = 1
	}
	exploreQuota = max - mainQuota
	if exploreQuota < 1 {
		exploreQuota = 1
	}
	return mainQuota, exploreQuota
}

// SelectBatch returns at most MaxSymbolsPerRun distinct entities to process.
//
// Due entities (never run, or next_run_at <= now) fill the main quota first in
// input order, then the highest scores. The exploration quota is a uniform
// random sample of what remains.
func (p *Prioritizer) SelectBatch(ctx context.Context, entities []Entity, now time.Time) ([]Entity, error) {
	cfg := p.Config()
	selected := []Entity{}
	if len(entities) == 0 || cfg.MaxSymbolsPerRun <= 0 {
		return selected, nil
	}

	ids := make([]int64, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
	}
	if err := p.store.EnsureStates(ctx, ids); err != nil {
		return nil, errors.Wrap(err, "ensure ingestion states")
	}
	states, err := p.store.StatesFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	observations, err := p.store.Observations(ctx)
	if err != nil {
		return nil, err
	}

	mainQuota, exploreQuota := Quotas(cfg.MaxSymbolsPerRun, cfg.ExplorationRate)
	seen := make(map[int64]bool, len(entities))
	take := func(e Entity) {
		seen[e.ID] = true
		selected = append(selected, e)
	}

	due := 0
	for _, e := range entities {
		if len(selected) >= mainQuota {
			break
		}
		if !seen[e.ID] && states[e.ID].IsDue(now) {
			take(e)
			due++
		}
	}

	if len(selected) < mainQuota {
		type scored struct {
			entity Entity
			score  float64
		}
		ranked := make([]scored, 0, len(entities))
		for _, e := range entities {
			failures := 0
			if st := states[e.ID]; st != nil {
				failures = st.FailureStreak
			}
			ranked = append(ranked, scored{e, Score(observations[e.ID], failures, cfg.Weights, now)})
		}
		sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

		for _, r := range ranked {
			if len(selected) >= mainQuota {
				break
			}
			if !seen[r.entity.ID] {
				take(r.entity)
			}
		}
	}

	var remaining []Entity
	for _, e := range entities {
		if !seen[e.ID] {
			seen[e.ID] = true // collapses duplicate input entries
			remaining = append(remaining, e)
		}
	}
	explored := 0
	if len(remaining) > 0 {
		p.mu.Lock()
		p.rng.Shuffle(len(remaining), func(i, j int) { remaining[i], remaining[j] = remaining[j], remaining[i] })
		p.mu.Unlock()
		for _, e := range remaining {
			if explored >= exploreQuota {
				break
			}
			selected = append(selected, e)
			explored++
		}
	}

	if len(selected) > cfg.MaxSymbolsPerRun {
		selected = selected[:cfg.MaxSymbolsPerRun]
	}

	p.logger.Debugw("Batch selected",
		logger.FieldCount, len(selected),
		"candidates", len(entities),
		"due", due,
		"explored", explored,
		"main_quota", mainQuota,
		"explore_quota", exploreQuota,
	)
	return selected, nil
}

// UpdateState records one completed run attempt: streaks, runtime average,
// category timestamps, a fresh score and the next eligible time, persisted in
// a single upsert.
func (p *Prioritizer) UpdateState(ctx context.Context, stockID int64, o Outcome, now time.Time) (*State, error) {
	cfg := p.Config()
	now = now.UTC()

	st, err := p.store.GetState(ctx, stockID)
	if errors.IsNotFound(err) {
		if err := p.store.EnsureStates(ctx, []int64{stockID}); err != nil {
			return nil, err
		}
		st, err = p.store.GetState(ctx, stockID)
	}
	if err != nil {
		return nil, err
	}

	st.apply(o, now)

	obs, err := p.store.Observation(ctx, stockID)
	if err != nil {
		return nil, err
	}
	st.PriorityScore = Score(obs, st.FailureStreak, cfg.Weights, now)
	next := NextRunAt(st.PriorityScore, now, cfg.MinRevisitDays, cfg.MaxRevisitDays)
	st.NextRunAt = &next

	if err := p.store.SaveState(ctx, st, now); err != nil {
		return nil, err
	}
	return st, nil
}
