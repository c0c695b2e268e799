// Package budget guards the external feed's call budget: an in-memory
// sliding-window limiter for pacing, and a durable ledger of every call for
// usage reporting. Usage queries use pure sliding windows on api_calls.
package budget

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/marketpulse/db"
	"github.com/teranos/marketpulse/errors"
)

// Call is one outbound feed attempt. Retries are separate calls.
type Call struct {
	Endpoint   string
	Symbol     string
	StatusCode int // 0 when no response arrived
	Success    bool
	Err        string
	Duration   time.Duration
	CalledAt   time.Time
}

// Usage summarizes ledger rows within a window
type Usage struct {
	Calls       int
	Failures    int
	RateLimited int // HTTP 429 responses
	AvgDuration time.Duration
}

// Store handles usage queries against the api_calls table
type Store struct {
	db *sql.DB
}

// NewStore creates a new usage store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record appends one call to the ledger
func (s *Store) Record(ctx context.Context, c Call) error {
	var errMsg any
	if c.Err != "" {
		errMsg = c.Err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_calls (endpoint, symbol, status_code, success, error_message, duration_ms, called_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.Endpoint, c.Symbol, c.StatusCode, c.Success, errMsg, c.Duration.Milliseconds(), db.FormatTime(c.CalledAt),
	)
	if err != nil {
		return errors.Wrapf(err, "record api call to %s", c.Endpoint)
	}
	return nil
}

// UsageSince aggregates calls made at or after since
func (s *Store) UsageSince(ctx context.Context, since time.Time) (Usage, error) {
	var u Usage
	var avgMS float64
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status_code = 429 THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(duration_ms), 0)
		FROM api_calls
		WHERE called_at >= ?`, db.FormatTime(since),
	).Scan(&u.Calls, &u.Failures, &u.RateLimited, &avgMS)
	if err != nil {
		return Usage{}, errors.Wrap(err, "failed to query api usage")
	}
	u.AvgDuration = time.Duration(avgMS * float64(time.Millisecond))
	return u, nil
}

// DailyUsage returns usage over the sliding 24 hours before now
func (s *Store) DailyUsage(ctx context.Context, now time.Time) (Usage, error) {
	return s.UsageSince(ctx, now.Add(-24*time.Hour))
}

// Prune deletes ledger rows older than before and returns how many were removed
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM api_calls WHERE called_at < ?", db.FormatTime(before))
	if err != nil {
		return 0, errors.Wrap(err, "failed to prune api calls")
	}
	return res.RowsAffected()
}
