package schedule

import (
	"context"
	"database/sql"

	"github.com/teranos/marketpulse/db"
	"github.com/teranos/marketpulse/errors"
)

// RunStore handles persistence of batch run history
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a new run store
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

// SaveRun inserts or updates a run record
func (s *RunStore) SaveRun(ctx context.Context, r *Run) error {
	var errMsg any
	if r.ErrorMessage != "" {
		errMsg = r.ErrorMessage
	}

	row := db.Row{}.
		Set("id", r.ID).
		Set("trigger_type", r.Trigger).
		Set("status", r.Status).
		Set("requested", r.Requested).
		Set("processed", r.Processed).
		Set("failed", r.Failed).
		Set("error_message", errMsg).
		Set("started_at", db.FormatTime(r.StartedAt)).
		Set("completed_at", db.NullableTime(r.CompletedAt))

	if _, err := db.Upsert(ctx, s.db, "batch_runs", []string{"id"}, row); err != nil {
		return errors.Wrapf(err, "save batch run %s", r.ID)
	}
	return nil
}

// GetRun retrieves a run by id
func (s *RunStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, trigger_type, status, requested, processed, failed, error_message, started_at, completed_at
		FROM batch_runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("batch run %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get batch run %s", id)
	}
	return r, nil
}

// ListRuns returns the most recent runs first
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, trigger_type, status, requested, processed, failed, error_message, started_at, completed_at
		FROM batch_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list batch runs")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan batch run")
		}
		runs = append(runs, r)
	}
	return runs, errors.Wrap(rows.Err(), "iterate batch runs")
}

func scanRun(row scanner) (*Run, error) {
	var r Run
	var errMsg, completedAt sql.NullString
	var startedAt string
	if err := row.Scan(&r.ID, &r.Trigger, &r.Status, &r.Requested, &r.Processed, &r.Failed,
		&errMsg, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	r.ErrorMessage = errMsg.String

	var err error
	if r.StartedAt, err = db.ParseTime(startedAt); err != nil {
		return nil, err
	}
	if r.CompletedAt, err = db.ParseNullTime(completedAt); err != nil {
		return nil, err
	}
	return &r, nil
}
