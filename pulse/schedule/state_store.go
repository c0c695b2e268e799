package schedule

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/teranos/marketpulse/db"
	"github.com/teranos/marketpulse/errors"
)

// StateStore persists ingestion_state rows
type StateStore struct {
	db *sql.DB
}

// NewStateStore creates a new ingestion state store
func NewStateStore(db *sql.DB) *StateStore {
	return &StateStore{db: db}
}

const stateColumns = `
	s.stock_id, st.symbol, s.last_price_update, s.last_fundamental_update, s.last_prediction,
	s.success_streak, s.failure_streak, s.priority_score, s.avg_runtime_ms,
	s.last_run_at, s.next_run_at, s.created_at, s.updated_at`

// EnsureStates creates a default state row for every id that has none.
// Existing rows are left untouched.
func (s *StateStore) EnsureStates(ctx context.Context, stockIDs []int64) error {
	if len(stockIDs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin ensure states")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO ingestion_state (stock_id) VALUES (?) ON CONFLICT(stock_id) DO NOTHING")
	if err != nil {
		return errors.Wrap(err, "prepare ensure states")
	}
	defer stmt.Close()

	for _, id := range stockIDs {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return errors.Wrapf(err, "ensure state for stock %d", id)
		}
	}
	return errors.Wrap(tx.Commit(), "commit ensure states")
}

// GetState returns the state of one entity, or ErrNotFound
func (s *StateStore) GetState(ctx context.Context, stockID int64) (*State, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+stateColumns+`
		FROM ingestion_state s JOIN stocks st ON st.id = s.stock_id
		WHERE s.stock_id = ?`, stockID)

	st, err := scanState(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("ingestion state for stock %d", stockID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get state for stock %d", stockID)
	}
	return st, nil
}

// GetStateBySymbol returns the state of the entity with the given ticker
func (s *StateStore) GetStateBySymbol(ctx context.Context, symbol string) (*State, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+stateColumns+`
		FROM ingestion_state s JOIN stocks st ON st.id = s.stock_id
		WHERE st.symbol = ?`, strings.ToUpper(symbol))

	st, err := scanState(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("ingestion state for %s", symbol)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get state for %s", symbol)
	}
	return st, nil
}

// StatesFor returns the states of the given entities keyed by stock id.
// Entities without a row are absent from the map.
func (s *StateStore) StatesFor(ctx context.Context, stockIDs []int64) (map[int64]*State, error) {
	out := make(map[int64]*State, len(stockIDs))
	if len(stockIDs) == 0 {
		return out, nil
	}

	want := make(map[int64]bool, len(stockIDs))
	for _, id := range stockIDs {
		want[id] = true
	}

	// one full scan is cheaper than an IN list of thousands of ids
	all, err := s.ListStates(ctx, 0)
	if err != nil {
		return nil, err
	}
	for _, st := range all {
		if want[st.StockID] {
			out[st.StockID] = st
		}
	}
	return out, nil
}

// ListStates returns states ordered by next_run_at (never-run first).
// limit <= 0 returns every row.
func (s *StateStore) ListStates(ctx context.Context, limit int) ([]*State, error) {
	query := `SELECT ` + stateColumns + `
		FROM ingestion_state s JOIN stocks st ON st.id = s.stock_id
		ORDER BY s.next_run_at IS NOT NULL, s.next_run_at, st.symbol`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list states")
	}
	defer rows.Close()

	var states []*State
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan state")
		}
		states = append(states, st)
	}
	return states, errors.Wrap(rows.Err(), "iterate states")
}

// SaveState writes every mutable column of st in one upsert
func (s *StateStore) SaveState(ctx context.Context, st *State, now time.Time) error {
	var avg any
	if st.AvgRuntimeMS != nil {
		avg = *st.AvgRuntimeMS
	}

	row := db.Row{}.
		Set("stock_id", st.StockID).
		Set("last_price_update", db.NullableTime(st.LastPriceUpdate)).
		Set("last_fundamental_update", db.NullableTime(st.LastFundamentalUpdate)).
		Set("last_prediction", db.NullableTime(st.LastPrediction)).
		Set("success_streak", st.SuccessStreak).
		Set("failure_streak", st.FailureStreak).
		Set("priority_score", st.PriorityScore).
		Set("avg_runtime_ms", avg).
		Set("last_run_at", db.NullableTime(st.LastRunAt)).
		Set("next_run_at", db.NullableTime(st.NextRunAt)).
		Set("updated_at", db.FormatTime(now))

	if _, err := db.Upsert(ctx, s.db, "ingestion_state", []string{"stock_id"}, row); err != nil {
		return errors.Wrapf(err, "save state for stock %d", st.StockID)
	}
	st.UpdatedAt = now
	return nil
}

// Observation reads the latest stored price time and volume of one entity
func (s *StateStore) Observation(ctx context.Context, stockID int64) (Observation, error) {
	var ts string
	var volume int64
	err := s.db.QueryRowContext(ctx, `
		SELECT timestamp, volume FROM stock_prices
		WHERE stock_id = ? ORDER BY timestamp DESC LIMIT 1`, stockID).Scan(&ts, &volume)
	if err == sql.ErrNoRows {
		return Observation{}, nil
	}
	if err != nil {
		return Observation{}, errors.Wrapf(err, "latest price for stock %d", stockID)
	}
	t, err := db.ParseTime(ts)
	if err != nil {
		return Observation{}, err
	}
	return Observation{LastPriceAt: &t, Volume: volume}, nil
}

// Observations reads the latest stored price time and volume of every entity
// that has prices.
func (s *StateStore) Observations(ctx context.Context) (map[int64]Observation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.stock_id, p.timestamp, p.volume
		FROM stock_prices p
		JOIN (SELECT stock_id, MAX(timestamp) AS ts FROM stock_prices GROUP BY stock_id) latest
		  ON latest.stock_id = p.stock_id AND latest.ts = p.timestamp`)
	if err != nil {
		return nil, errors.Wrap(err, "query latest prices")
	}
	defer rows.Close()

	out := make(map[int64]Observation)
	for rows.Next() {
		var id, volume int64
		var ts string
		if err := rows.Scan(&id, &ts, &volume); err != nil {
			return nil, errors.Wrap(err, "scan latest price")
		}
		t, err := db.ParseTime(ts)
		if err != nil {
			return nil, err
		}
		out[id] = Observation{LastPriceAt: &t, Volume: volume}
	}
	return out, errors.Wrap(rows.Err(), "iterate latest prices")
}

// Coverage counts active entities and how many had a price update inside the window
type Coverage struct {
	Active  int
	Fresh   int
	Never   int
	Failing int // failure_streak > 0
}

// CoverageSince reports coverage relative to a freshness cutoff
func (s *StateStore) CoverageSince(ctx context.Context, cutoff time.Time) (Coverage, error) {
	var c Coverage
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN s.last_price_update >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN s.last_price_update IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN s.failure_streak > 0 THEN 1 ELSE 0 END), 0)
		FROM stocks st LEFT JOIN ingestion_state s ON s.stock_id = st.id
		WHERE st.active = 1`, db.FormatTime(cutoff)).Scan(&c.Active, &c.Fresh, &c.Never, &c.Failing)
	if err != nil {
		return Coverage{}, errors.Wrap(err, "query coverage")
	}
	return c, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanState(row scanner) (*State, error) {
	var st State
	var lastPrice, lastFund, lastPred, lastRun, nextRun sql.NullString
	var avg sql.NullInt64
	var createdAt, updatedAt string

	if err := row.Scan(
		&st.StockID, &st.Symbol, &lastPrice, &lastFund, &lastPred,
		&st.SuccessStreak, &st.FailureStreak, &st.PriorityScore, &avg,
		&lastRun, &nextRun, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if st.LastPriceUpdate, err = db.ParseNullTime(lastPrice); err != nil {
		return nil, err
	}
	if st.LastFundamentalUpdate, err = db.ParseNullTime(lastFund); err != nil {
		return nil, err
	}
	if st.LastPrediction, err = db.ParseNullTime(lastPred); err != nil {
		return nil, err
	}
	if st.LastRunAt, err = db.ParseNullTime(lastRun); err != nil {
		return nil, err
	}
	if st.NextRunAt, err = db.ParseNullTime(nextRun); err != nil {
		return nil, err
	}
	if avg.Valid {
		v := avg.Int64
		st.AvgRuntimeMS = &v
	}
	// created_at/updated_at may come from SQL defaults at second precision
	st.CreatedAt, _ = db.ParseTime(createdAt)
	st.UpdatedAt, _ = db.ParseTime(updatedAt)
	return &st, nil
}
