// Package catalog tracks the stocks marketpulse knows about. Symbols are the
// immutable natural key; stocks are deactivated, never deleted.
package catalog

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/teranos/marketpulse/db"
	"github.com/teranos/marketpulse/errors"
	"github.com/teranos/marketpulse/internal/util"
	"github.com/teranos/marketpulse/pulse/schedule"
)

// Stock is one tracked entity
type Stock struct {
	ID        int64
	Symbol    string
	Name      string
	Exchange  string
	Sector    string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Entity returns the scheduling view of s
func (s Stock) Entity() schedule.Entity {
	return schedule.Entity{ID: s.ID, Symbol: s.Symbol}
}

// Store handles persistence of the stocks table
type Store struct {
	db *sql.DB
}

// NewStore creates a new catalog store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const stockColumns = `id, symbol, name, exchange, sector, active, created_at, updated_at`

// stockRow renders s for an upsert on symbol. Empty sector is omitted so a
// feed listing never erases one set by hand.
func stockRow(s Stock, now time.Time) db.Row {
	row := db.Row{}.
		Set("symbol", util.NormalizeSymbol(s.Symbol)).
		Set("name", s.Name).
		Set("exchange", s.Exchange).
		Set("active", s.Active).
		Set("updated_at", db.FormatTime(now))
	if s.Sector != "" {
		row = row.Set("sector", s.Sector)
	}
	return row
}

// UpsertStock inserts or updates a stock by symbol and returns its id
func (s *Store) UpsertStock(ctx context.Context, st Stock, now time.Time) (int64, error) {
	symbol := util.NormalizeSymbol(st.Symbol)
	if symbol == "" {
		return 0, errors.Wrap(errors.ErrInvalidRequest, "stock symbol is empty")
	}
	if _, err := db.Upsert(ctx, s.db, "stocks", []string{"symbol"}, stockRow(st, now)); err != nil {
		return 0, errors.Wrapf(err, "upsert stock %s", symbol)
	}

	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM stocks WHERE symbol = ?`, symbol).Scan(&id); err != nil {
		return 0, errors.Wrapf(err, "read id of stock %s", symbol)
	}
	return id, nil
}

// UpsertStocks writes stocks in one transaction and returns the number written
func (s *Store) UpsertStocks(ctx context.Context, stocks []Stock, now time.Time) (int, error) {
	rows := make([]db.Row, 0, len(stocks))
	for _, st := range stocks {
		if util.NormalizeSymbol(st.Symbol) == "" {
			continue
		}
		// a uniform column set is required by UpsertMany
		st.Sector = ""
		rows = append(rows, stockRow(st, now))
	}
	if len(rows) == 0 {
		return 0, nil
	}
	if _, err := db.UpsertMany(ctx, s.db, "stocks", []string{"symbol"}, rows); err != nil {
		return 0, errors.Wrapf(err, "upsert %d stocks", len(rows))
	}
	return len(rows), nil
}

// GetBySymbol retrieves a stock by its symbol, active or not
func (s *Store) GetBySymbol(ctx context.Context, symbol string) (*Stock, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+stockColumns+` FROM stocks WHERE symbol = ?`, util.NormalizeSymbol(symbol))
	st, err := scanStock(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("stock %s", util.NormalizeSymbol(symbol))
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get stock %s", symbol)
	}
	return st, nil
}

// List returns stocks ordered by symbol. limit <= 0 means no limit.
func (s *Store) List(ctx context.Context, activeOnly bool, limit int) ([]Stock, error) {
	query := `SELECT ` + stockColumns + ` FROM stocks`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY symbol`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list stocks")
	}
	defer rows.Close()

	var stocks []Stock
	for rows.Next() {
		st, err := scanStock(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan stock")
		}
		stocks = append(stocks, *st)
	}
	return stocks, errors.Wrap(rows.Err(), "iterate stocks")
}

// Entities returns every active stock in id order, the stable enumeration
// order the scheduler breaks ties with.
func (s *Store) Entities(ctx context.Context) ([]schedule.Entity, error) {
	return s.queryEntities(ctx, `SELECT id, symbol FROM stocks WHERE active = 1 ORDER BY id`)
}

// EntitiesBySymbols resolves symbols in the order given. Unknown symbols are
// reported together in one not-found error.
func (s *Store) EntitiesBySymbols(ctx context.Context, symbols []string) ([]schedule.Entity, error) {
	var out []schedule.Entity
	var missing []string
	seen := make(map[string]bool)
	for _, raw := range symbols {
		symbol := util.NormalizeSymbol(raw)
		if symbol == "" || seen[symbol] {
			continue
		}
		seen[symbol] = true

		st, err := s.GetBySymbol(ctx, symbol)
		if errors.IsNotFound(err) {
			missing = append(missing, symbol)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, st.Entity())
	}
	if len(missing) > 0 {
		return nil, errors.WithHint(
			errors.NewNotFoundError("unknown symbols: %s", strings.Join(missing, ", ")),
			"run `marketpulse stocks sync` or `marketpulse stocks seed` first",
		)
	}
	return out, nil
}

// RecentlyPriced returns active stocks with a stored price at or after since
func (s *Store) RecentlyPriced(ctx context.Context, since time.Time) ([]schedule.Entity, error) {
	return s.queryEntities(ctx, `
		SELECT s.id, s.symbol FROM stocks s
		WHERE s.active = 1
		  AND EXISTS (SELECT 1 FROM stock_prices p WHERE p.stock_id = s.id AND p.timestamp >= ?)
		ORDER BY s.id`, db.FormatTime(since))
}

// Deactivate marks a stock inactive. Its history and state are kept.
func (s *Store) Deactivate(ctx context.Context, symbol string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE stocks SET active = 0, updated_at = ? WHERE symbol = ?`,
		db.FormatTime(now), util.NormalizeSymbol(symbol))
	if err != nil {
		return errors.Wrapf(err, "deactivate stock %s", symbol)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("stock %s", util.NormalizeSymbol(symbol))
	}
	return nil
}

// Counts returns total and active stock counts
func (s *Store) Counts(ctx context.Context) (total, active int, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(active), 0) FROM stocks`).Scan(&total, &active)
	if err != nil {
		return 0, 0, errors.Wrap(err, "count stocks")
	}
	return total, active, nil
}

func (s *Store) queryEntities(ctx context.Context, query string, args ...any) ([]schedule.Entity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query entities")
	}
	defer rows.Close()

	entities := []schedule.Entity{}
	for rows.Next() {
		var e schedule.Entity
		if err := rows.Scan(&e.ID, &e.Symbol); err != nil {
			return nil, errors.Wrap(err, "scan entity")
		}
		entities = append(entities, e)
	}
	return entities, errors.Wrap(rows.Err(), "iterate entities")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStock(row scanner) (*Stock, error) {
	var st Stock
	var createdAt, updatedAt string
	if err := row.Scan(&st.ID, &st.Symbol, &st.Name, &st.Exchange, &st.Sector, &st.Active, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if st.CreatedAt, err = db.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if st.UpdatedAt, err = db.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	return &st, nil
}
