package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/marketpulse/errors"
)

func migratedDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := OpenWithMigrations(filepath.Join(t.TempDir(), "upsert.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestUpsertStatement(t *testing.T) {
	query, err := UpsertStatement("stock_prices", []string{"stock_id", "timestamp"},
		[]string{"stock_id", "timestamp", "close", "volume"})
	require.NoError(t, err)
	assert.Equal(t,
		"INSERT INTO stock_prices (stock_id, timestamp, close, volume) VALUES (?, ?, ?, ?) "+
			"ON CONFLICT(stock_id, timestamp) DO UPDATE SET close = excluded.close, volume = excluded.volume",
		query)

	t.Run("key-only row does nothing on conflict", func(t *testing.T) {
		query, err := UpsertStatement("ingestion_state", []string{"stock_id"}, []string{"stock_id"})
		require.NoError(t, err)
		assert.Equal(t, "INSERT INTO ingestion_state (stock_id) VALUES (?) ON CONFLICT(stock_id) DO NOTHING", query)
	})

	invalid := []struct {
		name  string
		table string
		keys  []string
		cols  []string
	}{
		{"injection in table", "stocks; DROP TABLE stocks", []string{"symbol"}, []string{"symbol"}},
		{"uppercase column", "stocks", []string{"symbol"}, []string{"symbol", "Name"}},
		{"no key", "stocks", nil, []string{"symbol"}},
		{"no columns", "stocks", []string{"symbol"}, nil},
		{"key missing from row", "stocks", []string{"symbol"}, []string{"name"}},
		{"duplicate column", "stocks", []string{"symbol"}, []string{"symbol", "symbol"}},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UpsertStatement(tt.table, tt.keys, tt.cols)
			require.Error(t, err)
			assert.True(t, errors.IsInvalidRequest(err))
		})
	}
}

func TestUpsert_SameKeyOverwrites(t *testing.T) {
	ctx := context.Background()
	db := migratedDB(t)

	// Test Case 1: Two upserts on the same natural key
	// Given: a stock inserted once
	row := Row{}.Set("symbol", "MSFT").Set("name", "Microsoft").Set("exchange", "XNAS")
	_, err := Upsert(ctx, db, "stocks", []string{"symbol"}, row)
	require.NoError(t, err)

	var firstID int64
	require.NoError(t, db.QueryRow("SELECT id FROM stocks WHERE symbol = 'MSFT'").Scan(&firstID))

	// When: the same symbol is upserted with a different payload that omits exchange
	row = Row{}.Set("symbol", "MSFT").Set("name", "Microsoft Corp")
	_, err = Upsert(ctx, db, "stocks", []string{"symbol"}, row)
	require.NoError(t, err)

	// Then: exactly one row, second payload wins, id and omitted columns survive
	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM stocks").Scan(&count))
	assert.Equal(t, 1, count)

	var id int64
	var name, exchange string
	require.NoError(t, db.QueryRow("SELECT id, name, exchange FROM stocks WHERE symbol = 'MSFT'").Scan(&id, &name, &exchange))
	assert.Equal(t, firstID, id)
	assert.Equal(t, "Microsoft Corp", name)
	assert.Equal(t, "XNAS", exchange)
}

func TestUpsertMany(t *testing.T) {
	ctx := context.Background()
	db := migratedDB(t)

	_, err := db.Exec("INSERT INTO stocks (symbol) VALUES ('AAPL')")
	require.NoError(t, err)

	bar := func(ts, closePrice string) Row {
		return Row{}.
			Set("stock_id", 1).
			Set("timestamp", ts).
			Set("open", closePrice).
			Set("high", closePrice).
			Set("low", closePrice).
			Set("close", closePrice).
			Set("volume", 100)
	}
	keys := []string{"stock_id", "timestamp"}

	_, err = UpsertMany(ctx, db, "stock_prices", keys, []Row{
		bar("2024-01-02T00:00:00Z", "185.10"),
		bar("2024-01-03T00:00:00Z", "184.25"),
	})
	require.NoError(t, err)

	// overlapping window re-fetch
	_, err = UpsertMany(ctx, db, "stock_prices", keys, []Row{
		bar("2024-01-03T00:00:00Z", "184.30"),
		bar("2024-01-04T00:00:00Z", "181.91"),
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM stock_prices").Scan(&count))
	assert.Equal(t, 3, count)

	var closePrice string
	require.NoError(t, db.QueryRow("SELECT close FROM stock_prices WHERE timestamp = '2024-01-03T00:00:00Z'").Scan(&closePrice))
	assert.Equal(t, "184.30", closePrice)

	t.Run("empty input is a no-op", func(t *testing.T) {
		n, err := UpsertMany(ctx, db, "stock_prices", keys, nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("mismatched columns are rejected", func(t *testing.T) {
		_, err := UpsertMany(ctx, db, "stock_prices", keys, []Row{
			bar("2024-01-05T00:00:00Z", "1"),
			Row{}.Set("stock_id", 1).Set("timestamp", "2024-01-06T00:00:00Z"),
		})
		assert.True(t, errors.IsInvalidRequest(err))
	})
}

func TestUpsert_SQLMock(t *testing.T) {
	ctx := context.Background()

	t.Run("renders one statement with bound values", func(t *testing.T) {
		mockDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer mockDB.Close()

		mock.ExpectExec(regexp.QuoteMeta(
			"INSERT INTO analysis_reports (stock_id, report_date, signal) VALUES (?, ?, ?) "+
				"ON CONFLICT(stock_id, report_date) DO UPDATE SET signal = excluded.signal")).
			WithArgs(7, "2024-05-01", "bullish").
			WillReturnResult(sqlmock.NewResult(0, 1))

		n, err := Upsert(ctx, mockDB, "analysis_reports", []string{"stock_id", "report_date"},
			Row{}.Set("stock_id", 7).Set("report_date", "2024-05-01").Set("signal", "bullish"))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("driver error is wrapped", func(t *testing.T) {
		mockDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer mockDB.Close()

		mock.ExpectExec("INSERT INTO stocks").WillReturnError(errors.New("disk I/O error"))

		_, err = Upsert(ctx, mockDB, "stocks", []string{"symbol"}, Row{}.Set("symbol", "X"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "upsert into stocks")
		assert.Contains(t, err.Error(), "disk I/O error")
	})

	t.Run("failed batch rolls back", func(t *testing.T) {
		mockDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer mockDB.Close()

		mock.ExpectBegin()
		prep := mock.ExpectPrepare("INSERT INTO stocks")
		prep.ExpectExec().WithArgs("A").WillReturnResult(sqlmock.NewResult(1, 1))
		prep.ExpectExec().WithArgs("B").WillReturnError(errors.New("constraint"))
		mock.ExpectRollback()

		_, err = UpsertMany(ctx, mockDB, "stocks", []string{"symbol"}, []Row{
			Row{}.Set("symbol", "A"),
			Row{}.Set("symbol", "B"),
		})
		require.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTimeRoundTrip(t *testing.T) {
	parsed, err := ParseTime("2024-03-10T14:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-10T14:30:00.000Z", FormatTime(parsed))

	precise := time.Date(2024, 3, 10, 14, 30, 0, 123456789, time.FixedZone("EST", -5*3600))
	assert.Equal(t, "2024-03-10T19:30:00.123Z", FormatTime(precise))
	assert.Less(t, FormatTime(parsed), FormatTime(parsed.Add(time.Millisecond)))

	day, err := ParseTime("2024-03-10")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-10", FormatDate(day))

	none, err := ParseNullTime(sql.NullString{})
	require.NoError(t, err)
	assert.Nil(t, none)
	assert.Nil(t, NullableTime(nil))

	_, err = ParseTime("yesterday")
	assert.Error(t, err)
}
