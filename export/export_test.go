package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/teranos/marketpulse/errors"
	"github.com/teranos/marketpulse/market"
)

var testNow = time.Date(2024, 6, 3, 21, 0, 0, 0, time.UTC)

func clock() time.Time { return testNow }

func report(symbol string, signal market.Signal) market.Report {
	return market.Report{
		StockID:    1,
		Symbol:     symbol,
		ReportDate: time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC),
		Signal:     signal,
		LastClose:  decimal.RequireFromString("195.12"),
		Summary: market.Summary{
			Reasons: []string{"sma_20 above sma_50"},
			Forecasts: []market.ForecastSummary{
				{HorizonDays: 1, PredictedClose: decimal.RequireFromString("196.5"), Confidence: 0.7},
			},
		},
	}
}

func TestJSONExporter_OverwritesSameDay(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "reports")
	exp, err := NewJSONExporter(dir, clock)
	require.NoError(t, err)

	require.NoError(t, exp.Export(ctx, []market.Report{report("AAPL", market.SignalBullish), report("MSFT", market.SignalNeutral)}))
	require.NoError(t, exp.Export(ctx, []market.Report{report("AAPL", market.SignalBearish)}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "one file per symbol and day, no temp files left")

	data, err := os.ReadFile(filepath.Join(dir, "AAPL_20240603.json"))
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "bearish", doc["signal"])
	assert.Equal(t, "195.12", doc["last_close"])
	assert.Equal(t, "2024-06-03T21:00:00Z", doc["exported_at"])
}

func TestNewJSONExporter_EmptyPath(t *testing.T) {
	_, err := NewJSONExporter("", clock)
	assert.True(t, errors.IsInvalidRequest(err))
}

// fakeCollection records bulk writes
type fakeCollection struct {
	batches [][]mongo.WriteModel
	err     error
}

func (c *fakeCollection) BulkWrite(_ context.Context, models []mongo.WriteModel, _ ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.batches = append(c.batches, models)
	return &mongo.BulkWriteResult{UpsertedCount: int64(len(models))}, nil
}

// Test Case 1: Mongo bulk upsert
// Given: 250 reports
// When: They are exported to Mongo
// Then: Three unordered bulk writes of at most 100 upserting replacements are issued
func TestMongoExporter_Batches(t *testing.T) {
	coll := &fakeCollection{}
	exp := newMongoExporter(coll, clock)

	reports := make([]market.Report, 250)
	for i := range reports {
		reports[i] = report(fmt.Sprintf("S%03d", i), market.SignalNeutral)
	}
	require.NoError(t, exp.Export(context.Background(), reports))

	require.Len(t, coll.batches, 3)
	assert.Len(t, coll.batches[0], 100)
	assert.Len(t, coll.batches[1], 100)
	assert.Len(t, coll.batches[2], 50)

	first, ok := coll.batches[0][0].(*mongo.ReplaceOneModel)
	require.True(t, ok)
	require.NotNil(t, first.Upsert)
	assert.True(t, *first.Upsert)
	assert.Equal(t, bson.M{"_id": "S000:2024-06-03"}, first.Filter)

	doc, ok := first.Replacement.(mongoReport)
	require.True(t, ok)
	assert.Equal(t, "195.12", doc.LastClose)
	assert.Equal(t, testNow, doc.UpdatedAt)
	forecasts, ok := doc.Summary["forecasts"].([]any)
	require.True(t, ok)
	assert.Equal(t, "196.5", forecasts[0].(map[string]any)["predicted_close"])
}

func TestMongoExporter_Error(t *testing.T) {
	exp := newMongoExporter(&fakeCollection{err: errors.New("no primary")}, clock)
	err := exp.Export(context.Background(), []market.Report{report("AAPL", market.SignalBullish)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no primary")
}

func TestNewMongoExporter_MissingURI(t *testing.T) {
	_, err := NewMongoExporter(context.Background(), "", "marketpulse")
	assert.True(t, errors.IsInvalidRequest(err))
}

func newMockGorm(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return gdb, mock
}

// Test Case 2: Postgres mirror
// Given: A gorm handle over a mocked connection
// When: Two reports are exported
// Then: One INSERT upserting on (symbol, report_date) is issued
func TestPostgresExporter_Upsert(t *testing.T) {
	gdb, mock := newMockGorm(t)
	mock.ExpectQuery(`INSERT INTO "market_reports" .+ ON CONFLICT .+ DO UPDATE SET`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))

	exp := NewPostgresExporterWithDB(gdb, clock)
	require.NoError(t, exp.Export(context.Background(), []market.Report{report("AAPL", market.SignalBullish), report("MSFT", market.SignalBearish)}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresExporter_Error(t *testing.T) {
	gdb, mock := newMockGorm(t)
	mock.ExpectQuery(`INSERT INTO "market_reports"`).WillReturnError(errors.New("connection reset"))

	exp := NewPostgresExporterWithDB(gdb, clock)
	err := exp.Export(context.Background(), []market.Report{report("AAPL", market.SignalBullish)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestToRecords(t *testing.T) {
	r := report("AAPL", market.SignalBullish)
	r.ReportDate = time.Date(2024, 6, 3, 15, 30, 0, 0, time.UTC)
	records, err := toRecords([]market.Report{r}, testNow)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC), records[0].ReportDate)
	assert.Equal(t, "bullish", records[0].Signal)
	assert.Contains(t, records[0].Summary, `"predicted_close":"196.5"`)
}

// stubSink counts exports and optionally fails
type stubSink struct {
	name   string
	err    error
	calls  int
	closed bool
}

func (s *stubSink) Name() string { return s.name }

func (s *stubSink) Export(context.Context, []market.Report) error {
	s.calls++
	return s.err
}

func (s *stubSink) Close(context.Context) error {
	s.closed = true
	return nil
}

// Test Case 3: One sink fails
// Given: Two sinks where the first fails
// When: A batch is exported
// Then: Both sinks run and the error names the failing sink
func TestMulti_RunsEverySink(t *testing.T) {
	bad := &stubSink{name: "postgres", err: errors.New("down")}
	good := &stubSink{name: "json"}
	m := NewMulti(zaptest.NewLogger(t).Sugar(), bad, nil, good)

	assert.Equal(t, 2, m.Len())
	assert.Equal(t, "postgres+json", m.Name())

	err := m.Export(context.Background(), []market.Report{report("AAPL", market.SignalBullish)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "export to postgres")
	assert.Equal(t, 1, bad.calls)
	assert.Equal(t, 1, good.calls)

	require.NoError(t, m.Close(context.Background()))
	assert.True(t, bad.closed)
	assert.True(t, good.closed)
}

func TestMulti_EmptyBatch(t *testing.T) {
	sink := &stubSink{name: "json"}
	m := NewMulti(zaptest.NewLogger(t).Sugar(), sink)
	require.NoError(t, m.Export(context.Background(), nil))
	assert.Zero(t, sink.calls)
}
