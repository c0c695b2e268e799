package export

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/teranos/marketpulse/am"
	"github.com/teranos/marketpulse/errors"
	"github.com/teranos/marketpulse/market"
)

// postgresBatchSize bounds the rows of one INSERT statement
const postgresBatchSize = 100

// ReportRecord is the Postgres row of one report, unique on (symbol, report_date)
type ReportRecord struct {
	ID         uint            `gorm:"primaryKey"`
	Symbol     string          `gorm:"size:16;not null;uniqueIndex:idx_market_reports_symbol_date"`
	ReportDate time.Time       `gorm:"type:date;not null;uniqueIndex:idx_market_reports_symbol_date"`
	Signal     string          `gorm:"size:16;not null"`
	LastClose  decimal.Decimal `gorm:"type:numeric(18,6)"`
	Summary    string          `gorm:"type:jsonb"`
	UpdatedAt  time.Time
}

// TableName implements gorm's tabler
func (ReportRecord) TableName() string { return "market_reports" }

// PostgresExporter mirrors reports into Postgres through gorm
type PostgresExporter struct {
	db  *gorm.DB
	now func() time.Time
}

// NewPostgresExporter connects to dsn and migrates the reports table
func NewPostgresExporter(dsn string) (*PostgresExporter, error) {
	if dsn == "" {
		return nil, errors.WithHint(
			errors.Wrap(errors.ErrInvalidRequest, "export.postgres_dsn is empty"),
			"set MARKETPULSE_EXPORT_POSTGRES_DSN",
		)
	}
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "connect to postgres"), errors.ErrServiceUnavailable)
	}
	if err := gdb.AutoMigrate(&ReportRecord{}); err != nil {
		return nil, errors.Wrap(err, "migrate market_reports")
	}
	return NewPostgresExporterWithDB(gdb, time.Now), nil
}

// NewPostgresExporterWithDB wraps an open gorm handle without migrating
func NewPostgresExporterWithDB(gdb *gorm.DB, now func() time.Time) *PostgresExporter {
	return &PostgresExporter{db: gdb, now: now}
}

// Name implements Exporter
func (e *PostgresExporter) Name() string { return am.SinkPostgres }

// Export upserts reports on (symbol, report_date)
func (e *PostgresExporter) Export(ctx context.Context, reports []market.Report) error {
	records, err := toRecords(reports, e.now().UTC())
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	res := e.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}, {Name: "report_date"}},
			DoUpdates: clause.AssignmentColumns([]string{"signal", "last_close", "summary", "updated_at"}),
		}).
		CreateInBatches(&records, postgresBatchSize)
	return errors.Wrapf(res.Error, "upsert %d reports", len(records))
}

// Close releases the connection pool
func (e *PostgresExporter) Close(context.Context) error {
	sqlDB, err := e.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRecords(reports []market.Report, now time.Time) ([]ReportRecord, error) {
	records := make([]ReportRecord, 0, len(reports))
	for _, r := range reports {
		summary, err := json.Marshal(r.Summary)
		if err != nil {
			return nil, errors.Wrapf(err, "encode summary of %s", r.Symbol)
		}
		records = append(records, ReportRecord{
			Symbol:     r.Symbol,
			ReportDate: r.ReportDate.UTC().Truncate(24 * time.Hour),
			Signal:     string(r.Signal),
			LastClose:  r.LastClose,
			Summary:    string(summary),
			UpdatedAt:  now,
		})
	}
	return records, nil
}
