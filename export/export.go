// Package export mirrors analysis reports into bulk sinks after a batch.
//
// Sinks are best-effort: the SQLite store stays the system of record, and a
// failed export never touches what a batch already persisted.
package export

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/marketpulse/am"
	"github.com/teranos/marketpulse/errors"
	"github.com/teranos/marketpulse/logger"
	"github.com/teranos/marketpulse/market"
)

// Exporter writes a batch of reports to one sink. Writing the same report
// twice must leave one copy.
type Exporter interface {
	Name() string
	Export(ctx context.Context, reports []market.Report) error
}

// closer is implemented by sinks holding a connection
type closer interface {
	Close(ctx context.Context) error
}

// Multi fans a batch out to every configured sink
type Multi struct {
	sinks  []Exporter
	logger *zap.SugaredLogger
}

// NewMulti combines sinks. Nil entries are ignored.
func NewMulti(log *zap.SugaredLogger, sinks ...Exporter) *Multi {
	m := &Multi{logger: log}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Name lists the combined sinks
func (m *Multi) Name() string {
	names := make([]string, len(m.sinks))
	for i, s := range m.sinks {
		names[i] = s.Name()
	}
	return strings.Join(names, "+")
}

// Len returns the number of sinks
func (m *Multi) Len() int {
	return len(m.sinks)
}

// Export runs every sink even when an earlier one fails. Failures are
// joined, each tagged with its sink.
func (m *Multi) Export(ctx context.Context, reports []market.Report) error {
	if len(reports) == 0 {
		return nil
	}
	var errs []error
	for _, s := range m.sinks {
		start := time.Now()
		if err := s.Export(ctx, reports); err != nil {
			m.logger.Warnw("Export failed",
				logger.FieldSink, s.Name(),
				logger.FieldCount, len(reports),
				logger.FieldError, err)
			errs = append(errs, errors.Wrapf(err, "export to %s", s.Name()))
			continue
		}
		m.logger.Infow("Exported reports",
			logger.FieldSink, s.Name(),
			logger.FieldCount, len(reports),
			logger.FieldDurationMS, time.Since(start).Milliseconds())
	}
	return errors.Join(errs...)
}

// Close releases sink connections
func (m *Multi) Close(ctx context.Context) error {
	var errs []error
	for _, s := range m.sinks {
		if c, ok := s.(closer); ok {
			if err := c.Close(ctx); err != nil {
				errs = append(errs, errors.Wrapf(err, "close %s", s.Name()))
			}
		}
	}
	return errors.Join(errs...)
}

// FromConfig opens every sink listed in export.sinks. Sinks opened before a
// failure are closed again.
func FromConfig(ctx context.Context, cfg *am.Config, log *zap.SugaredLogger) (*Multi, error) {
	m := NewMulti(log)
	for _, name := range cfg.Export.Sinks {
		var (
			sink Exporter
			err  error
		)
		switch name {
		case am.SinkJSON:
			sink, err = NewJSONExporter(cfg.Export.JSONPath, time.Now)
		case am.SinkPostgres:
			sink, err = NewPostgresExporter(cfg.Export.PostgresDSN)
		case am.SinkMongo:
			sink, err = NewMongoExporter(ctx, cfg.Export.MongoURI, cfg.Export.MongoDatabase)
		default:
			err = errors.Wrapf(errors.ErrInvalidRequest, "unknown export sink %q", name)
		}
		if err != nil {
			_ = m.Close(ctx)
			return nil, errors.Wrapf(err, "open export sink %s", name)
		}
		m.sinks = append(m.sinks, sink)
	}
	return m, nil
}
