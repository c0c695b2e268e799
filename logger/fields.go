package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for structured logging across marketpulse.
// Use these constants instead of raw strings so logs stay queryable.
const (
	// Identity
	FieldBatchID = "batch_id"
	FieldTrigger = "trigger"
	FieldSymbol  = "symbol" // ticker symbol, e.g. AAPL
	FieldStockID = "stock_id"
	FieldGlyph   = "glyph" // subsystem glyph (꩜, ⨳, ⊔ ...)

	// Components
	FieldComponent = "component"
	FieldStage     = "stage"
	FieldSink      = "sink"

	// Feed
	FieldEndpoint   = "endpoint"
	FieldHTTPStatus = "http_status"
	FieldAttempt    = "attempt"
	FieldWait       = "wait"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldNextRunAt  = "next_run_at"
	FieldCutoff     = "cutoff"

	// Errors
	FieldError = "error"

	// Counts
	FieldCount     = "count"
	FieldRequested = "requested"
	FieldProcessed = "processed"
	FieldFailed    = "failed"
	FieldIteration = "iteration"

	// Storage
	FieldTable = "table"
	FieldPath  = "path"
)

type contextKey string

const (
	batchIDKey contextKey = "logger_batch_id"
	symbolKey  contextKey = "logger_symbol"
)

// WithBatchID adds a batch ID to the context for logging
func WithBatchID(ctx context.Context, batchID string) context.Context {
	return context.WithValue(ctx, batchIDKey, batchID)
}

// WithSymbol adds the ticker being processed to the context for logging
func WithSymbol(ctx context.Context, symbol string) context.Context {
	return context.WithValue(ctx, symbolKey, symbol)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if batchID, ok := ctx.Value(batchIDKey).(string); ok && batchID != "" {
		fields = append(fields, FieldBatchID, batchID)
	}
	if symbol, ok := ctx.Value(symbolKey).(string); ok && symbol != "" {
		fields = append(fields, FieldSymbol, symbol)
	}

	return fields
}

// FromContext returns base enriched with the batch and symbol carried by ctx.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
//	runner := pipeline.NewRunner(deps, logger.ComponentLogger("pipeline"))
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
