package logger

import (
	"go.uber.org/zap"

	"github.com/teranos/marketpulse/sym"
)

// Glyph-aware helpers. The glyph travels as a structured field so log lines can
// be filtered by subsystem without parsing messages.

// AddPulseSymbol returns l with the scheduler glyph (꩜) attached
func AddPulseSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldGlyph, sym.Pulse)
}

// AddPulseOpenSymbol returns l with the startup glyph (✿) attached
func AddPulseOpenSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldGlyph, sym.PulseOpen)
}

// AddPulseCloseSymbol returns l with the shutdown glyph (❀) attached
func AddPulseCloseSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldGlyph, sym.PulseClose)
}

// AddIXSymbol returns l with the ingest glyph (⨳) attached
func AddIXSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldGlyph, sym.IX)
}

// AddAXSymbol returns l with the analysis glyph (⋈) attached
func AddAXSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldGlyph, sym.AX)
}

// AddDBSymbol returns l with the database glyph (⊔) attached
func AddDBSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldGlyph, sym.DB)
}

// PulseInfow logs an info message on the global logger with the Pulse glyph
func PulseInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		AddPulseSymbol(Logger).Infow(msg, keysAndValues...)
	}
}
