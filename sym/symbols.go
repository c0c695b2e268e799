// Package sym defines the glyphs marketpulse prints in CLI output and attaches
// to log lines, one per subsystem.
package sym

// Subsystem glyphs.
const (
	Pulse      = "꩜" // scheduler, run loop, batches
	PulseOpen  = "✿" // loop startup
	PulseClose = "❀" // loop shutdown
	IX         = "⨳" // ingest: feed calls and catalog sync
	AX         = "⋈" // analysis: indicators, predictions, reports
	DB         = "⊔" // database and migrations
	AM         = "≡" // configuration
)

// CommandGlyphs maps top-level CLI command names to their glyph.
var CommandGlyphs = map[string]string{
	"run":      Pulse,
	"update":   Pulse,
	"loop":     Pulse,
	"schedule": Pulse,
	"runs":     Pulse,
	"state":    Pulse,
	"fetch":    IX,
	"stocks":   IX,
	"db":       DB,
	"am":       AM,
}

// ForCommand returns the glyph for a command name, or the empty string.
func ForCommand(name string) string {
	return CommandGlyphs[name]
}
