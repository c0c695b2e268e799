package logger

import "go.uber.org/zap/zapcore"

// Verbosity levels for the CLI -v flag count.
const (
	VerbosityUser  = 0 // No flags: warnings, errors, batch summaries
	VerbosityInfo  = 1 // -v: + per-entity progress, loop iterations
	VerbosityDebug = 2 // -vv: + feed requests, limiter waits, SQL migrations
)

// VerbosityToLevel maps verbosity flags (-v, -vv) to zap log levels
//
//	0 (none) -> InfoLevel
//	1 (-v)   -> InfoLevel
//	2+ (-vv) -> DebugLevel
//
// Batch summaries are logged at info, so the default level stays at info.
func VerbosityToLevel(verbosity int) zapcore.Level {
	if verbosity >= VerbosityDebug {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}

// ShouldLogProgress returns true when per-entity progress lines should be printed
func ShouldLogProgress(verbosity int) bool {
	return verbosity >= VerbosityInfo
}

// LevelName returns a human-readable name for verbosity level
func LevelName(verbosity int) string {
	switch {
	case verbosity <= VerbosityUser:
		return "User"
	case verbosity == VerbosityInfo:
		return "Info (-v)"
	default:
		return "Debug (-vv)"
	}
}
