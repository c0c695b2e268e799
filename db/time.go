package db

import (
	"database/sql"
	"time"

	"github.com/teranos/marketpulse/errors"
)

// TimeLayout is the on-disk timestamp format: RFC3339 with fixed-width
// milliseconds. All stored times are UTC, so text comparison orders them
// chronologically.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// DateLayout is used for day-granularity keys (report_date, prediction_date)
const DateLayout = "2006-01-02"

// FormatTime renders t for storage
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// FormatDate renders the UTC calendar day of t
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// NullableTime renders t for storage, or nil for SQL NULL
func NullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return FormatTime(*t)
}

// ParseTime parses a stored timestamp. Date-only values are accepted.
func ParseTime(s string) (time.Time, error) {
	// RFC3339 accepts any fractional precision, including none
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse stored time %q", s)
	}
	return t.UTC(), nil
}

// ParseNullTime parses a nullable stored timestamp
func ParseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := ParseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
