package database

import (
	"database/sql"
	"errors"
	"time"
)

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t in UTC using the fixed-width storage layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// NullableTime renders t or returns nil for SQL NULL.
func NullableTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return FormatTime(*t)
}

// ParseTime parses a stored timestamp. RFC3339 values are accepted as well.
func ParseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if t, err := time.Parse(timeLayout, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

// ParseNullTime returns nil for NULL or unparsable values.
func ParseNullTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	t, err := ParseTime(value.String)
	if err != nil {
		return nil
	}
	return &t
}

// UTCDay returns the calendar day of t in UTC as YYYY-MM-DD.
func UTCDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// NextMonthStart returns midnight UTC on the first day of the month after t.
func NextMonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}
