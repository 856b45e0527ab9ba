package store

import (
	"database/sql"
	"time"
)

// TimeLayout is the stored timestamp format. The fractional second is
// fixed-width so lexical ordering in SQL matches chronological ordering;
// RFC3339Nano trims trailing zeros, which puts "...:00Z" after "...:00.5Z".
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}
