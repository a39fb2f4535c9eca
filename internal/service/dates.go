package service

import (
	"strings"
	"time"
)

// dateLayouts covers the formats banks actually print. Order matters:
// ISO first, then US numeric before day-first numeric, so an ambiguous
// "03/04/2024" resolves as month-first and day-first forms only match
// when the first position cannot be a month.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2006-1-2",
	"01/02/2006",
	"1/2/2006",
	"02/01/2006",
	"01-02-2006",
	"1-2-2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"02 Jan 2006",
	"2 January 2006",
}

// ParseFlexibleDate parses a date string in any supported statement format.
// Returns the zero time and false when nothing matches.
func ParseFlexibleDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// CanonicalDate renders a parseable date as YYYY-MM-DD, or returns the
// input unchanged when it cannot be parsed.
func CanonicalDate(s string) string {
	if t, ok := ParseFlexibleDate(s); ok {
		return t.Format("2006-01-02")
	}
	return s
}
