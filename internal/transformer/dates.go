package transformer

import (
	"strings"
	"time"

	"koboetl/internal/dataset"
)

// dateLayouts are tried in order. Slash dates are month-first; the day-first
// layout only ever matches when the first component exceeds 12.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"01/02/2006",
	"02/01/2006",
	"02.01.2006",
	"2006/01/02",
}

// ParseDate parses s into a calendar date (midnight UTC). Timestamps keep the
// date as written, in their own offset.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, lay := range dateLayouts {
		if t, err := time.Parse(lay, s); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// CoerceDates replaces every value of column with a parsed date. Values that
// do not parse become nil; rows are never dropped. A dataset without the
// column is left untouched.
//
// Returns the number of non-missing values that failed to parse.
func CoerceDates(ds *dataset.Dataset, column string) int {
	idx, ok := ds.Index(column)
	if !ok {
		return 0
	}

	invalid := 0
	for i := range ds.Rows {
		v := ds.Rows[i].V
		if idx >= len(v) {
			continue
		}
		switch x := v[idx].(type) {
		case nil:
		case time.Time:
			y, m, d := x.Date()
			v[idx] = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		case string:
			if t, ok := ParseDate(x); ok {
				v[idx] = t
			} else {
				v[idx] = nil
				invalid++
			}
		default:
			v[idx] = nil
			invalid++
		}
	}
	return invalid
}
