// Package views turns cached snapshots into display-ready values: filtered
// and paginated tables, counters, chart series and map markers. Everything
// here is a pure function of its input.
package views

import (
	"strings"
	"time"
	_ "time/tzdata"
)

// Placeholders shown instead of a date.
const (
	NotAvailable = "N/A"
	InvalidDate  = "Data inválida"
)

const brazilLayout = "02/01/2006 15:04:05"

// saoPaulo falls back to a fixed UTC-3 zone if the tz database is missing.
var saoPaulo = func() *time.Location {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		return time.FixedZone("BRT", -3*60*60)
	}
	return loc
}()

// timestampLayouts lists the formats the API has emitted. Layouts without a
// zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp parses an API timestamp.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatDateBrazil renders an API timestamp as dd/mm/yyyy hh:mm:ss in
// Brasília time.
func FormatDateBrazil(s string) string {
	if strings.TrimSpace(s) == "" {
		return NotAvailable
	}
	t, ok := ParseTimestamp(s)
	if !ok {
		return InvalidDate
	}
	return t.In(saoPaulo).Format(brazilLayout)
}

// dateKey is the day a timestamp falls on in Brasília, as yyyy-mm-dd.
func dateKey(t time.Time) string {
	return t.In(saoPaulo).Format(time.DateOnly)
}
