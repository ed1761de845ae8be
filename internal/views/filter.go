package views

import (
	"strings"

	"github.com/raphaelgruber/aritana/internal/models"
)

// Filter narrows the vessel list. Empty fields match everything.
type Filter struct {
	Tipo   string `json:"tipo"`
	Regiao string `json:"regiao"`
	Busca  string `json:"busca"`
}

// IsZero reports whether the filter matches everything.
func (f Filter) IsZero() bool {
	return f.Tipo == "" && f.Regiao == "" && strings.TrimSpace(f.Busca) == ""
}

// Match reports whether v passes the filter. Tipo compares the
// classification case-insensitively, Regiao must match exactly and Busca is a
// case-insensitive substring of the locality or the id.
func (f Filter) Match(v models.Vessel) bool {
	if f.Tipo != "" && !strings.EqualFold(v.Classificacao, f.Tipo) {
		return false
	}
	if f.Regiao != "" && v.Regiao != f.Regiao {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Busca)); q != "" {
		if !strings.Contains(strings.ToLower(v.Localidade), q) &&
			!strings.Contains(strings.ToLower(v.ID), q) {
			return false
		}
	}
	return true
}

// ApplyFilter returns the vessels matching f, in their original order.
func ApplyFilter(vessels []models.Vessel, f Filter) []models.Vessel {
	if f.IsZero() {
		return vessels
	}
	out := make([]models.Vessel, 0, len(vessels))
	for _, v := range vessels {
		if f.Match(v) {
			out = append(out, v)
		}
	}
	return out
}

// FindVessel looks a vessel up by id.
func FindVessel(vessels []models.Vessel, id string) (models.Vessel, bool) {
	for _, v := range vessels {
		if v.ID == id {
			return v, true
		}
	}
	return models.Vessel{}, false
}

// Regions returns the distinct non-empty regions in first-seen order.
func Regions(vessels []models.Vessel) []string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range vessels {
		if v.Regiao == "" || seen[v.Regiao] {
			continue
		}
		seen[v.Regiao] = true
		out = append(out, v.Regiao)
	}
	return out
}

// CounterSet holds the headline numbers.
type CounterSet struct {
	Total   int `json:"total" yaml:"total"`
	Legal   int `json:"legal" yaml:"legal"`
	Illegal int `json:"illegal" yaml:"illegal"`
}

// Counters counts vessels per classification.
func Counters(vessels []models.Vessel) CounterSet {
	c := CounterSet{Total: len(vessels)}
	for _, v := range vessels {
		switch {
		case v.IsLegal():
			c.Legal++
		case v.IsIllegal():
			c.Illegal++
		}
	}
	return c
}

// HistoryCounters prefers the server's totals and falls back to counting
// the rows of the page when the server sent none.
func HistoryCounters(p *models.HistoryPage) CounterSet {
	if p.TotalLegais == 0 && p.TotalIlegais == 0 {
		c := Counters(p.Vessels)
		if p.TotalCount > 0 {
			c.Total = p.TotalCount
		}
		return c
	}
	total := p.TotalCount
	if total == 0 {
		total = len(p.Vessels)
	}
	return CounterSet{Total: total, Legal: p.TotalLegais, Illegal: p.TotalIlegais}
}
