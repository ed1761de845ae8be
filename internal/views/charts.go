package views

import (
	"math"
	"sort"
	"time"

	"github.com/raphaelgruber/aritana/internal/models"
)

// Colours used for legal and illegal vessels across charts and markers.
const (
	ColorLegal   = "#28a745"
	ColorIllegal = "#dc3545"
)

// TimelineDays is how many of the most recent days the timeline shows.
const TimelineDays = 7

// LegalityChart is the doughnut chart of legal versus illegal.
type LegalityChart struct {
	Labels      []string  `json:"labels"`
	Values      []int     `json:"values"`
	Percentages []float64 `json:"percentages"`
	Colors      []string  `json:"colors"`
}

// RegionalChart is the per-region bar chart.
type RegionalChart struct {
	Labels  []string `json:"labels"`
	Legais  []int    `json:"legais"`
	Ilegais []int    `json:"ilegais"`
}

// TimelineChart counts registrations per day.
type TimelineChart struct {
	Labels  []string `json:"labels"`
	Total   []int    `json:"total"`
	Legais  []int    `json:"legais"`
	Ilegais []int    `json:"ilegais"`
}

// ChartSet bundles the dashboard charts.
type ChartSet struct {
	Legality LegalityChart `json:"legality"`
	Regional RegionalChart `json:"regional"`
}

// Charts derives chart series from the statistics payload.
func Charts(stats models.Statistics) ChartSet {
	legal, illegal := stats.Legalidade.Legais, stats.Legalidade.Ilegais
	return ChartSet{
		Legality: LegalityChart{
			Labels:      []string{"Legais", "Ilegais"},
			Values:      []int{legal, illegal},
			Percentages: []float64{percent(legal, legal+illegal), percent(illegal, legal+illegal)},
			Colors:      []string{ColorLegal, ColorIllegal},
		},
		Regional: regional(stats.Regional),
	}
}

// regional pads short series with zeros so every label has both values.
func regional(r models.Regional) RegionalChart {
	n := len(r.Meses)
	out := RegionalChart{
		Labels:  append([]string(nil), r.Meses...),
		Legais:  make([]int, n),
		Ilegais: make([]int, n),
	}
	copy(out.Legais, r.Legais)
	copy(out.Ilegais, r.Ilegais)
	return out
}

// percent returns part/total as a percentage with one decimal.
func percent(part, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(part)*1000/float64(total)) / 10
}

// Timeline groups vessels by registration day in Brasília time and keeps the
// last TimelineDays days that have data. Vessels without a parsable date are
// skipped.
func Timeline(vessels []models.Vessel) TimelineChart {
	type bucket struct{ legal, illegal int }
	days := make(map[string]*bucket)

	for _, v := range vessels {
		raw := v.DataCadastro
		if raw == "" {
			raw = v.DataFoto
		}
		t, ok := ParseTimestamp(raw)
		if !ok {
			continue
		}
		key := dateKey(t)
		b, ok := days[key]
		if !ok {
			b = &bucket{}
			days[key] = b
		}
		switch {
		case v.IsLegal():
			b.legal++
		case v.IsIllegal():
			b.illegal++
		}
	}

	keys := make([]string, 0, len(days))
	for k := range days {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > TimelineDays {
		keys = keys[len(keys)-TimelineDays:]
	}

	var out TimelineChart
	for _, k := range keys {
		b := days[k]
		day, _ := time.Parse(time.DateOnly, k)
		out.Labels = append(out.Labels, day.Format("02/01/2006"))
		out.Legais = append(out.Legais, b.legal)
		out.Ilegais = append(out.Ilegais, b.illegal)
		out.Total = append(out.Total, b.legal+b.illegal)
	}
	return out
}
