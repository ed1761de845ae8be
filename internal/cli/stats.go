package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/raphaelgruber/aritana/internal/views"
)

var statsRefresh bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show legality statistics",
	Long: `Show the legality split, per-region counts and the registration timeline
of the last days with data.

Examples:
  aritana stats
  aritana stats -o yaml`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().BoolVar(&statsRefresh, "refresh", false, "ignore the cache and reload")
}

type statsReport struct {
	Counters views.CounterSet    `json:"counters" yaml:"counters"`
	Charts   views.ChartSet      `json:"charts" yaml:"charts"`
	Timeline views.TimelineChart `json:"timeline" yaml:"timeline"`
	Markers  int                 `json:"markers" yaml:"markers"`
	Updated  time.Time           `json:"lastUpdate" yaml:"last_update"`
}

func runStats(cmd *cobra.Command, args []string) error {
	snap, err := appl.Cache.LoadData(cmd.Context(), statsRefresh)
	if err != nil {
		return fmt.Errorf("load statistics: %w", err)
	}

	report := statsReport{
		Counters: views.Counters(snap.Vessels),
		Charts:   views.Charts(snap.Statistics),
		Timeline: views.Timeline(snap.Vessels),
		Markers:  len(views.Markers(snap.Vessels)),
		Updated:  snap.LastUpdate,
	}
	return render(cmd.OutOrStdout(), outputFormat, report, func(w io.Writer) error {
		printStats(w, report)
		return nil
	})
}

func printStats(w io.Writer, r statsReport) {
	fmt.Fprintf(w, "Embarcações: %d (%d no mapa)\n\n", r.Counters.Total, r.Markers)

	fmt.Fprintln(w, "Legalidade:")
	leg := r.Charts.Legality
	for i, label := range leg.Labels {
		fmt.Fprintf(w, "  %-8s %6d  %5.1f%%  %s\n", label, leg.Values[i], leg.Percentages[i], bar(leg.Percentages[i]))
	}

	if len(r.Charts.Regional.Labels) > 0 {
		fmt.Fprintln(w, "\nPor região:")
		fmt.Fprintf(w, "  %-16s %8s %8s\n", "REGIÃO", "LEGAIS", "ILEGAIS")
		reg := r.Charts.Regional
		for i, label := range reg.Labels {
			fmt.Fprintf(w, "  %-16s %8d %8d\n", truncateCell(label, 16), reg.Legais[i], reg.Ilegais[i])
		}
	}

	if len(r.Timeline.Labels) > 0 {
		fmt.Fprintln(w, "\nCadastros recentes:")
		tl := r.Timeline
		for i, label := range tl.Labels {
			fmt.Fprintf(w, "  %s  %4d  (%d legais, %d ilegais)\n", label, tl.Total[i], tl.Legais[i], tl.Ilegais[i])
		}
	}

	if !r.Updated.IsZero() {
		fmt.Fprintf(w, "\nAtualizado %s\n", humanize.Time(r.Updated))
	}
}

// bar draws a 20-cell horizontal bar for a percentage.
func bar(pct float64) string {
	n := int(pct/5 + 0.5)
	n = min(max(n, 0), 20)
	return strings.Repeat("█", n) + strings.Repeat("░", 20-n)
}
