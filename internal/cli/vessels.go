package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/raphaelgruber/aritana/internal/models"
	"github.com/raphaelgruber/aritana/internal/views"
)

var (
	vesselsPage     int
	vesselsPageSize int
	vesselsTipo     string
	vesselsRegiao   string
	vesselsBusca    string
	vesselsRefresh  bool
	vesselsRemote   bool
)

var vesselsCmd = &cobra.Command{
	Use:   "vessels",
	Short: "List registered vessels",
	Long: `List the vessel registration history, filtered and paginated.

By default the full data set is loaded once, cached for ARITANA_CACHE_TTL and
filtered locally. With --remote the server filters and paginates instead.

Examples:
  aritana vessels
  aritana vessels --tipo ilegal --regiao Norte
  aritana vessels --busca manaus --page 2
  aritana vessels --remote -o json`,
	Args: cobra.NoArgs,
	RunE: runVessels,
}

var vesselShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one vessel",
	Args:  cobra.ExactArgs(1),
	RunE:  runVesselShow,
}

func init() {
	f := vesselsCmd.Flags()
	f.IntVarP(&vesselsPage, "page", "p", 1, "page number")
	f.IntVar(&vesselsPageSize, "page-size", models.DefaultPageSize, "rows per page")
	f.StringVarP(&vesselsTipo, "tipo", "t", "", "classification: legal or ilegal")
	f.StringVarP(&vesselsRegiao, "regiao", "r", "", "region (exact match)")
	f.StringVarP(&vesselsBusca, "busca", "b", "", "search locality or id")
	f.BoolVar(&vesselsRefresh, "refresh", false, "ignore the cache and reload")
	f.BoolVar(&vesselsRemote, "remote", false, "let the server filter and paginate")

	vesselShowCmd.Flags().BoolVar(&vesselsRefresh, "refresh", false, "ignore the cache and reload")
	vesselsCmd.AddCommand(vesselShowCmd)
}

// vesselListing is what the vessels command prints, from either source.
type vesselListing struct {
	Page     views.Page       `json:"page" yaml:"page"`
	Counters views.CounterSet `json:"counters" yaml:"counters"`
	Updated  time.Time        `json:"lastUpdate" yaml:"last_update"`
}

func runVessels(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var listing vesselListing
	if vesselsRemote {
		page, err := appl.Client.GetHistory(ctx, models.HistoryQuery{
			Page:     vesselsPage,
			PageSize: vesselsPageSize,
			Tipo:     vesselsTipo,
			Regiao:   vesselsRegiao,
			Busca:    vesselsBusca,
		})
		if err != nil {
			return fmt.Errorf("get history: %w", err)
		}
		listing = remoteListing(page, vesselsPageSize)
	} else {
		snap, err := appl.Cache.LoadData(ctx, vesselsRefresh)
		if err != nil {
			return fmt.Errorf("load vessels: %w", err)
		}
		filtered := views.ApplyFilter(snap.Vessels, views.Filter{
			Tipo:   vesselsTipo,
			Regiao: vesselsRegiao,
			Busca:  vesselsBusca,
		})
		listing = vesselListing{
			Page:     views.Paginate(filtered, vesselsPage, vesselsPageSize),
			Counters: views.Counters(filtered),
			Updated:  snap.LastUpdate,
		}
	}

	return render(cmd.OutOrStdout(), outputFormat, listing, func(w io.Writer) error {
		return printVesselTable(w, listing)
	})
}

// remoteListing adapts a server page to the local listing shape.
func remoteListing(p *models.HistoryPage, pageSize int) vesselListing {
	number := max(p.Page, 1)
	start, end := p.StartIndex, p.EndIndex
	if start == 0 && len(p.Vessels) > 0 {
		start = (number-1)*pageSize + 1
		end = start + len(p.Vessels) - 1
	}
	return vesselListing{
		Page: views.Page{
			Items:       p.Vessels,
			Number:      number,
			TotalPages:  p.TotalPages,
			TotalItems:  p.TotalCount,
			StartIndex:  start,
			EndIndex:    end,
			HasPrevious: p.HasPrevious,
			HasNext:     p.HasNext,
			Links:       views.Links(number, p.TotalPages),
		},
		Counters: views.HistoryCounters(p),
	}
}

func printVesselTable(w io.Writer, l vesselListing) error {
	c := l.Counters
	fmt.Fprintf(w, "Total: %d   Legais: %d   Ilegais: %d\n\n", c.Total, c.Legal, c.Illegal)

	if len(l.Page.Items) == 0 {
		fmt.Fprintln(w, "No vessels found.")
		return nil
	}

	fmt.Fprintf(w, "%-8s %-8s %-12s %-24s %-20s %s\n", "ID", "STATUS", "REGIÃO", "LOCALIDADE", "CADASTRO", "COORDENADAS")
	fmt.Fprintln(w, strings.Repeat("-", 90))
	for _, v := range l.Page.Items {
		coords := "-"
		if v.HasCoordinates() {
			coords = fmt.Sprintf("%.4f, %.4f", *v.Latitude, *v.Longitude)
		}
		fmt.Fprintf(w, "%-8s %-8s %-12s %-24s %-20s %s\n",
			truncateCell(v.ID, 8),
			truncateCell(orDash(v.Classificacao), 8),
			truncateCell(orDash(v.Regiao), 12),
			truncateCell(orDash(v.Localidade), 24),
			views.FormatDateBrazil(v.DataCadastro),
			coords,
		)
	}

	fmt.Fprintf(w, "\nMostrando %d-%d de %d", l.Page.StartIndex, l.Page.EndIndex, l.Page.TotalItems)
	if len(l.Page.Links) > 0 {
		fmt.Fprintf(w, "   %s", formatLinks(l.Page.Links))
	}
	fmt.Fprintln(w)
	if !l.Updated.IsZero() {
		fmt.Fprintf(w, "Atualizado %s\n", humanize.Time(l.Updated))
	}
	return nil
}

func formatLinks(links []views.PageLink) string {
	parts := make([]string, len(links))
	for i, l := range links {
		parts[i] = l.Label
		if l.Active {
			parts[i] = "[" + l.Label + "]"
		}
	}
	return strings.Join(parts, " ")
}

func runVesselShow(cmd *cobra.Command, args []string) error {
	snap, err := appl.Cache.LoadData(cmd.Context(), vesselsRefresh)
	if err != nil {
		return fmt.Errorf("load vessels: %w", err)
	}
	v, ok := views.FindVessel(snap.Vessels, args[0])
	if !ok {
		return fmt.Errorf("vessel not found: %s", args[0])
	}

	return render(cmd.OutOrStdout(), outputFormat, v, func(w io.Writer) error {
		printVessel(w, v)
		return nil
	})
}

func printVessel(w io.Writer, v models.Vessel) {
	fmt.Fprintf(w, "Vessel: %s\n", v.ID)
	fmt.Fprintf(w, "  Classificação: %s\n", orDash(v.Classificacao))
	fmt.Fprintf(w, "  Região: %s\n", orDash(v.Regiao))
	fmt.Fprintf(w, "  Localidade: %s\n", orDash(v.Localidade))
	if v.HasCoordinates() {
		fmt.Fprintf(w, "  Coordenadas: %.6f, %.6f\n", *v.Latitude, *v.Longitude)
	}
	fmt.Fprintf(w, "  Cadastro: %s\n", views.FormatDateBrazil(v.DataCadastro))
	fmt.Fprintf(w, "  Foto: %s\n", views.FormatDateBrazil(v.DataFoto))
	if v.ImagemURL != "" {
		fmt.Fprintf(w, "  Imagem: %s\n", v.ImagemURL)
	}
}
