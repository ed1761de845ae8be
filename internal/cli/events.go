package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/raphaelgruber/aritana/internal/dashboard"
)

var eventsDashboardURL string

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Stream job events from a running dashboard",
	Long: `Connect to a running aritana-dashboard and print every job event it
publishes until interrupted.

Examples:
  aritana events
  aritana events --dashboard http://localhost:9000`,
	Args: cobra.NoArgs,
	RunE: runEvents,
}

func init() {
	eventsCmd.Flags().StringVar(&eventsDashboardURL, "dashboard", "", "dashboard URL (default http://localhost:$ARITANA_DASHBOARD_PORT)")
}

func runEvents(cmd *cobra.Command, args []string) error {
	url := eventsDashboardURL
	if url == "" {
		url = "http://localhost:" + cfg.DashboardPort
	}

	w := cmd.OutOrStdout()
	err := dashboard.StreamEvents(cmd.Context(), url, func(msg dashboard.StreamMessage) error {
		return printStreamMessage(w, msg)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printStreamMessage(w io.Writer, msg dashboard.StreamMessage) error {
	switch msg.Type {
	case dashboard.MessageTypeReady:
		_, err := fmt.Fprintf(w, "connected, %d job(s) monitored\n", len(msg.Jobs))
		return err
	case dashboard.MessageTypeJob:
		ev := msg.Event
		line := fmt.Sprintf("%-8s %s  %s %d%%", ev.Type, ev.Job.ID, ev.Job.Status, ev.Job.Progress)
		if ev.Job.Message != "" {
			line += "  " + ev.Job.Message
		}
		if ev.Error != "" {
			line += "  error: " + ev.Error
		}
		if !ev.Job.AddedAt.IsZero() {
			line += "  (added " + humanize.Time(ev.Job.AddedAt) + ")"
		}
		_, err := fmt.Fprintln(w, line)
		return err
	}
	return nil
}
