package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/raphaelgruber/aritana/internal/monitor"
)

const watchEventBuffer = 64

var (
	watchResume bool
	watchPlain  bool
)

var watchCmd = &cobra.Command{
	Use:   "watch [job-id...]",
	Short: "Follow analysis jobs until they finish",
	Long: `Poll the given jobs every ARITANA_POLL_INTERVAL until the server reports
them analysed or failed. A job whose status cannot be fetched
ARITANA_MAX_RETRIES times in a row is reported as failed.

On a terminal a live progress display is shown; otherwise one line is
printed per status change.

Examples:
  aritana watch 3f6c1e2a-...
  aritana watch --resume      # every unfinished job on the server`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchResume, "resume", false, "also watch every unfinished job on the server")
	watchCmd.Flags().BoolVar(&watchPlain, "plain", false, "print log lines even on a terminal")
}

func runWatch(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !watchResume {
		return fmt.Errorf("give at least one job id or --resume")
	}
	return watchJobs(cmd.Context(), cmd.OutOrStdout(), args, watchResume)
}

// watchJobs monitors ids (plus the server's unfinished jobs when resume is
// set) and blocks until all of them finished, the user quits or ctx is done.
func watchJobs(ctx context.Context, w io.Writer, ids []string, resume bool) error {
	events, unsubscribe := appl.Monitor.Subscribe(watchEventBuffer)
	defer unsubscribe()

	var watched []string
	seen := make(map[string]bool)
	for _, id := range ids {
		if seen[id] {
			continue
		}
		if err := appl.Monitor.AddJob(id, monitor.Callbacks{}); err != nil {
			return fmt.Errorf("watch %s: %w", id, err)
		}
		seen[id] = true
		watched = append(watched, id)
	}
	if resume {
		resumed, err := appl.ResumeJobs(ctx, nil)
		if err != nil {
			return err
		}
		for _, id := range resumed {
			if !seen[id] {
				seen[id] = true
				watched = append(watched, id)
			}
		}
	}
	if len(watched) == 0 {
		fmt.Fprintln(w, "No unfinished jobs.")
		return nil
	}

	var (
		failed []string
		err    error
	)
	if !watchPlain && isTerminal(w) {
		failed, err = runProgressUI(events, watched)
	} else {
		failed, err = followPlain(ctx, w, events, watched)
	}
	if err != nil {
		return err
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d job(s) failed:\n  %s", len(failed), strings.Join(failed, "\n  "))
	}
	return nil
}

// followPlain prints one line per event until every job finished, events
// closes or ctx is done. It returns the failed jobs.
func followPlain(ctx context.Context, w io.Writer, events <-chan monitor.Event, ids []string) ([]string, error) {
	rows := make(map[string]*jobRow, len(ids))
	for _, id := range ids {
		rows[id] = &jobRow{}
	}
	remaining := len(ids)

	for remaining > 0 {
		select {
		case <-ctx.Done():
			fmt.Fprintln(w, "Stopped watching. Analysis continues on the server.")
			return nil, nil
		case ev, ok := <-events:
			if !ok {
				return nil, fmt.Errorf("monitor stopped")
			}
			row, tracked := rows[ev.Job.ID]
			if !tracked || row.finished {
				continue
			}
			applyEvent(row, ev)
			fmt.Fprintln(w, formatEventLine(ev))
			if row.finished {
				remaining--
			}
		}
	}

	var failed []string
	for _, id := range ids {
		if r := rows[id]; r.err != "" {
			failed = append(failed, fmt.Sprintf("%s: %s", id, r.err))
		}
	}
	return failed, nil
}

func formatEventLine(ev monitor.Event) string {
	switch ev.Type {
	case monitor.EventAdded:
		return fmt.Sprintf("%s  watching", ev.Job.ID)
	case monitor.EventDone:
		return fmt.Sprintf("%s  ✓ analisada", ev.Job.ID)
	case monitor.EventFailed:
		return fmt.Sprintf("%s  ✗ %s", ev.Job.ID, ev.Error)
	case monitor.EventRetry:
		return fmt.Sprintf("%s  retry %d: %s", ev.Job.ID, ev.Job.RetryCount, ev.Error)
	default:
		line := fmt.Sprintf("%s  %s %d%%", ev.Job.ID, ev.Job.Status, ev.Job.Progress)
		if ev.Job.Message != "" {
			line += "  " + ev.Job.Message
		}
		return line
	}
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
