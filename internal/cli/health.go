package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

var healthExitCode bool

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the ARITANA server answers",
	Long: `Ping the server and report the round-trip time. With --exit-code the
command fails when the server is unreachable, for use in scripts.`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

func init() {
	healthCmd.Flags().BoolVar(&healthExitCode, "exit-code", false, "exit non-zero when the server is down")
}

type healthReport struct {
	URL       string `json:"url" yaml:"url"`
	OK        bool   `json:"ok" yaml:"ok"`
	LatencyMs int64  `json:"latencyMs" yaml:"latency_ms"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
}

var errUnhealthy = errors.New("server unhealthy")

func runHealth(cmd *cobra.Command, args []string) error {
	start := time.Now()
	err := appl.Client.Ping(cmd.Context())
	report := healthReport{
		URL:       appl.Client.BaseURL(),
		OK:        err == nil,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		report.Error = err.Error()
	}

	if rerr := render(cmd.OutOrStdout(), outputFormat, report, func(w io.Writer) error {
		if report.OK {
			fmt.Fprintf(w, "✓ %s is up (%dms)\n", report.URL, report.LatencyMs)
		} else {
			fmt.Fprintf(w, "✗ %s is down: %s\n", report.URL, report.Error)
		}
		return nil
	}); rerr != nil {
		return rerr
	}

	if !report.OK && healthExitCode {
		return errUnhealthy
	}
	return nil
}
