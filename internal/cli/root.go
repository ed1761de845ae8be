// Package cli provides the command-line interface for the ARITANA dashboard.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/aritana/internal/app"
	"github.com/raphaelgruber/aritana/internal/config"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose      bool
	apiURL       string
	outputFormat string

	// Shared state built in PersistentPreRunE
	cfg      config.Config
	logger   *slog.Logger
	closeLog func() error
	appl     *app.App
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "aritana",
	Short: "Vessel legality dashboard for the ARITANA API",
	Long: `aritana reads the vessel legality data published by an ARITANA server:
the registration history, legality statistics and the status of image
analysis jobs. Images can be uploaded for analysis and followed until the
server has classified them.

Configuration comes from ARITANA_* environment variables; see 'aritana help'.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip setup for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()
		if apiURL != "" {
			cfg.APIURL = strings.TrimRight(apiURL, "/")
		}
		if err := validateFormat(outputFormat); err != nil {
			return err
		}

		stderrLevel := slog.LevelWarn
		if verbose {
			stderrLevel = slog.LevelDebug
		}
		logger, closeLog = config.SetupLogger(cfg.LogFile, stderrLevel, cfg.LogLevel)

		var err error
		appl, err = app.New(cfg, logger, app.WithoutPrefetch())
		if err != nil {
			return fmt.Errorf("initialize: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		shutdown()
	},
}

// shutdown stops the shared components. Cobra skips post-run hooks when a
// command fails, so Execute calls it as well.
func shutdown() {
	if appl != nil {
		appl.Close()
		appl = nil
	}
	if closeLog != nil {
		if err := closeLog(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
		}
		closeLog = nil
	}
}

// Execute adds all child commands to the root command and runs it. The
// command context is cancelled on SIGINT or SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer shutdown()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "ARITANA server URL (overrides ARITANA_API_URL)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", formatTable, "output format: table, json or yaml")

	// Add subcommands
	rootCmd.AddCommand(vesselsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(eventsCmd)
}
