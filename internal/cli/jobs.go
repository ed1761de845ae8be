package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/aritana/internal/models"
)

var jobsAll bool

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List or inspect analysis jobs",
	Long: `List the server's analysis jobs or inspect a specific job by ID.
Finished jobs are hidden unless --all is given.

Examples:
  aritana jobs           # List unfinished jobs
  aritana jobs --all     # Include finished jobs
  aritana jobs abc123    # Show status for job abc123`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

func init() {
	jobsCmd.Flags().BoolVarP(&jobsAll, "all", "a", false, "include finished jobs")
}

func runJobs(cmd *cobra.Command, args []string) error {
	// If job ID provided, show that specific job
	if len(args) == 1 {
		return showJob(cmd, args[0])
	}
	return listJobs(cmd)
}

func listJobs(cmd *cobra.Command) error {
	jobs, err := appl.Client.ListJobs(cmd.Context())
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	shown := make([]models.JobSummary, 0, len(jobs))
	for _, job := range jobs {
		if jobsAll || !job.StatusAnalise.IsTerminal() {
			shown = append(shown, job)
		}
	}

	return render(cmd.OutOrStdout(), outputFormat, shown, func(w io.Writer) error {
		if len(shown) == 0 {
			fmt.Fprintln(w, "No jobs found")
			return nil
		}
		fmt.Fprintf(w, "%-38s %s\n", "ID", "STATUS")
		fmt.Fprintln(w, "--------------------------------------------------")
		for _, job := range shown {
			fmt.Fprintf(w, "%-38s %s\n", job.JobID, orDash(string(job.StatusAnalise)))
		}
		return nil
	})
}

func showJob(cmd *cobra.Command, id string) error {
	status, err := appl.Client.GetJobStatus(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}

	return render(cmd.OutOrStdout(), outputFormat, status, func(w io.Writer) error {
		fmt.Fprintf(w, "Job: %s\n", id)
		fmt.Fprintf(w, "  Status: %s\n", orDash(string(status.Status)))
		fmt.Fprintf(w, "  Progress: %d%%\n", status.Progresso)
		if status.Mensagem != "" {
			fmt.Fprintf(w, "  Message: %s\n", status.Mensagem)
		}
		if status.Erro != "" {
			fmt.Fprintf(w, "  Error: %s\n", status.Erro)
		}
		return nil
	})
}
