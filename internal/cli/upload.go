package cli

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/raphaelgruber/aritana/internal/monitor"
	"github.com/raphaelgruber/aritana/internal/upload"
)

var (
	uploadTitulo    string
	uploadDescricao string
	uploadRegiao    string
	uploadNoWatch   bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload <image>",
	Short: "Upload a vessel image for analysis",
	Long: `Upload a PNG or JPEG image (at most 20 MiB) for legality analysis and
follow the resulting job until the server has classified the vessel.

Examples:
  aritana upload barco.jpg --regiao Norte
  aritana upload barco.png --titulo "Porto de Manaus" --no-watch`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().StringVar(&uploadTitulo, "titulo", "", "image title")
	uploadCmd.Flags().StringVar(&uploadDescricao, "descricao", "", "image description")
	uploadCmd.Flags().StringVarP(&uploadRegiao, "regiao", "r", "", "region the image was taken in")
	uploadCmd.Flags().BoolVar(&uploadNoWatch, "no-watch", false, "return after upload without following the job")
}

func runUpload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	w := cmd.OutOrStdout()

	req, closeFile, err := upload.OpenFile(args[0])
	if err != nil {
		return err
	}
	defer closeFile()

	req.Titulo = uploadTitulo
	req.Descricao = uploadDescricao
	req.Regiao = uploadRegiao

	// Submit registers the job; the watch below subscribes before the first
	// poll can fire because polling waits a full interval.
	jobID, warning, err := appl.Uploader.Submit(ctx, req, monitor.Callbacks{})
	if err != nil {
		return err
	}
	if warning != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s\n", warning)
	}

	if err := render(w, outputFormat, struct {
		JobID string `json:"jobId" yaml:"job_id"`
		File  string `json:"file" yaml:"file"`
		Size  int64  `json:"size" yaml:"size"`
	}{jobID, req.Filename, req.Size}, func(w io.Writer) error {
		fmt.Fprintf(w, "Uploaded %s (%s)\nJob: %s\n", req.Filename, humanize.IBytes(uint64(req.Size)), jobID)
		return nil
	}); err != nil {
		return err
	}

	if uploadNoWatch || outputFormat != formatTable {
		appl.Monitor.RemoveJob(jobID)
		return nil
	}
	return watchJobs(ctx, w, []string{jobID}, false)
}
