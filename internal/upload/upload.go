// Package upload validates images and submits them for analysis, handing
// the resulting job to the monitor.
package upload

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/raphaelgruber/aritana/internal/models"
	"github.com/raphaelgruber/aritana/internal/monitor"
)

// Size limits.
const (
	MaxSize  = 20 << 20
	WarnSize = 10 << 20
	MinSize  = 1 << 10
)

// sniffLen is how many leading bytes are inspected for the content type.
const sniffLen = 512

var (
	ErrNotImage      = errors.New("file is not a PNG or JPEG image")
	ErrFileTooLarge  = fmt.Errorf("file exceeds %s", humanize.IBytes(MaxSize))
	ErrFileTooSmall  = fmt.Errorf("file is smaller than %s", humanize.IBytes(MinSize))
	ErrNoJobID       = errors.New("server response carried no job id")
	errMissingSource = errors.New("upload has no content")
)

// Warning is a non-fatal validation note. Empty means none.
type Warning string

var supportedTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
}

// ContentType sniffs the content type from the leading bytes of a file.
func ContentType(head []byte) string {
	return http.DetectContentType(head)
}

// Validate checks an image before anything is sent. head is the beginning
// of the file, at least 512 bytes when the file is that large.
func Validate(filename string, size int64, head []byte) (Warning, error) {
	if !supportedTypes[ContentType(head)] {
		return "", fmt.Errorf("%s: %w", filename, ErrNotImage)
	}
	if size > MaxSize {
		return "", fmt.Errorf("%s (%s): %w", filename, humanize.IBytes(uint64(size)), ErrFileTooLarge)
	}
	if size < MinSize {
		return "", fmt.Errorf("%s (%s): %w", filename, humanize.IBytes(uint64(max(size, 0))), ErrFileTooSmall)
	}
	if size > WarnSize {
		return Warning(fmt.Sprintf("%s is %s; large images take longer to analyse", filename, humanize.IBytes(uint64(size)))), nil
	}
	return "", nil
}

// Submitter sends the multipart upload. *client.Client satisfies it.
type Submitter interface {
	Upload(ctx context.Context, req models.UploadRequest) (*models.UploadResult, error)
}

// Tracker registers a job for polling. *monitor.Monitor satisfies it.
type Tracker interface {
	AddJob(id string, cb monitor.Callbacks) error
}

// Uploader validates, submits and tracks images.
type Uploader struct {
	client  Submitter
	tracker Tracker
	logger  *slog.Logger
}

// NewUploader creates an Uploader. A nil logger uses slog.Default.
func NewUploader(client Submitter, tracker Tracker, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{client: client, tracker: tracker, logger: logger}
}

// Submit validates req, uploads it and starts monitoring the returned job.
// Validation errors are returned before any network access. When the server
// accepted the image but returned no job id, ErrNoJobID is returned.
func (u *Uploader) Submit(ctx context.Context, req models.UploadRequest, cb monitor.Callbacks) (string, Warning, error) {
	if req.Content == nil {
		return "", "", errMissingSource
	}

	br := bufio.NewReaderSize(req.Content, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && len(head) == 0 {
		return "", "", fmt.Errorf("read %s: %w", req.Filename, err)
	}

	warning, err := Validate(req.Filename, req.Size, head)
	if err != nil {
		return "", "", err
	}
	if warning != "" {
		u.logger.Warn("large upload", "file", req.Filename, "size", req.Size)
	}

	if req.ContentType == "" {
		req.ContentType = ContentType(head)
	}
	req.Content = br

	res, err := u.client.Upload(ctx, req)
	if err != nil {
		return "", warning, fmt.Errorf("upload %s: %w", req.Filename, err)
	}
	if res.JobID == "" {
		return "", warning, ErrNoJobID
	}

	if err := u.tracker.AddJob(res.JobID, cb); err != nil {
		return res.JobID, warning, fmt.Errorf("track job %s: %w", res.JobID, err)
	}
	u.logger.Info("image submitted", "file", req.Filename, "job_id", res.JobID)
	return res.JobID, warning, nil
}

// OpenFile prepares an upload request for a file on disk. The returned
// close function releases the file.
func OpenFile(path string) (models.UploadRequest, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.UploadRequest{}, nil, fmt.Errorf("open image: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return models.UploadRequest{}, nil, fmt.Errorf("stat image: %w", err)
	}
	if info.IsDir() {
		f.Close()
		return models.UploadRequest{}, nil, fmt.Errorf("%s is a directory", path)
	}
	return models.UploadRequest{
		Filename: filepath.Base(path),
		Size:     info.Size(),
		Content:  f,
	}, f.Close, nil
}
