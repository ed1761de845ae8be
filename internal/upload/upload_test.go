package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/aritana/internal/config"
	"github.com/raphaelgruber/aritana/internal/models"
	"github.com/raphaelgruber/aritana/internal/monitor"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n")

func pngBytes(size int) []byte {
	b := make([]byte, size)
	copy(b, pngHeader)
	return b
}

func TestValidate(t *testing.T) {
	jpeg := []byte("\xff\xd8\xff\xe0\x00\x10JFIF")
	gif := []byte("GIF89a")

	tests := []struct {
		name     string
		size     int64
		head     []byte
		wantErr  error
		wantWarn bool
	}{
		{"png ok", 2 << 20, pngHeader, nil, false},
		{"jpeg ok", 2 << 20, jpeg, nil, false},
		{"gif rejected", 2 << 20, gif, ErrNotImage, false},
		{"text rejected", 2 << 20, []byte("hello world"), ErrNotImage, false},
		{"too large", MaxSize + 1, pngHeader, ErrFileTooLarge, false},
		{"exactly max", MaxSize, pngHeader, nil, true},
		{"too small", 100, pngHeader, ErrFileTooSmall, false},
		{"warn above 10MB", WarnSize + 1, pngHeader, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			warn, err := Validate("boat.png", tt.size, tt.head)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantWarn, warn != "")
		})
	}
}

type fakeSubmitter struct {
	calls  int
	got    models.UploadRequest
	body   []byte
	result *models.UploadResult
	err    error
}

func (f *fakeSubmitter) Upload(_ context.Context, req models.UploadRequest) (*models.UploadResult, error) {
	f.calls++
	f.got = req
	f.body, _ = io.ReadAll(req.Content)
	return f.result, f.err
}

type fakeTracker struct {
	ids []string
	err error
}

func (f *fakeTracker) AddJob(id string, _ monitor.Callbacks) error {
	f.ids = append(f.ids, id)
	return f.err
}

func TestSubmit(t *testing.T) {
	content := pngBytes(4096)
	sub := &fakeSubmitter{result: &models.UploadResult{JobID: "job-1"}}
	tr := &fakeTracker{}
	u := NewUploader(sub, tr, config.Discard())

	id, warn, err := u.Submit(context.Background(), models.UploadRequest{
		Filename: "boat.png",
		Size:     int64(len(content)),
		Content:  bytes.NewReader(content),
	}, monitor.Callbacks{})
	require.NoError(t, err)
	assert.Empty(t, warn)
	assert.Equal(t, "job-1", id)
	assert.Equal(t, []string{"job-1"}, tr.ids)
	assert.Equal(t, "image/png", sub.got.ContentType)
	assert.Equal(t, content, sub.body, "sniffed bytes are still sent")
}

func TestSubmit_ValidationNeverReachesNetwork(t *testing.T) {
	sub := &fakeSubmitter{}
	u := NewUploader(sub, &fakeTracker{}, config.Discard())

	_, _, err := u.Submit(context.Background(), models.UploadRequest{
		Filename: "notes.txt",
		Size:     4096,
		Content:  bytes.NewReader(bytes.Repeat([]byte("a"), 4096)),
	}, monitor.Callbacks{})
	assert.ErrorIs(t, err, ErrNotImage)
	assert.Equal(t, 0, sub.calls)
}

func TestSubmit_NoJobID(t *testing.T) {
	content := pngBytes(4096)
	tr := &fakeTracker{}
	u := NewUploader(&fakeSubmitter{result: &models.UploadResult{}}, tr, config.Discard())

	_, _, err := u.Submit(context.Background(), models.UploadRequest{
		Filename: "boat.png",
		Size:     int64(len(content)),
		Content:  bytes.NewReader(content),
	}, monitor.Callbacks{})
	assert.ErrorIs(t, err, ErrNoJobID)
	assert.Empty(t, tr.ids)
}

func TestSubmit_UploadError(t *testing.T) {
	content := pngBytes(4096)
	u := NewUploader(&fakeSubmitter{err: errors.New("502")}, &fakeTracker{}, config.Discard())

	_, _, err := u.Submit(context.Background(), models.UploadRequest{
		Filename: "boat.png",
		Size:     int64(len(content)),
		Content:  bytes.NewReader(content),
	}, monitor.Callbacks{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestOpenFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "boat.png")
	require.NoError(t, os.WriteFile(path, pngBytes(2048), 0o644))

	req, closeFn, err := OpenFile(path)
	require.NoError(t, err)
	defer closeFn()
	assert.Equal(t, "boat.png", req.Filename)
	assert.Equal(t, int64(2048), req.Size)

	_, _, err = OpenFile(filepath.Join(dir, "missing.png"))
	assert.Error(t, err)

	_, _, err = OpenFile(dir)
	assert.Error(t, err)
}
