package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"regexp"
	"time"

	"github.com/goccy/go-json"

	"github.com/raphaelgruber/aritana/internal/metrics"
	"github.com/raphaelgruber/aritana/internal/models"
)

// jobIDPattern finds the job id in text or HTML upload responses.
var jobIDPattern = regexp.MustCompile(`Job ID: ([a-f0-9-]+)`)

// Upload submits an image for analysis via a multipart POST to /upload/.
func (c *Client) Upload(ctx context.Context, req models.UploadRequest) (*models.UploadResult, error) {
	if req.Content == nil {
		return nil, fmt.Errorf("upload %s: no content", req.Filename)
	}

	start := time.Now()
	result, err := c.upload(ctx, req)
	c.metrics.RecordTiming(metrics.OpUpload, time.Since(start), err)
	return result, err
}

func (c *Client) upload(ctx context.Context, req models.UploadRequest) (*models.UploadResult, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="imagem"; filename=%q`, req.Filename))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, req.Content); err != nil {
		return nil, fmt.Errorf("copy image: %w", err)
	}

	for name, value := range map[string]string{
		"titulo":    req.Titulo,
		"descricao": req.Descricao,
		"regiao":    req.Regiao,
	} {
		if value == "" {
			continue
		}
		if err := w.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("write field %s: %w", name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, "/upload/", nil, buf.Bytes(), w.FormDataContentType())
	if err != nil {
		return nil, err
	}

	return &models.UploadResult{
		JobID: extractJobID(body),
		Raw:   string(body),
	}, nil
}

// extractJobID reads job_id or id from a JSON body, falling back to the
// "Job ID: <id>" marker of the HTML success page.
func extractJobID(body []byte) string {
	var resp struct {
		JobID json.RawMessage `json:"job_id"`
		ID    json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err == nil {
		for _, raw := range []json.RawMessage{resp.JobID, resp.ID} {
			if id := rawID(raw); id != "" {
				return id
			}
		}
	}

	if m := jobIDPattern.FindSubmatch(body); m != nil {
		return string(m[1])
	}
	return ""
}

func rawID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
