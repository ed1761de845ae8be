package models

import "io"

// UploadRequest is an image submitted for analysis.
type UploadRequest struct {
	Filename    string
	ContentType string
	Size        int64
	Content     io.Reader
	Titulo      string
	Descricao   string
	Regiao      string
}

// UploadResult is what /upload/ told us about the submission.
// JobID is empty when the response carried no job identifier.
type UploadResult struct {
	JobID string
	Raw   string
}
