package backend

import (
	"context"
	"errors"
)

// Backend is the remote grading service a progress run is driven against.
// Every call must return promptly once ctx is cancelled.
type Backend interface {
	// Upload sends the assignment content and creates a job.
	Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error)

	// Analyze runs context analysis for jobID.
	Analyze(ctx context.Context, jobID string, preview bool) (*PhaseResult, error)

	// Run runs AI grading for jobID.
	Run(ctx context.Context, jobID string, preview bool) (*PhaseResult, error)

	// PersistElapsedTime stores the total grading time on a persistent job.
	PersistElapsedTime(ctx context.Context, jobID string, totalMs int64) error
}

// UploadRequest is the payload and metadata of the upload phase.
// Either FileData or TextContent carries the assignment.
type UploadRequest struct {
	FileName        string
	FileContentType string
	FileData        []byte
	TextContent     string

	StudentID    string
	StudentName  string
	Background   string
	TemplateID   string
	Instructions string
	Model        string
	Preview      bool
}

// UploadResult is returned by the upload phase.
// A non-empty Error means the backend reported the phase as failed.
type UploadResult struct {
	JobID     string `json:"job_id"`
	ElapsedMs *int64 `json:"elapsed_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// PhaseResult is returned by the analyze and run phases.
// A non-empty Error means the backend reported the phase as failed.
type PhaseResult struct {
	ElapsedMs *int64 `json:"elapsed_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// IsCancelled reports whether err means the caller cancelled the request.
// Transport errors wrap the context error, so errors.Is sees through them.
func IsCancelled(err error) bool {
	return err != nil && errors.Is(err, context.Canceled)
}
