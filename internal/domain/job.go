package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidJobConfig is returned when a JobConfig does not name exactly one payload source.
var ErrInvalidJobConfig = errors.New("invalid job config")

// Step is the phase a grading run is currently in.
// Values advance StepUploading -> StepExtracting -> StepGrading -> StepCompleted.
type Step string

const (
	StepNone       Step = "none"
	StepUploading  Step = "uploading"
	StepExtracting Step = "extracting"
	StepGrading    Step = "grading"
	StepCompleted  Step = "completed"
)

// Phases lists the remote phases in execution order.
var Phases = []Step{StepUploading, StepExtracting, StepGrading}

// Rank returns the position of s along the run; StepNone ranks lowest.
func (s Step) Rank() int {
	switch s {
	case StepUploading:
		return 1
	case StepExtracting:
		return 2
	case StepGrading:
		return 3
	case StepCompleted:
		return 4
	default:
		return 0
	}
}

// Label returns the human-readable name shown in the progress dialog.
func (s Step) Label() string {
	switch s {
	case StepUploading:
		return "Uploading assignment"
	case StepExtracting:
		return "Analyzing context"
	case StepGrading:
		return "AI grading"
	case StepCompleted:
		return "Completed"
	default:
		return ""
	}
}

// FilePayload is an assignment file to upload.
type FilePayload struct {
	Name        string
	ContentType string
	Data        []byte
}

// JobConfig describes one grading run. It is not modified once a run starts.
// Exactly one of File, TextContent or ExistingJobID must be set.
type JobConfig struct {
	File          *FilePayload
	TextContent   string
	ExistingJobID string

	StudentID    string
	StudentName  string
	Background   string
	TemplateID   string
	Instructions string
	Model        string

	// Preview selects the non-persistent backend variant (sample content, session ids).
	Preview bool
}

// HasPayload reports whether the config carries content that must be uploaded.
func (c *JobConfig) HasPayload() bool {
	return c.File != nil || c.TextContent != ""
}

// Validate checks that exactly one payload source is set.
func (c *JobConfig) Validate() error {
	sources := 0
	if c.File != nil {
		sources++
		if len(c.File.Data) == 0 {
			return fmt.Errorf("%w: file %q is empty", ErrInvalidJobConfig, c.File.Name)
		}
	}
	if c.TextContent != "" {
		sources++
	}
	if c.ExistingJobID != "" {
		sources++
	}
	if sources != 1 {
		return fmt.Errorf("%w: expected exactly one of file, text content or job id, got %d", ErrInvalidJobConfig, sources)
	}
	return nil
}
