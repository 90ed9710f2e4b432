package backend

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// phaseHeader tags each request with the grading phase it belongs to.
const phaseHeader = "X-Grading-Phase"

// HTTPConfig holds configuration for the grading backend client.
type HTTPConfig struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	RetryCount    int
	RetryWaitTime time.Duration
}

// HTTPClient talks to the grading backend over its REST API.
type HTTPClient struct {
	client *resty.Client
}

// NewHTTPClient creates a new grading backend client.
// Parameters:
//   - cfg: base URL, credentials, timeout and retry settings.
//
// Returns:
//   - *HTTPClient: client ready to drive grading phases.
func NewHTTPClient(cfg *HTTPConfig) *HTTPClient {
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	client.SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		// AI grading can take minutes on long submissions
		timeout = 10 * time.Minute
	}
	client.SetTimeout(timeout)

	if cfg.RetryCount > 0 {
		wait := cfg.RetryWaitTime
		if wait <= 0 {
			wait = 500 * time.Millisecond
		}
		client.SetRetryCount(cfg.RetryCount)
		client.SetRetryWaitTime(wait)
		client.SetRetryMaxWaitTime(8 * wait)
		client.AddRetryCondition(shouldRetry)
	}

	return &HTTPClient{client: client}
}

// shouldRetry retries gateway failures of the analyze and run calls only.
// Uploads stream a one-shot body, persisting is best-effort, and cancelled
// requests are never retried.
func shouldRetry(r *resty.Response, err error) bool {
	if IsCancelled(err) || r == nil || r.Request == nil {
		return false
	}
	switch r.Request.Header.Get(phaseHeader) {
	case "analyze", "run":
	default:
		return false
	}
	switch r.StatusCode() {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// errorBody is the failure payload the backend returns on non-2xx responses.
type errorBody struct {
	Error     string `json:"error"`
	Detail    string `json:"detail"`
	Message   string `json:"message"`
	ElapsedMs *int64 `json:"elapsed_ms,omitempty"`
}

func (e *errorBody) message(resp *resty.Response) string {
	for _, msg := range []string{e.Error, e.Detail, e.Message} {
		if msg != "" {
			return msg
		}
	}
	if body := strings.TrimSpace(string(resp.Body())); body != "" && len(body) < 512 {
		return fmt.Sprintf("HTTP %d: %s", resp.StatusCode(), body)
	}
	return fmt.Sprintf("HTTP %d", resp.StatusCode())
}

func routePrefix(preview bool) string {
	if preview {
		return "/preview"
	}
	return "/grading"
}

// Upload sends the assignment as multipart form data.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - req: file or text payload plus optional metadata.
//
// Returns:
//   - *UploadResult: job id and elapsed time, or a backend-reported error.
//   - error: non-nil if the request could not be completed.
func (c *HTTPClient) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	fields := map[string]string{}
	for key, val := range map[string]string{
		"student_id":   req.StudentID,
		"student_name": req.StudentName,
		"background":   req.Background,
		"template_id":  req.TemplateID,
		"instructions": req.Instructions,
		"model":        req.Model,
	} {
		if val != "" {
			fields[key] = val
		}
	}

	var result UploadResult
	var failure errorBody
	r := c.client.R().
		SetContext(ctx).
		SetHeader(phaseHeader, "upload").
		SetResult(&result).
		SetError(&failure)

	if len(req.FileData) > 0 {
		contentType := req.FileContentType
		if contentType == "" {
			contentType = http.DetectContentType(req.FileData)
		}
		r.SetMultipartField("file", req.FileName, contentType, bytes.NewReader(req.FileData))
	} else {
		fields["text_content"] = req.TextContent
	}
	r.SetMultipartFormData(fields)

	resp, err := r.Post(routePrefix(req.Preview) + "/upload")
	if err != nil {
		return nil, fmt.Errorf("upload request failed: %w", err)
	}
	if resp.IsError() {
		return &UploadResult{ElapsedMs: failure.ElapsedMs, Error: failure.message(resp)}, nil
	}
	if result.Error == "" && result.JobID == "" {
		return nil, fmt.Errorf("upload response has no job id (status: %d)", resp.StatusCode())
	}
	return &result, nil
}

// Analyze runs the context-analysis phase.
func (c *HTTPClient) Analyze(ctx context.Context, jobID string, preview bool) (*PhaseResult, error) {
	return c.postPhase(ctx, "analyze", jobID, preview)
}

// Run runs the AI grading phase.
func (c *HTTPClient) Run(ctx context.Context, jobID string, preview bool) (*PhaseResult, error) {
	return c.postPhase(ctx, "run", jobID, preview)
}

func (c *HTTPClient) postPhase(ctx context.Context, phase, jobID string, preview bool) (*PhaseResult, error) {
	var result PhaseResult
	var failure errorBody
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader(phaseHeader, phase).
		SetPathParam("jobID", jobID).
		SetBody(map[string]string{}).
		SetResult(&result).
		SetError(&failure).
		Post(routePrefix(preview) + "/{jobID}/" + phase)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", phase, err)
	}
	if resp.IsError() {
		return &PhaseResult{ElapsedMs: failure.ElapsedMs, Error: failure.message(resp)}, nil
	}
	return &result, nil
}

// PersistElapsedTime stores the total grading time for a persistent job.
func (c *HTTPClient) PersistElapsedTime(ctx context.Context, jobID string, totalMs int64) error {
	var failure errorBody
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader(phaseHeader, "persist").
		SetPathParam("jobID", jobID).
		SetBody(map[string]int64{"total_elapsed_ms": totalMs}).
		SetError(&failure).
		Put("/grading/{jobID}/elapsed-time")
	if err != nil {
		return fmt.Errorf("persist elapsed time request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("persist elapsed time: %s", failure.message(resp))
	}
	return nil
}
