package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/timmy/gradeflow/internal/domain"
	"github.com/timmy/gradeflow/internal/logger"
	"github.com/timmy/gradeflow/internal/progress"
)

// maxUploadSize caps a single assignment upload.
const maxUploadSize = 32 << 20

// GradingHandler exposes the grading progress controller over HTTP.
type GradingHandler struct {
	controller *progress.Controller
}

// NewGradingHandler creates a new grading handler.
func NewGradingHandler(controller *progress.Controller) *GradingHandler {
	return &GradingHandler{controller: controller}
}

// StartRequest is the JSON body accepted by Start when no file is uploaded.
type StartRequest struct {
	JobID        string `json:"job_id"`
	TextContent  string `json:"text_content"`
	StudentID    string `json:"student_id"`
	StudentName  string `json:"student_name"`
	Background   string `json:"background"`
	TemplateID   string `json:"template_id"`
	Instructions string `json:"instructions"`
	Model        string `json:"model"`
	Preview      bool   `json:"preview"`
}

func (r *StartRequest) toJobConfig() domain.JobConfig {
	return domain.JobConfig{
		ExistingJobID: r.JobID,
		TextContent:   r.TextContent,
		StudentID:     r.StudentID,
		StudentName:   r.StudentName,
		Background:    r.Background,
		TemplateID:    r.TemplateID,
		Instructions:  r.Instructions,
		Model:         r.Model,
		Preview:       r.Preview,
	}
}

// Start handles POST /api/v1/grading/start.
// Accepts multipart form data with a "file" part, or a JSON StartRequest.
// The run continues in the background; poll Progress or Events for updates.
func (h *GradingHandler) Start(c *gin.Context) {
	cfg, err := bindJobConfig(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := cfg.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// the run outlives the request but keeps its logging fields
	ctx := context.WithoutCancel(c.Request.Context())
	runID := h.controller.Launch(ctx, cfg, func(jobID string, ok bool) {
		logger.CtxDebug(logger.SetJobID(ctx, jobID), "Background grading run returned: ok=%v", ok)
	})

	c.JSON(http.StatusAccepted, gin.H{"run_id": runID})
}

func bindJobConfig(c *gin.Context) (domain.JobConfig, error) {
	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		var req StartRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return domain.JobConfig{}, errors.New("invalid request body: " + err.Error())
		}
		return req.toJobConfig(), nil
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)
	preview, _ := strconv.ParseBool(c.PostForm("preview"))
	req := StartRequest{
		JobID:        c.PostForm("job_id"),
		TextContent:  c.PostForm("text_content"),
		StudentID:    c.PostForm("student_id"),
		StudentName:  c.PostForm("student_name"),
		Background:   c.PostForm("background"),
		TemplateID:   c.PostForm("template_id"),
		Instructions: c.PostForm("instructions"),
		Model:        c.PostForm("model"),
		Preview:      preview,
	}
	cfg := req.toJobConfig()

	header, err := c.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return cfg, nil
	}
	if err != nil {
		return cfg, errors.New("invalid upload: " + err.Error())
	}
	f, err := header.Open()
	if err != nil {
		return cfg, errors.New("failed to open upload: " + err.Error())
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return cfg, errors.New("failed to read upload: " + err.Error())
	}
	cfg.File = &domain.FilePayload{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}
	return cfg, nil
}

// Cancel handles POST /api/v1/grading/cancel.
func (h *GradingHandler) Cancel(c *gin.Context) {
	h.controller.Cancel()
	c.Status(http.StatusNoContent)
}

// Close handles POST /api/v1/grading/close.
func (h *GradingHandler) Close(c *gin.Context) {
	h.controller.Close()
	c.Status(http.StatusNoContent)
}

// Progress handles GET /api/v1/grading/progress.
func (h *GradingHandler) Progress(c *gin.Context) {
	c.JSON(http.StatusOK, h.controller.State())
}

// Events handles GET /api/v1/grading/events?since=N.
func (h *GradingHandler) Events(c *gin.Context) {
	since, err := strconv.ParseInt(c.DefaultQuery("since", "0"), 10, 64)
	if err != nil || since < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "since must be a non-negative integer"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": h.controller.Events(since)})
}
