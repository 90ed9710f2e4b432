package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/gradeflow/internal/domain"
	"github.com/timmy/gradeflow/internal/history"
	"github.com/timmy/gradeflow/internal/logger"
)

// RunStore reads recorded grading runs.
type RunStore interface {
	List(ctx context.Context, limit, offset int) ([]domain.RunRecord, int64, error)
	Get(ctx context.Context, id string) (*domain.RunRecord, error)
}

// RunsHandler serves the run timing history.
type RunsHandler struct {
	store RunStore
}

// NewRunsHandler creates a new runs handler. A nil store means history is disabled.
func NewRunsHandler(store RunStore) *RunsHandler {
	return &RunsHandler{store: store}
}

// ListRuns handles GET /api/v1/grading/runs.
func (h *RunsHandler) ListRuns(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run history is disabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	records, total, err := h.store.List(c.Request.Context(), limit, offset)
	if err != nil {
		ctx := c.Request.Context()
		logger.CtxError(ctx, "Failed to list runs: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":      "Failed to list runs: " + err.Error(),
			"request_id": logger.GetRequestID(ctx),
		})
		return
	}
	if records == nil {
		records = []domain.RunRecord{}
	}
	c.JSON(http.StatusOK, gin.H{
		"runs":   records,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// GetRun handles GET /api/v1/grading/runs/:id.
func (h *RunsHandler) GetRun(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run history is disabled"})
		return
	}
	rec, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, history.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		ctx := c.Request.Context()
		logger.CtxError(ctx, "Failed to get run: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":      "Failed to get run: " + err.Error(),
			"request_id": logger.GetRequestID(ctx),
		})
		return
	}
	c.JSON(http.StatusOK, rec)
}
