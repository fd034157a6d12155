package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/resume-pipeline/internal/api/dto"
	"github.com/cuongbtq/resume-pipeline/internal/events"
	"github.com/cuongbtq/resume-pipeline/internal/queue"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// SubmitResumes handles POST /api/v1/resumes
// Adds resumes to the work queue; processing happens in the background
func (h *PipelineHandler) SubmitResumes(c *gin.Context) {
	var req dto.SubmitResumesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "Invalid request body",
			Details: err.Error(),
		})
		return
	}

	items := make([]queue.NewItem, 0, len(req.Resumes))
	for _, r := range req.Resumes {
		items = append(items, queue.NewItem{
			SourceRef:   r.SourceRef,
			Text:        r.Text,
			Content:     r.Content,
			Filename:    r.Filename,
			ContentType: r.ContentType,
		})
	}
	source := req.Source
	if source == "" {
		source = "http"
	}

	ids, err := h.pipeline.QueueResumes(c.Request.Context(), items, queue.EnqueueOptions{
		Priority:   queue.Priority(req.Priority),
		JobContext: req.JobContext,
		Source:     source,
	})
	if err != nil {
		status, msg := enqueueErrorStatus(err)
		h.logger.Warn("Failed to queue resumes",
			slog.Int("resumes", len(items)),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
		c.JSON(status, dto.ErrorResponse{Error: msg, Details: err.Error()})
		return
	}

	h.logger.Info("Resumes queued",
		slog.Int("resumes", len(items)),
		slog.String("priority", req.Priority),
	)
	c.JSON(http.StatusAccepted, dto.SubmitResumesResponse{
		ItemIDs:  ids,
		Accepted: len(ids),
	})
}

func enqueueErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, queue.ErrCapacityExceeded):
		return http.StatusServiceUnavailable, "Queue is full"
	case errors.Is(err, queue.ErrValidation):
		return http.StatusBadRequest, "Invalid resume"
	default:
		return http.StatusInternalServerError, "Failed to queue resumes"
	}
}

// ListItems handles GET /api/v1/queue/items
// Lists queue items across every state with optional filtering and pagination
func (h *PipelineHandler) ListItems(c *gin.Context) {
	var req dto.ListItemsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "Invalid query parameters",
			Details: err.Error(),
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeItemCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid cursor"})
		return
	}

	all := h.pipeline.QueueDetails(queue.Filter{
		Status:   queue.Status(req.Status),
		Priority: queue.Priority(req.Priority),
	})
	ids := make([]string, len(all))
	for i, it := range all {
		ids[i] = it.ID
	}

	start := cursor.resume(ids)
	end := min(start+req.PageSize, len(all))
	page := all[start:end]

	resp := dto.ListItemsResponse{Items: make([]dto.ItemDTO, len(page))}
	for i, it := range page {
		resp.Items[i] = toItemDTO(it)
	}
	if end < len(all) {
		resp.NextCursor = EncodeItemCursor(&ItemCursor{Offset: end, LastID: all[end-1].ID})
	}

	c.JSON(http.StatusOK, resp)
}

func toItemDTO(it queue.Item) dto.ItemDTO {
	out := dto.ItemDTO{
		ID:                   it.ID,
		Priority:             string(it.Priority),
		Status:               string(it.Status),
		RetryCount:           it.RetryCount,
		SourceRef:            it.Payload.SourceRef,
		Filename:             it.Metadata.Filename,
		Source:               it.Metadata.Source,
		CreatedAt:            it.CreatedAt.Format(time.RFC3339),
		UpdatedAt:            it.UpdatedAt.Format(time.RFC3339),
		ProcessingDurationMs: it.ProcessingDuration.Milliseconds(),
		LastError:            it.LastError,
		Result:               it.Result,
	}
	if !it.RetryAt.IsZero() {
		retryAt := it.RetryAt
		out.RetryAt = &retryAt
	}
	return out
}

// QueueStatus handles GET /api/v1/queue/status
func (h *PipelineHandler) QueueStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.pipeline.Status())
}

// Statistics handles GET /api/v1/stats
func (h *PipelineHandler) Statistics(c *gin.Context) {
	c.JSON(http.StatusOK, h.pipeline.ExportStatistics())
}

// Health handles GET /health. Critical health answers 503 so load balancers
// stop routing producers here.
func (h *PipelineHandler) Health(c *gin.Context) {
	health := h.pipeline.HealthCheck()
	status := http.StatusOK
	if health.Status == events.HealthCritical {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"service": "resume-worker-service",
		"health":  health,
	})
}

// Pause handles POST /api/v1/processor/pause
func (h *PipelineHandler) Pause(c *gin.Context) {
	h.pipeline.Pause()
	h.logger.Info("Processing paused via API")
	c.JSON(http.StatusOK, gin.H{"state": h.pipeline.Status().State})
}

// Resume handles POST /api/v1/processor/resume
func (h *PipelineHandler) Resume(c *gin.Context) {
	h.pipeline.Resume()
	h.logger.Info("Processing resumed via API")
	c.JSON(http.StatusOK, gin.H{"state": h.pipeline.Status().State})
}
