package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/resume-pipeline/internal/api/dto"
	"github.com/cuongbtq/resume-pipeline/internal/intake"
)

// SubmitRequest handles POST /api/v1/resumes on the api service
// Publishes the submission to the intake queue and returns its request id
func (h *GatewayHandler) SubmitRequest(c *gin.Context) {
	var req dto.SubmitResumesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "Invalid request body",
			Details: err.Error(),
		})
		return
	}

	msg := intake.Request{
		RequestID:  uuid.New().String(),
		Priority:   req.Priority,
		JobContext: req.JobContext,
		Source:     req.Source,
		Resumes:    make([]intake.Resume, 0, len(req.Resumes)),
	}
	if msg.Source == "" {
		msg.Source = "http-gateway"
	}
	for _, r := range req.Resumes {
		msg.Resumes = append(msg.Resumes, intake.Resume{
			SourceRef:   r.SourceRef,
			Text:        r.Text,
			Content:     r.Content,
			Filename:    r.Filename,
			ContentType: r.ContentType,
		})
	}

	if err := h.submitter.Submit(c.Request.Context(), msg); err != nil {
		if errors.Is(err, intake.ErrInvalidMessage) {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request", Details: err.Error()})
			return
		}
		h.logger.Error("Failed to publish intake request",
			slog.String("request_id", msg.RequestID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "Failed to submit resumes"})
		return
	}

	h.logger.Info("Intake request published",
		slog.String("request_id", msg.RequestID),
		slog.Int("resumes", len(msg.Resumes)),
	)
	c.JSON(http.StatusAccepted, dto.SubmitRequestResponse{
		RequestID: msg.RequestID,
		Status:    "accepted",
		Resumes:   len(msg.Resumes),
	})
}

// Health handles GET /health on the api service
func (h *GatewayHandler) Health(c *gin.Context) {
	if h.broker == nil || !h.broker.IsConnected() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"service": "resume-api-service",
			"broker":  "disconnected",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "resume-api-service",
		"broker":  "connected",
	})
}
