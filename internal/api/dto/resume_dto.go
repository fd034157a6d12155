package dto

import (
	"encoding/json"
	"time"
)

type SubmitResumesRequest struct {
	Priority   string      `json:"priority" binding:"omitempty,oneof=urgent high normal low"`
	JobContext string      `json:"job_context" binding:"max=20000"`
	Source     string      `json:"source"`
	Resumes    []ResumeDTO `json:"resumes" binding:"required,min=1,max=500,dive"`
}

// ResumeDTO carries either extracted text or raw document bytes (base64)
type ResumeDTO struct {
	SourceRef   string `json:"source_ref"`
	Text        string `json:"text" binding:"required_without=Content"`
	Content     []byte `json:"content" binding:"required_without=Text"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

type SubmitResumesResponse struct {
	ItemIDs  []string `json:"item_ids"`
	Accepted int      `json:"accepted"`
}

type SubmitRequestResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Resumes   int    `json:"resumes"`
}

type ListItemsRequest struct {
	Status   string `form:"status" binding:"omitempty,oneof=queued processing retrying completed failed"`
	Priority string `form:"priority" binding:"omitempty,oneof=urgent high normal low"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListItemsResponse struct {
	Items      []ItemDTO `json:"items"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

// ItemDTO is a queue item without its document body
type ItemDTO struct {
	ID                   string          `json:"id"`
	Priority             string          `json:"priority"`
	Status               string          `json:"status"`
	RetryCount           int             `json:"retry_count"`
	SourceRef            string          `json:"source_ref,omitempty"`
	Filename             string          `json:"filename,omitempty"`
	Source               string          `json:"source,omitempty"`
	CreatedAt            string          `json:"created_at"`
	UpdatedAt            string          `json:"updated_at"`
	ProcessingDurationMs int64           `json:"processing_duration_ms,omitempty"`
	RetryAt              *time.Time      `json:"retry_at,omitempty"`
	LastError            string          `json:"last_error,omitempty"`
	Result               json.RawMessage `json:"result,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
