package queue

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Priority is the tier an item waits in while queued
type Priority string

// Priority tiers, in dequeue order
const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Priorities lists every tier in the order Dequeue walks them.
var Priorities = []Priority{PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow}

const numPriorities = 4

// Valid reports whether p is one of the known tiers
func (p Priority) Valid() bool {
	_, ok := p.index()
	return ok
}

func (p Priority) index() (int, bool) {
	switch p {
	case PriorityUrgent:
		return 0, true
	case PriorityHigh:
		return 1, true
	case PriorityNormal:
		return 2, true
	case PriorityLow:
		return 3, true
	default:
		return 0, false
	}
}

// Status is the lifecycle state of an item
type Status string

// Item status values
const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusRetrying   Status = "retrying"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Payload carries the work itself. Either Text (already extracted) or Content
// (raw document bytes) is set.
type Payload struct {
	SourceRef string `json:"source_ref,omitempty"`
	Text      string `json:"text,omitempty"`
	Content   []byte `json:"content,omitempty"`
}

// HasText reports whether the payload was queued with extracted text
func (p Payload) HasText() bool {
	return strings.TrimSpace(p.Text) != ""
}

// Metadata describes the source document
type Metadata struct {
	Filename    string `json:"filename,omitempty"`
	Size        int64  `json:"size,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Source      string `json:"source,omitempty"`
	JobContext  string `json:"job_context,omitempty"`
}

// Item is a unit of work tracked by the WorkQueue
type Item struct {
	ID                  string          `json:"id"`
	Payload             Payload         `json:"payload"`
	Priority            Priority        `json:"priority"`
	Status              Status          `json:"status"`
	RetryCount          int             `json:"retry_count"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
	ProcessingStarted   time.Time       `json:"processing_started,omitzero"`
	ProcessingCompleted time.Time       `json:"processing_completed,omitzero"`
	ProcessingDuration  time.Duration   `json:"processing_duration,omitempty"`
	RetryAt             time.Time       `json:"retry_at,omitzero"`
	LastError           string          `json:"last_error,omitempty"`
	Result              json.RawMessage `json:"result,omitempty"`
	Metadata            Metadata        `json:"metadata"`
	ContentHash         uint64          `json:"content_hash"`
}

// clone returns a shallow copy safe to hand out of the lock. Content and
// Result are never mutated in place, so sharing their backing arrays is fine.
func (it *Item) clone() Item {
	return *it
}

// NewItem is what a producer submits to Enqueue
type NewItem struct {
	SourceRef   string
	Text        string
	Content     []byte
	Filename    string
	ContentType string
}

// EnqueueOptions apply to every item of one Enqueue call
type EnqueueOptions struct {
	Priority   Priority
	JobContext string
	Source     string
}

var (
	errNoPayload = errors.New("item has neither text nor content")
)

func (n NewItem) validate() error {
	if strings.TrimSpace(n.Text) == "" && len(n.Content) == 0 {
		return errNoPayload
	}
	return nil
}

// contentHash fingerprints the item for duplicate suppression. Text wins over
// raw bytes so the same document submitted as text twice collapses.
func (n NewItem) contentHash() uint64 {
	if text := strings.TrimSpace(n.Text); text != "" {
		return xxhash.Sum64String(text)
	}
	return xxhash.Sum64(n.Content)
}

func (n NewItem) size() int64 {
	if len(n.Content) > 0 {
		return int64(len(n.Content))
	}
	return int64(len(n.Text))
}
