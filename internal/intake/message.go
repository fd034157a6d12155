package intake

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/cuongbtq/resume-pipeline/internal/queue"
)

var validate = validator.New()

// Request is the message body producers publish to the intake queue. Each
// resume carries either extracted text or raw document bytes (base64 in JSON).
type Request struct {
	RequestID  string   `json:"request_id" validate:"required"`
	Priority   string   `json:"priority,omitempty" validate:"omitempty,oneof=urgent high normal low"`
	JobContext string   `json:"job_context,omitempty" validate:"max=20000"`
	Source     string   `json:"source,omitempty"`
	Resumes    []Resume `json:"resumes" validate:"required,min=1,max=500,dive"`
}

// Resume is one document in a Request
type Resume struct {
	SourceRef   string `json:"source_ref,omitempty"`
	Text        string `json:"text,omitempty" validate:"required_without=Content"`
	Content     []byte `json:"content,omitempty" validate:"required_without=Text"`
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// Validate checks the request shape
func (r Request) Validate() error {
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s failed on %s", ErrInvalidMessage, verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}

// Items converts the request into queue submissions
func (r Request) Items() ([]queue.NewItem, queue.EnqueueOptions) {
	items := make([]queue.NewItem, 0, len(r.Resumes))
	for _, res := range r.Resumes {
		items = append(items, queue.NewItem{
			SourceRef:   res.SourceRef,
			Text:        res.Text,
			Content:     res.Content,
			Filename:    res.Filename,
			ContentType: res.ContentType,
		})
	}
	source := r.Source
	if source == "" {
		source = "amqp"
	}
	return items, queue.EnqueueOptions{
		Priority:   queue.Priority(r.Priority),
		JobContext: r.JobContext,
		Source:     source,
	}
}
