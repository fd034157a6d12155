package generation

import (
	"bytes"
	_ "embed"
	"fmt"
	"text/template"
)

//go:embed batch_prompt.tmpl
var batchPromptSource string

var batchPrompt = template.Must(template.New("batch_prompt").Parse(batchPromptSource))

// PromptItem is one resume inside a combined prompt
type PromptItem struct {
	ID   string
	Text string
}

type promptData struct {
	JobContext string
	Items      []PromptItem
}

// BuildBatchPrompt renders the combined extraction prompt for a batch. Every
// item is delimited by its id and the model is asked for one JSON entry per id.
func BuildBatchPrompt(jobContext string, items []PromptItem) (string, error) {
	if len(items) == 0 {
		return "", ErrEmptyPrompt
	}

	var buf bytes.Buffer
	if err := batchPrompt.Execute(&buf, promptData{JobContext: jobContext, Items: items}); err != nil {
		return "", fmt.Errorf("failed to execute batch prompt template: %w", err)
	}
	return buf.String(), nil
}
