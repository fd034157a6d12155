package orchestrator

import (
	"errors"
	"fmt"
)

// ErrStopped is returned by Start after the orchestrator has been stopped
var ErrStopped = errors.New("orchestrator stopped")

// Processing stages reported in ProcessingError
const (
	StageExtract  = "extract"
	StageSchedule = "schedule"
	StagePrompt   = "prompt"
	StageGenerate = "generate"
	StageParse    = "parse"
)

// ProcessingError records why an item or a batch failed. It is what the
// queue stores as the item's last error.
type ProcessingError struct {
	Stage   string
	BatchID string
	ItemID  string
	Err     error
}

func (e *ProcessingError) Error() string {
	switch {
	case e.BatchID != "":
		return fmt.Sprintf("%s failed for batch %s: %v", e.Stage, e.BatchID, e.Err)
	case e.ItemID != "":
		return fmt.Sprintf("%s failed for item %s: %v", e.Stage, e.ItemID, e.Err)
	default:
		return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
	}
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}
