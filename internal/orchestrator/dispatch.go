package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/resume-pipeline/internal/document"
	"github.com/cuongbtq/resume-pipeline/internal/events"
	"github.com/cuongbtq/resume-pipeline/internal/generation"
	"github.com/cuongbtq/resume-pipeline/internal/parser"
	"github.com/cuongbtq/resume-pipeline/internal/queue"
	"github.com/cuongbtq/resume-pipeline/internal/ratelimit"
	"github.com/cuongbtq/resume-pipeline/internal/scheduler"
)

// ItemResult is what a completed item stores as its queue result
type ItemResult struct {
	BatchID    string          `json:"batch_id"`
	Confidence float64         `json:"confidence"`
	Truncated  bool            `json:"truncated,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// group is the set of dequeued items that share a job context and can be
// batched together
type group struct {
	jobContext string
	items      []scheduler.Item
}

// runCycle processes one dequeued slice end to end. Items still in flight
// when the cycle is cut short are released back to the queue.
func (o *Orchestrator) runCycle(ctx context.Context) {
	o.setPhase(StatePolling)
	defer o.setPhase(StateIdle)

	o.mu.Lock()
	o.stats.cycles++
	o.mu.Unlock()

	o.queue.PromoteDueRetries()
	items := o.queue.Dequeue(o.cfg.BatchSize)
	if len(items) == 0 {
		return
	}

	o.logger.Info("Processing cycle started", slog.Int("items", len(items)))
	o.setPhase(StateDispatching)

	groups := o.prepare(items)

	outstanding := make([]string, 0, len(items))
	for _, g := range groups {
		for _, it := range g.items {
			outstanding = append(outstanding, it.ID)
		}
	}
	settled := make(map[string]bool, len(outstanding))

	for _, g := range groups {
		res, err := o.scheduler.CreateBatches(g.items, g.jobContext)
		if err != nil {
			o.logger.Error("Failed to create batches",
				slog.Int("items", len(g.items)),
				slog.String("error", err.Error()),
			)
			for _, it := range g.items {
				o.failItem(it.ID, &ProcessingError{Stage: StageSchedule, ItemID: it.ID, Err: err})
				settled[it.ID] = true
			}
			continue
		}

		for _, batch := range res.Batches {
			if err := o.dispatch(ctx, g.jobContext, batch); err != nil {
				o.abort(batch, unsettled(outstanding, settled), err)
				return
			}
			for _, id := range batch.ItemIDs() {
				settled[id] = true
			}
		}
	}
}

// prepare resolves the text of every item and groups the survivors by job
// context in dequeue order. Items whose text cannot be resolved are failed
// individually.
func (o *Orchestrator) prepare(items []queue.Item) []group {
	var groups []group
	index := make(map[string]int)

	for _, it := range items {
		text, err := o.resolveText(it)
		if err != nil {
			o.logger.Warn("Failed to resolve item text",
				slog.String("item_id", it.ID),
				slog.String("filename", it.Metadata.Filename),
				slog.String("error", err.Error()),
			)
			o.failItem(it.ID, &ProcessingError{Stage: StageExtract, ItemID: it.ID, Err: err})
			continue
		}

		jc := it.Metadata.JobContext
		i, ok := index[jc]
		if !ok {
			i = len(groups)
			index[jc] = i
			groups = append(groups, group{jobContext: jc})
		}
		groups[i].items = append(groups[i].items, scheduler.Item{ID: it.ID, Text: text})
	}
	return groups
}

func (o *Orchestrator) resolveText(it queue.Item) (string, error) {
	text := it.Payload.Text
	if !it.Payload.HasText() {
		ex, err := o.extractor.Extract(it.Payload.Content, it.Metadata.Filename, it.Metadata.ContentType)
		if err != nil {
			return "", err
		}
		text = ex.Text
	}

	opt := o.optimizer.Optimize(text)
	if strings.TrimSpace(opt.OptimizedText) == "" {
		return "", document.ErrEmptyFile
	}
	return opt.OptimizedText, nil
}

// dispatch sends one batch and reconciles its outcome. A non-nil return means
// the batch was not attempted, or was cut short by shutdown, and the cycle
// must stop.
func (o *Orchestrator) dispatch(ctx context.Context, jobContext string, batch scheduler.Batch) error {
	// Step 1: prompt
	prompt, err := generation.BuildBatchPrompt(jobContext, promptItems(batch))
	if err != nil {
		o.failBatch(batch, &ProcessingError{Stage: StagePrompt, BatchID: batch.ID, Err: err}, 0)
		return nil
	}

	// Step 2: quota, taken right before the call
	if err := o.limiter.Wait(ctx); err != nil {
		return err
	}

	o.mu.Lock()
	o.stats.batchesDispatched++
	o.stats.lastBatchAt = o.now()
	o.mu.Unlock()
	o.emitBatch(events.BatchDispatched, batch, 0, nil)

	o.logger.Info("Dispatching batch",
		slog.String("batch_id", batch.ID),
		slog.Int("items", len(batch.Items)),
		slog.Int("estimated_tokens", batch.TotalTokens()),
		slog.Float64("utilization", batch.TokenUtilization),
	)

	// Step 3: generate, bounded by the request timeout
	o.setPhase(StateAwaitingResponse)
	started := o.now()
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	raw, err := o.generator.Generate(callCtx, prompt)
	cancel()
	elapsed := o.now().Sub(started)

	o.mu.Lock()
	o.stats.generateTime += elapsed
	o.mu.Unlock()

	o.setPhase(StateReconciling)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.failBatch(batch, &ProcessingError{Stage: StageGenerate, BatchID: batch.ID, Err: err}, elapsed)
		return nil
	}

	// Step 4: reconcile
	records, err := parser.ParseBatch(raw, batch.ItemIDs())
	if err != nil {
		o.failBatch(batch, &ProcessingError{Stage: StageParse, BatchID: batch.ID, Err: err}, elapsed)
		return nil
	}
	o.completeBatch(batch, records, elapsed)
	return nil
}

func (o *Orchestrator) completeBatch(batch scheduler.Batch, records []parser.Record, elapsed time.Duration) {
	truncated := make(map[string]bool, len(batch.Items))
	for _, it := range batch.Items {
		truncated[it.ID] = it.Truncated
	}

	completed := 0
	for _, rec := range records {
		result, err := json.Marshal(ItemResult{
			BatchID:    batch.ID,
			Confidence: rec.Confidence,
			Truncated:  truncated[rec.ID],
			Data:       rec.Data,
		})
		if err != nil {
			o.failItem(rec.ID, &ProcessingError{Stage: StageParse, BatchID: batch.ID, Err: err})
			continue
		}
		if err := o.queue.MarkCompleted(rec.ID, result); err != nil {
			o.logger.Error("Failed to mark item completed",
				slog.String("item_id", rec.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		completed++
	}

	o.mu.Lock()
	o.stats.batchesCompleted++
	o.stats.itemsCompleted += int64(completed)
	o.mu.Unlock()

	o.emitBatch(events.BatchCompleted, batch, elapsed, nil)
	o.logger.Info("Batch completed",
		slog.String("batch_id", batch.ID),
		slog.Int("items", completed),
		slog.Duration("duration", elapsed),
	)
}

// failBatch fails every member of the batch. Each consumes one retry.
func (o *Orchestrator) failBatch(batch scheduler.Batch, cause *ProcessingError, elapsed time.Duration) {
	for _, id := range batch.ItemIDs() {
		o.failItem(id, cause)
	}

	o.mu.Lock()
	o.stats.batchesFailed++
	o.stats.lastError = cause.Error()
	o.mu.Unlock()

	o.emitBatch(events.BatchFailed, batch, elapsed, cause)
	o.logger.Error("Batch failed",
		slog.String("batch_id", batch.ID),
		slog.String("stage", cause.Stage),
		slog.Int("items", len(batch.Items)),
		slog.String("error", cause.Err.Error()),
	)
}

func (o *Orchestrator) failItem(id string, cause error) {
	if err := o.queue.MarkFailed(id, cause); err != nil {
		o.logger.Error("Failed to mark item failed",
			slog.String("item_id", id),
			slog.String("error", err.Error()),
		)
		return
	}
	o.mu.Lock()
	o.stats.itemsFailed++
	o.mu.Unlock()
}

// abort releases every unsettled item without consuming a retry. Hitting the
// daily quota also opens the back-off window.
func (o *Orchestrator) abort(batch scheduler.Batch, ids []string, cause error) {
	reason := "processing interrupted"
	o.mu.Lock()
	if errors.Is(cause, ratelimit.ErrRateLimitExceeded) {
		reason = "rate limit exceeded"
		o.backoffUntil = o.now().Add(o.cfg.RateLimitBackoff)
		o.stats.rateLimitHits++
	}
	o.stats.batchesAborted++
	o.stats.itemsReleased += int64(len(ids))
	backoffUntil := o.backoffUntil
	o.mu.Unlock()

	if err := o.queue.Release(ids, reason); err != nil {
		o.logger.Error("Failed to release items",
			slog.String("error", err.Error()),
		)
	}
	o.emitBatch(events.BatchAborted, batch, 0, cause)

	if errors.Is(cause, ratelimit.ErrRateLimitExceeded) {
		o.logger.Warn("Rate limit exceeded, backing off",
			slog.Int("released", len(ids)),
			slog.Time("until", backoffUntil),
		)
		return
	}
	o.logger.Info("Processing cycle interrupted",
		slog.Int("released", len(ids)),
		slog.String("reason", cause.Error()),
	)
}

func (o *Orchestrator) emitBatch(kind events.BatchEventKind, batch scheduler.Batch, elapsed time.Duration, cause error) {
	ev := events.BatchEvent{
		Kind:            kind,
		BatchID:         batch.ID,
		ItemIDs:         batch.ItemIDs(),
		EstimatedTokens: batch.TotalTokens(),
		Utilization:     batch.TokenUtilization,
		Duration:        elapsed,
		At:              o.now(),
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	o.batches.OnBatchEvent(ev)
}

func promptItems(batch scheduler.Batch) []generation.PromptItem {
	out := make([]generation.PromptItem, 0, len(batch.Items))
	for _, it := range batch.Items {
		out = append(out, generation.PromptItem{ID: it.ID, Text: it.Text})
	}
	return out
}

func unsettled(ids []string, settled map[string]bool) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !settled[id] {
			out = append(out, id)
		}
	}
	return out
}
