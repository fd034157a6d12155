package orchestrator

import (
	"context"
	"time"

	"github.com/cuongbtq/resume-pipeline/internal/queue"
	"github.com/cuongbtq/resume-pipeline/internal/ratelimit"
	"github.com/cuongbtq/resume-pipeline/internal/scheduler"
)

type processingStats struct {
	cycles            int64
	batchesDispatched int64
	batchesCompleted  int64
	batchesFailed     int64
	batchesAborted    int64
	itemsCompleted    int64
	itemsFailed       int64
	itemsReleased     int64
	rateLimitHits     int64
	generateTime      time.Duration
	lastBatchAt       time.Time
	lastError         string
}

// ProcessingStats summarise the work the orchestrator has done since start
type ProcessingStats struct {
	Cycles                int64         `json:"cycles"`
	BatchesDispatched     int64         `json:"batches_dispatched"`
	BatchesCompleted      int64         `json:"batches_completed"`
	BatchesFailed         int64         `json:"batches_failed"`
	BatchesAborted        int64         `json:"batches_aborted"`
	ItemsCompleted        int64         `json:"items_completed"`
	ItemsFailed           int64         `json:"items_failed"`
	ItemsReleased         int64         `json:"items_released"`
	RateLimitHits         int64         `json:"rate_limit_hits"`
	AverageGenerationTime time.Duration `json:"average_generation_time"`
	LastBatchAt           time.Time     `json:"last_batch_at,omitzero"`
	LastError             string        `json:"last_error,omitempty"`
}

// Status is the monitoring view of the whole pipeline
type Status struct {
	State             State             `json:"state"`
	Running           bool              `json:"running"`
	Paused            bool              `json:"paused"`
	BatchInFlight     bool              `json:"batch_in_flight"`
	StartedAt         time.Time         `json:"started_at,omitzero"`
	Uptime            time.Duration     `json:"uptime"`
	BusinessHoursOpen bool              `json:"business_hours_open"`
	BackoffUntil      time.Time         `json:"backoff_until,omitzero"`
	Queue             queue.QueueStatus `json:"queue"`
	Processing        ProcessingStats   `json:"processing"`
	RateLimit         ratelimit.Usage   `json:"rate_limit"`
}

// Statistics is the full export used for reporting and tuning
type Statistics struct {
	ExportedAt      time.Time       `json:"exported_at"`
	Queue           queue.Stats     `json:"queue"`
	Processing      ProcessingStats `json:"processing"`
	Scheduler       scheduler.Stats `json:"scheduler"`
	Recommendations []string        `json:"recommendations"`
	RateLimit       ratelimit.Usage `json:"rate_limit"`
	Health          Health          `json:"health"`
}

// QueueResumes hands new documents to the work queue. Only capacity and
// validation errors are returned; processing happens asynchronously.
func (o *Orchestrator) QueueResumes(ctx context.Context, items []queue.NewItem, opts queue.EnqueueOptions) ([]string, error) {
	return o.queue.Enqueue(ctx, items, opts)
}

// Status returns the current pipeline status
func (o *Orchestrator) Status() Status {
	now := o.now()
	state := o.State()

	o.mu.Lock()
	st := Status{
		State:             state,
		Running:           o.lifecycle == lifecycleRunning,
		Paused:            o.paused.Load(),
		BatchInFlight:     o.busy.Load(),
		StartedAt:         o.startedAt,
		BusinessHoursOpen: o.cfg.BusinessHours.Open(now),
		Processing:        o.processingLocked(),
	}
	if now.Before(o.backoffUntil) {
		st.BackoffUntil = o.backoffUntil
	}
	if st.Running {
		st.Uptime = now.Sub(o.startedAt)
	}
	o.mu.Unlock()

	st.Queue = o.queue.Status()
	st.RateLimit = o.limiter.Usage()
	return st
}

// QueueDetails lists queue items matching f
func (o *Orchestrator) QueueDetails(f queue.Filter) []queue.Item {
	return o.queue.Details(f)
}

// ExportStatistics gathers queue, processing and scheduler statistics
func (o *Orchestrator) ExportStatistics() Statistics {
	o.mu.Lock()
	processing := o.processingLocked()
	o.mu.Unlock()

	recs := o.scheduler.Recommendations()
	if recs == nil {
		recs = []string{}
	}

	return Statistics{
		ExportedAt:      o.now(),
		Queue:           o.queue.Stats(),
		Processing:      processing,
		Scheduler:       o.scheduler.Stats(),
		Recommendations: recs,
		RateLimit:       o.limiter.Usage(),
		Health:          o.HealthCheck(),
	}
}

func (o *Orchestrator) processingLocked() ProcessingStats {
	p := ProcessingStats{
		Cycles:            o.stats.cycles,
		BatchesDispatched: o.stats.batchesDispatched,
		BatchesCompleted:  o.stats.batchesCompleted,
		BatchesFailed:     o.stats.batchesFailed,
		BatchesAborted:    o.stats.batchesAborted,
		ItemsCompleted:    o.stats.itemsCompleted,
		ItemsFailed:       o.stats.itemsFailed,
		ItemsReleased:     o.stats.itemsReleased,
		RateLimitHits:     o.stats.rateLimitHits,
		LastBatchAt:       o.stats.lastBatchAt,
		LastError:         o.stats.lastError,
	}
	if calls := o.stats.batchesCompleted + o.stats.batchesFailed; calls > 0 {
		p.AverageGenerationTime = o.stats.generateTime / time.Duration(calls)
	}
	return p
}
