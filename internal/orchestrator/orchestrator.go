// Package orchestrator drives the pipeline: it pulls items off the work
// queue, packs them into token-bounded batches, sends each batch to the
// generation service under the rate limiter and reconciles the results back
// into the queue. At most one batch is in flight at any time.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/resume-pipeline/internal/document"
	"github.com/cuongbtq/resume-pipeline/internal/events"
	"github.com/cuongbtq/resume-pipeline/internal/generation"
	"github.com/cuongbtq/resume-pipeline/internal/queue"
	"github.com/cuongbtq/resume-pipeline/internal/ratelimit"
	"github.com/cuongbtq/resume-pipeline/internal/scheduler"
)

// RateLimiter gates calls to the generation service
type RateLimiter interface {
	Wait(ctx context.Context) error
	Usage() ratelimit.Usage
}

// TextExtractor turns raw document bytes into text
type TextExtractor interface {
	Extract(content []byte, filename, declaredType string) (document.Extraction, error)
}

// TextOptimizer normalises extracted text before it is batched
type TextOptimizer interface {
	Optimize(text string) document.Optimization
}

// Deps are the collaborators the orchestrator drives. Queue, Scheduler,
// Generator and Limiter are required.
type Deps struct {
	Queue     *queue.WorkQueue
	Scheduler *scheduler.Scheduler
	Generator generation.Generator
	Limiter   RateLimiter
	Extractor TextExtractor
	Optimizer TextOptimizer
	Batches   events.BatchObserver
	Health    events.HealthObserver
	Logger    *slog.Logger
	Clock     func() time.Time
}

// Orchestrator owns the processing loop
type Orchestrator struct {
	cfg       Config
	queue     *queue.WorkQueue
	scheduler *scheduler.Scheduler
	generator generation.Generator
	limiter   RateLimiter
	extractor TextExtractor
	optimizer TextOptimizer
	batches   events.BatchObserver
	health    events.HealthObserver
	logger    *slog.Logger
	now       func() time.Time

	busy   atomic.Bool
	paused atomic.Bool

	mu           sync.Mutex
	lifecycle    lifecycle
	phase        State
	startedAt    time.Time
	backoffUntil time.Time
	lastHealth   events.HealthStatus
	stats        processingStats
	stopChan     chan struct{}
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// New validates deps and builds an Orchestrator. Zero config values fall back
// to DefaultConfig.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Queue == nil:
		return nil, errors.New("orchestrator: queue is required")
	case deps.Scheduler == nil:
		return nil, errors.New("orchestrator: scheduler is required")
	case deps.Generator == nil:
		return nil, errors.New("orchestrator: generator is required")
	case deps.Limiter == nil:
		return nil, errors.New("orchestrator: rate limiter is required")
	}

	o := &Orchestrator{
		cfg:        withDefaults(cfg),
		queue:      deps.Queue,
		scheduler:  deps.Scheduler,
		generator:  deps.Generator,
		limiter:    deps.Limiter,
		extractor:  deps.Extractor,
		optimizer:  deps.Optimizer,
		batches:    deps.Batches,
		health:     deps.Health,
		logger:     deps.Logger,
		now:        deps.Clock,
		phase:      StateIdle,
		lastHealth: events.HealthHealthy,
		stopChan:   make(chan struct{}),
	}
	if o.extractor == nil {
		o.extractor = document.NewExtractor(document.ExtractorConfig{})
	}
	if o.optimizer == nil {
		o.optimizer = document.NewOptimizer()
	}
	if o.batches == nil {
		o.batches = events.Nop{}
	}
	if o.health == nil {
		o.health = events.Nop{}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.RateLimitBackoff <= 0 {
		cfg.RateLimitBackoff = def.RateLimitBackoff
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = def.HealthInterval
	}
	if cfg.StopPollInterval <= 0 {
		cfg.StopPollInterval = def.StopPollInterval
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = def.PersistTimeout
	}
	return cfg
}

// Start launches the processing loop. Calling it on a running orchestrator is
// a no-op; calling it after Stop returns ErrStopped.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.lifecycle {
	case lifecycleRunning:
		return nil
	case lifecycleStopping, lifecycleStopped:
		return ErrStopped
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.lifecycle = lifecycleRunning
	o.startedAt = o.now()

	o.wg.Add(1)
	go o.run(runCtx)

	o.logger.Info("Orchestrator started",
		slog.Duration("poll_interval", o.cfg.PollInterval),
		slog.Int("batch_size", o.cfg.BatchSize),
		slog.Bool("business_hours", o.cfg.BusinessHours.Enabled),
	)
	return nil
}

// Pause stops new batches from being dispatched. A batch already in flight
// runs to completion.
func (o *Orchestrator) Pause() {
	if !o.paused.Swap(true) {
		o.logger.Info("Orchestrator paused")
	}
}

// Resume lifts a Pause
func (o *Orchestrator) Resume() {
	if o.paused.Swap(false) {
		o.logger.Info("Orchestrator resumed")
	}
}

// Stop halts new ticks, waits for the in-flight batch to finish, then
// persists the queue. If ctx expires first the in-flight call is cancelled
// and its items are released back to the queue.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	switch o.lifecycle {
	case lifecycleStopping, lifecycleStopped:
		o.mu.Unlock()
		return nil
	case lifecycleNew:
		o.lifecycle = lifecycleStopped
		o.mu.Unlock()
		return o.persist(ctx)
	}
	o.lifecycle = lifecycleStopping
	close(o.stopChan)
	o.mu.Unlock()

	o.logger.Info("Stopping orchestrator")

	ticker := time.NewTicker(o.cfg.StopPollInterval)
	defer ticker.Stop()
wait:
	for o.busy.Load() {
		select {
		case <-ctx.Done():
			o.logger.Warn("Stop deadline reached, cancelling in-flight batch")
			break wait
		case <-ticker.C:
		}
	}

	o.cancel()
	o.wg.Wait()

	err := o.persist(ctx)

	o.mu.Lock()
	o.lifecycle = lifecycleStopped
	o.mu.Unlock()

	o.logger.Info("Orchestrator stopped")
	return err
}

func (o *Orchestrator) persist(ctx context.Context) error {
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.PersistTimeout)
	defer cancel()
	if err := o.queue.Persist(persistCtx); err != nil {
		o.logger.Error("Failed to persist queue on shutdown",
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

func (o *Orchestrator) run(ctx context.Context) {
	defer o.wg.Done()

	poll := time.NewTicker(o.cfg.PollInterval)
	defer poll.Stop()
	health := time.NewTicker(o.cfg.HealthInterval)
	defer health.Stop()

	for {
		select {
		case <-o.stopChan:
			return
		case <-ctx.Done():
			return
		case <-poll.C:
			o.tick(ctx)
		case <-health.C:
			o.evaluateHealth()
		}
	}
}

// tick starts a processing cycle in the background when every gate is open.
// It reports whether a cycle was started.
func (o *Orchestrator) tick(ctx context.Context) bool {
	o.mu.Lock()
	running := o.lifecycle == lifecycleRunning
	backoffUntil := o.backoffUntil
	o.mu.Unlock()

	if !running || o.paused.Load() {
		return false
	}
	now := o.now()
	if now.Before(backoffUntil) {
		o.logger.Debug("Skipping tick during rate limit back-off",
			slog.Time("until", backoffUntil),
		)
		return false
	}
	if !o.cfg.BusinessHours.Open(now) {
		o.logger.Debug("Skipping tick outside business hours",
			slog.Int("hour", now.Hour()),
		)
		return false
	}
	if !o.busy.CompareAndSwap(false, true) {
		o.logger.Debug("Skipping tick, batch already in flight")
		return false
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.busy.Store(false)
		o.runCycle(ctx)
	}()
	return true
}

func (o *Orchestrator) setPhase(s State) {
	o.mu.Lock()
	o.phase = s
	o.mu.Unlock()
}

// State returns the current phase
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.lifecycle {
	case lifecycleStopping:
		return StateStopping
	case lifecycleStopped:
		return StateStopped
	}
	if o.paused.Load() && !o.busy.Load() {
		return StatePaused
	}
	return o.phase
}
