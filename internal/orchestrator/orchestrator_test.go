package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/resume-pipeline/internal/events"
	"github.com/cuongbtq/resume-pipeline/internal/generation"
	"github.com/cuongbtq/resume-pipeline/internal/parser"
	"github.com/cuongbtq/resume-pipeline/internal/queue"
	"github.com/cuongbtq/resume-pipeline/internal/ratelimit"
	"github.com/cuongbtq/resume-pipeline/internal/scheduler"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var resumeMarker = regexp.MustCompile(`=== RESUME (\S+) ===`)

// echoResponse answers every resume in prompt except the skipped ids
func echoResponse(prompt string, skip ...string) string {
	var entries []map[string]any
	for _, m := range resumeMarker.FindAllStringSubmatch(prompt, -1) {
		id := m[1]
		if contains(skip, id) {
			continue
		}
		entries = append(entries, map[string]any{
			"id":         id,
			"name":       "Candidate " + id,
			"email":      id + "@example.com",
			"confidence": 0.9,
		})
	}
	out, _ := json.Marshal(entries)
	return string(out)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type fakeGenerator struct {
	mu      sync.Mutex
	prompts []string
	respond func(ctx context.Context, prompt string) (string, error)
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	respond := g.respond
	g.mu.Unlock()

	if respond == nil {
		return echoResponse(prompt), nil
	}
	return respond(ctx, prompt)
}

func (g *fakeGenerator) calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts...)
}

type fakeLimiter struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (l *fakeLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.calls++
	return ctx.Err()
}

func (l *fakeLimiter) Usage() ratelimit.Usage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return ratelimit.Usage{RequestsToday: l.calls}
}

func (l *fakeLimiter) setErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
}

type recorder struct {
	mu      sync.Mutex
	batches []events.BatchEvent
	health  []events.HealthEvent
}

func (r *recorder) OnBatchEvent(e events.BatchEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, e)
}

func (r *recorder) OnHealthEvent(e events.HealthEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.health = append(r.health, e)
}

func (r *recorder) batchKinds() []events.BatchEventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.BatchEventKind, 0, len(r.batches))
	for _, e := range r.batches {
		out = append(out, e.Kind)
	}
	return out
}

func (r *recorder) healthEvents() []events.HealthEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.HealthEvent(nil), r.health...)
}

type harness struct {
	orch    *Orchestrator
	queue   *queue.WorkQueue
	store   *queue.MemoryStore
	gen     *fakeGenerator
	limiter *fakeLimiter
	events  *recorder
	clock   *fakeClock
}

func newHarness(t *testing.T, cfg Config, qcfg queue.Config) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := &fakeClock{now: time.Date(2025, 3, 10, 10, 0, 0, 0, time.Local)}
	store := queue.NewMemoryStore()
	q := queue.New(qcfg, store, logger, queue.WithClock(clock.Now))

	h := &harness{
		queue:   q,
		store:   store,
		gen:     &fakeGenerator{},
		limiter: &fakeLimiter{},
		events:  &recorder{},
		clock:   clock,
	}

	orch, err := New(cfg, Deps{
		Queue:     q,
		Scheduler: scheduler.New(scheduler.DefaultConfig(), logger),
		Generator: h.gen,
		Limiter:   h.limiter,
		Batches:   h.events,
		Health:    h.events,
		Logger:    logger,
		Clock:     clock.Now,
	})
	require.NoError(t, err)
	h.orch = orch
	return h
}

func testQueueConfig() queue.Config {
	cfg := queue.DefaultConfig()
	cfg.MaxQueueSize = 50
	cfg.MaxRetries = 3
	cfg.RetryDelay = time.Minute
	return cfg
}

func (h *harness) enqueue(t *testing.T, n int, opts queue.EnqueueOptions) []string {
	t.Helper()
	items := make([]queue.NewItem, n)
	for i := range items {
		items[i] = queue.NewItem{
			SourceRef: fmt.Sprintf("cv-%d.txt", i),
			Text:      fmt.Sprintf("Candidate %d %s. Go engineer with %d years building distributed services.", i, opts.JobContext, i+2),
		}
	}
	ids, err := h.orch.QueueResumes(context.Background(), items, opts)
	require.NoError(t, err)
	require.Len(t, ids, n)
	return ids
}

func (h *harness) itemsWithStatus(s queue.Status) []queue.Item {
	return h.orch.QueueDetails(queue.Filter{Status: s})
}

func TestNew_RequiresCollaborators(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := queue.New(queue.DefaultConfig(), nil, logger)
	s := scheduler.New(scheduler.DefaultConfig(), logger)
	gen := generation.GeneratorFunc(func(context.Context, string) (string, error) { return "", nil })

	tests := []struct {
		name string
		deps Deps
	}{
		{name: "missing queue", deps: Deps{Scheduler: s, Generator: gen, Limiter: &fakeLimiter{}}},
		{name: "missing scheduler", deps: Deps{Queue: q, Generator: gen, Limiter: &fakeLimiter{}}},
		{name: "missing generator", deps: Deps{Queue: q, Scheduler: s, Limiter: &fakeLimiter{}}},
		{name: "missing limiter", deps: Deps{Queue: q, Scheduler: s, Generator: gen}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Config{}, tt.deps)
			assert.Error(t, err)
		})
	}
}

func TestRunCycle_CompletesBatch(t *testing.T) {
	h := newHarness(t, DefaultConfig(), testQueueConfig())
	ids := h.enqueue(t, 3, queue.EnqueueOptions{Priority: queue.PriorityNormal})

	h.orch.runCycle(context.Background())

	require.Len(t, h.gen.calls(), 1)
	completed := h.itemsWithStatus(queue.StatusCompleted)
	require.Len(t, completed, 3)

	for _, it := range completed {
		assert.Contains(t, ids, it.ID)

		var res ItemResult
		require.NoError(t, json.Unmarshal(it.Result, &res))
		assert.NotEmpty(t, res.BatchID)
		assert.InDelta(t, 0.9, res.Confidence, 1e-9)
		assert.Contains(t, string(res.Data), it.ID+"@example.com")
	}

	assert.Equal(t, []events.BatchEventKind{events.BatchDispatched, events.BatchCompleted}, h.events.batchKinds())
	assert.Equal(t, StateIdle, h.orch.State())

	st := h.orch.Status()
	assert.Equal(t, int64(1), st.Processing.BatchesCompleted)
	assert.Equal(t, int64(3), st.Processing.ItemsCompleted)
	assert.Equal(t, 1, st.RateLimit.RequestsToday)
}

func TestRunCycle_EmptyQueue(t *testing.T) {
	h := newHarness(t, DefaultConfig(), testQueueConfig())

	h.orch.runCycle(context.Background())

	assert.Empty(t, h.gen.calls())
	assert.Empty(t, h.events.batchKinds())
}

func TestRunCycle_FailuresFailWholeBatch(t *testing.T) {
	tests := []struct {
		name    string
		respond func(ids []string) func(context.Context, string) (string, error)
		stage   string
		wantErr error
	}{
		{
			name: "missing entry",
			respond: func(ids []string) func(context.Context, string) (string, error) {
				return func(_ context.Context, prompt string) (string, error) {
					return echoResponse(prompt, ids[1]), nil
				}
			},
			stage:   StageParse,
			wantErr: parser.ErrMissingEntries,
		},
		{
			name: "malformed response",
			respond: func([]string) func(context.Context, string) (string, error) {
				return func(context.Context, string) (string, error) {
					return "I could not process these resumes.", nil
				}
			},
			stage:   StageParse,
			wantErr: parser.ErrMalformedResponse,
		},
		{
			name: "generation error",
			respond: func([]string) func(context.Context, string) (string, error) {
				return func(context.Context, string) (string, error) {
					return "", generation.ErrTransientFailure
				}
			},
			stage:   StageGenerate,
			wantErr: generation.ErrTransientFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, DefaultConfig(), testQueueConfig())
			ids := h.enqueue(t, 3, queue.EnqueueOptions{})
			h.gen.respond = tt.respond(ids)

			h.orch.runCycle(context.Background())

			retrying := h.itemsWithStatus(queue.StatusRetrying)
			require.Len(t, retrying, 3)
			for _, it := range retrying {
				assert.Equal(t, 1, it.RetryCount)
				assert.Contains(t, it.LastError, tt.stage)
				assert.Contains(t, it.LastError, tt.wantErr.Error())
			}
			assert.Empty(t, h.itemsWithStatus(queue.StatusCompleted))
			assert.Equal(t, []events.BatchEventKind{events.BatchDispatched, events.BatchFailed}, h.events.batchKinds())
			assert.Equal(t, int64(1), h.orch.Status().Processing.BatchesFailed)
		})
	}
}

func TestRunCycle_ExtractionFailureIsPerItem(t *testing.T) {
	h := newHarness(t, DefaultConfig(), testQueueConfig())
	h.enqueue(t, 2, queue.EnqueueOptions{})

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01")
	ids, err := h.orch.QueueResumes(context.Background(), []queue.NewItem{
		{SourceRef: "photo.png", Content: png, Filename: "photo.png"},
		{SourceRef: "cv.html", Content: []byte("<html><body><h1>Jane Doe</h1><p>Senior Go engineer, Kubernetes and AWS.</p></body></html>"), Filename: "cv.html"},
	}, queue.EnqueueOptions{})
	require.NoError(t, err)

	h.orch.runCycle(context.Background())

	retrying := h.itemsWithStatus(queue.StatusRetrying)
	require.Len(t, retrying, 1)
	assert.Equal(t, ids[0], retrying[0].ID)
	assert.Contains(t, retrying[0].LastError, StageExtract)

	assert.Len(t, h.itemsWithStatus(queue.StatusCompleted), 3)
	prompts := h.gen.calls()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "Jane Doe")
	assert.NotContains(t, prompts[0], "<h1>")
}

func TestRunCycle_GroupsByJobContext(t *testing.T) {
	h := newHarness(t, DefaultConfig(), testQueueConfig())
	h.enqueue(t, 3, queue.EnqueueOptions{JobContext: "Backend engineer"})
	h.enqueue(t, 3, queue.EnqueueOptions{JobContext: "Data analyst"})

	h.orch.runCycle(context.Background())

	prompts := h.gen.calls()
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[0], "Backend engineer")
	assert.NotContains(t, prompts[0], "Data analyst")
	assert.Contains(t, prompts[1], "Data analyst")
	assert.Len(t, h.itemsWithStatus(queue.StatusCompleted), 6)
}

func TestRunCycle_RateLimitReleasesItems(t *testing.T) {
	h := newHarness(t, DefaultConfig(), testQueueConfig())
	h.enqueue(t, 3, queue.EnqueueOptions{})
	h.limiter.setErr(ratelimit.ErrRateLimitExceeded)

	h.orch.runCycle(context.Background())

	queued := h.itemsWithStatus(queue.StatusQueued)
	require.Len(t, queued, 3)
	for _, it := range queued {
		assert.Zero(t, it.RetryCount)
	}
	assert.Empty(t, h.gen.calls())
	assert.Equal(t, []events.BatchEventKind{events.BatchAborted}, h.events.batchKinds())

	st := h.orch.Status()
	assert.Equal(t, h.clock.Now().Add(DefaultConfig().RateLimitBackoff), st.BackoffUntil)
	assert.Equal(t, int64(3), st.Processing.ItemsReleased)
	assert.Equal(t, int64(1), st.Processing.RateLimitHits)
	assert.Equal(t, int64(3), st.Queue.Stats.TotalReleased)

	// ticks are skipped inside the back-off window
	h.orch.lifecycle = lifecycleRunning
	h.limiter.setErr(nil)
	assert.False(t, h.orch.tick(context.Background()))

	h.clock.Advance(DefaultConfig().RateLimitBackoff + time.Second)
	assert.True(t, h.orch.tick(context.Background()))
	h.orch.wg.Wait()
	assert.Len(t, h.itemsWithStatus(queue.StatusCompleted), 3)
}

func TestDispatch_PromptFailureTakesNoPermit(t *testing.T) {
	h := newHarness(t, DefaultConfig(), testQueueConfig())

	err := h.orch.dispatch(context.Background(), "", scheduler.Batch{ID: "empty"})

	require.NoError(t, err)
	assert.Zero(t, h.limiter.Usage().RequestsToday)
	assert.Empty(t, h.gen.calls())
	assert.Equal(t, []events.BatchEventKind{events.BatchFailed}, h.events.batchKinds())
}

func TestRunCycle_OnePermitPerGenerateCall(t *testing.T) {
	cfg := DefaultConfig()
	h := newHarness(t, cfg, testQueueConfig())
	h.enqueue(t, 2, queue.EnqueueOptions{JobContext: "Backend engineer"})
	h.enqueue(t, 2, queue.EnqueueOptions{JobContext: "Data analyst"})
	h.gen.respond = func(context.Context, string) (string, error) {
		return "", errors.New("429 quota exceeded")
	}

	h.orch.runCycle(context.Background())

	assert.Len(t, h.gen.calls(), 2)
	assert.Equal(t, len(h.gen.calls()), h.limiter.Usage().RequestsToday)
}

func TestTick_SingleFlight(t *testing.T) {
	h := newHarness(t, DefaultConfig(), testQueueConfig())
	h.enqueue(t, 3, queue.EnqueueOptions{})
	h.orch.lifecycle = lifecycleRunning

	started := make(chan struct{})
	release := make(chan struct{})
	h.gen.respond = func(_ context.Context, prompt string) (string, error) {
		close(started)
		<-release
		return echoResponse(prompt), nil
	}

	require.True(t, h.orch.tick(context.Background()))
	<-started

	assert.Equal(t, StateAwaitingResponse, h.orch.State())
	assert.True(t, h.orch.Status().BatchInFlight)
	assert.False(t, h.orch.tick(context.Background()), "second tick must not start a concurrent batch")

	close(release)
	h.orch.wg.Wait()

	assert.Len(t, h.gen.calls(), 1)
	assert.Len(t, h.itemsWithStatus(queue.StatusCompleted), 3)
	assert.False(t, h.orch.busy.Load())
}

func TestTick_Gates(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
		want  bool
	}{
		{
			name:  "not started",
			setup: func(*harness) {},
			want:  false,
		},
		{
			name: "running",
			setup: func(h *harness) {
				h.orch.lifecycle = lifecycleRunning
			},
			want: true,
		},
		{
			name: "paused",
			setup: func(h *harness) {
				h.orch.lifecycle = lifecycleRunning
				h.orch.Pause()
			},
			want: false,
		},
		{
			name: "resumed",
			setup: func(h *harness) {
				h.orch.lifecycle = lifecycleRunning
				h.orch.Pause()
				h.orch.Resume()
			},
			want: true,
		},
		{
			name: "outside business hours",
			setup: func(h *harness) {
				h.orch.lifecycle = lifecycleRunning
				h.orch.cfg.BusinessHours = BusinessHours{Enabled: true, StartHour: 18, EndHour: 22}
			},
			want: false,
		},
		{
			name: "inside business hours",
			setup: func(h *harness) {
				h.orch.lifecycle = lifecycleRunning
				h.orch.cfg.BusinessHours = BusinessHours{Enabled: true, StartHour: 9, EndHour: 17}
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, DefaultConfig(), testQueueConfig())
			tt.setup(h)

			assert.Equal(t, tt.want, h.orch.tick(context.Background()))
			h.orch.wg.Wait()
		})
	}
}

func TestBusinessHours_Open(t *testing.T) {
	at := func(hour int) time.Time {
		return time.Date(2025, 3, 10, hour, 30, 0, 0, time.Local)
	}

	tests := []struct {
		name  string
		hours BusinessHours
		hour  int
		want  bool
	}{
		{name: "disabled", hours: BusinessHours{StartHour: 9, EndHour: 17}, hour: 3, want: true},
		{name: "start inclusive", hours: BusinessHours{Enabled: true, StartHour: 9, EndHour: 17}, hour: 9, want: true},
		{name: "end exclusive", hours: BusinessHours{Enabled: true, StartHour: 9, EndHour: 17}, hour: 17, want: false},
		{name: "before start", hours: BusinessHours{Enabled: true, StartHour: 9, EndHour: 17}, hour: 8, want: false},
		{name: "overnight late", hours: BusinessHours{Enabled: true, StartHour: 22, EndHour: 6}, hour: 23, want: true},
		{name: "overnight early", hours: BusinessHours{Enabled: true, StartHour: 22, EndHour: 6}, hour: 5, want: true},
		{name: "overnight midday", hours: BusinessHours{Enabled: true, StartHour: 22, EndHour: 6}, hour: 12, want: false},
		{name: "empty window", hours: BusinessHours{Enabled: true, StartHour: 8, EndHour: 8}, hour: 20, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.hours.Open(at(tt.hour)))
		})
	}
}

func TestStartStop_WaitsForInFlightBatch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	cfg.StopPollInterval = time.Millisecond
	h := newHarness(t, cfg, testQueueConfig())
	h.enqueue(t, 3, queue.EnqueueOptions{})

	release := make(chan struct{})
	h.gen.respond = func(_ context.Context, prompt string) (string, error) {
		<-release
		return echoResponse(prompt), nil
	}

	require.NoError(t, h.orch.Start(context.Background()))
	require.NoError(t, h.orch.Start(context.Background()), "start is idempotent")
	require.Eventually(t, h.orch.busy.Load, time.Second, time.Millisecond)

	stopped := make(chan error, 1)
	go func() {
		stopped <- h.orch.Stop(context.Background())
	}()

	require.Eventually(t, func() bool { return h.orch.State() == StateStopping }, time.Second, time.Millisecond)
	close(release)

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not return")
	}

	assert.Equal(t, StateStopped, h.orch.State())
	assert.Len(t, h.gen.calls(), 1)

	snap, err := h.store.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Completed, 3)
	assert.Zero(t, snap.InFlightCount)

	assert.ErrorIs(t, h.orch.Start(context.Background()), ErrStopped)
	require.NoError(t, h.orch.Stop(context.Background()), "stop is idempotent")
}

func TestStop_DeadlineReleasesInFlightItems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	cfg.StopPollInterval = time.Millisecond
	h := newHarness(t, cfg, testQueueConfig())
	h.enqueue(t, 3, queue.EnqueueOptions{})

	h.gen.respond = func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}

	require.NoError(t, h.orch.Start(context.Background()))
	require.Eventually(t, h.orch.busy.Load, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, h.orch.Stop(ctx))

	queued := h.itemsWithStatus(queue.StatusQueued)
	require.Len(t, queued, 3)
	for _, it := range queued {
		assert.Zero(t, it.RetryCount)
	}
	assert.Contains(t, h.events.batchKinds(), events.BatchAborted)

	snap, err := h.store.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Tiers[queue.PriorityNormal], 3)
}

func TestStop_BeforeStartPersists(t *testing.T) {
	h := newHarness(t, DefaultConfig(), testQueueConfig())
	h.enqueue(t, 2, queue.EnqueueOptions{})

	require.NoError(t, h.orch.Stop(context.Background()))

	snap, err := h.store.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Tiers[queue.PriorityNormal], 2)
	assert.Equal(t, StateStopped, h.orch.State())
}

func TestStop_PersistFailure(t *testing.T) {
	h := newHarness(t, DefaultConfig(), testQueueConfig())
	h.store.FailWith(errors.New("disk full"))

	err := h.orch.Stop(context.Background())
	assert.ErrorIs(t, err, queue.ErrPersistence)
}

func TestPauseResume_State(t *testing.T) {
	h := newHarness(t, DefaultConfig(), testQueueConfig())
	h.orch.lifecycle = lifecycleRunning

	h.orch.Pause()
	assert.Equal(t, StatePaused, h.orch.State())
	assert.True(t, h.orch.Status().Paused)

	h.orch.Resume()
	assert.Equal(t, StateIdle, h.orch.State())
}

func TestQueueResumes_PropagatesEnqueueErrors(t *testing.T) {
	qcfg := testQueueConfig()
	qcfg.MaxQueueSize = 2
	h := newHarness(t, DefaultConfig(), qcfg)

	_, err := h.orch.QueueResumes(context.Background(), []queue.NewItem{{SourceRef: "empty"}}, queue.EnqueueOptions{})
	assert.ErrorIs(t, err, queue.ErrValidation)

	items := []queue.NewItem{{Text: "one"}, {Text: "two"}, {Text: "three"}}
	_, err = h.orch.QueueResumes(context.Background(), items, queue.EnqueueOptions{})
	assert.ErrorIs(t, err, queue.ErrCapacityExceeded)
}

func TestExportStatistics(t *testing.T) {
	h := newHarness(t, DefaultConfig(), testQueueConfig())
	h.enqueue(t, 3, queue.EnqueueOptions{})
	h.orch.runCycle(context.Background())

	stats := h.orch.ExportStatistics()

	assert.Equal(t, int64(3), stats.Queue.TotalCompleted)
	assert.Equal(t, int64(1), stats.Processing.BatchesDispatched)
	assert.Equal(t, int64(1), stats.Scheduler.BatchesCreated)
	assert.NotNil(t, stats.Recommendations)
	assert.Empty(t, stats.Recommendations)
	assert.Equal(t, h.clock.Now(), stats.ExportedAt)
}

func TestProcessingError(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name string
		err  *ProcessingError
		want string
	}{
		{name: "batch", err: &ProcessingError{Stage: StageGenerate, BatchID: "b1", Err: cause}, want: "generate failed for batch b1: boom"},
		{name: "item", err: &ProcessingError{Stage: StageExtract, ItemID: "i1", Err: cause}, want: "extract failed for item i1: boom"},
		{name: "bare", err: &ProcessingError{Stage: StageSchedule, Err: cause}, want: "schedule failed: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("cycle: %w", tt.err)
			assert.Equal(t, tt.want, tt.err.Error())
			assert.ErrorIs(t, wrapped, cause)

			var pe *ProcessingError
			require.True(t, errors.As(wrapped, &pe))
			assert.Equal(t, tt.err.Stage, pe.Stage)
		})
	}
}

func TestWithDefaults(t *testing.T) {
	cfg := withDefaults(Config{BatchSize: 5})
	def := DefaultConfig()

	assert.Equal(t, 5, cfg.BatchSize)
	assert.Equal(t, def.PollInterval, cfg.PollInterval)
	assert.Equal(t, def.RequestTimeout, cfg.RequestTimeout)
	assert.Equal(t, def.StopPollInterval, cfg.StopPollInterval)
}
