// Package ratelimit guards calls to the generation service with a per-minute
// token bucket and a per-day ceiling.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimitExceeded is returned by Wait once the daily quota is spent
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// Config sets the quotas. Zero disables the corresponding limit.
type Config struct {
	RequestsPerMinute int
	Burst             int
	RequestsPerDay    int
}

// Usage is a snapshot of quota consumption
type Usage struct {
	RequestsToday     int       `json:"requests_today"`
	RequestsPerDay    int       `json:"requests_per_day"`
	RequestsPerMinute int       `json:"requests_per_minute"`
	DayResetsAt       time.Time `json:"day_resets_at"`
}

// Limiter is safe for concurrent use
type Limiter struct {
	cfg     Config
	limiter *rate.Limiter
	now     func() time.Time

	mu    sync.Mutex
	day   time.Time
	count int
}

// Option customises a Limiter
type Option func(*Limiter)

// WithClock replaces time.Now for the daily counter
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a Limiter
func New(cfg Config, opts ...Option) *Limiter {
	l := &Limiter{cfg: cfg, now: time.Now}
	if cfg.RequestsPerMinute > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), burst)
	}
	for _, opt := range opts {
		opt(l)
	}
	l.day = startOfDay(l.now())
	return l
}

// Wait blocks until a request may be sent. It returns ErrRateLimitExceeded
// without waiting when the daily quota is spent, and ctx.Err() if ctx ends first.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	l.rollLocked()
	if l.cfg.RequestsPerDay > 0 && l.count >= l.cfg.RequestsPerDay {
		resets := l.day.AddDate(0, 0, 1)
		l.mu.Unlock()
		return fmt.Errorf("%w: %d requests per day used, resets at %s",
			ErrRateLimitExceeded, l.cfg.RequestsPerDay, resets.Format(time.RFC3339))
	}
	l.count++
	l.mu.Unlock()

	if l.limiter == nil {
		return nil
	}
	if err := l.limiter.Wait(ctx); err != nil {
		l.mu.Lock()
		if l.count > 0 {
			l.count--
		}
		l.mu.Unlock()
		return err
	}
	return nil
}

// Usage reports the current consumption
func (l *Limiter) Usage() Usage {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()
	return Usage{
		RequestsToday:     l.count,
		RequestsPerDay:    l.cfg.RequestsPerDay,
		RequestsPerMinute: l.cfg.RequestsPerMinute,
		DayResetsAt:       l.day.AddDate(0, 0, 1),
	}
}

func (l *Limiter) rollLocked() {
	if today := startOfDay(l.now()); !today.Equal(l.day) {
		l.day = today
		l.count = 0
	}
}

// startOfDay returns local midnight of t's day
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
