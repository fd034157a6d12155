package orchestrator

import (
	"time"
)

// Config controls the processing loop
type Config struct {
	PollInterval     time.Duration
	BatchSize        int
	RequestTimeout   time.Duration
	RateLimitBackoff time.Duration
	HealthInterval   time.Duration
	StopPollInterval time.Duration
	PersistTimeout   time.Duration
	BusinessHours    BusinessHours
	Health           HealthThresholds
}

// BusinessHours restricts dispatch to [StartHour, EndHour) local time. A
// window whose end is before its start wraps past midnight.
type BusinessHours struct {
	Enabled   bool
	StartHour int
	EndHour   int
}

// HealthThresholds are the limits the health check compares against
type HealthThresholds struct {
	QueueDepthThreshold  int
	MinThroughputPerHour int
	MaxFailureRate       float64
}

// DefaultConfig returns the loop settings used when nothing is configured
func DefaultConfig() Config {
	return Config{
		PollInterval:     10 * time.Second,
		BatchSize:        30,
		RequestTimeout:   2 * time.Minute,
		RateLimitBackoff: 5 * time.Minute,
		HealthInterval:   time.Minute,
		StopPollInterval: 500 * time.Millisecond,
		PersistTimeout:   10 * time.Second,
		BusinessHours: BusinessHours{
			StartHour: 9,
			EndHour:   17,
		},
		Health: HealthThresholds{
			QueueDepthThreshold:  500,
			MinThroughputPerHour: 10,
			MaxFailureRate:       0.2,
		},
	}
}

// Open reports whether hour falls inside the window. A disabled gate or an
// empty window (start == end) is always open.
func (b BusinessHours) Open(t time.Time) bool {
	if !b.Enabled || b.StartHour == b.EndHour {
		return true
	}
	h := t.Hour()
	if b.StartHour < b.EndHour {
		return h >= b.StartHour && h < b.EndHour
	}
	return h >= b.StartHour || h < b.EndHour
}
