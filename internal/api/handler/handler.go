package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/resume-pipeline/internal/intake"
	"github.com/cuongbtq/resume-pipeline/internal/orchestrator"
	"github.com/cuongbtq/resume-pipeline/internal/queue"
)

// Pipeline is the orchestrator surface the worker service exposes over HTTP
type Pipeline interface {
	QueueResumes(ctx context.Context, items []queue.NewItem, opts queue.EnqueueOptions) ([]string, error)
	Status() orchestrator.Status
	QueueDetails(f queue.Filter) []queue.Item
	ExportStatistics() orchestrator.Statistics
	HealthCheck() orchestrator.Health
	Pause()
	Resume()
}

// RequestSubmitter publishes intake requests for the worker service
type RequestSubmitter interface {
	Submit(ctx context.Context, req intake.Request) error
}

// BrokerStatus reports whether the broker connection is usable
type BrokerStatus interface {
	IsConnected() bool
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Pipeline  Pipeline
	Submitter RequestSubmitter
	Broker    BrokerStatus
}

// PipelineHandler serves the worker service's producer and monitoring routes
type PipelineHandler struct {
	logger   *slog.Logger
	pipeline Pipeline
}

// NewPipelineHandler creates a new PipelineHandler instance
func NewPipelineHandler(deps *Dependencies) *PipelineHandler {
	return &PipelineHandler{
		logger:   deps.Logger,
		pipeline: deps.Pipeline,
	}
}

// GatewayHandler serves the api service, which forwards submissions to the
// intake queue
type GatewayHandler struct {
	logger    *slog.Logger
	submitter RequestSubmitter
	broker    BrokerStatus
}

// NewGatewayHandler creates a new GatewayHandler instance
func NewGatewayHandler(deps *Dependencies) *GatewayHandler {
	return &GatewayHandler{
		logger:    deps.Logger,
		submitter: deps.Submitter,
		broker:    deps.Broker,
	}
}
