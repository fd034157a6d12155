package router

import (
	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/resume-pipeline/internal/api/handler"
)

func newEngine(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	return r
}

// SetupWorkerRouter configures the worker service's producer and monitoring
// routes
func SetupWorkerRouter(deps *handler.Dependencies) *gin.Engine {
	r := newEngine(deps)
	h := handler.NewPipelineHandler(deps)

	r.GET("/health", h.Health)

	v1 := r.Group("/api/v1")
	{
		// POST /api/v1/resumes - Queue resumes for processing
		v1.POST("/resumes", h.SubmitResumes)

		q := v1.Group("/queue")
		{
			// GET /api/v1/queue/status - Tier sizes, history and counters
			q.GET("/status", h.QueueStatus)

			// GET /api/v1/queue/items - Filtered, paginated item listing
			q.GET("/items", h.ListItems)
		}

		// GET /api/v1/stats - Full statistics export
		v1.GET("/stats", h.Statistics)

		p := v1.Group("/processor")
		{
			p.POST("/pause", h.Pause)
			p.POST("/resume", h.Resume)
		}
	}

	return r
}

// SetupGatewayRouter configures the api service, which forwards submissions
// to the intake queue
func SetupGatewayRouter(deps *handler.Dependencies) *gin.Engine {
	r := newEngine(deps)
	h := handler.NewGatewayHandler(deps)

	r.GET("/health", h.Health)

	v1 := r.Group("/api/v1")
	{
		// POST /api/v1/resumes - Publish resumes to the intake queue
		v1.POST("/resumes", h.SubmitRequest)
	}

	return r
}
