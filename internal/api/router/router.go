package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ndquangr/txingest/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		if deps.Healthz != nil {
			if err := deps.Healthz(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status": "unhealthy",
					"error":  err.Error(),
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "txingest-api",
		})
	})

	jobHandler := handler.NewJobHandler(deps)
	userHandler := handler.NewUserHandler(deps)
	wsHandler := handler.NewWSHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		v1.POST("/users", userHandler.CreateUser)

		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Upload a CSV and create a job
			jobs.POST("", jobHandler.CreateJob)

			// POST /api/v1/jobs/:job_id/start - Start processing
			jobs.POST("/:job_id/start", jobHandler.StartJob)

			// GET /api/v1/jobs/:job_id - Job status and counters
			jobs.GET("/:job_id", jobHandler.GetJob)

			// GET /api/v1/jobs/:job_id/transactions - Paged rows
			jobs.GET("/:job_id/transactions", jobHandler.ListTransactions)
		}
	}

	// Live progress stream, one socket per tab
	r.GET("/ws/progress/:user_id", wsHandler.SubscribeProgress)

	return r
}
