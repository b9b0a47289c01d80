package router

import (
	"github.com/cuongbtq/rues-api/internal/api/handler"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, keys KeyChecker) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(MetricsMiddleware())
	r.Use(CORSMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	txnHandler := handler.NewTransactionHandler(deps)
	authHandler := handler.NewAuthHandler(deps)
	healthHandler := handler.NewHealthHandler(deps)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", healthHandler.Health)
		v1.GET("/ready", healthHandler.Ready)
		v1.POST("/auth/login", authHandler.Login)

		protected := v1.Group("")
		protected.Use(APIKeyMiddleware(keys))
		{
			// POST /api/v1/process-data - Enqueue a transaction
			protected.POST("/process-data", txnHandler.ProcessData)

			// POST /api/v1/update-status - Set a transaction's status by id or nit
			protected.POST("/update-status", txnHandler.UpdateStatus)

			// GET /api/v1/next - Claim the oldest pending transaction
			protected.GET("/next", txnHandler.NextTransaction)
		}
	}

	return r
}
