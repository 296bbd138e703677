package router

import (
	"net/http"
	"time"

	apphttp "chatflow_backend/internal/http"
	"chatflow_backend/internal/queue"
	"chatflow_backend/platform/httpkit"
	"chatflow_backend/platform/metrics"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// New builds the engine: shared middleware, health and metrics endpoints,
// queue inspection and every module's routes.
func New(app *apphttp.App) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(httpkit.RequestLogger(app.Logger))
	engine.Use(httpkit.SecurityHeaders())

	if origins := app.Config.GetCORSOrigins(); len(origins) > 0 {
		engine.Use(cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-Id"},
			ExposeHeaders:    []string{"X-Request-Id"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	engine.GET("/api/health", healthHandler(app))
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	authMiddleware := httpkit.AuthRequired(app.Config)
	v1 := engine.Group("/api/v1")
	protected := v1.Group("")
	protected.Use(authMiddleware)

	if app.Queues != nil {
		protected.GET("/queues/stats", func(c *gin.Context) {
			httpkit.OK(c, app.Queues.GetQueueStats(c.Request.Context()))
		})
		protected.GET("/jobs/:id", jobStatusHandler(app.Queues))
	}

	rc := &apphttp.RouterContext{
		Engine:         engine,
		V1:             v1,
		Protected:      protected,
		Config:         app.Config,
		AuthMiddleware: authMiddleware,
	}
	for _, module := range app.Modules {
		module.RegisterRoutes(rc)
		app.Logger.Debug("module routes registered", "module", module.Name())
	}

	return engine
}

func healthHandler(app *apphttp.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{"status": "ok", "database": "ok", "queue": "disabled"}
		status := http.StatusOK
		if app.Health != nil {
			if err := app.Health.Ping(c.Request.Context()); err != nil {
				body["status"] = "degraded"
				body["database"] = "unreachable"
				status = http.StatusServiceUnavailable
			}
		}
		if app.Queues != nil {
			// Webhooks are still processed synchronously without Redis.
			body["queue"] = "ok"
			if !app.Queues.HealthCheck(c.Request.Context()) {
				body["queue"] = "unreachable"
				if status == http.StatusOK {
					body["status"] = "degraded"
				}
			}
		}
		httpkit.JSON(c, status, body)
	}
}

func jobStatusHandler(queues apphttp.QueueInspector) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("id")
		status, err := queues.JobStatus(c.Request.Context(), jobID)
		if httpkit.HandleError(c, err) {
			return
		}
		if status == queue.StatusUnknown {
			httpkit.Error(c, http.StatusNotFound, "job not found", nil)
			return
		}
		httpkit.OK(c, gin.H{"id": jobID, "status": status})
	}
}
