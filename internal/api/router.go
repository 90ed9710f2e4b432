package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/gradeflow/internal/api/handler"
	"github.com/timmy/gradeflow/internal/api/middleware"
	"github.com/timmy/gradeflow/internal/config"
	"github.com/timmy/gradeflow/internal/logger"
	"github.com/timmy/gradeflow/internal/progress"
)

// SetupRouter configures the Gin router with all routes.
// Parameters:
//   - controller: grading progress controller for this server's session.
//   - runs: run history store; nil when history is disabled.
//   - cfg: server configuration (mode, CORS).
//   - log: base logger for request logging.
// Returns:
//   - *gin.Engine: configured router.
func SetupRouter(
	controller *progress.Controller,
	runs handler.RunStore,
	cfg *config.ServerConfig,
	log *logger.Logger,
) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(cfg.CORS))

	healthHandler := handler.NewHealthHandler(runs != nil)
	gradingHandler := handler.NewGradingHandler(controller)
	runsHandler := handler.NewRunsHandler(runs)

	r.GET("/health", healthHandler.Health)

	v1 := r.Group("/api/v1")
	{
		grading := v1.Group("/grading")
		grading.POST("/start", gradingHandler.Start)
		grading.POST("/cancel", gradingHandler.Cancel)
		grading.POST("/close", gradingHandler.Close)
		grading.GET("/progress", gradingHandler.Progress)
		grading.GET("/events", gradingHandler.Events)

		grading.GET("/runs", runsHandler.ListRuns)
		grading.GET("/runs/:id", runsHandler.GetRun)
	}

	return r
}
