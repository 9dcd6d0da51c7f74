package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/sectionlock/internal/app"
	"github.com/charlesng35/sectionlock/internal/handlers"
	"github.com/charlesng35/sectionlock/internal/monitoring"
)

func registerHealthRoutes(r *gin.Engine, cfg *app.Config, manager *monitoring.HealthManager) {
	if !cfg.Monitoring.Health.Enabled {
		r.GET("/health", handlers.HealthDisabled)
		r.GET("/health/live", handlers.HealthDisabled)
		r.GET("/health/ready", handlers.HealthDisabled)
		return
	}

	handler := handlers.NewHealthHandler(manager)
	r.GET("/health", handler.Liveness)
	r.GET("/health/live", handler.Liveness)
	r.GET("/health/ready", handler.Readiness)
}
