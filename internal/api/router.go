package api

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/charlesng35/sectionlock/internal/app"
	iauth "github.com/charlesng35/sectionlock/internal/auth"
	"github.com/charlesng35/sectionlock/internal/collab"
	"github.com/charlesng35/sectionlock/internal/handlers"
	"github.com/charlesng35/sectionlock/internal/history"
	"github.com/charlesng35/sectionlock/internal/middleware"
	"github.com/charlesng35/sectionlock/internal/monitoring"
	"github.com/charlesng35/sectionlock/internal/realtime"
)

// Dependencies groups the services the HTTP surface is built from.
type Dependencies struct {
	Config   *app.Config
	JWT      *iauth.JWTService
	Manager  *collab.Manager
	Realtime *realtime.Server
	History  *history.Store
	Health   *monitoring.HealthManager
}

func (d Dependencies) validate() error {
	if d.Config == nil {
		return fmt.Errorf("config must be provided")
	}
	if d.JWT == nil {
		return fmt.Errorf("jwt service must be provided")
	}
	if d.Manager == nil {
		return fmt.Errorf("collab manager must be provided")
	}
	if d.Realtime == nil {
		return fmt.Errorf("realtime server must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	r := gin.New()
	// Match on the escaped path so document ids may contain '/'.
	r.UseRawPath = true
	r.UnescapePathValues = true

	// Global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())

	apiLimit, connectLimit := rateLimiters(deps.Config.Server.RateLimit)

	registerHealthRoutes(r, deps.Config, deps.Health)
	registerCollabRoutes(r, deps.JWT, handlers.NewCollabHandler(deps.Realtime), connectLimit)

	api := r.Group("/api")
	api.Use(apiLimit)
	api.Use(middleware.Auth(deps.JWT))
	registerDocumentRoutes(api, handlers.NewDocumentHandler(deps.Manager, deps.History))

	if prom := deps.Config.Monitoring.Prometheus; prom.Enabled {
		endpoint := strings.TrimSpace(prom.Endpoint)
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}

// rateLimiters returns the REST and handshake limiters sharing one counter store.
func rateLimiters(cfg app.RateLimitConfig) (api, connect gin.HandlerFunc) {
	var store middleware.RateStore
	if cfg.Enabled {
		store = middleware.NewMemoryRateStore()
	}
	api = middleware.RateLimit(store, "api", cfg.API.Requests, cfg.API.Window)
	connect = middleware.RateLimit(store, "connect", cfg.Connect.Requests, cfg.Connect.Window)
	return api, connect
}
