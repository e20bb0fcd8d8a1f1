// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package api serves the power manager's HTTP interface: commands, status,
// settings, host event webhooks, the notification websocket, power history,
// metrics and health probes.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/soothill/printer-power-manager/pkg/interfaces"
	"github.com/soothill/printer-power-manager/pkg/logger"
	"github.com/soothill/printer-power-manager/power"
)

const (
	// PathPrefix is the base path of the versioned API.
	PathPrefix = "/api/v1"
	// WebSocketPath is the notification websocket endpoint.
	WebSocketPath = PathPrefix + "/ws"
	// PluginPath accepts the same commands as PathPrefix+"/command" for
	// clients written against the OctoPrint plugin API.
	PluginPath = "/api/plugin/powermanager"

	// EventSourceAPI marks events published through the webhook endpoint.
	EventSourceAPI = "api"
)

// PowerController is the part of power.Controller the API drives.
type PowerController interface {
	Command(ctx context.Context, name string) (any, error)
	Status(ctx context.Context) (power.Status, error)
}

// SettingsStore is a settings store that can also look up a single key.
type SettingsStore interface {
	interfaces.SettingsStore
	Lookup(key string) (any, error)
}

// Deps are the components behind the routes. History and WebSocket are optional.
type Deps struct {
	Controller     PowerController
	Settings       SettingsStore
	Bus            interfaces.EventBus
	History        interfaces.HistoryStore
	WebSocket      http.HandlerFunc
	AllowedOrigins []string
}

// Router holds the Gin engine and dependencies
type Router struct {
	engine *gin.Engine
	deps   Deps
	log    zerolog.Logger
}

// NewRouter creates the API router.
func NewRouter(deps Deps) *Router {
	gin.SetMode(gin.ReleaseMode)

	r := &Router{
		engine: gin.New(),
		deps:   deps,
		log:    logger.Component("api"),
	}
	SetupMiddleware(r.engine, r.log, deps.AllowedOrigins)
	r.setupRoutes()
	return r
}

// Handler returns the router as an http.Handler.
func (r *Router) Handler() http.Handler {
	return r.engine
}

func (r *Router) setupRoutes() {
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.engine.GET("/health", RateLimit(rate.NewLimiter(10, 20), r.log), r.health)
	r.engine.GET("/ready", RateLimit(rate.NewLimiter(10, 20), r.log), r.ready)

	r.engine.POST(PluginPath, r.command)

	v1 := r.engine.Group(PathPrefix)
	{
		v1.POST("/command", r.command)
		v1.GET("/status", r.status)

		settings := v1.Group("/settings")
		{
			settings.GET("", r.getSettings)
			settings.PUT("", r.putSettings)
			settings.GET("/:key", r.getSetting)
		}

		v1.POST("/events/:name", r.publishEvent)
		v1.GET("/history/latest", r.latestTransition)

		if r.deps.WebSocket != nil {
			v1.GET("/ws", gin.WrapF(r.deps.WebSocket))
		}
	}
}
