// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/soothill/printer-power-manager/eventbus"
	"github.com/soothill/printer-power-manager/pkg/errors"
	"github.com/soothill/printer-power-manager/pkg/interfaces"
)

const (
	requestTimeout        = 10 * time.Second
	readinessCheckTimeout = 2 * time.Second
)

// writeError maps err onto a status code and an ErrorResponse.
func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, errors.ErrUnknownCommand):
		status, code = http.StatusBadRequest, "unknown_command"
	case errors.Is(err, errors.ErrUnknownEvent):
		status, code = http.StatusBadRequest, "unknown_event"
	case errors.IsValidationError(err):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, errors.ErrSettingNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, errors.ErrControllerStopped):
		status, code = http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, errors.ErrNotConfigured):
		status, code = http.StatusServiceUnavailable, "not_configured"
	case errors.Is(err, errors.ErrCircuitBreakerOpen):
		status, code = http.StatusServiceUnavailable, "backend_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, "timeout"
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: code, Message: err.Error()})
}

func requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), requestTimeout)
}

// command handles POST /api/v1/command and the plugin path.
func (r *Router) command(c *gin.Context) {
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.NewValidationError("command", nil, err.Error()))
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()
	result, err := r.deps.Controller.Command(ctx, req.Command)
	if err != nil {
		writeError(c, err)
		return
	}
	if result == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, result)
}

// status handles GET /api/v1/status
func (r *Router) status(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()
	st, err := r.deps.Controller.Status(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (r *Router) getSettings(c *gin.Context) {
	c.JSON(http.StatusOK, r.deps.Settings.Snapshot())
}

func (r *Router) getSetting(c *gin.Context) {
	key := c.Param("key")
	v, err := r.deps.Settings.Lookup(key)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, SettingResponse{Key: key, Value: v})
}

// putSettings stores the supplied settings, saves them and announces the
// change on the bus so the controller picks it up.
func (r *Router) putSettings(c *gin.Context) {
	var update SettingsUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		writeError(c, errors.NewValidationError("settings", nil, err.Error()))
		return
	}
	values := update.values()
	if len(values) == 0 {
		writeError(c, errors.NewValidationError("settings", nil, "no settings supplied"))
		return
	}

	for key, v := range values {
		if err := r.deps.Settings.Set(key, v); err != nil {
			writeError(c, err)
			return
		}
	}
	if err := r.deps.Settings.Save(); err != nil {
		writeError(c, err)
		return
	}

	r.deps.Bus.Publish(eventbus.NewEvent(interfaces.EventSettingsUpdated, EventSourceAPI, nil))
	r.log.Info().Int("changed", len(values)).Msg("Settings updated")
	c.JSON(http.StatusOK, r.deps.Settings.Snapshot())
}

// publishEvent handles POST /api/v1/events/:name. The optional JSON body
// becomes the event payload.
func (r *Router) publishEvent(c *gin.Context) {
	name := c.Param("name")
	if !interfaces.IsKnownEvent(name) {
		writeError(c, fmt.Errorf("%w: %q", errors.ErrUnknownEvent, name))
		return
	}

	var payload map[string]any
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			writeError(c, errors.NewValidationError("payload", nil, err.Error()))
			return
		}
	}

	ev := eventbus.NewEvent(name, EventSourceAPI, payload)
	r.deps.Bus.Publish(ev)
	c.JSON(http.StatusAccepted, EventAccepted{ID: ev.ID, Name: ev.Name})
}

// latestTransition handles GET /api/v1/history/latest
func (r *Router) latestTransition(c *gin.Context) {
	if r.deps.History == nil {
		writeError(c, fmt.Errorf("power history: %w", errors.ErrNotConfigured))
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()
	t, err := r.deps.History.QueryLatestTransition(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	if t == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "no transitions recorded"})
		return
	}
	c.JSON(http.StatusOK, newTransitionResponse(t))
}

func (r *Router) health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", Timestamp: time.Now()})
}

// ready reports 503 when the controller has stopped or configured history
// storage is unreachable.
func (r *Router) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessCheckTimeout)
	defer cancel()

	checks := map[string]string{"controller": "ok"}
	status := http.StatusOK
	if _, err := r.deps.Controller.Status(ctx); err != nil {
		checks["controller"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if r.deps.History != nil {
		checks["history"] = "ok"
		if err := r.deps.History.Health(ctx); err != nil {
			r.log.Warn().Err(err).Msg("Readiness check failed: history storage unhealthy")
			checks["history"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}

	resp := HealthResponse{Status: "ready", Checks: checks, Timestamp: time.Now()}
	if status != http.StatusOK {
		resp.Status = "not_ready"
	}
	c.JSON(status, resp)
}
