// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package api

import (
	"time"

	"github.com/soothill/printer-power-manager/pkg/interfaces"
	"github.com/soothill/printer-power-manager/power"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// CommandRequest is the body of POST /api/v1/command.
type CommandRequest struct {
	Command string `json:"command" binding:"required"`
}

// SettingsUpdate is the body of PUT /api/v1/settings. Absent fields are left unchanged.
type SettingsUpdate struct {
	TimeoutMinutes         *int    `json:"timeoutMinutes" binding:"omitempty,min=1,max=1440"`
	SystemPowerupCommand   *string `json:"systemPowerupCommand" binding:"omitempty,max=1024"`
	SystemPowerdownCommand *string `json:"systemPowerdownCommand" binding:"omitempty,max=1024"`
	PowerManagementEnabled *bool   `json:"powerManagementEnabled"`
}

func (u SettingsUpdate) values() map[string]any {
	v := make(map[string]any, 4)
	if u.TimeoutMinutes != nil {
		v[interfaces.SettingTimeoutMinutes] = *u.TimeoutMinutes
	}
	if u.SystemPowerupCommand != nil {
		v[interfaces.SettingPowerupCommand] = *u.SystemPowerupCommand
	}
	if u.SystemPowerdownCommand != nil {
		v[interfaces.SettingPowerdownCommand] = *u.SystemPowerdownCommand
	}
	if u.PowerManagementEnabled != nil {
		v[interfaces.SettingPowerManagementEnabled] = *u.PowerManagementEnabled
	}
	return v
}

// SettingResponse answers GET /api/v1/settings/:key.
type SettingResponse struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// EventAccepted answers POST /api/v1/events/:name.
type EventAccepted struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TransitionResponse answers GET /api/v1/history/latest.
type TransitionResponse struct {
	Time    time.Time `json:"time"`
	Kind    string    `json:"kind"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Source  string    `json:"source,omitempty"`
	Command string    `json:"command,omitempty"`
}

func newTransitionResponse(t *interfaces.Transition) TransitionResponse {
	return TransitionResponse{
		Time:    t.Time,
		Kind:    t.Kind,
		From:    power.State(t.From).String(),
		To:      power.State(t.To).String(),
		Source:  t.Source,
		Command: t.Command,
	}
}

// HealthResponse answers /health and /ready.
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
