// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package interfaces

import (
	"context"
)

// Notification message types pushed to observers.
const (
	MessageTimeout     = "timeout"
	MessageCancel      = "cancel"
	MessagePowerUpdate = "pstate_update"
)

// Message is a push notification to observers.
// Pointer fields keep zero values on the wire when they are set.
type Message struct {
	Type         string `json:"type"`
	TimeoutValue *int   `json:"timeout_value,omitempty"`
	PState       *int   `json:"pstate,omitempty"`
}

// TimeoutMessage builds a countdown progress message.
func TimeoutMessage(remaining int) Message {
	return Message{Type: MessageTimeout, TimeoutValue: &remaining}
}

// CancelMessage builds a countdown cancellation message.
func CancelMessage() Message {
	return Message{Type: MessageCancel}
}

// PowerStateMessage builds a power state update message.
func PowerStateMessage(state int) Message {
	return Message{Type: MessagePowerUpdate, PState: &state}
}

// Notifier pushes messages to connected observers. Notify must not block.
type Notifier interface {
	Notify(msg Message)
}

// Alerter defines the interface for sending operator alerts.
type Alerter interface {
	// SendAlert sends a notification with the given level, title, and message.
	SendAlert(ctx context.Context, level, title, message string) error
	// IsEnabled returns true if the alerter is configured and enabled.
	IsEnabled() bool
}
