// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package interfaces defines abstract interfaces for the collaborators of the
// power controller. This package promotes loose coupling and testability by
// allowing dependency injection and easy mocking in tests.
package interfaces

import (
	"context"
	"time"
)

// Transition kinds recorded to history.
const (
	TransitionPowerState   = "power_state"
	TransitionTimerExpired = "timer_expired"
	TransitionDispatch     = "dispatch"
)

// Transition is one entry of the power history.
// States use the PowerState wire values (0=off, 1=on, 99=unknown).
type Transition struct {
	Time    time.Time
	Kind    string
	From    int
	To      int
	Source  string // What caused it (event name, command, "timer")
	Command string // Shell command, for dispatch entries
}

// EventRecorder receives power history entries. Implementations must not block.
type EventRecorder interface {
	RecordTransition(t Transition)
}

// HistoryStore defines the interface for power history persistence.
type HistoryStore interface {
	EventRecorder

	// QueryLatestTransition retrieves the most recent recorded transition
	QueryLatestTransition(ctx context.Context) (*Transition, error)

	// Health checks if the storage backend is healthy
	Health(ctx context.Context) error

	// Close flushes pending writes and shuts down the storage connection
	Close()
}
