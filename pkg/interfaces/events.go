// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package interfaces

import (
	"time"
)

// Event names understood by the power controller.
const (
	EventPrintStarted    = "PrintStarted"
	EventPrintDone       = "PrintDone"
	EventPoweredOff      = "PoweredOff"
	EventPoweredOn       = "PoweredOn"
	EventSettingsUpdated = "SettingsUpdated"
	EventStartup         = "Startup"
)

// KnownEvents lists every event name the controller subscribes to.
var KnownEvents = []string{
	EventPrintStarted,
	EventPrintDone,
	EventPoweredOff,
	EventPoweredOn,
	EventSettingsUpdated,
	EventStartup,
}

// IsKnownEvent reports whether name is one of KnownEvents.
func IsKnownEvent(name string) bool {
	for _, e := range KnownEvents {
		if e == name {
			return true
		}
	}
	return false
}

// Event is a named occurrence delivered over the event bus.
type Event struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Payload map[string]any `json:"payload,omitempty"`
	Time    time.Time      `json:"time"`
	Source  string         `json:"source,omitempty"`
}

// EventBus delivers events to subscribers. Publish must not block on slow subscribers.
type EventBus interface {
	Publish(ev Event)

	// Subscribe returns a channel receiving the named events (all events when
	// no names are given) and a function that ends the subscription.
	Subscribe(names ...string) (<-chan Event, func())
}
