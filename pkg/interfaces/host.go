// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package interfaces

import (
	"context"
)

// Setting keys.
const (
	SettingTimeoutMinutes         = "timeoutMinutes"
	SettingPowerupCommand         = "systemPowerupCommand"
	SettingPowerdownCommand       = "systemPowerdownCommand"
	SettingPowerManagementEnabled = "powerManagementEnabled"

	// GlobalShutdownCommand is the host-wide slot read by the power-down action.
	GlobalShutdownCommand = "server.commands.systemShutdownCommand"
)

// SettingsStore provides the controller's local settings and the host's global settings.
type SettingsStore interface {
	GetInt(key string) int
	GetString(key string) string
	GetBool(key string) bool
	Set(key string, value any) error

	GlobalGetString(key string) string
	GlobalSet(key string, value any) error

	// Save persists pending changes.
	Save() error

	// Snapshot returns the local settings as a map.
	Snapshot() map[string]any
}

// CommandExecutor starts shell commands. Dispatch reports whether the command
// could be started; it does not wait for completion.
type CommandExecutor interface {
	Dispatch(command string) error
}

// StatusProbe runs the hardware status command and returns its raw output.
type StatusProbe interface {
	Probe(ctx context.Context) (string, error)
}

// PrinterComm controls the host's printer communication link.
type PrinterComm interface {
	// ResetConnection drops the link to a printer that has lost power.
	ResetConnection()

	// MarkOperational signals that the printer is powered and may be connected.
	MarkOperational()
}
