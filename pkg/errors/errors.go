// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package errors provides structured error types for the printer power manager.
//
// Each type carries the operation that failed and the underlying error, supports
// errors.Is/errors.As through Unwrap, and has an Is* helper for quick checks.
//
// # Example Usage
//
//	err := errors.NewDispatchError("power down", "gpio write 7 0", execErr)
//	if errors.IsDispatchError(err) {
//	    logger.Error().Err(err).Msg("power command failed")
//	}
//
//	var dispatchErr *errors.DispatchError
//	if errors.As(err, &dispatchErr) {
//	    logger.Error().Str("action", dispatchErr.Action).Msg("dispatch failed")
//	}
package errors

import (
	"errors"
	"fmt"
)

// As is errors.As, re-exported so callers do not need both packages.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Is is errors.Is, re-exported so callers do not need both packages.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// DispatchError represents a failure to start an external power command.
type DispatchError struct {
	Action  string // Power action (e.g., "power up", "power down")
	Command string // Shell command that was dispatched
	Err     error  // Underlying error
}

func (e *DispatchError) Error() string {
	if e.Command != "" {
		return fmt.Sprintf("dispatch %s (command=%q): %v", e.Action, e.Command, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("dispatch %s: %v", e.Action, e.Err)
	}
	return fmt.Sprintf("dispatch %s failed", e.Action)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// NewDispatchError creates a new dispatch error.
func NewDispatchError(action, command string, err error) *DispatchError {
	return &DispatchError{Action: action, Command: command, Err: err}
}

// IsDispatchError checks if an error is a DispatchError.
func IsDispatchError(err error) bool {
	var de *DispatchError
	return errors.As(err, &de)
}

// ProbeError represents a failure to read the hardware power status.
type ProbeError struct {
	Command string // Status command that was run
	Err     error  // Underlying error
}

func (e *ProbeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("status probe %q: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("status probe %q failed", e.Command)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// NewProbeError creates a new probe error.
func NewProbeError(command string, err error) *ProbeError {
	return &ProbeError{Command: command, Err: err}
}

// IsProbeError checks if an error is a ProbeError.
func IsProbeError(err error) bool {
	var pe *ProbeError
	return errors.As(err, &pe)
}

// SettingsError represents an error reading or persisting a setting.
type SettingsError struct {
	Op  string // Operation being performed (e.g., "get", "save")
	Key string // Setting key (if applicable)
	Err error  // Underlying error
}

func (e *SettingsError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("settings %s (key=%s): %v", e.Op, e.Key, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("settings %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("settings %s failed", e.Op)
}

func (e *SettingsError) Unwrap() error {
	return e.Err
}

// NewSettingsError creates a new settings error.
func NewSettingsError(op, key string, err error) *SettingsError {
	return &SettingsError{Op: op, Key: key, Err: err}
}

// IsSettingsError checks if an error is a SettingsError.
func IsSettingsError(err error) bool {
	var se *SettingsError
	return errors.As(err, &se)
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field string // Configuration field that caused the error
	Value string // Invalid value (optional, may be redacted for sensitive fields)
	Err   error  // Underlying error or description
}

func (e *ConfigError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("config error in field %q (value=%q): %v", e.Field, e.Value, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("config error in field %q: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("config error in field %q", e.Field)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new configuration error.
func NewConfigError(field string, value string, err error) *ConfigError {
	return &ConfigError{Field: field, Value: value, Err: err}
}

// IsConfigError checks if an error is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// ValidationError represents a request or data validation error.
type ValidationError struct {
	Field   string // Field that failed validation
	Value   any    // Invalid value
	Reason  string // Why validation failed
	Details error  // Additional details (optional)
}

func (e *ValidationError) Error() string {
	if e.Details != nil {
		return fmt.Sprintf("validation error: field %q with value %v: %s (%v)", e.Field, e.Value, e.Reason, e.Details)
	}
	return fmt.Sprintf("validation error: field %q with value %v: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Details
}

// NewValidationError creates a new validation error.
func NewValidationError(field string, value any, reason string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NetworkError represents a network or serial link error.
type NetworkError struct {
	Op   string // Operation being performed (e.g., "connect", "open serial")
	Addr string // Network address or device path (if applicable)
	Err  error  // Underlying error
}

func (e *NetworkError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("network %s (%s): %v", e.Op, e.Addr, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("network %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("network %s failed", e.Op)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new network error.
func NewNetworkError(op string, addr string, err error) *NetworkError {
	return &NetworkError{Op: op, Addr: addr, Err: err}
}

// IsNetworkError checks if an error is a NetworkError.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// NotificationError represents an error sending notifications.
type NotificationError struct {
	Type string // Notification type (e.g., "slack", "websocket")
	Err  error  // Underlying error
}

func (e *NotificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("notification %s: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("notification %s failed", e.Type)
}

func (e *NotificationError) Unwrap() error {
	return e.Err
}

// NewNotificationError creates a new notification error.
func NewNotificationError(notifType string, err error) *NotificationError {
	return &NotificationError{Type: notifType, Err: err}
}

// IsNotificationError checks if an error is a NotificationError.
func IsNotificationError(err error) bool {
	var ne *NotificationError
	return errors.As(err, &ne)
}

// Sentinel errors for common conditions
var (
	// ErrUnknownCommand indicates an API command that the controller does not implement
	ErrUnknownCommand = errors.New("unknown command")

	// ErrEmptyCommand indicates a power command is not configured
	ErrEmptyCommand = errors.New("command not configured")

	// ErrControllerStopped indicates the power controller is no longer running
	ErrControllerStopped = errors.New("controller stopped")

	// ErrSettingNotFound indicates a setting key has no value and no default
	ErrSettingNotFound = errors.New("setting not found")

	// ErrUnknownEvent indicates an event name that cannot be accepted
	ErrUnknownEvent = errors.New("unknown event")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = errors.New("operation timeout")

	// ErrCircuitBreakerOpen indicates the circuit breaker is open
	ErrCircuitBreakerOpen = errors.New("circuit breaker open")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionClosed indicates a connection was closed
	ErrConnectionClosed = errors.New("connection closed")

	// ErrNotConfigured indicates an optional backend is disabled
	ErrNotConfigured = errors.New("not configured")
)
