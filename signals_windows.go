// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

//go:build windows

package main

import (
	"github.com/soothill/printer-power-manager/app"
	"github.com/soothill/printer-power-manager/pkg/logger"
)

// setupDebugSignalHandlers is a no-op on Windows as SIGUSR1/SIGUSR2 don't exist.
// The /api/v1/status endpoint exposes the controller state instead.
func setupDebugSignalHandlers(*app.App) {
	logger.Debug().Msg("Debug signal handlers not available on Windows")
}
