// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

//go:build !windows

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/soothill/printer-power-manager/app"
	"github.com/soothill/printer-power-manager/pkg/logger"
)

// debugDumps maps each debug signal to the dump it triggers.
//
//	kill -USR1 <pid>  # power controller, printer link and component state
//	kill -USR2 <pid>  # goroutine stack traces
func debugDumps(application *app.App) map[os.Signal]func() {
	return map[os.Signal]func(){
		syscall.SIGUSR1: application.DumpApplicationState,
		syscall.SIGUSR2: app.DumpGoroutineStackTraces,
	}
}

func setupDebugSignalHandlers(application *app.App) {
	dumps := debugDumps(application)
	sigs := make(chan os.Signal, len(dumps))
	for sig := range dumps {
		signal.Notify(sigs, sig)
	}
	go serveDebugSignals(sigs, dumps)
}

// serveDebugSignals runs the dump for each received signal until sigs closes.
func serveDebugSignals(sigs <-chan os.Signal, dumps map[os.Signal]func()) {
	for sig := range sigs {
		dump, ok := dumps[sig]
		if !ok {
			logger.Debug().Str("signal", sig.String()).Msg("Ignoring signal without a dump")
			continue
		}
		dump()
	}
}
