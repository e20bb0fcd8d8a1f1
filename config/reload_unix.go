// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

//go:build !windows

package config

import (
	"os"
	"os/signal"
	"syscall"
)

func notifyReload(ch chan<- os.Signal) {
	signal.Notify(ch, syscall.SIGHUP)
}
