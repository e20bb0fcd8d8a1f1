// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

//go:build windows

package config

import "os"

// Windows has no SIGHUP; reloads only happen through Trigger.
func notifyReload(chan<- os.Signal) {}
