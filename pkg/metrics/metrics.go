// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package metrics provides Prometheus metrics for the printer power manager.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PowerState tracks the current printer power state (0=off, 1=on, 99=unknown)
	PowerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "printer_power_state",
		Help: "Current printer power state (0=off, 1=on, 99=unknown)",
	})

	// ManagementEnabled is 1 while automatic power management is enabled
	ManagementEnabled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "printer_power_management_enabled",
		Help: "Whether automatic power management is enabled (1) or disabled (0)",
	})

	// TimerRunning is 1 while the idle countdown is armed
	TimerRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "printer_power_timer_running",
		Help: "Whether the idle power-off countdown is running",
	})

	// TimerRemainingSeconds tracks seconds left before the idle power-off
	TimerRemainingSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "printer_power_timer_remaining_seconds",
		Help: "Seconds remaining before the idle power-off fires",
	})

	// TimerExpirations counts idle countdowns that reached zero
	TimerExpirations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "printer_power_timer_expirations_total",
		Help: "Total number of idle countdowns that expired",
	})

	// DispatchTotal counts power commands dispatched, by action
	DispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "printer_power_dispatch_total",
		Help: "Total number of power commands dispatched",
	}, []string{"action"})

	// DispatchErrors counts power commands that failed to start, by action
	DispatchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "printer_power_dispatch_errors_total",
		Help: "Total number of power commands that failed to start",
	}, []string{"action"})

	// ProbeDuration tracks how long the hardware status command takes
	ProbeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "printer_power_probe_duration_seconds",
		Help:    "Duration of the hardware status probe in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// BusEvents counts events published on the event bus, by name
	BusEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "printer_power_bus_events_total",
		Help: "Total number of events published on the event bus",
	}, []string{"event"})

	// DroppedEvents counts events dropped because a subscriber was full
	DroppedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "printer_power_bus_dropped_events_total",
		Help: "Total number of events dropped for slow subscribers",
	})

	// APICommands counts API commands received, by command
	APICommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "printer_power_api_commands_total",
		Help: "Total number of API commands received",
	}, []string{"command"})

	// GCodeIntercepts counts intercepted power G-codes, by code
	GCodeIntercepts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "printer_power_gcode_intercepts_total",
		Help: "Total number of intercepted power G-codes",
	}, []string{"code"})

	// NotificationClients tracks connected websocket observers
	NotificationClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "printer_power_notification_clients",
		Help: "Number of connected notification websocket clients",
	})

	// InfluxDBWritesTotal tracks the total number of writes to InfluxDB
	InfluxDBWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "printer_power_influxdb_writes_total",
		Help: "Total number of power transitions written to InfluxDB",
	})

	// InfluxDBWriteErrors tracks the number of failed writes to InfluxDB
	InfluxDBWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "printer_power_influxdb_write_errors_total",
		Help: "Total number of failed writes to InfluxDB",
	})
)
