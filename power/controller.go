// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package power implements the printer power controller.
//
// A single worker goroutine owns the power state, the management flag and the
// idle countdown. Bus events, API commands, G-code interceptions and timer
// ticks are all handled on that worker, so no two of them interleave.
package power

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/soothill/printer-power-manager/eventbus"
	"github.com/soothill/printer-power-manager/pkg/errors"
	"github.com/soothill/printer-power-manager/pkg/interfaces"
	"github.com/soothill/printer-power-manager/pkg/logger"
	"github.com/soothill/printer-power-manager/pkg/metrics"
	"github.com/soothill/printer-power-manager/timer"
)

const (
	// DefaultTimeoutMinutes applies when the stored timeout is missing or not positive.
	DefaultTimeoutMinutes = 15

	// DefaultPowerOnReplacement and DefaultPowerOffReplacement are sent to the
	// printer in place of intercepted M80/M81.
	DefaultPowerOnReplacement  = "G4 S5"
	DefaultPowerOffReplacement = "G4 S0"

	// SourceController marks events published by the controller.
	SourceController = "powermanager"

	alertTimeout = 10 * time.Second
)

// Option configures a Controller.
type Option func(*Controller)

// WithNotifier sets the observer channel for timer and power state messages.
func WithNotifier(n interfaces.Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// WithPrinterComm sets the printer communication collaborator.
func WithPrinterComm(p interfaces.PrinterComm) Option {
	return func(c *Controller) { c.comm = p }
}

// WithRecorder sets the power history sink.
func WithRecorder(r interfaces.EventRecorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// WithAlerter sets the operator alert channel.
func WithAlerter(a interfaces.Alerter) Option {
	return func(c *Controller) { c.alerter = a }
}

// WithTickerFactory replaces the countdown ticker source.
func WithTickerFactory(f timer.TickerFactory) Option {
	return func(c *Controller) { c.tickerFactory = f }
}

// WithReplacements sets the G-code sent in place of intercepted M80 and M81.
func WithReplacements(powerOn, powerOff string) Option {
	return func(c *Controller) {
		c.powerOnReplacement = powerOn
		c.powerOffReplacement = powerOff
	}
}

// Status is a snapshot of the controller state.
type Status struct {
	State             State  `json:"state"`
	StateName         string `json:"state_name"`
	ManagementEnabled bool   `json:"isEnabled"`
	TimerRunning      bool   `json:"timer_running"`
	RemainingSeconds  int    `json:"remaining_seconds"`
	TimeoutSeconds    int    `json:"timeout_seconds"`
}

type response struct {
	val any
	err error
}

type request struct {
	run   func() (any, error)
	reply chan response
}

// Controller owns the power state machine and the idle countdown.
type Controller struct {
	bus      interfaces.EventBus
	settings interfaces.SettingsStore
	executor interfaces.CommandExecutor
	probe    interfaces.StatusProbe

	notifier interfaces.Notifier
	comm     interfaces.PrinterComm
	recorder interfaces.EventRecorder
	alerter  interfaces.Alerter

	tickerFactory       timer.TickerFactory
	powerOnReplacement  string
	powerOffReplacement string
	log                 zerolog.Logger

	// Owned by the worker after Start.
	state   State
	enabled bool
	timer   *timer.Timer

	inbox     chan request
	quit      chan struct{}
	done      chan struct{}
	events    <-chan interfaces.Event
	cancelSub func()

	background sync.WaitGroup // in-flight dispatches and alerts
	started    atomic.Bool
	stopOnce   sync.Once
}

// NewController creates a Controller. Call Start to probe the hardware and
// begin handling events.
func NewController(bus interfaces.EventBus, settings interfaces.SettingsStore, executor interfaces.CommandExecutor, probe interfaces.StatusProbe, opts ...Option) *Controller {
	c := &Controller{
		bus:                 bus,
		settings:            settings,
		executor:            executor,
		probe:               probe,
		notifier:            nopNotifier{},
		comm:                nopComm{},
		recorder:            nopRecorder{},
		tickerFactory:       timer.NewRealTicker,
		powerOnReplacement:  DefaultPowerOnReplacement,
		powerOffReplacement: DefaultPowerOffReplacement,
		log:                 logger.Component("power"),
		state:               Unknown,
		inbox:               make(chan request),
		quit:                make(chan struct{}),
		done:                make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start reads the hardware state, arms the countdown when the printer is on,
// subscribes to the bus and launches the worker. ctx bounds the status probe
// only; the worker runs until Shutdown.
func (c *Controller) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return nil
	}

	c.reportMissingCommands()

	minutes := c.settings.GetInt(interfaces.SettingTimeoutMinutes)
	if minutes <= 0 {
		c.log.Warn().Int("timeout_minutes", minutes).Int("default", DefaultTimeoutMinutes).Msg("Invalid timeout, using default")
		minutes = DefaultTimeoutMinutes
	}
	c.timer = timer.New(minutes,
		timer.WithNotifier(c.notifier),
		timer.WithExpiryHandler(c.onIdleTimeout),
		timer.WithTickerFactory(c.tickerFactory),
	)

	c.setEnabled(c.settings.GetBool(interfaces.SettingPowerManagementEnabled))
	c.setState(c.readHardwareState(ctx), "startup")

	if c.state == On {
		if c.enabled {
			c.timer.Start()
		}
	} else {
		c.comm.ResetConnection()
	}

	c.events, c.cancelSub = c.bus.Subscribe(interfaces.KnownEvents...)
	go c.run()

	c.log.Info().
		Str("state", c.state.String()).
		Bool("management_enabled", c.enabled).
		Int("timeout_minutes", minutes).
		Msg("Power controller started")
	return nil
}

func (c *Controller) run() {
	defer close(c.done)
	for {
		select {
		case <-c.quit:
			return
		case ev, ok := <-c.events:
			if !ok {
				c.events = nil
				continue
			}
			c.handleEvent(ev)
		case req := <-c.inbox:
			val, err := req.run()
			req.reply <- response{val: val, err: err}
		case <-c.timer.C():
			c.timer.Tick()
		}
	}
}

// submit runs fn on the worker and returns its result.
func (c *Controller) submit(ctx context.Context, fn func() (any, error)) (any, error) {
	if !c.started.Load() {
		return nil, errors.ErrControllerStopped
	}
	req := request{run: fn, reply: make(chan response, 1)}
	select {
	case c.inbox <- req:
	case <-c.done:
		return nil, errors.ErrControllerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case resp := <-req.reply:
		return resp.val, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status returns a snapshot of the controller state.
func (c *Controller) Status(ctx context.Context) (Status, error) {
	v, err := c.submit(ctx, func() (any, error) {
		return c.snapshot(), nil
	})
	if err != nil {
		return Status{}, err
	}
	return v.(Status), nil
}

func (c *Controller) snapshot() Status {
	return Status{
		State:             c.state,
		StateName:         c.state.String(),
		ManagementEnabled: c.enabled,
		TimerRunning:      c.timer.Running(),
		RemainingSeconds:  c.timer.Remaining(),
		TimeoutSeconds:    c.timer.TimeoutSeconds(),
	}
}

// Shutdown runs the shutdown transition, stops the worker and waits for
// in-flight dispatches until ctx is done.
func (c *Controller) Shutdown(ctx context.Context) error {
	if !c.started.Load() {
		return nil
	}

	var err error
	c.stopOnce.Do(func() {
		_, err = c.submit(ctx, func() (any, error) {
			c.shutdownTransition()
			return nil, nil
		})

		close(c.quit)
		<-c.done
		c.cancelSub()

		waited := make(chan struct{})
		go func() {
			c.background.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-ctx.Done():
			c.log.Warn().Msg("Shutdown deadline reached with power commands in flight")
			if err == nil {
				err = errors.ErrTimeout
			}
		}
		c.log.Info().Msg("Power controller stopped")
	})
	return err
}

func (c *Controller) shutdownTransition() {
	c.log.Info().Msg("Shutting down, powering off printer")
	c.comm.ResetConnection()
	c.timer.Cancel()
	c.setState(Off, "shutdown")
	c.notifyState()
	c.powerDown("shutdown")
}

func (c *Controller) handleEvent(ev interfaces.Event) {
	c.log.Info().Str("event", ev.Name).Str("source", ev.Source).Msg("Event received")

	switch ev.Name {
	case interfaces.EventStartup:
	case interfaces.EventPrintStarted:
		if c.enabled {
			c.timer.Cancel()
		}
	case interfaces.EventPrintDone:
		// UNKNOWN never arms the countdown.
		if c.enabled && c.state == On {
			c.timer.Start()
		}
	case interfaces.EventPoweredOff:
		c.comm.ResetConnection()
		c.setState(Off, ev.Name)
		c.notifyState()
		if c.enabled {
			c.timer.Cancel()
		}
	case interfaces.EventPoweredOn:
		c.comm.MarkOperational()
		c.setState(On, ev.Name)
		c.notifyState()
		if c.enabled {
			c.timer.Start()
		}
	case interfaces.EventSettingsUpdated:
		c.applySettings()
	}
}

// applySettings propagates the stored timeout and mirrors the local power-down
// command into the global shutdown slot.
func (c *Controller) applySettings() {
	minutes := c.settings.GetInt(interfaces.SettingTimeoutMinutes)
	if minutes > 0 {
		// A settings save must not arm the countdown on its own.
		switch {
		case !c.timer.Running():
			c.timer.SetDefault(minutes)
		case c.enabled:
			c.timer.SetTimeout(minutes)
		default:
			c.timer.SetDefault(minutes)
			c.timer.Cancel()
		}
	} else {
		c.log.Warn().Int("timeout_minutes", minutes).Msg("Ignoring invalid timeout")
	}

	local := c.settings.GetString(interfaces.SettingPowerdownCommand)
	global := c.settings.GlobalGetString(interfaces.GlobalShutdownCommand)
	if local == global {
		return
	}
	if err := c.settings.GlobalSet(interfaces.GlobalShutdownCommand, local); err != nil {
		c.log.Error().Err(errors.NewSettingsError("global set", interfaces.GlobalShutdownCommand, err)).Msg("Failed to update shutdown command")
		return
	}
	if err := c.settings.Save(); err != nil {
		c.log.Error().Err(errors.NewSettingsError("save", interfaces.GlobalShutdownCommand, err)).Msg("Failed to save settings")
		return
	}
	c.log.Info().Str("command", local).Msg("Global shutdown command updated")
}

func (c *Controller) onIdleTimeout() {
	c.log.Info().Msg("Idle timeout reached, powering off printer")
	c.recorder.RecordTransition(interfaces.Transition{
		Time:   time.Now(),
		Kind:   interfaces.TransitionTimerExpired,
		From:   int(c.state),
		To:     int(c.state),
		Source: "timer",
	})
	c.alert("info", "Printer idle power-off",
		"No print started within the idle window; powering off the printer.")
	c.powerDown("timer")
}

func (c *Controller) readHardwareState(ctx context.Context) State {
	if c.probe == nil {
		return Unknown
	}
	start := time.Now()
	out, err := c.probe.Probe(ctx)
	metrics.ProbeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.log.Warn().Err(err).Msg("Hardware status probe failed, power state unknown")
		return Unknown
	}
	state := ParseStatus(out)
	c.log.Info().Str("output", out).Str("state", state.String()).Msg("Hardware status read")
	return state
}

func (c *Controller) reportMissingCommands() {
	if c.settings.GlobalGetString(interfaces.GlobalShutdownCommand) == "" {
		c.log.Error().Err(errors.NewConfigError(interfaces.GlobalShutdownCommand, "", errors.ErrEmptyCommand)).Msg("Missing global setting")
	}
	if c.settings.GetString(interfaces.SettingPowerupCommand) == "" {
		c.log.Error().Err(errors.NewConfigError(interfaces.SettingPowerupCommand, "", errors.ErrEmptyCommand)).Msg("Missing setting")
	}
}

func (c *Controller) setState(s State, source string) {
	prev := c.state
	c.state = s
	metrics.PowerState.Set(float64(s))
	if prev == s {
		return
	}
	c.log.Info().Str("from", prev.String()).Str("to", s.String()).Str("source", source).Msg("Power state changed")
	c.recorder.RecordTransition(interfaces.Transition{
		Time:   time.Now(),
		Kind:   interfaces.TransitionPowerState,
		From:   int(prev),
		To:     int(s),
		Source: source,
	})
}

func (c *Controller) setEnabled(enabled bool) {
	c.enabled = enabled
	if enabled {
		metrics.ManagementEnabled.Set(1)
	} else {
		metrics.ManagementEnabled.Set(0)
	}
}

func (c *Controller) notifyState() {
	c.notifier.Notify(interfaces.PowerStateMessage(int(c.state)))
}

func (c *Controller) alert(level, title, message string) {
	if c.alerter == nil || !c.alerter.IsEnabled() {
		return
	}
	c.background.Add(1)
	go func() {
		defer c.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
		defer cancel()
		if err := c.alerter.SendAlert(ctx, level, title, message); err != nil {
			c.log.Warn().Err(err).Str("title", title).Msg("Failed to send alert")
		}
	}()
}

func (c *Controller) publish(name string) {
	c.bus.Publish(eventbus.NewEvent(name, SourceController, nil))
}

type nopNotifier struct{}

func (nopNotifier) Notify(interfaces.Message) {}

type nopComm struct{}

func (nopComm) ResetConnection() {}
func (nopComm) MarkOperational() {}

type nopRecorder struct{}

func (nopRecorder) RecordTransition(interfaces.Transition) {}
