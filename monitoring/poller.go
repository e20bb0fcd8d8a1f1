// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package monitoring watches the printer's power hardware for changes made
// outside the controller, such as a manual switch.
package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/soothill/printer-power-manager/eventbus"
	"github.com/soothill/printer-power-manager/pkg/interfaces"
	"github.com/soothill/printer-power-manager/pkg/logger"
	"github.com/soothill/printer-power-manager/pkg/metrics"
	"github.com/soothill/printer-power-manager/power"
)

// SourcePoller marks events published by the poller.
const SourcePoller = "poller"

// Poller periodically runs the status probe and publishes PoweredOn or
// PoweredOff when the hardware disagrees with the last known state. The last
// known state also follows PoweredOn/PoweredOff events from other sources, so
// confirmations the controller already published are not repeated.
type Poller struct {
	probe interfaces.StatusProbe
	bus   interfaces.EventBus
	log   zerolog.Logger

	mu       sync.Mutex
	interval time.Duration
	reset    chan time.Duration
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopped  bool

	// Owned by the poll loop.
	last power.State
}

// NewPoller creates a poller. It does nothing until Start.
func NewPoller(probe interfaces.StatusProbe, bus interfaces.EventBus, interval time.Duration) *Poller {
	return &Poller{
		probe:    probe,
		bus:      bus,
		interval: interval,
		reset:    make(chan time.Duration, 1),
		last:     power.Unknown,
		log:      logger.Component("monitoring"),
	}
}

// Start launches the poll loop. The first successful probe only establishes
// the baseline.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil || p.stopped {
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	events, unsubscribe := p.bus.Subscribe(interfaces.EventPoweredOn, interfaces.EventPoweredOff)

	p.log.Info().Dur("interval", p.interval).Msg("Starting hardware poller")

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer unsubscribe()
		p.loop(ctx, events, p.interval)
	}()
}

func (p *Poller) loop(ctx context.Context, events <-chan interfaces.Event, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			p.follow(ev)
		case d := <-p.reset:
			ticker.Reset(d)
			interval = d
			p.log.Info().Dur("interval", d).Msg("Hardware poll interval changed")
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			pctx, cancel := context.WithTimeout(ctx, interval)
			p.poll(pctx)
			cancel()
		}
	}
}

// follow tracks confirmations published by other sources.
func (p *Poller) follow(ev interfaces.Event) {
	if ev.Source == SourcePoller {
		return
	}
	switch ev.Name {
	case interfaces.EventPoweredOn:
		p.last = power.On
	case interfaces.EventPoweredOff:
		p.last = power.Off
	}
}

func (p *Poller) poll(ctx context.Context) {
	start := time.Now()
	out, err := p.probe.Probe(ctx)
	metrics.ProbeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		p.log.Warn().Err(err).Msg("Hardware probe failed")
		return
	}

	state := power.ParseStatus(out)
	if state == power.Unknown {
		p.log.Debug().Str("output", out).Msg("Hardware state unknown")
		return
	}
	if p.last == power.Unknown {
		p.last = state
		p.log.Debug().Stringer("state", state).Msg("Hardware baseline established")
		return
	}
	if state == p.last {
		return
	}

	p.log.Info().Stringer("from", p.last).Stringer("to", state).Msg("Hardware state changed")
	p.last = state

	name := interfaces.EventPoweredOff
	if state == power.On {
		name = interfaces.EventPoweredOn
	}
	p.bus.Publish(eventbus.NewEvent(name, SourcePoller, map[string]any{"status": out}))
}

// SetInterval changes the poll period of a running poller.
func (p *Poller) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if d == p.interval {
		return
	}
	p.interval = d
	select {
	case <-p.reset:
	default:
	}
	p.reset <- d
}

// Stop ends the poll loop and waits for it to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	p.log.Info().Msg("Hardware poller stopped")
}
