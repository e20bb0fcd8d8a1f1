// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package timer

import (
	"sync"
	"time"
)

// Ticker delivers periodic ticks while armed.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory arms a new Ticker with the given period.
type TickerFactory func(period time.Duration) Ticker

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

// NewRealTicker wraps time.NewTicker.
func NewRealTicker(period time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(period)}
}

// ManualTicker is a Ticker driven by hand, for tests and simulations.
type ManualTicker struct {
	mu      sync.Mutex
	ch      chan time.Time
	stopped bool
}

// NewManualTicker returns a ManualTicker with a buffered channel.
func NewManualTicker(time.Duration) Ticker {
	return &ManualTicker{ch: make(chan time.Time, 1)}
}

func (m *ManualTicker) C() <-chan time.Time { return m.ch }

func (m *ManualTicker) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
}

// Fire delivers one tick unless the ticker is stopped or a tick is already pending.
func (m *ManualTicker) Fire() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	select {
	case m.ch <- time.Now():
	default:
	}
}
