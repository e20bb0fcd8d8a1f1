// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package timer implements the idle power-off countdown.
//
// The Timer owns no goroutine. Its owner selects on C() and calls Tick() for
// every delivered tick, so the expiry handler runs on the owner's goroutine.
// All operations are idempotent; calls that do not apply are no-ops.
package timer

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/soothill/printer-power-manager/pkg/interfaces"
	"github.com/soothill/printer-power-manager/pkg/logger"
	"github.com/soothill/printer-power-manager/pkg/metrics"
)

const (
	// TickPeriod is the countdown resolution.
	TickPeriod = time.Second

	// ProgressWindow is the number of final seconds that emit progress notifications.
	ProgressWindow = 300
)

// Option configures a Timer.
type Option func(*Timer)

// WithNotifier sets the observer channel for progress and cancel messages.
func WithNotifier(n interfaces.Notifier) Option {
	return func(t *Timer) { t.notifier = n }
}

// WithExpiryHandler sets the function invoked once when the countdown reaches zero.
func WithExpiryHandler(fn func()) Option {
	return func(t *Timer) { t.onExpire = fn }
}

// WithTickerFactory replaces the ticker source.
func WithTickerFactory(f TickerFactory) Option {
	return func(t *Timer) { t.newTicker = f }
}

// Timer is a cancellable, resettable single-shot countdown.
type Timer struct {
	mu sync.Mutex

	defaultSeconds int
	remaining      int
	running        bool
	ticker         Ticker

	notifier  interfaces.Notifier
	onExpire  func()
	newTicker TickerFactory
	log       zerolog.Logger
}

// New creates a stopped Timer with the given default timeout in minutes.
func New(timeoutMinutes int, opts ...Option) *Timer {
	t := &Timer{
		defaultSeconds: timeoutMinutes * 60,
		newTicker:      NewRealTicker,
		log:            logger.Component("timer"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start arms the countdown at the default timeout. No-op if already running.
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startLocked()
}

func (t *Timer) startLocked() {
	if t.running {
		return
	}
	t.remaining = t.defaultSeconds
	t.ticker = t.newTicker(TickPeriod)
	t.running = true

	metrics.TimerRunning.Set(1)
	metrics.TimerRemainingSeconds.Set(float64(t.remaining))
	t.log.Info().Int("timeout_seconds", t.defaultSeconds).Msg("Timer started")
}

// Tick advances the countdown by one period. No-op when not running.
func (t *Timer) Tick() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}

	t.remaining--
	remaining := t.remaining
	metrics.TimerRemainingSeconds.Set(float64(remaining))

	expired := remaining <= 0
	if expired {
		t.stopLocked()
	}
	onExpire := t.onExpire
	t.mu.Unlock()

	if remaining < ProgressWindow {
		t.notify(interfaces.TimeoutMessage(remaining))
	}

	if expired {
		metrics.TimerExpirations.Inc()
		t.log.Info().Msg("Timer expired")
		if onExpire != nil {
			onExpire()
		}
	}
}

// Cancel stops a running countdown and tells observers. No-op if not running.
func (t *Timer) Cancel() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.stopLocked()
	t.mu.Unlock()

	t.notify(interfaces.CancelMessage())
	t.log.Info().Msg("Timer cancelled")
}

// SetTimeout changes the default timeout and restarts the countdown so the new
// value applies immediately. No-op when the value is unchanged.
func (t *Timer) SetTimeout(minutes int) {
	t.mu.Lock()
	seconds := minutes * 60
	if seconds == t.defaultSeconds {
		t.mu.Unlock()
		return
	}
	t.defaultSeconds = seconds
	t.mu.Unlock()

	t.log.Info().Int("timeout_minutes", minutes).Msg("Timer timeout changed")
	t.Cancel()
	t.Start()
}

// SetDefault changes the default timeout without touching the countdown.
// A running countdown keeps its remaining time; the new value applies from
// the next Start or Reset. Reports whether the value changed.
func (t *Timer) SetDefault(minutes int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	seconds := minutes * 60
	if seconds == t.defaultSeconds {
		return false
	}
	t.defaultSeconds = seconds
	t.log.Info().Int("timeout_minutes", minutes).Msg("Timer default timeout changed")
	return true
}

// Reset pushes a running countdown back to the full default timeout.
// No-op if not running.
func (t *Timer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.remaining = t.defaultSeconds
	metrics.TimerRemainingSeconds.Set(float64(t.remaining))
	t.log.Info().Int("remaining_seconds", t.remaining).Msg("Timer reset")
}

// Running reports whether the countdown is armed.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Remaining returns the seconds left, or 0 when not running.
func (t *Timer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return 0
	}
	return t.remaining
}

// TimeoutSeconds returns the default timeout.
func (t *Timer) TimeoutSeconds() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.defaultSeconds
}

// C returns the tick channel of the armed ticker, or nil while stopped.
// A nil channel blocks forever in a select.
func (t *Timer) C() <-chan time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ticker == nil {
		return nil
	}
	return t.ticker.C()
}

// stopLocked destroys the runtime. Caller holds mu.
func (t *Timer) stopLocked() {
	if t.ticker != nil {
		t.ticker.Stop()
		t.ticker = nil
	}
	t.running = false
	t.remaining = 0
	metrics.TimerRunning.Set(0)
	metrics.TimerRemainingSeconds.Set(0)
}

func (t *Timer) notify(msg interfaces.Message) {
	if t.notifier != nil {
		t.notifier.Notify(msg)
	}
}
