// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package eventbus delivers named events between the host integrations and the
// power controller. The in-process Bus is the hub; Bridge mirrors it to MQTT.
package eventbus

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soothill/printer-power-manager/pkg/interfaces"
	"github.com/soothill/printer-power-manager/pkg/logger"
	"github.com/soothill/printer-power-manager/pkg/metrics"
)

// DefaultBufferSize is the per-subscriber queue length.
const DefaultBufferSize = 64

// DefaultPowerEventWait bounds how long Publish waits on a full queue for a
// PoweredOn or PoweredOff event before dropping it.
const DefaultPowerEventWait = 5 * time.Second

// NewEvent builds an event with a fresh id and the current time.
func NewEvent(name, source string, payload map[string]any) interfaces.Event {
	return interfaces.Event{
		ID:      uuid.NewString(),
		Name:    name,
		Payload: payload,
		Time:    time.Now(),
		Source:  source,
	}
}

type subscriber struct {
	ch    chan interfaces.Event
	names map[string]struct{} // empty means all events
}

func (s *subscriber) wants(name string) bool {
	if len(s.names) == 0 {
		return true
	}
	_, ok := s.names[name]
	return ok
}

// Bus is an in-process publish/subscribe hub.
// A subscriber whose queue is full misses the event. Power confirmations are
// the exception: Publish waits up to powerWait for room before dropping them.
type Bus struct {
	mu         sync.RWMutex
	subs       map[*subscriber]struct{}
	bufferSize int
	powerWait  time.Duration
	closed     bool
}

// New creates a Bus with the given per-subscriber buffer size.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		subs:       make(map[*subscriber]struct{}),
		bufferSize: bufferSize,
		powerWait:  DefaultPowerEventWait,
	}
}

// SetPowerEventWait changes how long Publish blocks for a power confirmation.
// Zero drops them like any other event.
func (b *Bus) SetPowerEventWait(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.powerWait = d
}

func isPowerEvent(name string) bool {
	return name == interfaces.EventPoweredOn || name == interfaces.EventPoweredOff
}

// Publish delivers ev to every interested subscriber.
func (b *Bus) Publish(ev interfaces.Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	// RLock is held through the sends so cancel cannot close a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	metrics.BusEvents.WithLabelValues(ev.Name).Inc()
	for s := range b.subs {
		if !s.wants(ev.Name) {
			continue
		}
		select {
		case s.ch <- ev:
			continue
		default:
		}
		if isPowerEvent(ev.Name) && b.powerWait > 0 && b.sendWait(s, ev) {
			continue
		}
		metrics.DroppedEvents.Inc()
		log := logger.Warn()
		if isPowerEvent(ev.Name) {
			log = logger.Error()
		}
		log.Str("event", ev.Name).
			Str("event_id", ev.ID).
			Msg("Subscriber queue full, dropping event")
	}
}

func (b *Bus) sendWait(s *subscriber, ev interfaces.Event) bool {
	t := time.NewTimer(b.powerWait)
	defer t.Stop()
	select {
	case s.ch <- ev:
		return true
	case <-t.C:
		return false
	}
}

// Subscribe registers for the named events, or all events when none are given.
// The returned function ends the subscription and closes the channel.
func (b *Bus) Subscribe(names ...string) (<-chan interfaces.Event, func()) {
	s := &subscriber{
		ch:    make(chan interfaces.Event, b.bufferSize),
		names: make(map[string]struct{}, len(names)),
	}
	for _, n := range names {
		s.names[n] = struct{}{}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[s]; ok {
				delete(b.subs, s)
				close(s.ch)
			}
		})
	}
	return s.ch, cancel
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close ends all subscriptions. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		close(s.ch)
		delete(b.subs, s)
	}
}
