// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soothill/printer-power-manager/pkg/interfaces"
	"github.com/soothill/printer-power-manager/pkg/metrics"
)

func receive(t *testing.T, ch <-chan interfaces.Event) interfaces.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return interfaces.Event{}
}

func assertEmpty(t *testing.T, ch <-chan interfaces.Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %q", ev.Name)
	default:
	}
}

func TestNewEvent(t *testing.T) {
	ev := NewEvent(interfaces.EventPrintDone, "test", map[string]any{"name": "benchy.gcode"})

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, interfaces.EventPrintDone, ev.Name)
	assert.Equal(t, "test", ev.Source)
	assert.False(t, ev.Time.IsZero())
	assert.NotEqual(t, ev.ID, NewEvent(interfaces.EventPrintDone, "test", nil).ID)
}

func TestSubscribeFiltersByName(t *testing.T) {
	b := New(4)
	printCh, cancelPrint := b.Subscribe(interfaces.EventPrintStarted, interfaces.EventPrintDone)
	defer cancelPrint()
	allCh, cancelAll := b.Subscribe()
	defer cancelAll()

	b.Publish(NewEvent(interfaces.EventPoweredOn, "test", nil))
	b.Publish(NewEvent(interfaces.EventPrintDone, "test", nil))

	assert.Equal(t, interfaces.EventPrintDone, receive(t, printCh).Name)
	assertEmpty(t, printCh)

	assert.Equal(t, interfaces.EventPoweredOn, receive(t, allCh).Name)
	assert.Equal(t, interfaces.EventPrintDone, receive(t, allCh).Name)
}

func TestPublishFillsMissingFields(t *testing.T) {
	b := New(1)
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(interfaces.Event{Name: interfaces.EventStartup})

	ev := receive(t, ch)
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.Time.IsZero())
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := New(1)
	ch, cancel := b.Subscribe()
	defer cancel()

	before := testutil.ToFloat64(metrics.DroppedEvents)
	b.Publish(NewEvent(interfaces.EventPrintStarted, "test", nil))
	b.Publish(NewEvent(interfaces.EventPrintDone, "test", nil))

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.DroppedEvents))
	assert.Equal(t, interfaces.EventPrintStarted, receive(t, ch).Name)
	assertEmpty(t, ch)
}

func TestPublishWaitsForRoomForPowerEvents(t *testing.T) {
	b := New(1)
	ch, cancel := b.Subscribe()
	defer cancel()

	before := testutil.ToFloat64(metrics.DroppedEvents)
	b.Publish(NewEvent(interfaces.EventPrintDone, "test", nil))

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Publish(NewEvent(interfaces.EventPoweredOff, "test", nil))
	}()

	assert.Equal(t, interfaces.EventPrintDone, receive(t, ch).Name)
	assert.Equal(t, interfaces.EventPoweredOff, receive(t, ch).Name)
	<-done
	assert.Equal(t, before, testutil.ToFloat64(metrics.DroppedEvents))
}

func TestPublishDropsPowerEventAfterWait(t *testing.T) {
	b := New(1)
	b.SetPowerEventWait(20 * time.Millisecond)
	ch, cancel := b.Subscribe()
	defer cancel()

	before := testutil.ToFloat64(metrics.DroppedEvents)
	b.Publish(NewEvent(interfaces.EventPrintDone, "test", nil))
	b.Publish(NewEvent(interfaces.EventPoweredOn, "test", nil))

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.DroppedEvents))
	assert.Equal(t, interfaces.EventPrintDone, receive(t, ch).Name)
	assertEmpty(t, ch)
}

func TestCancelClosesChannel(t *testing.T) {
	b := New(1)
	ch, cancel := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())

	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, b.SubscriberCount())

	b.Publish(NewEvent(interfaces.EventPrintDone, "test", nil))
}

func TestCloseEndsSubscriptions(t *testing.T) {
	b := New(1)
	ch, cancel := b.Subscribe()

	b.Close()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	late, _ := b.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscribing to a closed bus yields a closed channel")
}

func TestConcurrentPublishAndCancel(t *testing.T) {
	b := New(8)
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch, cancel := b.Subscribe()
			go func() {
				for range ch {
				}
			}()
			time.Sleep(time.Millisecond)
			cancel()
		}()
	}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Publish(NewEvent(interfaces.EventPrintDone, "test", nil))
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, 0, b.SubscriberCount())
}
