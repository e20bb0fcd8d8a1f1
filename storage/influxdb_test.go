// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package storage

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soothill/printer-power-manager/pkg/errors"
	"github.com/soothill/printer-power-manager/pkg/interfaces"
	"github.com/soothill/printer-power-manager/pkg/metrics"
)

type fakeWriter struct {
	mu     sync.Mutex
	points []*write.Point
	calls  int
	err    error
	block  chan struct{}
}

func (f *fakeWriter) WritePoint(_ context.Context, points ...*write.Point) error {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.points = append(f.points, points...)
	return nil
}

func (f *fakeWriter) snapshot() (int, []*write.Point) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, append([]*write.Point(nil), f.points...)
}

func TestNewInfluxDBStorage_Unreachable(t *testing.T) {
	storage, err := NewInfluxDBStorage(InfluxDBConfig{
		URL:    "http://127.0.0.1:1",
		Token:  "token",
		Org:    "org",
		Bucket: "bucket",
	})
	require.Error(t, err)
	assert.Nil(t, storage)
	assert.True(t, errors.IsNetworkError(err))
}

func TestRecordTransition_WritesPoint(t *testing.T) {
	w := &fakeWriter{}
	s := newStorage(InfluxDBConfig{}, w)

	at := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	s.RecordTransition(interfaces.Transition{
		Time:   at,
		Kind:   interfaces.TransitionPowerState,
		From:   1,
		To:     0,
		Source: "timer",
	})
	s.Close()

	_, points := w.snapshot()
	require.Len(t, points, 1)

	line := write.PointToLineProtocol(points[0], time.Nanosecond)
	assert.True(t, strings.HasPrefix(line, Measurement+","), line)
	assert.Contains(t, line, "kind=power_state")
	assert.Contains(t, line, "source=timer")
	assert.Contains(t, line, "from=1i")
	assert.Contains(t, line, "to=0i")
	assert.Contains(t, line, "1736510400000000000")
}

func TestRecordTransition_DefaultsTime(t *testing.T) {
	w := &fakeWriter{}
	s := newStorage(InfluxDBConfig{}, w)

	before := time.Now()
	s.RecordTransition(interfaces.Transition{Kind: interfaces.TransitionTimerExpired, From: 1, To: 1})
	s.Close()

	_, points := w.snapshot()
	require.Len(t, points, 1)
	assert.False(t, points[0].Time().Before(before))
}

func TestRecordTransition_OmitsEmptySource(t *testing.T) {
	p := transitionPoint(interfaces.Transition{Kind: interfaces.TransitionDispatch, Command: "gpio write 7 0"})

	line := write.PointToLineProtocol(p, time.Nanosecond)
	assert.NotContains(t, line, "source=")
	assert.Contains(t, line, `command="gpio write 7 0"`)
}

func TestCircuitBreakerStopsWrites(t *testing.T) {
	w := &fakeWriter{err: stderrors.New("connection refused")}
	s := newStorage(InfluxDBConfig{FailureThreshold: 2, OpenTimeout: time.Hour}, w)

	before := testutil.ToFloat64(metrics.InfluxDBWriteErrors)
	for i := 0; i < 5; i++ {
		s.RecordTransition(interfaces.Transition{Kind: interfaces.TransitionPowerState})
	}
	s.Close()

	calls, _ := w.snapshot()
	assert.Equal(t, 2, calls, "breaker opens after two consecutive failures")
	assert.Equal(t, before+5, testutil.ToFloat64(metrics.InfluxDBWriteErrors))
}

func TestWriteReturnsBreakerOpen(t *testing.T) {
	w := &fakeWriter{err: stderrors.New("boom")}
	s := newStorage(InfluxDBConfig{FailureThreshold: 1, OpenTimeout: time.Hour}, w)
	defer s.Close()

	assert.EqualError(t, s.write(interfaces.Transition{}), "boom")
	assert.ErrorIs(t, s.write(interfaces.Transition{}), errors.ErrCircuitBreakerOpen)
}

func TestRecordTransition_DropsWhenQueueFull(t *testing.T) {
	w := &fakeWriter{block: make(chan struct{})}
	s := newStorage(InfluxDBConfig{QueueSize: 1}, w)

	s.RecordTransition(interfaces.Transition{Kind: "first"})
	require.Eventually(t, func() bool {
		calls, _ := w.snapshot()
		return calls == 1
	}, 2*time.Second, 5*time.Millisecond)

	before := testutil.ToFloat64(metrics.InfluxDBWriteErrors)
	s.RecordTransition(interfaces.Transition{Kind: "queued"})
	s.RecordTransition(interfaces.Transition{Kind: "dropped"})
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.InfluxDBWriteErrors))

	close(w.block)
	s.Close()

	_, points := w.snapshot()
	assert.Len(t, points, 2)
}

func TestRecordTransitionAfterClose(t *testing.T) {
	w := &fakeWriter{}
	s := newStorage(InfluxDBConfig{}, w)
	s.Close()
	s.Close()

	assert.NotPanics(t, func() {
		s.RecordTransition(interfaces.Transition{Kind: interfaces.TransitionPowerState})
	})
	calls, _ := w.snapshot()
	assert.Zero(t, calls)
}

func TestWithoutClient(t *testing.T) {
	s := newStorage(InfluxDBConfig{}, &fakeWriter{})
	defer s.Close()

	_, err := s.QueryLatestTransition(context.Background())
	assert.ErrorIs(t, err, errors.ErrNotConfigured)
	assert.ErrorIs(t, s.Health(context.Background()), errors.ErrNotConfigured)
}

func TestIntValue(t *testing.T) {
	assert.Equal(t, 99, intValue(int64(99)))
	assert.Equal(t, 1, intValue(float64(1)))
	assert.Equal(t, 1, intValue(uint64(1)))
	assert.Equal(t, 0, intValue("1"))
	assert.Equal(t, 0, intValue(nil))
}

func TestSanitizeFluxString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "no special characters",
			input:    "printer-history",
			expected: "printer-history",
		},
		{
			name:     "double quotes",
			input:    `bucket"with"quotes`,
			expected: `bucket\"with\"quotes`,
		},
		{
			name:     "backslashes",
			input:    `bucket\with\backslashes`,
			expected: `bucket\\with\\backslashes`,
		},
		{
			name:     "injection attempt",
			input:    `") |> drop() //`,
			expected: `\") |> drop() //`,
		},
		{
			name:     "newlines and nulls",
			input:    "a\nb\r\x00c",
			expected: `a\nb\rc`,
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "truncated",
			input:    strings.Repeat("A", 1500),
			expected: strings.Repeat("A", 1000),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := sanitizeFluxString(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFluxString(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
