// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package storage records the printer's power history to InfluxDB.
package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/soothill/printer-power-manager/pkg/errors"
	"github.com/soothill/printer-power-manager/pkg/interfaces"
	"github.com/soothill/printer-power-manager/pkg/logger"
	"github.com/soothill/printer-power-manager/pkg/metrics"
)

const (
	// Measurement holds one point per recorded transition.
	Measurement = "power_transition"

	// DefaultQueueSize is the number of transitions buffered for the writer.
	DefaultQueueSize = 256

	// DefaultWriteTimeout bounds a single point write.
	DefaultWriteTimeout = 5 * time.Second

	// maxFluxStringLen caps user-supplied strings placed in Flux queries.
	maxFluxStringLen = 1000

	historyWindow = "-30d"
)

// InfluxDBConfig holds the connection settings for InfluxDB.
type InfluxDBConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string

	QueueSize    int
	WriteTimeout time.Duration

	// Circuit breaker tuning; zero values use the defaults.
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

func (c *InfluxDBConfig) applyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
}

// pointWriter is the subset of api.WriteAPIBlocking used by the recorder.
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxDBStorage writes power transitions to InfluxDB from a background
// worker. RecordTransition never blocks the caller; when the queue is full the
// transition is dropped and counted as a write error.
type InfluxDBStorage struct {
	client   influxdb2.Client
	writer   pointWriter
	queryAPI api.QueryAPI
	breaker  *gobreaker.CircuitBreaker
	cfg      InfluxDBConfig
	log      zerolog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan interfaces.Transition
	done   chan struct{}
}

// NewInfluxDBStorage connects to InfluxDB, verifies its health and starts the
// write worker.
func NewInfluxDBStorage(cfg InfluxDBConfig) (*InfluxDBStorage, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, errors.NewNetworkError("influxdb health", cfg.URL, err)
	}
	if health.Status != "pass" {
		client.Close()
		message := "unknown error"
		if health.Message != nil {
			message = *health.Message
		}
		return nil, errors.NewNetworkError("influxdb health", cfg.URL, fmt.Errorf("health check failed: %s", message))
	}

	s := newStorage(cfg, client.WriteAPIBlocking(cfg.Org, cfg.Bucket))
	s.client = client
	s.queryAPI = client.QueryAPI(cfg.Org)

	s.log.Info().Str("url", cfg.URL).Str("bucket", cfg.Bucket).Msg("Connected to InfluxDB")
	return s, nil
}

func newStorage(cfg InfluxDBConfig, w pointWriter) *InfluxDBStorage {
	cfg.applyDefaults()
	s := &InfluxDBStorage{
		writer: w,
		cfg:    cfg,
		log:    logger.Component("storage"),
		queue:  make(chan interfaces.Transition, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "influxdb",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("InfluxDB circuit breaker state changed")
		},
	})
	go s.run()
	return s
}

// RecordTransition queues t for writing.
func (s *InfluxDBStorage) RecordTransition(t interfaces.Transition) {
	if t.Time.IsZero() {
		t.Time = time.Now()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- t:
	default:
		metrics.InfluxDBWriteErrors.Inc()
		s.log.Warn().Str("kind", t.Kind).Msg("History queue full, dropping transition")
	}
}

func (s *InfluxDBStorage) run() {
	defer close(s.done)
	for t := range s.queue {
		if err := s.write(t); err != nil {
			metrics.InfluxDBWriteErrors.Inc()
			s.log.Error().Err(err).Str("kind", t.Kind).Msg("Failed to write transition")
			continue
		}
		metrics.InfluxDBWritesTotal.Inc()
	}
}

func (s *InfluxDBStorage) write(t interfaces.Transition) error {
	p := transitionPoint(t)
	_, err := s.breaker.Execute(func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
		defer cancel()
		return nil, s.writer.WritePoint(ctx, p)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.ErrCircuitBreakerOpen
	}
	return err
}

func transitionPoint(t interfaces.Transition) *write.Point {
	tags := map[string]string{"kind": t.Kind}
	if t.Source != "" {
		tags["source"] = t.Source
	}
	return influxdb2.NewPoint(
		Measurement,
		tags,
		map[string]interface{}{
			"from":    int64(t.From),
			"to":      int64(t.To),
			"command": t.Command,
		},
		t.Time,
	)
}

// QueryLatestTransition returns the most recent transition in the last 30 days,
// or nil when there is none.
func (s *InfluxDBStorage) QueryLatestTransition(ctx context.Context) (*interfaces.Transition, error) {
	if s.queryAPI == nil {
		return nil, errors.ErrNotConfigured
	}

	query := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: %s)
			|> filter(fn: (r) => r._measurement == "%s")
			|> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
			|> group()
			|> sort(columns: ["_time"], desc: true)
			|> limit(n: 1)
	`, sanitizeFluxString(s.cfg.Bucket), historyWindow, Measurement)

	result, err := s.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer func() {
		_ = result.Close()
	}()

	if !result.Next() {
		if result.Err() != nil {
			return nil, fmt.Errorf("query result error: %w", result.Err())
		}
		return nil, nil
	}

	record := result.Record()
	t := &interfaces.Transition{Time: record.Time()}
	t.Kind, _ = record.ValueByKey("kind").(string)
	t.Source, _ = record.ValueByKey("source").(string)
	t.Command, _ = record.ValueByKey("command").(string)
	t.From = intValue(record.ValueByKey("from"))
	t.To = intValue(record.ValueByKey("to"))
	return t, nil
}

func intValue(v interface{}) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case float64:
		return int(n)
	case uint64:
		return int(n)
	default:
		return 0
	}
}

// Health checks that InfluxDB is reachable and healthy.
func (s *InfluxDBStorage) Health(ctx context.Context) error {
	if s.client == nil {
		return errors.ErrNotConfigured
	}
	health, err := s.client.Health(ctx)
	if err != nil {
		return errors.NewNetworkError("influxdb health", s.cfg.URL, err)
	}
	if health.Status != "pass" {
		return errors.NewNetworkError("influxdb health", s.cfg.URL, fmt.Errorf("status %s", health.Status))
	}
	return nil
}

// Close drains queued transitions and closes the client.
func (s *InfluxDBStorage) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	if s.client != nil {
		s.log.Info().Msg("Closing InfluxDB connection")
		s.client.Close()
	}
}

// sanitizeFluxString escapes s for use inside a double-quoted Flux string.
// Input is truncated to maxFluxStringLen bytes and NUL bytes are removed.
func sanitizeFluxString(s string) string {
	if len(s) > maxFluxStringLen {
		s = s[:maxFluxStringLen]
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case 0:
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

var _ interfaces.HistoryStore = (*InfluxDBStorage)(nil)
