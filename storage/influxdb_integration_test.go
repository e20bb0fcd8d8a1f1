// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

//go:build integration
// +build integration

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go/modules/influxdb"

	"github.com/soothill/printer-power-manager/pkg/interfaces"
)

type InfluxDBIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *influxdb.InfluxDbContainer
	url       string
}

func TestInfluxDBIntegration(t *testing.T) {
	suite.Run(t, new(InfluxDBIntegrationSuite))
}

func (s *InfluxDBIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	container, err := influxdb.Run(s.ctx,
		"influxdb:2.7-alpine",
		influxdb.WithV2Auth("test-org", "test-bucket", "test-user", "test-password"),
		influxdb.WithV2AdminToken("test-token"),
	)
	s.Require().NoError(err, "start InfluxDB container")
	s.container = container

	url, err := container.ConnectionUrl(s.ctx)
	s.Require().NoError(err)
	s.url = url
}

func (s *InfluxDBIntegrationSuite) TearDownSuite() {
	if s.container != nil {
		if err := s.container.Terminate(s.ctx); err != nil {
			s.T().Logf("Failed to terminate container: %v", err)
		}
	}
}

func (s *InfluxDBIntegrationSuite) newStorage() *InfluxDBStorage {
	storage, err := NewInfluxDBStorage(InfluxDBConfig{
		URL:    s.url,
		Token:  "test-token",
		Org:    "test-org",
		Bucket: "test-bucket",
	})
	s.Require().NoError(err)
	return storage
}

func (s *InfluxDBIntegrationSuite) TestHealth() {
	storage := s.newStorage()
	defer storage.Close()

	s.NoError(storage.Health(s.ctx))
}

func (s *InfluxDBIntegrationSuite) TestRecordAndQueryLatest() {
	storage := s.newStorage()
	defer storage.Close()

	now := time.Now().UTC().Truncate(time.Second)
	storage.RecordTransition(interfaces.Transition{
		Time:   now.Add(-2 * time.Minute),
		Kind:   interfaces.TransitionPowerState,
		From:   99,
		To:     1,
		Source: "startup",
	})
	storage.RecordTransition(interfaces.Transition{
		Time:    now.Add(-time.Minute),
		Kind:    interfaces.TransitionDispatch,
		From:    1,
		To:      0,
		Source:  "timer",
		Command: "gpio write 7 0",
	})

	var latest *interfaces.Transition
	s.Eventually(func() bool {
		var err error
		latest, err = storage.QueryLatestTransition(s.ctx)
		return err == nil && latest != nil && latest.Kind == interfaces.TransitionDispatch
	}, 10*time.Second, 200*time.Millisecond)

	s.Require().NotNil(latest)
	s.Equal(1, latest.From)
	s.Equal(0, latest.To)
	s.Equal("timer", latest.Source)
	s.Equal("gpio write 7 0", latest.Command)
	s.True(latest.Time.Equal(now.Add(-time.Minute)), "time %v", latest.Time)
}

func (s *InfluxDBIntegrationSuite) TestCloseFlushesQueue() {
	storage := s.newStorage()
	storage.RecordTransition(interfaces.Transition{
		Time: time.Now().Add(-time.Hour),
		Kind: interfaces.TransitionTimerExpired,
		From: 1,
		To:   1,
	})
	storage.Close()

	reader := s.newStorage()
	defer reader.Close()

	latest, err := reader.QueryLatestTransition(s.ctx)
	s.Require().NoError(err)
	s.Require().NotNil(latest)
	s.Equal(interfaces.TransitionTimerExpired, latest.Kind)
}
