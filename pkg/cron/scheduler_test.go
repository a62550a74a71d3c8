package cron

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSessions struct {
	calls     int
	olderThan time.Duration
	err       error
}

func (f *fakeSessions) CancelStaleSessions(_ context.Context, olderThan time.Duration) (int, error) {
	f.calls++
	f.olderThan = olderThan
	return 3, f.err
}

type fakePruner struct {
	idle time.Duration
}

func (f *fakePruner) Prune(idle time.Duration) int {
	f.idle = idle
	return 1
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScheduler_RunNow(t *testing.T) {
	sessions := &fakeSessions{}
	pruner := &fakePruner{}
	cfg := Config{Schedule: "@hourly", StaleSessionTTL: 24 * time.Hour, LimiterIdleTime: 10 * time.Minute}

	s := NewScheduler(sessions, cfg, testLogger()).WithRateLimiter(pruner)
	s.RunNow()

	assert.Equal(t, 1, sessions.calls)
	assert.Equal(t, 24*time.Hour, sessions.olderThan)
	assert.Equal(t, 10*time.Minute, pruner.idle)
}

func TestScheduler_SweepErrorStillPrunes(t *testing.T) {
	sessions := &fakeSessions{err: errors.New("db down")}
	pruner := &fakePruner{}
	s := NewScheduler(sessions, Config{Schedule: "@hourly", LimiterIdleTime: time.Minute}, testLogger()).WithRateLimiter(pruner)

	assert.NotPanics(t, s.RunNow)
	assert.Equal(t, time.Minute, pruner.idle)
}

func TestScheduler_StartStop(t *testing.T) {
	s := NewScheduler(&fakeSessions{}, Config{Schedule: "@every 1h"}, testLogger())
	require.NoError(t, s.Start())
	assert.Len(t, s.cron.Entries(), 1)
	<-s.Stop().Done()
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	s := NewScheduler(&fakeSessions{}, Config{Schedule: "not a schedule"}, testLogger())
	assert.Error(t, s.Start())
}
