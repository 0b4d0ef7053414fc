package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSweepScheduler_Add(t *testing.T) {
	s := NewSweepScheduler(zap.NewNop(), 0)
	noop := func(context.Context) (*SweepResult, error) { return &SweepResult{}, nil }

	require.NoError(t, s.Add(SweepActivation, "@every 5m", noop))
	assert.Error(t, s.Add(SweepActivation, "@hourly", noop))
	assert.Error(t, s.Add(SweepExpiry, "not a schedule", noop))

	_, ok := s.Next(SweepExpiry)
	assert.False(t, ok)

	s.Start()
	defer s.Stop(context.Background())
	next, ok := s.Next(SweepActivation)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), next, 5*time.Second)
}

func TestSweepScheduler_SkipsOverlappingRun(t *testing.T) {
	s := NewSweepScheduler(zap.NewNop(), time.Second)
	var calls int32
	require.NoError(t, s.Add(SweepPosts, "@hourly", func(context.Context) (*SweepResult, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("backend down")
	}))
	sw := s.sweeps[SweepPosts]

	sw.running.Lock()
	s.execute(sw)
	sw.running.Unlock()
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))

	// A failing run is logged and does not block the next one.
	s.execute(sw)
	s.execute(sw)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
