package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestAddRejectsBadSpecAndDuplicates(t *testing.T) {
	s := New(time.UTC, zaptest.NewLogger(t))
	noop := func(context.Context) error { return nil }

	assert.Error(t, s.Add("bad", "every now and then", noop))
	require.NoError(t, s.Add("sweep", "@every 30s", noop))
	assert.Error(t, s.Add("sweep", "@every 1m", noop))
	assert.Error(t, s.Add("nil", "@every 1m", nil))
}

func TestTriggerRunsJob(t *testing.T) {
	s := New(nil, zaptest.NewLogger(t))
	var runs atomic.Int32
	require.NoError(t, s.Add("count", "@every 1h", func(ctx context.Context) error {
		runs.Add(1)
		return ctx.Err()
	}))
	require.NoError(t, s.Add("fail", "@every 1h", func(context.Context) error {
		return errors.New("boom")
	}))

	require.NoError(t, s.Trigger("count"))
	require.NoError(t, s.Trigger("fail"))
	assert.Error(t, s.Trigger("missing"))
	assert.EqualValues(t, 1, runs.Load())
}

func TestStartStop(t *testing.T) {
	s := New(time.UTC, zaptest.NewLogger(t))
	var runs atomic.Int32
	require.NoError(t, s.Add("tick", "@every 1s", func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	s.Start()
	assert.True(t, s.IsRunning())
	assert.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
	s.Stop()
	assert.False(t, s.IsRunning())

	// после Stop задачи не выполняются
	require.NoError(t, s.Trigger("tick"))
	n := runs.Load()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, n, runs.Load())
}
