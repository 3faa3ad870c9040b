package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5, cfg.Workers)

	cfg.Workers = 0
	assert.Error(t, cfg.Validate())
}

func TestPool_RespectsWidth(t *testing.T) {
	var running, peak atomic.Int32
	tasks := make([]Task, 20)
	for i := range tasks {
		tasks[i] = Task{Name: fmt.Sprint(i), Run: func(ctx context.Context) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil
		}}
	}

	report := NewPool(3, nil).Run(context.Background(), tasks)
	assert.Equal(t, 20, report.Succeeded)
	assert.Zero(t, report.Failed)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.NoError(t, report.Err())
}

func TestPool_FailuresDoNotStopSiblings(t *testing.T) {
	boom := errors.New("boom")
	tasks := []Task{
		{Name: "ok-1", Run: func(context.Context) error { return nil }},
		{Name: "bad", Run: func(context.Context) error { return boom }},
		{Name: "panics", Run: func(context.Context) error { panic("oops") }},
		{Name: "ok-2", Run: func(context.Context) error { return nil }},
	}

	report := NewPool(2, nil).Run(context.Background(), tasks)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, 4, report.Total())
	assert.ErrorIs(t, report.Err(), boom)
	assert.Contains(t, report.Err().Error(), "panic: oops")
	assert.Equal(t, "2 succeeded, 2 failed", report.String())
}

func TestPool_CancelledContextSkipsQueuedTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran atomic.Int32
	tasks := []Task{
		{Name: "a", Run: func(context.Context) error { ran.Add(1); return nil }},
		{Name: "b", Run: func(context.Context) error { ran.Add(1); return nil }},
	}
	report := NewPool(1, nil).Run(ctx, tasks)
	assert.Zero(t, ran.Load())
	assert.Equal(t, 2, report.Failed)
	assert.ErrorIs(t, report.Err(), context.Canceled)
}

func TestPool_EmptyAndDefaultWidth(t *testing.T) {
	p := NewPool(0, nil)
	assert.Equal(t, DefaultWorkers, p.Workers())
	assert.Zero(t, p.Run(context.Background(), nil).Total())
}
