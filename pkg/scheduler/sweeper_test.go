package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dsrkit/dsrkit/pkg/cache"
	"github.com/dsrkit/dsrkit/pkg/connector"
	"github.com/dsrkit/dsrkit/pkg/logger"
	"github.com/dsrkit/dsrkit/pkg/storage"
)

func TestSweeperSkipsLockedSweeps(t *testing.T) {
	h := newMockHarness(t, diamondGraph(t))
	w := NewSweeper(h.scheduler)

	unlock, ok, err := h.cache.TryLock(h.ctx, cache.LockKey(SweepAsyncTasks), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.False(t, w.RunOnce(h.ctx, SweepAsyncTasks))
	require.True(t, w.RunOnce(h.ctx, SweepExitedRequests))

	unlock()
	require.True(t, w.RunOnce(h.ctx, SweepAsyncTasks))
	require.False(t, w.RunOnce(h.ctx, "unknown"))
}

func TestSweeperRunsOnInterval(t *testing.T) {
	h := newMockHarness(t, diamondGraph(t))
	h.responder.set("a", connector.Failed(errors.New("down")))

	pr, err := h.scheduler.Submit(h.ctx, identity, accessPolicy)
	require.NoError(t, err)
	h.drain(t)
	require.Equal(t, storage.RequestInProcessing, h.status(t, pr.ID))

	w := NewSweeper(h.scheduler,
		WithInterval(SweepExitedRequests, 10*time.Second),
		WithInterval(SweepInterruptedTasks, 0),
		WithInterval(SweepAsyncTasks, 0),
		WithInterval(SweepExpiredRequestData, 0),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, h.clock.WaitAdvance(10*time.Second, time.Second, 1))
	require.Eventually(t, func() bool {
		got, err := h.datastore.GetPrivacyRequest(h.ctx, pr.ID)
		return err == nil && got.Status == storage.RequestError
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestSweeperTimesRunsWithItsClock(t *testing.T) {
	h := newMockHarness(t, diamondGraph(t))
	log, logs := logger.NewObserverLogger("debug")
	w := NewSweeper(h.scheduler, WithSweeperLogger(log))
	w.sweeps = append(w.sweeps, sweep{name: "slow", interval: time.Minute, run: func(context.Context) error {
		h.clock.Advance(90 * time.Second)
		return nil
	}})

	require.True(t, w.RunOnce(h.ctx, "slow"))

	entries := logs.TakeAll()
	require.NotEmpty(t, entries)
	last := entries[len(entries)-1]
	require.Equal(t, "sweep finished", last.Message)
	require.Equal(t, "slow", last.ContextMap()["sweep"])
	require.Equal(t, 90*time.Second, last.ContextMap()["duration"])
}
