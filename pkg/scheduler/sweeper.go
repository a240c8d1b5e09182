package scheduler

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/dsrkit/dsrkit/internal/concurrency"
	"github.com/dsrkit/dsrkit/pkg/cache"
	"github.com/dsrkit/dsrkit/pkg/logger"
)

var sweepDurationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:                            "scheduler_sweep_duration_ms",
	Help:                            "The duration (in ms) of a periodic sweep.",
	Buckets:                         []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 30000},
	NativeHistogramBucketFactor:     1.1,
	NativeHistogramMaxBucketNumber:  100,
	NativeHistogramMinResetDuration: time.Hour,
}, []string{"sweep", "outcome"})

// Sweep names, also used as lock names.
const (
	SweepExitedRequests     = "poll_exited_requests"
	SweepInterruptedTasks   = "requeue_interrupted_tasks"
	SweepAsyncTasks         = "poll_async_tasks"
	SweepExpiredRequestData = "purge_expired_data"
)

type sweep struct {
	name     string
	interval time.Duration
	run      func(context.Context) error
}

// Sweeper runs the scheduler's periodic sweeps. Every run of a sweep holds a
// cluster-wide lock; a run that cannot get its lock is skipped.
type Sweeper struct {
	scheduler *Scheduler
	cache     cache.Cache
	clock     clock.Clock
	logger    logger.Logger
	sweeps    []sweep
}

type SweeperOption func(*Sweeper)

func WithSweeperLogger(l logger.Logger) SweeperOption {
	return func(w *Sweeper) {
		w.logger = l
	}
}

func WithSweeperClock(c clock.Clock) SweeperOption {
	return func(w *Sweeper) {
		w.clock = c
	}
}

// WithInterval overrides the interval of one sweep. A zero interval disables it.
func WithInterval(name string, d time.Duration) SweeperOption {
	return func(w *Sweeper) {
		for i := range w.sweeps {
			if w.sweeps[i].name == name {
				w.sweeps[i].interval = d
			}
		}
	}
}

func NewSweeper(s *Scheduler, opts ...SweeperOption) *Sweeper {
	w := &Sweeper{
		scheduler: s,
		cache:     s.cache,
		clock:     s.clock,
		logger:    s.logger,
		sweeps: []sweep{
			{name: SweepExitedRequests, interval: 30 * time.Second, run: s.PollForExitedRequests},
			{name: SweepInterruptedTasks, interval: 5 * time.Minute, run: s.RequeueInterruptedTasks},
			{name: SweepAsyncTasks, interval: time.Minute, run: s.PollAsyncTasks},
			{name: SweepExpiredRequestData, interval: time.Hour, run: s.PurgeExpiredData},
		},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run blocks running every enabled sweep on its interval until ctx is done.
func (w *Sweeper) Run(ctx context.Context) error {
	pool := concurrency.NewPool(ctx, len(w.sweeps))
	for _, sw := range w.sweeps {
		if sw.interval <= 0 {
			continue
		}
		pool.Go(func(ctx context.Context) error {
			w.loop(ctx, sw)
			return nil
		})
	}
	return pool.Wait()
}

func (w *Sweeper) loop(ctx context.Context, sw sweep) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.clock.After(sw.interval):
			w.runOnce(ctx, sw)
		}
	}
}

// RunOnce runs the named sweep once, under its lock. It reports whether the sweep ran.
func (w *Sweeper) RunOnce(ctx context.Context, name string) bool {
	for _, sw := range w.sweeps {
		if sw.name == name {
			return w.runOnce(ctx, sw)
		}
	}
	return false
}

func (w *Sweeper) runOnce(ctx context.Context, sw sweep) bool {
	lockTTL := sw.interval
	if lockTTL <= 0 {
		lockTTL = time.Minute
	}
	unlock, ok, err := w.cache.TryLock(ctx, cache.LockKey(sw.name), lockTTL)
	if err != nil {
		w.logger.WarnWithContext(ctx, "failed to acquire sweep lock", zap.String("sweep", sw.name), zap.Error(err))
		return false
	}
	if !ok {
		w.logger.DebugWithContext(ctx, "sweep already running elsewhere", zap.String("sweep", sw.name))
		return false
	}
	defer unlock()

	start := w.clock.Now()
	outcome := "ok"
	if err := sw.run(ctx); err != nil {
		outcome = "error"
		w.logger.ErrorWithContext(ctx, "sweep failed", zap.String("sweep", sw.name), zap.Error(err))
	}
	elapsed := w.clock.Now().Sub(start)
	sweepDurationHistogram.WithLabelValues(sw.name, outcome).Observe(float64(elapsed.Milliseconds()))
	w.logger.DebugWithContext(ctx, "sweep finished", zap.String("sweep", sw.name), zap.String("outcome", outcome), zap.Duration("duration", elapsed))
	return true
}
