// Package worker runs queued jobs on a bounded number of goroutines.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/dsrkit/dsrkit/internal/build"
	"github.com/dsrkit/dsrkit/internal/concurrency"
	"github.com/dsrkit/dsrkit/pkg/logger"
	"github.com/dsrkit/dsrkit/pkg/queue"
)

var (
	tracer = otel.Tracer("dsrkit/pkg/worker")

	jobsProcessedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "worker_jobs_processed_count",
		Help:      "The number of queue jobs processed, by kind and outcome.",
	}, []string{"kind", "outcome"})

	jobDurationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:                       build.ProjectName,
		Name:                            "worker_job_duration_ms",
		Help:                            "The time a worker spent on one queue job.",
		Buckets:                         []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 30000},
		NativeHistogramBucketFactor:     1.1,
		NativeHistogramMaxBucketNumber:  100,
		NativeHistogramMinResetDuration: time.Hour,
	}, []string{"kind"})
)

// HandlerFunc runs the job for one entity id.
type HandlerFunc func(ctx context.Context, entityID string) error

type Pool struct {
	queue    queue.Queue
	handlers map[string]HandlerFunc
	size     int
	logger   logger.Logger

	dequeueInitialInterval time.Duration
	dequeueMaxInterval     time.Duration
}

type Option func(*Pool)

func WithLogger(l logger.Logger) Option {
	return func(p *Pool) {
		p.logger = l
	}
}

// WithSize sets the number of jobs run concurrently.
func WithSize(n int) Option {
	return func(p *Pool) {
		p.size = n
	}
}

// WithDequeueBackoff sets how long a worker waits after a failed dequeue. The
// wait grows exponentially from initial up to maxInterval and resets once a
// dequeue succeeds.
func WithDequeueBackoff(initial, maxInterval time.Duration) Option {
	return func(p *Pool) {
		p.dequeueInitialInterval = initial
		p.dequeueMaxInterval = maxInterval
	}
}

func NewPool(q queue.Queue, opts ...Option) *Pool {
	p := &Pool{
		queue:                  q,
		handlers:               make(map[string]HandlerFunc),
		size:                   4,
		logger:                 logger.NewNoopLogger(),
		dequeueInitialInterval: 100 * time.Millisecond,
		dequeueMaxInterval:     10 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle registers the handler for jobs of a kind. It must be called before Run.
func (p *Pool) Handle(kind string, h HandlerFunc) {
	p.handlers[kind] = h
}

// Run processes jobs until ctx is canceled or the queue is closed.
func (p *Pool) Run(ctx context.Context) error {
	pool := concurrency.NewPool(ctx, p.size)
	for i := 0; i < p.size; i++ {
		pool.Go(func(ctx context.Context) error {
			retry := p.dequeueBackOff()
			for {
				job, err := p.queue.Dequeue(ctx)
				if err != nil {
					if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
						return nil
					}
					wait := retry.NextBackOff()
					p.logger.Error("dequeue failed", zap.Duration("retry_in", wait), zap.Error(err))
					if !sleep(ctx, wait) {
						return nil
					}
					continue
				}
				retry.Reset()
				p.process(ctx, job)
			}
		})
	}
	return pool.Wait()
}

func (p *Pool) dequeueBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.dequeueInitialInterval
	b.MaxInterval = p.dequeueMaxInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (p *Pool) process(ctx context.Context, job queue.Job) {
	ctx, span := tracer.Start(ctx, "worker.process")
	span.SetAttributes(attribute.String("kind", job.Kind), attribute.String("entity_id", job.EntityID))
	defer span.End()

	start := time.Now()
	defer func() {
		if err := p.queue.Ack(context.WithoutCancel(ctx), job.ID); err != nil {
			p.logger.Warn("ack failed", zap.String("job_id", job.ID), zap.Error(err))
		}
		jobDurationHistogram.WithLabelValues(job.Kind).Observe(float64(time.Since(start).Milliseconds()))
	}()

	outcome := "success"
	if err := p.run(ctx, job); err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.ErrorWithContext(ctx, "job failed",
			zap.String("kind", job.Kind),
			zap.String("entity_id", job.EntityID),
			zap.Error(err))
	}
	jobsProcessedCounter.WithLabelValues(job.Kind, outcome).Inc()
}

func (p *Pool) run(ctx context.Context, job queue.Job) (err error) {
	h, ok := p.handlers[job.Kind]
	if !ok {
		return fmt.Errorf("no handler for job kind %q", job.Kind)
	}

	revoked, err := p.queue.IsRevoked(ctx, job.ID)
	if err != nil {
		return err
	}
	if revoked {
		p.logger.Debug("skipping revoked job", zap.String("job_id", job.ID))
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic running %s job: %v", job.Kind, r)
		}
	}()
	return h(ctx, job.EntityID)
}
