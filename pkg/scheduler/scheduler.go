// Package scheduler drives privacy requests through their request tasks. A
// request is planned into one task per collection, tasks are handed to workers
// through the queue as soon as everything upstream of them is complete, and a
// set of periodic sweeps detects failed, interrupted and asynchronous work.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/dsrkit/dsrkit/pkg/cache"
	"github.com/dsrkit/dsrkit/pkg/connector"
	"github.com/dsrkit/dsrkit/pkg/graph"
	"github.com/dsrkit/dsrkit/pkg/id"
	"github.com/dsrkit/dsrkit/pkg/logger"
	"github.com/dsrkit/dsrkit/pkg/policy"
	"github.com/dsrkit/dsrkit/pkg/queue"
	"github.com/dsrkit/dsrkit/pkg/storage"
	"github.com/dsrkit/dsrkit/pkg/traversal"
	"github.com/dsrkit/dsrkit/pkg/worker"
)

var tracer = otel.Tracer("dsrkit/pkg/scheduler")

var (
	// ErrPrivacyRequest is returned when an action on a privacy request cannot proceed.
	ErrPrivacyRequest = errors.New("privacy request error")

	ErrTaskNotAwaitingInput = errors.New("request task is not awaiting input")
)

var (
	taskTransitionsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_task_transitions_count",
		Help: "The total number of request task status transitions.",
	}, []string{"action", "status"})

	requestStatusCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_privacy_request_status_count",
		Help: "The total number of privacy requests that reached a status.",
	}, []string{"status"})

	requeuedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_requeued_privacy_requests_count",
		Help: "The total number of interrupted privacy requests that were requeued.",
	})
)

const (
	defaultMaxRetries          = 3
	defaultCacheTTL            = 30 * 24 * time.Hour
	defaultAsyncPollingTimeout = 3 * 24 * time.Hour
	defaultRetentionPeriod     = 90 * 24 * time.Hour
)

// Scheduler coordinates privacy requests. All state lives in the datastore and
// the cache so that any number of schedulers may serve the same queue.
type Scheduler struct {
	datastore  storage.Datastore
	cache      cache.Cache
	queue      queue.Queue
	connectors *connector.Registry

	graphMu sync.RWMutex
	graph   *graph.Graph

	logger logger.Logger
	clock  clock.Clock

	maxRetries          int
	cacheTTL            time.Duration
	asyncPollingTimeout time.Duration
	retentionPeriod     time.Duration
}

type Option func(*Scheduler)

func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithMaxRetries bounds how often an interrupted request is requeued before it is cancelled.
func WithMaxRetries(n int) Option {
	return func(s *Scheduler) {
		s.maxRetries = n
	}
}

// WithCacheTTL sets the lifetime of tracked job ids, retry counters and cached plans.
func WithCacheTTL(d time.Duration) Option {
	return func(s *Scheduler) {
		s.cacheTTL = d
	}
}

// WithAsyncPollingTimeout sets how long a sub-request may stay pending.
func WithAsyncPollingTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		s.asyncPollingTimeout = d
	}
}

// WithRetentionPeriod sets how long finished requests are kept.
func WithRetentionPeriod(d time.Duration) Option {
	return func(s *Scheduler) {
		s.retentionPeriod = d
	}
}

func New(ds storage.Datastore, c cache.Cache, q queue.Queue, connectors *connector.Registry, g *graph.Graph, opts ...Option) *Scheduler {
	s := &Scheduler{
		datastore:           ds,
		cache:               c,
		queue:               q,
		connectors:          connectors,
		graph:               g,
		logger:              logger.NewNoopLogger(),
		clock:               clock.WallClock,
		maxRetries:          defaultMaxRetries,
		cacheTTL:            defaultCacheTTL,
		asyncPollingTimeout: defaultAsyncPollingTimeout,
		retentionPeriod:     defaultRetentionPeriod,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Graph returns the dataset graph new plans are built from.
func (s *Scheduler) Graph() *graph.Graph {
	s.graphMu.RLock()
	defer s.graphMu.RUnlock()
	return s.graph
}

// SetGraph replaces the dataset graph. Requests already planned keep their tasks.
func (s *Scheduler) SetGraph(g *graph.Graph) {
	s.graphMu.Lock()
	defer s.graphMu.Unlock()
	s.graph = g
}

// Register installs the scheduler's job handlers on a worker pool.
func (s *Scheduler) Register(p *worker.Pool) {
	p.Handle(queue.KindPrivacyRequest, s.RunPrivacyRequest)
	p.Handle(queue.KindRequestTask, s.RunTask)
}

// Submit validates and persists a new privacy request and queues it for planning.
// The plan is built once here so that traversal errors surface before any work starts.
func (s *Scheduler) Submit(ctx context.Context, identity map[string]any, p *policy.Policy) (*storage.PrivacyRequest, error) {
	ctx, span := tracer.Start(ctx, "scheduler.Submit")
	defer span.End()

	if p == nil {
		return nil, fmt.Errorf("%w: a policy is required", ErrPrivacyRequest)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if !p.HasAction(policy.ActionAccess) && !p.HasAction(policy.ActionErasure) {
		return nil, fmt.Errorf("%w: policy %q has no access or erasure rules", ErrPrivacyRequest, p.Key)
	}
	if _, err := traversal.New(s.Graph(), identity); err != nil {
		return nil, err
	}

	pr := &storage.PrivacyRequest{
		ID:       id.MustNewString(id.PrivacyRequestPrefix),
		Status:   storage.RequestApproved,
		Identity: identity,
		Policy:   p,
	}
	if err := s.datastore.CreatePrivacyRequest(ctx, pr); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("privacy_request_id", pr.ID))
	requestStatusCounter.WithLabelValues(string(pr.Status)).Inc()

	if err := s.enqueue(ctx, queue.KindPrivacyRequest, pr.ID); err != nil {
		return nil, err
	}
	s.logger.InfoWithContext(logger.ContextWithPrivacyRequestID(ctx, pr.ID), "privacy request submitted", zap.String("policy", p.Key))
	return pr, nil
}

// Cancel stops a request: its queued jobs are revoked and unfinished tasks are marked error.
func (s *Scheduler) Cancel(ctx context.Context, privacyRequestID string) error {
	pr, err := s.datastore.GetPrivacyRequest(ctx, privacyRequestID)
	if err != nil {
		return err
	}
	if pr.Status.Terminal() {
		return fmt.Errorf("%w: request %s is already %s", ErrPrivacyRequest, pr.ID, pr.Status)
	}
	return s.cancel(ctx, pr, storage.RequestCanceled, "privacy request canceled")
}

func (s *Scheduler) ExecutionLogs(ctx context.Context, privacyRequestID string) ([]*storage.ExecutionLog, error) {
	if _, err := s.datastore.GetPrivacyRequest(ctx, privacyRequestID); err != nil {
		return nil, err
	}
	return s.datastore.ListExecutionLogs(ctx, privacyRequestID)
}

// enqueue queues a job for a privacy request or task and tracks its job id.
func (s *Scheduler) enqueue(ctx context.Context, kind, entityID string) error {
	job, err := s.queue.Enqueue(ctx, kind, entityID)
	if err != nil {
		return fmt.Errorf("enqueue %s %s: %w", kind, entityID, err)
	}
	if err := s.cache.Set(ctx, cache.TaskIDKey(entityID), []byte(job.ID), s.cacheTTL); err != nil {
		return fmt.Errorf("track job of %s: %w", entityID, err)
	}
	return nil
}

// untrack forgets the job id of entities whose job is done.
func (s *Scheduler) untrack(ctx context.Context, entityIDs ...string) {
	keys := make([]string, 0, len(entityIDs))
	for _, e := range entityIDs {
		keys = append(keys, cache.TaskIDKey(e))
	}
	if err := s.cache.Del(ctx, keys...); err != nil {
		s.logger.WarnWithContext(ctx, "failed to forget tracked job ids", zap.Error(err))
	}
}

func (s *Scheduler) setRequestStatus(ctx context.Context, pr *storage.PrivacyRequest, status storage.RequestStatus) error {
	if pr.Status == status {
		return nil
	}
	if err := s.datastore.UpdatePrivacyRequestStatus(ctx, pr.ID, status); err != nil {
		return err
	}
	pr.Status = status
	requestStatusCounter.WithLabelValues(string(status)).Inc()
	s.logger.InfoWithContext(ctx, "privacy request status changed", zap.String("status", string(status)))
	return nil
}

// finish moves a request to a terminal status and drops its cache entries.
func (s *Scheduler) finish(ctx context.Context, pr *storage.PrivacyRequest, status storage.RequestStatus) error {
	if err := s.setRequestStatus(ctx, pr, status); err != nil {
		return err
	}
	s.untrack(ctx, pr.ID)
	if err := s.cache.Del(ctx, cache.RetryCountKey(pr.ID)); err != nil {
		s.logger.WarnWithContext(ctx, "failed to reset retry counter", zap.Error(err))
	}
	return nil
}

// cancel revokes every tracked job of the request, marks its unfinished tasks
// error and moves the request to status.
func (s *Scheduler) cancel(ctx context.Context, pr *storage.PrivacyRequest, status storage.RequestStatus, reason string) error {
	ctx = logger.ContextWithPrivacyRequestID(ctx, pr.ID)
	tasks, err := s.datastore.ListRequestTasks(ctx, storage.TaskFilter{PrivacyRequestID: pr.ID})
	if err != nil {
		return err
	}

	entities := []string{pr.ID}
	for _, t := range tasks {
		entities = append(entities, t.ID)
	}
	s.revoke(ctx, entities...)

	for _, t := range tasks {
		if t.Status.Exited() {
			continue
		}
		t.Status = storage.TaskError
		t.Message = reason
		if err := s.saveTask(ctx, t); err != nil {
			return err
		}
	}

	s.logger.WarnWithContext(ctx, "privacy request stopped", zap.String("reason", reason))
	return s.finish(ctx, pr, status)
}

// revoke revokes the tracked jobs of entities. Lookups that fail are skipped.
func (s *Scheduler) revoke(ctx context.Context, entityIDs ...string) {
	var jobIDs []string
	for _, e := range entityIDs {
		jobID, err := s.cache.Get(ctx, cache.TaskIDKey(e))
		if err != nil {
			continue
		}
		jobIDs = append(jobIDs, string(jobID))
	}
	if len(jobIDs) > 0 {
		if err := s.queue.Revoke(ctx, jobIDs...); err != nil {
			s.logger.WarnWithContext(ctx, "failed to revoke jobs", zap.Error(err))
		}
	}
	s.untrack(ctx, entityIDs...)
}

// saveTask persists t and records the transition in the execution log.
func (s *Scheduler) saveTask(ctx context.Context, t *storage.RequestTask) error {
	if err := s.datastore.UpdateRequestTask(ctx, t); err != nil {
		return fmt.Errorf("update request task %s: %w", t.ID, err)
	}
	s.recordTransition(ctx, t)
	return nil
}

func (s *Scheduler) recordTransition(ctx context.Context, t *storage.RequestTask) {
	taskTransitionsCounter.WithLabelValues(string(t.ActionType), string(t.Status)).Inc()
	if t.IsRoot() || t.IsTerminator() {
		return
	}
	err := s.datastore.AppendExecutionLog(ctx, &storage.ExecutionLog{
		ID:               id.MustNewString(id.ExecutionLogPrefix),
		PrivacyRequestID: t.PrivacyRequestID,
		Address:          t.Address,
		ActionType:       t.ActionType,
		Status:           t.Status,
		Message:          t.Message,
		CreatedAt:        s.clock.Now().UTC(),
	})
	if err != nil {
		s.logger.WarnWithContext(ctx, "failed to append execution log", zap.Error(err))
	}
}

func (s *Scheduler) cacheRepresentation(ctx context.Context, privacyRequestID string, r traversal.Representation) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, cache.AccessGraphKey(privacyRequestID), data, s.cacheTTL)
}

func (s *Scheduler) cachedRepresentation(ctx context.Context, privacyRequestID string) (traversal.Representation, error) {
	data, err := s.cache.Get(ctx, cache.AccessGraphKey(privacyRequestID))
	if err != nil {
		return nil, err
	}
	var r traversal.Representation
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return r, nil
}
