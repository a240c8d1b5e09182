package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/dsrkit/dsrkit/pkg/cache"
	"github.com/dsrkit/dsrkit/pkg/connector"
	"github.com/dsrkit/dsrkit/pkg/logger"
	"github.com/dsrkit/dsrkit/pkg/policy"
	"github.com/dsrkit/dsrkit/pkg/queue"
	"github.com/dsrkit/dsrkit/pkg/storage"
)

const pollingTimeoutMessage = "polling timeout exceeded"

// PollForExitedRequests fails every in-flight request with an action phase in
// which all tasks have exited and at least one errored.
func (s *Scheduler) PollForExitedRequests(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "scheduler.PollForExitedRequests")
	defer span.End()

	requests, err := s.datastore.ListPrivacyRequests(ctx, storage.RequestInProcessing, storage.RequestRequiresInput)
	if err != nil {
		return err
	}
	for _, pr := range requests {
		ctx := logger.ContextWithPrivacyRequestID(ctx, pr.ID)
		tasks, err := s.datastore.ListRequestTasks(ctx, storage.TaskFilter{PrivacyRequestID: pr.ID})
		if err != nil {
			return err
		}
		for _, action := range []policy.ActionType{policy.ActionAccess, policy.ActionErasure} {
			if !exitedWithError(tasks, action) {
				continue
			}
			s.logger.WarnWithContext(ctx, "privacy request has failed tasks", zap.String("action", string(action)))
			if err := s.cancel(ctx, pr, storage.RequestError, fmt.Sprintf("%s phase failed", action)); err != nil {
				return err
			}
			break
		}
	}
	return nil
}

func exitedWithError(tasks []*storage.RequestTask, action policy.ActionType) bool {
	seen, failed := false, false
	for _, t := range tasks {
		if t.ActionType != action {
			continue
		}
		seen = true
		if !t.Status.Exited() {
			return false
		}
		if t.Status == storage.TaskError {
			failed = true
		}
	}
	return seen && failed
}

// RequeueInterruptedTasks finds in-flight requests whose work is no longer
// pending or running in the queue, for example because a worker died. Such
// requests are requeued a bounded number of times. When the state cannot be
// read reliably the request is cancelled rather than retried.
func (s *Scheduler) RequeueInterruptedTasks(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "scheduler.RequeueInterruptedTasks")
	defer span.End()

	requests, err := s.datastore.ListPrivacyRequests(ctx, storage.InFlight...)
	if err != nil {
		return err
	}
	for _, pr := range requests {
		ctx := logger.ContextWithPrivacyRequestID(ctx, pr.ID)
		if err := s.checkInterrupted(ctx, pr); err != nil {
			s.logger.ErrorWithContext(ctx, "failed to check interrupted privacy request", zap.Error(err))
			if err := s.cancel(ctx, pr, storage.RequestError, fmt.Sprintf("interruption check failed: %v", err)); err != nil {
				return err
			}
		}
	}
	return nil
}

// jobActive reports whether the tracked job of entityID is pending or running.
// tracked is false when no job id is cached.
func (s *Scheduler) jobActive(ctx context.Context, entityID string) (active, tracked bool, err error) {
	jobID, err := s.cache.Get(ctx, cache.TaskIDKey(entityID))
	if errors.Is(err, cache.ErrKeyNotFound) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	active, err = queue.IsActive(ctx, s.queue, string(jobID))
	return active, true, err
}

func (s *Scheduler) checkInterrupted(ctx context.Context, pr *storage.PrivacyRequest) error {
	tasks, err := s.datastore.ListRequestTasks(ctx, storage.TaskFilter{PrivacyRequestID: pr.ID})
	if err != nil {
		return err
	}

	// A queued or running request job redispatches its tasks itself.
	active, _, err := s.jobActive(ctx, pr.ID)
	if err != nil {
		return err
	}
	if active {
		return nil
	}
	if len(tasks) == 0 {
		return s.requeue(ctx, pr, nil, "privacy request never started")
	}

	for _, action := range []policy.ActionType{policy.ActionAccess, policy.ActionErasure} {
		idx := indexTasks(tasks, action)
		for _, t := range tasks {
			if t.ActionType != action || !inFlight(t, idx) {
				continue
			}
			active, tracked, err := s.jobActive(ctx, t.ID)
			if err != nil {
				return err
			}
			if !tracked {
				if pr.Status == storage.RequestRequiresInput || t.Status == storage.TaskRequiresInput {
					continue
				}
				if t.Status == storage.TaskPolling {
					continue
				}
				s.logger.WarnWithContext(ctx, "request task has no tracked job", zap.String("request_task_id", t.ID), zap.String("status", string(t.Status)))
				return s.cancel(ctx, pr, storage.RequestError, fmt.Sprintf("request task %s is stuck in %s", t.Address, t.Status))
			}
			if !active {
				return s.requeue(ctx, pr, t, fmt.Sprintf("job of request task %s was lost", t.Address))
			}
		}
	}

	if term := unfinishedPhase(pr, tasks); term != nil {
		return s.requeue(ctx, pr, nil, fmt.Sprintf("%s phase completed but the request did not move on", term.ActionType))
	}
	return nil
}

// inFlight reports whether t should be owned by a queued or running job.
// Pending tasks still waiting on their upstream are not.
func inFlight(t *storage.RequestTask, idx taskIndex) bool {
	switch t.Status {
	case storage.TaskInProcessing, storage.TaskPolling, storage.TaskRequiresInput:
		return true
	case storage.TaskPending:
		return idx.upstreamComplete(t)
	}
	return false
}

// requeue resubmits pr unless it was already requeued maxRetries times, in
// which case it is cancelled. lost is the task whose job disappeared, if any.
// Its retry count is bumped here unless it is in_processing, in which case the
// requeued request run resets and counts it.
func (s *Scheduler) requeue(ctx context.Context, pr *storage.PrivacyRequest, lost *storage.RequestTask, reason string) error {
	count := 0
	raw, err := s.cache.Get(ctx, cache.RetryCountKey(pr.ID))
	switch {
	case errors.Is(err, cache.ErrKeyNotFound):
	case err != nil:
		return err
	default:
		if count, err = strconv.Atoi(string(raw)); err != nil {
			return fmt.Errorf("invalid retry counter: %w", err)
		}
	}

	if count >= s.maxRetries {
		return s.cancel(ctx, pr, storage.RequestError, fmt.Sprintf("%s; retried %d times", reason, count))
	}
	if _, err := s.cache.Incr(ctx, cache.RetryCountKey(pr.ID)); err != nil {
		return err
	}
	if lost != nil && lost.Status != storage.TaskInProcessing {
		lost.RetryCount++
		if err := s.datastore.UpdateRequestTask(ctx, lost); err != nil {
			return fmt.Errorf("update request task %s: %w", lost.ID, err)
		}
	}
	requeuedCounter.Inc()
	s.logger.InfoWithContext(ctx, "requeueing interrupted privacy request", zap.String("reason", reason), zap.Int("attempt", count+1))
	return s.enqueue(ctx, queue.KindPrivacyRequest, pr.ID)
}

// PollAsyncTasks checks the sub-requests of every polling task. A task is
// released once all of its sub-requests exited: complete with the aggregated
// rows, or error when any of them failed or timed out.
func (s *Scheduler) PollAsyncTasks(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "scheduler.PollAsyncTasks")
	defer span.End()

	tasks, err := s.datastore.ListRequestTasks(ctx, storage.TaskFilter{Statuses: []storage.TaskStatus{storage.TaskPolling}})
	if err != nil {
		return err
	}
	for _, t := range tasks {
		ctx := logger.ContextWithRequestTaskID(logger.ContextWithPrivacyRequestID(ctx, t.PrivacyRequestID), t.ID)
		if err := s.pollTask(ctx, t); err != nil {
			s.logger.ErrorWithContext(ctx, "failed to poll request task", zap.Error(err))
		}
	}
	return nil
}

func (s *Scheduler) pollTask(ctx context.Context, t *storage.RequestTask) error {
	pr, err := s.datastore.GetPrivacyRequest(ctx, t.PrivacyRequestID)
	if err != nil {
		return err
	}
	if pr.Status.Terminal() {
		return nil
	}

	conn, err := s.connectors.Get(t.ConnectorKey)
	if err != nil {
		return s.fail(ctx, t, err)
	}
	async, ok := conn.(connector.AsyncConnector)
	if !ok {
		return s.fail(ctx, t, fmt.Errorf("connector %s cannot be polled", conn.Key()))
	}

	subs, err := s.datastore.ListSubRequests(ctx, t.ID)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	for _, sr := range subs {
		if sr.Status.Exited() {
			continue
		}
		if now.Sub(sr.CreatedAt) > s.asyncPollingTimeout {
			sr.Status, sr.Message = storage.TaskError, pollingTimeoutMessage
		} else if err := s.pollSubRequest(ctx, async, sr); err != nil {
			sr.Status, sr.Message = storage.TaskError, err.Error()
		}
		if sr.Status == storage.TaskPending {
			continue
		}
		if err := s.datastore.UpdateSubRequest(ctx, sr); err != nil {
			return err
		}
	}

	var (
		rows     []map[string]any
		finished int
		failure  *storage.SubRequest
	)
	for _, sr := range subs {
		if !sr.Status.Exited() {
			return nil
		}
		switch sr.Status {
		case storage.TaskError:
			if failure == nil {
				failure = sr
			}
		case storage.TaskComplete:
			finished++
			rows = append(rows, sr.Rows...)
		}
	}

	if failure != nil {
		return s.fail(ctx, t, fmt.Errorf("sub-request %s: %s", failure.CorrelationID, failure.Message))
	}
	claimed, err := s.datastore.ClaimRequestTask(ctx, t.ID, []storage.TaskStatus{storage.TaskPolling}, storage.TaskInProcessing)
	if err != nil || !claimed {
		return err
	}
	if t.ActionType == policy.ActionErasure {
		t.RowsMasked = finished
	} else {
		t.Rows = rows
	}
	t.Message = fmt.Sprintf("%d of %d asynchronous calls returned results", finished, len(subs))
	return s.complete(ctx, t)
}

func (s *Scheduler) pollSubRequest(ctx context.Context, c connector.AsyncConnector, sr *storage.SubRequest) error {
	status, err := c.CheckAsyncStatus(ctx, sr.CorrelationID)
	if err != nil {
		return err
	}
	switch {
	case !status.Complete:
	case status.SkipResultFetch:
		sr.Status = storage.TaskSkipped
	default:
		rows, err := c.FetchAsyncResult(ctx, sr.CorrelationID)
		if err != nil {
			return err
		}
		sr.Status, sr.Rows = storage.TaskComplete, rows
	}
	return nil
}

// PurgeExpiredData removes finished requests older than the retention period.
func (s *Scheduler) PurgeExpiredData(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "scheduler.PurgeExpiredData")
	defer span.End()

	n, err := s.datastore.DeleteExpiredRequests(ctx, s.clock.Now().Add(-s.retentionPeriod))
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.InfoWithContext(ctx, "purged expired privacy requests", zap.Int("count", n))
	}
	return nil
}
