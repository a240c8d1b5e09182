package scheduler

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/dsrkit/dsrkit/pkg/connector"
	"github.com/dsrkit/dsrkit/pkg/graph"
	"github.com/dsrkit/dsrkit/pkg/id"
	"github.com/dsrkit/dsrkit/pkg/logger"
	"github.com/dsrkit/dsrkit/pkg/policy"
	"github.com/dsrkit/dsrkit/pkg/queryconfig"
	"github.com/dsrkit/dsrkit/pkg/storage"
	"github.com/dsrkit/dsrkit/pkg/telemetry"
	"github.com/dsrkit/dsrkit/pkg/traversal"
)

// RunTask executes one request task. The task is claimed first so a task queued
// twice runs once; a task whose upstream is not complete yet goes back to pending.
func (s *Scheduler) RunTask(ctx context.Context, taskID string) error {
	ctx, span := tracer.Start(ctx, "scheduler.RunTask")
	defer span.End()

	t, err := s.datastore.GetRequestTask(ctx, taskID)
	if err != nil {
		return err
	}
	ctx = logger.ContextWithRequestTaskID(logger.ContextWithPrivacyRequestID(ctx, t.PrivacyRequestID), t.ID)
	span.SetAttributes(
		attribute.String("collection", t.Address.String()),
		attribute.String("action", string(t.ActionType)),
	)

	pr, err := s.datastore.GetPrivacyRequest(ctx, t.PrivacyRequestID)
	if err != nil {
		return err
	}
	if pr.Status.Terminal() {
		s.logger.InfoWithContext(ctx, "skipping task of finished privacy request", zap.String("status", string(pr.Status)))
		s.untrack(ctx, t.ID)
		return nil
	}

	claimed, err := s.datastore.ClaimRequestTask(ctx, t.ID, []storage.TaskStatus{storage.TaskPending}, storage.TaskInProcessing)
	if err != nil {
		return err
	}
	if !claimed {
		s.logger.DebugWithContext(ctx, "request task already claimed", zap.String("status", string(t.Status)))
		return nil
	}
	t.Status = storage.TaskInProcessing

	siblings, err := s.datastore.ListRequestTasks(ctx, storage.TaskFilter{PrivacyRequestID: pr.ID, ActionType: t.ActionType})
	if err != nil {
		return err
	}
	idx := indexTasks(siblings, t.ActionType)
	if !idx.upstreamComplete(t) {
		if _, err := s.datastore.ClaimRequestTask(ctx, t.ID, []storage.TaskStatus{storage.TaskInProcessing}, storage.TaskPending); err != nil {
			return err
		}
		s.logger.DebugWithContext(ctx, "upstream of request task not complete yet")
		s.untrack(ctx, t.ID)
		return nil
	}
	s.recordTransition(ctx, t)

	switch {
	case t.IsTerminator():
		return s.completeTerminator(ctx, pr, t)
	case t.ActionType == policy.ActionAccess:
		err = s.runAccess(ctx, pr, t, idx)
	case t.ActionType == policy.ActionErasure:
		err = s.runErasure(ctx, pr, t)
	default:
		err = s.fail(ctx, t, fmt.Errorf("unsupported action type %q", t.ActionType))
	}
	if err != nil {
		telemetry.TraceError(span, err)
	}
	return err
}

// queryFieldPaths lists the fields of a task that receive values, in edge order.
func queryFieldPaths(edges []traversal.Edge) []graph.FieldPath {
	var paths []graph.FieldPath
	seen := make(map[graph.FieldPath]struct{}, len(edges))
	for _, e := range edges {
		if _, ok := seen[e.To.Path]; ok {
			continue
		}
		seen[e.To.Path] = struct{}{}
		paths = append(paths, e.To.Path)
	}
	return paths
}

// gatherInputs collects the values flowing into t along its incoming edges.
func gatherInputs(t *storage.RequestTask, idx taskIndex) queryconfig.Inputs {
	inputs := make(queryconfig.Inputs)
	for _, e := range t.IncomingEdges {
		up, ok := idx[e.From.Collection]
		if !ok {
			continue
		}
		for _, row := range up.Rows {
			inputs[e.To.Path] = append(inputs[e.To.Path], e.From.Path.RetrieveFrom(row)...)
		}
	}
	return inputs
}

func (s *Scheduler) queryConfig(t *storage.RequestTask, ct queryconfig.ConnectionType) (queryconfig.QueryConfig, error) {
	return queryconfig.New(ct, queryconfig.Node{
		Address:         t.Address,
		Collection:      t.Collection,
		QueryFieldPaths: queryFieldPaths(t.IncomingEdges),
	}, queryconfig.WithNow(s.clock.Now))
}

func (s *Scheduler) runAccess(ctx context.Context, pr *storage.PrivacyRequest, t *storage.RequestTask, idx taskIndex) error {
	conn, err := s.connectors.Get(t.ConnectorKey)
	if err != nil {
		return s.fail(ctx, t, err)
	}
	qc, err := s.queryConfig(t, conn.ConnectionType())
	if err != nil {
		return s.fail(ctx, t, err)
	}
	stmt, err := qc.GenerateQuery(gatherInputs(t, idx))
	if err != nil {
		return s.fail(ctx, t, err)
	}
	if stmt == nil {
		t.Message = "no input values to query with"
		return s.complete(ctx, t)
	}
	s.logger.DebugWithContext(ctx, "retrieving records", zap.String("query", qc.QueryToString(stmt)))

	return s.handleResult(ctx, pr, t, conn, conn.Retrieve(ctx, stmt))
}

func (s *Scheduler) runErasure(ctx context.Context, pr *storage.PrivacyRequest, t *storage.RequestTask) error {
	access, err := s.datastore.ListRequestTasks(ctx, storage.TaskFilter{PrivacyRequestID: pr.ID, ActionType: policy.ActionAccess})
	if err != nil {
		return err
	}
	source, ok := indexTasks(access, policy.ActionAccess)[t.Address]
	if !ok {
		return s.fail(ctx, t, fmt.Errorf("no access task for %s", t.Address))
	}

	conn, err := s.connectors.Get(t.ConnectorKey)
	if err != nil {
		return s.fail(ctx, t, err)
	}
	qc, err := s.queryConfig(t, conn.ConnectionType())
	if err != nil {
		return s.fail(ctx, t, err)
	}

	var stmts []queryconfig.Statement
	for _, row := range source.Rows {
		stmt, err := qc.GenerateUpdate(row, pr.Policy, pr.ID)
		if err != nil {
			return s.fail(ctx, t, err)
		}
		if stmt != nil {
			stmts = append(stmts, stmt)
		}
	}
	if len(stmts) == 0 {
		t.Message = "nothing to mask"
		return s.complete(ctx, t)
	}

	return s.handleResult(ctx, pr, t, conn, conn.Mask(ctx, stmts))
}

// handleResult applies the outcome of a connector call to t.
func (s *Scheduler) handleResult(ctx context.Context, pr *storage.PrivacyRequest, t *storage.RequestTask, conn connector.Connector, res connector.Result) error {
	switch res.Kind {
	case connector.ResultReady:
		if t.ActionType == policy.ActionErasure {
			t.RowsMasked = res.Masked
		} else {
			t.Rows = res.Rows
		}
		return s.complete(ctx, t)

	case connector.ResultPending:
		if len(res.CorrelationIDs) == 0 {
			t.Message = "no asynchronous calls to track"
			return s.complete(ctx, t)
		}
		if _, ok := conn.(connector.AsyncConnector); !ok {
			return s.fail(ctx, t, fmt.Errorf("connector %s returned a pending result but cannot be polled", conn.Key()))
		}
		return s.startPolling(ctx, t, res.CorrelationIDs)

	case connector.ResultNeedsInput:
		t.Status = storage.TaskRequiresInput
		t.Message = res.Message
		if err := s.saveTask(ctx, t); err != nil {
			return err
		}
		s.untrack(ctx, t.ID)
		s.logger.InfoWithContext(ctx, "request task requires input", zap.String("collection", t.Address.String()))
		return s.setRequestStatus(ctx, pr, storage.RequestRequiresInput)

	case connector.ResultFailed:
		err := res.Err
		if err == nil {
			err = errors.New("connector call failed")
		}
		return s.fail(ctx, t, err)
	}
	return s.fail(ctx, t, fmt.Errorf("unknown connector result %s", res.Kind))
}

func (s *Scheduler) startPolling(ctx context.Context, t *storage.RequestTask, correlationIDs []string) error {
	subs := make([]*storage.SubRequest, 0, len(correlationIDs))
	for _, cid := range correlationIDs {
		subs = append(subs, &storage.SubRequest{
			ID:            id.MustNewString(id.SubRequestPrefix),
			RequestTaskID: t.ID,
			CorrelationID: cid,
			Status:        storage.TaskPending,
		})
	}
	if err := s.datastore.CreateSubRequests(ctx, subs...); err != nil {
		return err
	}
	t.Status = storage.TaskPolling
	t.AsyncType = storage.AsyncPolling
	t.Message = fmt.Sprintf("waiting on %d asynchronous calls", len(subs))
	if err := s.saveTask(ctx, t); err != nil {
		return err
	}
	s.untrack(ctx, t.ID)
	return nil
}

// complete marks t complete and queues the children it unblocked.
func (s *Scheduler) complete(ctx context.Context, t *storage.RequestTask) error {
	t.Status = storage.TaskComplete
	if err := s.saveTask(ctx, t); err != nil {
		return err
	}
	s.untrack(ctx, t.ID)
	s.logger.InfoWithContext(ctx, "request task complete",
		zap.String("collection", t.Address.String()),
		zap.String("action", string(t.ActionType)),
		zap.Int("rows", len(t.Rows)),
		zap.Int("rows_masked", t.RowsMasked))
	return s.dispatchChildren(ctx, t)
}

// fail marks t and every task downstream of it error. Independent branches keep
// running; the request itself is failed by the exited-requests sweep.
func (s *Scheduler) fail(ctx context.Context, t *storage.RequestTask, cause error) error {
	t.Status = storage.TaskError
	t.Message = cause.Error()
	if err := s.saveTask(ctx, t); err != nil {
		return err
	}
	s.untrack(ctx, t.ID)
	s.logger.ErrorWithContext(ctx, "request task failed", zap.String("collection", t.Address.String()), zap.Error(cause))

	siblings, err := s.datastore.ListRequestTasks(ctx, storage.TaskFilter{PrivacyRequestID: t.PrivacyRequestID, ActionType: t.ActionType})
	if err != nil {
		return err
	}
	for _, d := range indexTasks(siblings, t.ActionType).descendants(t) {
		if d.Status.Exited() {
			continue
		}
		d.Status = storage.TaskError
		d.Message = fmt.Sprintf("upstream collection %s failed", t.Address)
		if err := s.saveTask(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

// completeTerminator finishes an action phase. A completed access phase starts
// the erasure phase when the policy asks for one.
func (s *Scheduler) completeTerminator(ctx context.Context, pr *storage.PrivacyRequest, t *storage.RequestTask) error {
	t.Status = storage.TaskComplete
	if err := s.saveTask(ctx, t); err != nil {
		return err
	}
	s.untrack(ctx, t.ID)
	return s.advance(ctx, pr, t)
}

// advance moves pr past the phase whose terminator t completed.
func (s *Scheduler) advance(ctx context.Context, pr *storage.PrivacyRequest, t *storage.RequestTask) error {
	if t.ActionType == policy.ActionAccess && pr.Policy.HasAction(policy.ActionErasure) {
		tasks, err := s.planErasure(ctx, pr)
		if err != nil {
			return err
		}
		return s.dispatchReady(ctx, tasks)
	}

	s.logger.InfoWithContext(ctx, "privacy request complete")
	return s.finish(ctx, pr, storage.RequestComplete)
}

// ResolveManualTask completes a task that was waiting on a person. rows are
// the records found for an access task; masked counts the records changed by
// an erasure task.
func (s *Scheduler) ResolveManualTask(ctx context.Context, taskID string, rows []map[string]any, masked int) error {
	ctx, span := tracer.Start(ctx, "scheduler.ResolveManualTask")
	defer span.End()

	t, err := s.datastore.GetRequestTask(ctx, taskID)
	if err != nil {
		return err
	}
	ctx = logger.ContextWithRequestTaskID(logger.ContextWithPrivacyRequestID(ctx, t.PrivacyRequestID), t.ID)
	if t.Status != storage.TaskRequiresInput {
		return fmt.Errorf("%w: %s is %s", ErrTaskNotAwaitingInput, t.ID, t.Status)
	}
	pr, err := s.datastore.GetPrivacyRequest(ctx, t.PrivacyRequestID)
	if err != nil {
		return err
	}
	if pr.Status.Terminal() {
		return fmt.Errorf("%w: request %s is already %s", ErrPrivacyRequest, pr.ID, pr.Status)
	}

	claimed, err := s.datastore.ClaimRequestTask(ctx, t.ID, []storage.TaskStatus{storage.TaskRequiresInput}, storage.TaskInProcessing)
	if err != nil {
		return err
	}
	if !claimed {
		return fmt.Errorf("%w: %s was resolved concurrently", ErrTaskNotAwaitingInput, t.ID)
	}

	if t.ActionType == policy.ActionErasure {
		t.RowsMasked = masked
	} else {
		t.Rows = rows
	}
	t.Message = "resolved manually"
	if err := s.complete(ctx, t); err != nil {
		return err
	}

	waiting, err := s.datastore.ListRequestTasks(ctx, storage.TaskFilter{
		PrivacyRequestID: pr.ID,
		Statuses:         []storage.TaskStatus{storage.TaskRequiresInput},
	})
	if err != nil {
		return err
	}
	if len(waiting) == 0 && pr.Status == storage.RequestRequiresInput {
		return s.setRequestStatus(ctx, pr, storage.RequestInProcessing)
	}
	return nil
}
