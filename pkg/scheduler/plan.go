package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/dsrkit/dsrkit/pkg/graph"
	"github.com/dsrkit/dsrkit/pkg/id"
	"github.com/dsrkit/dsrkit/pkg/logger"
	"github.com/dsrkit/dsrkit/pkg/policy"
	"github.com/dsrkit/dsrkit/pkg/queue"
	"github.com/dsrkit/dsrkit/pkg/storage"
	"github.com/dsrkit/dsrkit/pkg/traversal"
)

// RunPrivacyRequest plans a request the first time it runs. On later runs, for
// example after an interruption, tasks left in_processing are reset and every
// ready task is queued again.
func (s *Scheduler) RunPrivacyRequest(ctx context.Context, privacyRequestID string) error {
	ctx, span := tracer.Start(ctx, "scheduler.RunPrivacyRequest")
	defer span.End()
	ctx = logger.ContextWithPrivacyRequestID(ctx, privacyRequestID)

	pr, err := s.datastore.GetPrivacyRequest(ctx, privacyRequestID)
	if err != nil {
		return err
	}
	if pr.Status.Terminal() {
		s.logger.InfoWithContext(ctx, "privacy request already finished", zap.String("status", string(pr.Status)))
		s.untrack(ctx, pr.ID)
		return nil
	}
	if pr.Status != storage.RequestRequiresInput {
		if err := s.setRequestStatus(ctx, pr, storage.RequestInProcessing); err != nil {
			return err
		}
	}

	tasks, err := s.datastore.ListRequestTasks(ctx, storage.TaskFilter{PrivacyRequestID: pr.ID})
	if err != nil {
		return err
	}

	if len(tasks) == 0 {
		tasks, err = s.planAccess(ctx, pr)
		if err != nil {
			if finishErr := s.finish(ctx, pr, storage.RequestError); finishErr != nil {
				return errors.Join(err, finishErr)
			}
			return err
		}
	} else {
		for _, t := range tasks {
			if t.Status != storage.TaskInProcessing {
				continue
			}
			claimed, err := s.datastore.ClaimRequestTask(ctx, t.ID, []storage.TaskStatus{storage.TaskInProcessing}, storage.TaskPending)
			if err != nil {
				return err
			}
			if !claimed {
				continue
			}
			t.Status = storage.TaskPending
			t.RetryCount++
			if err := s.saveTask(ctx, t); err != nil {
				return err
			}
		}

		// The previous run may have stopped between completing a terminator
		// and starting the next phase or finishing the request.
		if term := unfinishedPhase(pr, tasks); term != nil {
			s.logger.InfoWithContext(ctx, "resuming after completed phase", zap.String("action", string(term.ActionType)))
			if err := s.advance(ctx, pr, term); err != nil {
				return err
			}
			s.untrack(ctx, pr.ID)
			return nil
		}
	}

	if err := s.dispatchReady(ctx, tasks); err != nil {
		return err
	}
	s.untrack(ctx, pr.ID)
	return nil
}

// unfinishedPhase returns the complete terminator whose follow-up never
// happened: an access phase with no erasure plan although the policy erases,
// or a last phase that did not finish the request.
func unfinishedPhase(pr *storage.PrivacyRequest, tasks []*storage.RequestTask) *storage.RequestTask {
	var access, erasure *storage.RequestTask
	for _, t := range tasks {
		if !t.IsTerminator() {
			continue
		}
		if t.ActionType == policy.ActionErasure {
			erasure = t
		} else {
			access = t
		}
	}
	switch {
	case erasure != nil:
		if erasure.Status == storage.TaskComplete {
			return erasure
		}
	case access != nil && access.Status == storage.TaskComplete:
		return access
	}
	return nil
}

// planAccess builds the access plan of pr and persists one task per collection
// plus the ROOT and TERMINATOR tasks.
func (s *Scheduler) planAccess(ctx context.Context, pr *storage.PrivacyRequest) ([]*storage.RequestTask, error) {
	g := s.Graph()
	t, err := traversal.New(g, pr.Identity)
	if err != nil {
		return nil, err
	}

	tasks := accessTasks(pr.ID, g, t, nil)
	if err := s.datastore.CreateRequestTasks(ctx, tasks...); err != nil {
		return nil, err
	}
	if err := s.cacheRepresentation(ctx, pr.ID, t.Representation()); err != nil {
		return nil, fmt.Errorf("cache access graph: %w", err)
	}
	s.logger.InfoWithContext(ctx, "access plan created", zap.Int("collections", len(t.Nodes())), zap.String("fingerprint", t.Fingerprint()))
	return tasks, nil
}

// accessTasks turns a traversal into request tasks. Collections found in reuse
// start complete with the rows of the earlier task.
func accessTasks(privacyRequestID string, g *graph.Graph, t *traversal.Traversal, reuse map[graph.CollectionAddress]*storage.RequestTask) []*storage.RequestTask {
	root := &storage.RequestTask{
		ID:               id.MustNewString(id.RequestTaskPrefix),
		PrivacyRequestID: privacyRequestID,
		Address:          graph.RootAddress,
		ActionType:       policy.ActionAccess,
		Status:           storage.TaskComplete,
		AsyncType:        storage.AsyncNone,
		Downstream:       t.Root().Downstream(),
		Rows:             []map[string]any{t.RootRow()},
	}
	terminator := &storage.RequestTask{
		ID:               id.MustNewString(id.RequestTaskPrefix),
		PrivacyRequestID: privacyRequestID,
		Address:          graph.TerminatorAddress,
		ActionType:       policy.ActionAccess,
		Status:           storage.TaskPending,
		AsyncType:        storage.AsyncNone,
		Upstream:         t.Terminals(),
	}

	tasks := []*storage.RequestTask{root}
	for _, n := range t.Nodes() {
		task := &storage.RequestTask{
			ID:               id.MustNewString(id.RequestTaskPrefix),
			PrivacyRequestID: privacyRequestID,
			Address:          n.Address,
			ActionType:       policy.ActionAccess,
			Status:           storage.TaskPending,
			AsyncType:        storage.AsyncNone,
			ConnectorKey:     g.ConnectorKey(n.Address),
			Collection:       n.Collection,
			IncomingEdges:    n.IncomingEdges(),
			Upstream:         n.Upstream(),
			Downstream:       n.Downstream(),
		}
		if n.IsTerminal() {
			task.Downstream = append(task.Downstream, graph.TerminatorAddress)
		}
		if prev, ok := reuse[n.Address]; ok {
			task.Status = storage.TaskComplete
			task.Rows = prev.Rows
			task.Message = "reused from a previous run"
		}
		tasks = append(tasks, task)
	}
	return append(tasks, terminator)
}

// planErasure creates the erasure tasks of pr once its access phase completed.
// Each collection waits on ROOT and on its erase_after collections. Collections
// in keep already have a complete erasure task and are not planned again.
func (s *Scheduler) planErasure(ctx context.Context, pr *storage.PrivacyRequest) ([]*storage.RequestTask, error) {
	access, err := s.datastore.ListRequestTasks(ctx, storage.TaskFilter{PrivacyRequestID: pr.ID, ActionType: policy.ActionAccess})
	if err != nil {
		return nil, err
	}
	existing, err := s.datastore.ListRequestTasks(ctx, storage.TaskFilter{PrivacyRequestID: pr.ID, ActionType: policy.ActionErasure})
	if err != nil {
		return nil, err
	}
	kept := make(map[graph.CollectionAddress]*storage.RequestTask, len(existing))
	for _, t := range existing {
		kept[t.Address] = t
	}

	var addrs []graph.CollectionAddress
	for _, t := range access {
		if !t.IsRoot() && !t.IsTerminator() {
			addrs = append(addrs, t.Address)
		}
	}
	slices.SortFunc(addrs, graph.CollectionAddress.Compare)

	upstream := make(map[graph.CollectionAddress][]graph.CollectionAddress, len(addrs))
	downstream := make(map[graph.CollectionAddress][]graph.CollectionAddress, len(addrs)+1)
	for _, t := range access {
		if t.IsRoot() || t.IsTerminator() {
			continue
		}
		up := []graph.CollectionAddress{graph.RootAddress}
		if t.Collection != nil {
			for _, a := range t.Collection.EraseAfter {
				if slices.Contains(addrs, a) {
					up = append(up, a)
				}
			}
		}
		slices.SortFunc(up, graph.CollectionAddress.Compare)
		up = slices.Compact(up)
		upstream[t.Address] = up
		for _, a := range up {
			downstream[a] = append(downstream[a], t.Address)
		}
	}

	var tasks []*storage.RequestTask
	if _, ok := kept[graph.RootAddress]; !ok {
		tasks = append(tasks, &storage.RequestTask{
			ID:               id.MustNewString(id.RequestTaskPrefix),
			PrivacyRequestID: pr.ID,
			Address:          graph.RootAddress,
			ActionType:       policy.ActionErasure,
			Status:           storage.TaskComplete,
			AsyncType:        storage.AsyncNone,
			Downstream:       sorted(downstream[graph.RootAddress]),
		})
	}
	for _, t := range access {
		if t.IsRoot() || t.IsTerminator() {
			continue
		}
		if _, ok := kept[t.Address]; ok {
			continue
		}
		tasks = append(tasks, &storage.RequestTask{
			ID:               id.MustNewString(id.RequestTaskPrefix),
			PrivacyRequestID: pr.ID,
			Address:          t.Address,
			ActionType:       policy.ActionErasure,
			Status:           storage.TaskPending,
			AsyncType:        storage.AsyncNone,
			ConnectorKey:     t.ConnectorKey,
			Collection:       t.Collection,
			Upstream:         upstream[t.Address],
			Downstream:       append(sorted(downstream[t.Address]), graph.TerminatorAddress),
		})
	}
	if _, ok := kept[graph.TerminatorAddress]; !ok {
		tasks = append(tasks, &storage.RequestTask{
			ID:               id.MustNewString(id.RequestTaskPrefix),
			PrivacyRequestID: pr.ID,
			Address:          graph.TerminatorAddress,
			ActionType:       policy.ActionErasure,
			Status:           storage.TaskPending,
			AsyncType:        storage.AsyncNone,
			Upstream:         addrs,
		})
	}

	if err := s.datastore.CreateRequestTasks(ctx, tasks...); err != nil {
		return nil, err
	}
	s.logger.InfoWithContext(ctx, "erasure plan created", zap.Int("collections", len(addrs)), zap.Int("reused", len(existing)))

	return append(existing, tasks...), nil
}

func sorted(addrs []graph.CollectionAddress) []graph.CollectionAddress {
	out := slices.Clone(addrs)
	slices.SortFunc(out, graph.CollectionAddress.Compare)
	return out
}

type taskIndex map[graph.CollectionAddress]*storage.RequestTask

func indexTasks(tasks []*storage.RequestTask, action policy.ActionType) taskIndex {
	idx := make(taskIndex, len(tasks))
	for _, t := range tasks {
		if t.ActionType == action {
			idx[t.Address] = t
		}
	}
	return idx
}

// ready reports whether t is pending and every task it waits on is complete.
func (idx taskIndex) ready(t *storage.RequestTask) bool {
	if t.Status != storage.TaskPending {
		return false
	}
	return idx.upstreamComplete(t)
}

func (idx taskIndex) upstreamComplete(t *storage.RequestTask) bool {
	for _, a := range t.Upstream {
		up, ok := idx[a]
		if !ok || up.Status != storage.TaskComplete {
			return false
		}
	}
	return true
}

// descendants returns every task reachable downstream of t.
func (idx taskIndex) descendants(t *storage.RequestTask) []*storage.RequestTask {
	var out []*storage.RequestTask
	seen := map[graph.CollectionAddress]bool{t.Address: true}
	next := slices.Clone(t.Downstream)
	for len(next) > 0 {
		a := next[0]
		next = next[1:]
		if seen[a] {
			continue
		}
		seen[a] = true
		d, ok := idx[a]
		if !ok {
			continue
		}
		out = append(out, d)
		next = append(next, d.Downstream...)
	}
	return out
}

// dispatchReady queues every ready task.
func (s *Scheduler) dispatchReady(ctx context.Context, tasks []*storage.RequestTask) error {
	for _, action := range []policy.ActionType{policy.ActionAccess, policy.ActionErasure} {
		idx := indexTasks(tasks, action)
		for _, t := range tasks {
			if t.ActionType != action || !idx.ready(t) {
				continue
			}
			if err := s.enqueue(ctx, queue.KindRequestTask, t.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// dispatchChildren queues the downstream tasks of t that became ready.
func (s *Scheduler) dispatchChildren(ctx context.Context, t *storage.RequestTask) error {
	tasks, err := s.datastore.ListRequestTasks(ctx, storage.TaskFilter{PrivacyRequestID: t.PrivacyRequestID, ActionType: t.ActionType})
	if err != nil {
		return err
	}
	idx := indexTasks(tasks, t.ActionType)
	for _, a := range t.Downstream {
		child, ok := idx[a]
		if !ok || !idx.ready(child) {
			continue
		}
		if err := s.enqueue(ctx, queue.KindRequestTask, child.ID); err != nil {
			return err
		}
	}
	return nil
}
