package scheduler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dsrkit/dsrkit/pkg/cache"
	"github.com/dsrkit/dsrkit/pkg/graph"
	"github.com/dsrkit/dsrkit/pkg/logger"
	"github.com/dsrkit/dsrkit/pkg/policy"
	"github.com/dsrkit/dsrkit/pkg/queue"
	"github.com/dsrkit/dsrkit/pkg/storage"
	"github.com/dsrkit/dsrkit/pkg/traversal"
)

// Rerun restarts a failed request against the current graph. The plan the
// request last ran with is compared to the new one: completed collections
// whose inputs did not change keep their rows, everything else runs again.
// Completed erasures of unchanged collections are not masked twice.
func (s *Scheduler) Rerun(ctx context.Context, privacyRequestID string) (traversal.Diff, error) {
	ctx, span := tracer.Start(ctx, "scheduler.Rerun")
	defer span.End()
	ctx = logger.ContextWithPrivacyRequestID(ctx, privacyRequestID)

	pr, err := s.datastore.GetPrivacyRequest(ctx, privacyRequestID)
	if err != nil {
		return traversal.Diff{}, err
	}
	if pr.Status != storage.RequestError {
		return traversal.Diff{}, fmt.Errorf("%w: only failed requests can be rerun, %s is %s", ErrPrivacyRequest, pr.ID, pr.Status)
	}

	prev, err := s.cachedRepresentation(ctx, pr.ID)
	if err != nil {
		if errors.Is(err, cache.ErrKeyNotFound) {
			return traversal.Diff{}, fmt.Errorf("%w: no cached plan for %s", ErrPrivacyRequest, pr.ID)
		}
		return traversal.Diff{}, fmt.Errorf("%w: read cached plan: %v", ErrPrivacyRequest, err)
	}

	g := s.Graph()
	t, err := traversal.New(g, pr.Identity)
	if err != nil {
		return traversal.Diff{}, err
	}

	tasks, err := s.datastore.ListRequestTasks(ctx, storage.TaskFilter{PrivacyRequestID: pr.ID})
	if err != nil {
		return traversal.Diff{}, err
	}
	var completed []graph.CollectionAddress
	accessDone := make(map[graph.CollectionAddress]*storage.RequestTask)
	for _, task := range tasks {
		if task.ActionType != policy.ActionAccess || task.IsRoot() || task.IsTerminator() || task.Status != storage.TaskComplete {
			continue
		}
		completed = append(completed, task.Address)
		accessDone[task.Address] = task
	}

	diff := traversal.Compare(prev, t.Representation(), completed)

	reuse := make(map[graph.CollectionAddress]*storage.RequestTask, len(diff.AlreadyProcessed))
	for _, a := range diff.AlreadyProcessed {
		addr, err := graph.ParseCollectionAddress(a)
		if err != nil {
			return traversal.Diff{}, err
		}
		reuse[addr] = accessDone[addr]
	}

	// Completed erasures of reused collections survive, everything else is replanned.
	var stale []string
	for _, task := range tasks {
		_, reused := reuse[task.Address]
		if task.ActionType == policy.ActionErasure && reused && task.Status == storage.TaskComplete {
			continue
		}
		stale = append(stale, task.ID)
	}
	s.revoke(ctx, stale...)
	if err := s.datastore.DeleteRequestTasks(ctx, stale...); err != nil {
		return traversal.Diff{}, err
	}

	if err := s.datastore.CreateRequestTasks(ctx, accessTasks(pr.ID, g, t, reuse)...); err != nil {
		return traversal.Diff{}, err
	}
	if err := s.cacheRepresentation(ctx, pr.ID, t.Representation()); err != nil {
		return traversal.Diff{}, err
	}
	if err := s.cache.Del(ctx, cache.RetryCountKey(pr.ID)); err != nil {
		return traversal.Diff{}, err
	}

	if err := s.setRequestStatus(ctx, pr, storage.RequestApproved); err != nil {
		return traversal.Diff{}, err
	}
	if err := s.enqueue(ctx, queue.KindPrivacyRequest, pr.ID); err != nil {
		return traversal.Diff{}, err
	}

	s.logger.InfoWithContext(ctx, "privacy request rerun",
		zap.Strings("already_processed", diff.AlreadyProcessed),
		zap.Strings("requires_rerun", diff.RequiresRerun),
		zap.Strings("added_collections", diff.AddedCollections),
		zap.Strings("skipped_added_edges", diff.SkippedAddedEdges))
	return diff, nil
}
