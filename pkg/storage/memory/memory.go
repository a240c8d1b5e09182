package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/dsrkit/dsrkit/pkg/storage"
)

var tracer = otel.Tracer("dsrkit/pkg/storage/memory")

// MemoryBackend keeps every record in process memory. It is used by tests and
// single-process runs; nothing survives a restart.
type MemoryBackend struct {
	mu       sync.RWMutex
	requests map[string]*storage.PrivacyRequest
	tasks    map[string]*storage.RequestTask
	subs     map[string]*storage.SubRequest
	logs     map[string][]*storage.ExecutionLog
	now      func() time.Time
}

var _ storage.Datastore = (*MemoryBackend)(nil)

type StorageOption func(*MemoryBackend)

// WithNow sets the clock used for created_at and updated_at.
func WithNow(now func() time.Time) StorageOption {
	return func(s *MemoryBackend) {
		s.now = now
	}
}

func New(opts ...StorageOption) *MemoryBackend {
	s := &MemoryBackend{
		requests: make(map[string]*storage.PrivacyRequest),
		tasks:    make(map[string]*storage.RequestTask),
		subs:     make(map[string]*storage.SubRequest),
		logs:     make(map[string][]*storage.ExecutionLog),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryBackend) Close() {}

func (s *MemoryBackend) timestamp() time.Time {
	return s.now().UTC()
}

func copyRequest(pr *storage.PrivacyRequest) *storage.PrivacyRequest {
	c := *pr
	c.Identity = maps.Clone(pr.Identity)
	return &c
}

func copyTask(t *storage.RequestTask) *storage.RequestTask {
	c := *t
	c.IncomingEdges = slices.Clone(t.IncomingEdges)
	c.Upstream = slices.Clone(t.Upstream)
	c.Downstream = slices.Clone(t.Downstream)
	c.Rows = slices.Clone(t.Rows)
	return &c
}

func copySub(sr *storage.SubRequest) *storage.SubRequest {
	c := *sr
	c.Rows = slices.Clone(sr.Rows)
	return &c
}

func (s *MemoryBackend) CreatePrivacyRequest(ctx context.Context, pr *storage.PrivacyRequest) error {
	_, span := tracer.Start(ctx, "memory.CreatePrivacyRequest")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requests[pr.ID]; ok {
		return storage.ErrCollision
	}
	now := s.timestamp()
	pr.CreatedAt, pr.UpdatedAt = now, now
	s.requests[pr.ID] = copyRequest(pr)
	return nil
}

func (s *MemoryBackend) GetPrivacyRequest(ctx context.Context, id string) (*storage.PrivacyRequest, error) {
	_, span := tracer.Start(ctx, "memory.GetPrivacyRequest")
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()

	pr, ok := s.requests[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyRequest(pr), nil
}

func (s *MemoryBackend) ListPrivacyRequests(ctx context.Context, statuses ...storage.RequestStatus) ([]*storage.PrivacyRequest, error) {
	_, span := tracer.Start(ctx, "memory.ListPrivacyRequests")
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*storage.PrivacyRequest
	for _, pr := range s.requests {
		if len(statuses) > 0 && !slices.Contains(statuses, pr.Status) {
			continue
		}
		out = append(out, copyRequest(pr))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryBackend) UpdatePrivacyRequestStatus(ctx context.Context, id string, status storage.RequestStatus) error {
	_, span := tracer.Start(ctx, "memory.UpdatePrivacyRequestStatus")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	pr, ok := s.requests[id]
	if !ok {
		return storage.ErrNotFound
	}
	pr.Status = status
	pr.UpdatedAt = s.timestamp()
	return nil
}

func (s *MemoryBackend) CreateRequestTasks(ctx context.Context, tasks ...*storage.RequestTask) error {
	_, span := tracer.Start(ctx, "memory.CreateRequestTasks")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		if _, ok := s.tasks[t.ID]; ok {
			return storage.ErrCollision
		}
		if _, ok := seen[t.ID]; ok {
			return storage.ErrCollision
		}
		seen[t.ID] = struct{}{}
	}

	now := s.timestamp()
	for _, t := range tasks {
		t.CreatedAt, t.UpdatedAt = now, now
		s.tasks[t.ID] = copyTask(t)
	}
	return nil
}

func (s *MemoryBackend) GetRequestTask(ctx context.Context, id string) (*storage.RequestTask, error) {
	_, span := tracer.Start(ctx, "memory.GetRequestTask")
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyTask(t), nil
}

func (s *MemoryBackend) ListRequestTasks(ctx context.Context, filter storage.TaskFilter) ([]*storage.RequestTask, error) {
	_, span := tracer.Start(ctx, "memory.ListRequestTasks")
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*storage.RequestTask
	for _, t := range s.tasks {
		if filter.Matches(t) {
			out = append(out, copyTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryBackend) ClaimRequestTask(ctx context.Context, id string, from []storage.TaskStatus, to storage.TaskStatus) (bool, error) {
	_, span := tracer.Start(ctx, "memory.ClaimRequestTask")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return false, storage.ErrNotFound
	}
	if !slices.Contains(from, t.Status) {
		return false, nil
	}
	t.Status = to
	t.UpdatedAt = s.timestamp()
	return true, nil
}

func (s *MemoryBackend) UpdateRequestTask(ctx context.Context, t *storage.RequestTask) error {
	_, span := tracer.Start(ctx, "memory.UpdateRequestTask")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.tasks[t.ID]
	if !ok {
		return storage.ErrNotFound
	}
	existing.Status = t.Status
	existing.AsyncType = t.AsyncType
	existing.Rows = slices.Clone(t.Rows)
	existing.RowsMasked = t.RowsMasked
	existing.Message = t.Message
	existing.RetryCount = t.RetryCount
	existing.UpdatedAt = s.timestamp()
	t.UpdatedAt = existing.UpdatedAt
	return nil
}

func (s *MemoryBackend) DeleteRequestTasks(ctx context.Context, ids ...string) error {
	_, span := tracer.Start(ctx, "memory.DeleteRequestTasks")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		delete(s.tasks, id)
		for subID, sr := range s.subs {
			if sr.RequestTaskID == id {
				delete(s.subs, subID)
			}
		}
	}
	return nil
}

func (s *MemoryBackend) CreateSubRequests(ctx context.Context, subs ...*storage.SubRequest) error {
	_, span := tracer.Start(ctx, "memory.CreateSubRequests")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sr := range subs {
		if _, ok := s.tasks[sr.RequestTaskID]; !ok {
			return fmt.Errorf("request task %s: %w", sr.RequestTaskID, storage.ErrNotFound)
		}
		if _, ok := s.subs[sr.ID]; ok {
			return storage.ErrCollision
		}
	}
	now := s.timestamp()
	for _, sr := range subs {
		sr.CreatedAt, sr.UpdatedAt = now, now
		s.subs[sr.ID] = copySub(sr)
	}
	return nil
}

func (s *MemoryBackend) ListSubRequests(ctx context.Context, requestTaskID string) ([]*storage.SubRequest, error) {
	_, span := tracer.Start(ctx, "memory.ListSubRequests")
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*storage.SubRequest
	for _, sr := range s.subs {
		if sr.RequestTaskID == requestTaskID {
			out = append(out, copySub(sr))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryBackend) UpdateSubRequest(ctx context.Context, sr *storage.SubRequest) error {
	_, span := tracer.Start(ctx, "memory.UpdateSubRequest")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.subs[sr.ID]
	if !ok {
		return storage.ErrNotFound
	}
	existing.Status = sr.Status
	existing.Rows = slices.Clone(sr.Rows)
	existing.Message = sr.Message
	existing.UpdatedAt = s.timestamp()
	sr.UpdatedAt = existing.UpdatedAt
	return nil
}

func (s *MemoryBackend) AppendExecutionLog(ctx context.Context, l *storage.ExecutionLog) error {
	_, span := tracer.Start(ctx, "memory.AppendExecutionLog")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.timestamp()
	}
	c := *l
	s.logs[l.PrivacyRequestID] = append(s.logs[l.PrivacyRequestID], &c)
	return nil
}

func (s *MemoryBackend) ListExecutionLogs(ctx context.Context, privacyRequestID string) ([]*storage.ExecutionLog, error) {
	_, span := tracer.Start(ctx, "memory.ListExecutionLogs")
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*storage.ExecutionLog, 0, len(s.logs[privacyRequestID]))
	for _, l := range s.logs[privacyRequestID] {
		c := *l
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryBackend) DeleteExpiredRequests(ctx context.Context, before time.Time) (int, error) {
	_, span := tracer.Start(ctx, "memory.DeleteExpiredRequests")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, pr := range s.requests {
		if !pr.Status.Terminal() || !pr.UpdatedAt.Before(before) {
			continue
		}
		for taskID, t := range s.tasks {
			if t.PrivacyRequestID != id {
				continue
			}
			for subID, sr := range s.subs {
				if sr.RequestTaskID == taskID {
					delete(s.subs, subID)
				}
			}
			delete(s.tasks, taskID)
		}
		delete(s.logs, id)
		delete(s.requests, id)
		deleted++
	}
	return deleted, nil
}

// IsReady see [storage.Datastore].IsReady.
func (s *MemoryBackend) IsReady(context.Context) (storage.ReadinessStatus, error) {
	return storage.ReadinessStatus{IsReady: true}, nil
}
