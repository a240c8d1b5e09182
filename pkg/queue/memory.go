package queue

import (
	"context"
	"sort"
	"sync"
)

// MemoryQueue is a process-local FIFO queue.
type MemoryQueue struct {
	mu      sync.Mutex
	pending []Job
	running map[string]Job
	revoked map[string]struct{}
	notify  chan struct{}
	closed  chan struct{}
	once    sync.Once
}

var _ Queue = (*MemoryQueue)(nil)

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		running: make(map[string]Job),
		revoked: make(map[string]struct{}),
		notify:  make(chan struct{}, 1),
		closed:  make(chan struct{}),
	}
}

func (q *MemoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, kind, entityID string) (Job, error) {
	select {
	case <-q.closed:
		return Job{}, ErrClosed
	default:
	}

	job := NewJob(kind, entityID)
	q.mu.Lock()
	q.pending = append(q.pending, job)
	q.mu.Unlock()
	q.signal()
	return job, nil
}

// pop returns the first pending job that was not revoked.
func (q *MemoryQueue) pop() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.pending) > 0 {
		job := q.pending[0]
		q.pending = q.pending[1:]
		if _, ok := q.revoked[job.ID]; ok {
			delete(q.revoked, job.ID)
			continue
		}
		q.running[job.ID] = job
		if len(q.pending) > 0 {
			q.signal()
		}
		return job, true
	}
	return Job{}, false
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (Job, error) {
	for {
		if job, ok := q.pop(); ok {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return Job{}, ctx.Err()
		case <-q.closed:
			return Job{}, ErrClosed
		case <-q.notify:
		}
	}
}

func (q *MemoryQueue) Ack(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.running, jobID)
	delete(q.revoked, jobID)
	return nil
}

func (q *MemoryQueue) Pending(context.Context) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, 0, len(q.pending))
	for _, job := range q.pending {
		ids = append(ids, job.ID)
	}
	return ids, nil
}

func (q *MemoryQueue) Running(context.Context) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, 0, len(q.running))
	for id := range q.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Revoke marks pending and running jobs. Revoked ids are forgotten once the
// job is dropped by Dequeue or acked; ids of unknown jobs are ignored.
func (q *MemoryQueue) Revoke(_ context.Context, jobIDs ...string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending := make(map[string]struct{}, len(q.pending))
	for _, job := range q.pending {
		pending[job.ID] = struct{}{}
	}
	for _, id := range jobIDs {
		_, queued := pending[id]
		_, running := q.running[id]
		if queued || running {
			q.revoked[id] = struct{}{}
		}
	}
	return nil
}

func (q *MemoryQueue) IsRevoked(_ context.Context, jobID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.revoked[jobID]
	return ok, nil
}

// Close wakes blocked Dequeue calls. Jobs still pending are dropped.
func (q *MemoryQueue) Close() error {
	q.once.Do(func() {
		close(q.closed)
	})
	return nil
}
