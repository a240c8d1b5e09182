// Package queue hands privacy request and request task jobs to workers. Every
// job is pending until a worker dequeues it and running until it is acked.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	KindPrivacyRequest = "privacy_request"
	KindRequestTask    = "request_task"
)

var ErrClosed = errors.New("queue closed")

type Job struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	EntityID   string    `json:"entity_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func NewJob(kind, entityID string) Job {
	return Job{
		ID:         uuid.NewString(),
		Kind:       kind,
		EntityID:   entityID,
		EnqueuedAt: time.Now().UTC(),
	}
}

type Queue interface {
	// Enqueue adds a new job for the entity and returns it.
	Enqueue(ctx context.Context, kind, entityID string) (Job, error)

	// Dequeue blocks until a job that has not been revoked is available and
	// marks it running.
	Dequeue(ctx context.Context) (Job, error)

	// Ack removes a finished job from the running set.
	Ack(ctx context.Context, jobID string) error

	// Pending returns the ids of jobs waiting for a worker.
	Pending(ctx context.Context) ([]string, error)

	// Running returns the ids of jobs a worker has dequeued but not acked.
	Running(ctx context.Context) ([]string, error)

	// Revoke marks jobs so that workers drop them instead of running them.
	Revoke(ctx context.Context, jobIDs ...string) error
	IsRevoked(ctx context.Context, jobID string) (bool, error)

	Close() error
}

// IsActive reports whether the job is pending or running.
func IsActive(ctx context.Context, q Queue, jobID string) (bool, error) {
	pending, err := q.Pending(ctx)
	if err != nil {
		return false, err
	}
	running, err := q.Running(ctx)
	if err != nil {
		return false, err
	}
	for _, ids := range [][]string{pending, running} {
		for _, id := range ids {
			if id == jobID {
				return true, nil
			}
		}
	}
	return false, nil
}
