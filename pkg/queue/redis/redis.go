// Package redis is a queue.Queue shared between processes through Redis lists.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dsrkit/dsrkit/pkg/queue"
)

const defaultPollTimeout = time.Second

type Queue struct {
	client      redis.UniversalClient
	pendingKey  string
	runningKey  string
	revokedKey  string
	pollTimeout time.Duration
}

var _ queue.Queue = (*Queue)(nil)

type Option func(*Queue)

// WithPollTimeout bounds how long a single blocking pop waits before Dequeue
// checks its context again.
func WithPollTimeout(d time.Duration) Option {
	return func(q *Queue) {
		q.pollTimeout = d
	}
}

// New creates a queue whose keys all start with name.
func New(client redis.UniversalClient, name string, opts ...Option) *Queue {
	q := &Queue{
		client:      client,
		pendingKey:  name + ":pending",
		runningKey:  name + ":running",
		revokedKey:  name + ":revoked",
		pollTimeout: defaultPollTimeout,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) Enqueue(ctx context.Context, kind, entityID string) (queue.Job, error) {
	job := queue.NewJob(kind, entityID)
	payload, err := json.Marshal(job)
	if err != nil {
		return queue.Job{}, err
	}
	if err := q.client.LPush(ctx, q.pendingKey, payload).Err(); err != nil {
		return queue.Job{}, fmt.Errorf("enqueue %s job: %w", kind, err)
	}
	return job, nil
}

func (q *Queue) Dequeue(ctx context.Context) (queue.Job, error) {
	for {
		if err := ctx.Err(); err != nil {
			return queue.Job{}, err
		}

		res, err := q.client.BRPop(ctx, q.pollTimeout, q.pendingKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return queue.Job{}, ctx.Err()
			}
			return queue.Job{}, err
		}

		// res holds the list name followed by the popped value
		var job queue.Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			return queue.Job{}, fmt.Errorf("decode job: %w", err)
		}

		revoked, err := q.IsRevoked(ctx, job.ID)
		if err != nil {
			return queue.Job{}, err
		}
		if revoked {
			if err := q.client.SRem(ctx, q.revokedKey, job.ID).Err(); err != nil {
				return queue.Job{}, err
			}
			continue
		}

		if err := q.client.HSet(ctx, q.runningKey, job.ID, res[1]).Err(); err != nil {
			return queue.Job{}, err
		}
		return job, nil
	}
}

// Ack removes the job from the running hash and forgets its revocation.
func (q *Queue) Ack(ctx context.Context, jobID string) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, q.runningKey, jobID)
		pipe.SRem(ctx, q.revokedKey, jobID)
		return nil
	})
	return err
}

func (q *Queue) Pending(ctx context.Context) ([]string, error) {
	values, err := q.client.LRange(ctx, q.pendingKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(values))
	// LPUSH stores the newest job first
	for i := len(values) - 1; i >= 0; i-- {
		var job queue.Job
		if err := json.Unmarshal([]byte(values[i]), &job); err != nil {
			return nil, fmt.Errorf("decode job: %w", err)
		}
		ids = append(ids, job.ID)
	}
	return ids, nil
}

func (q *Queue) Running(ctx context.Context) ([]string, error) {
	ids, err := q.client.HKeys(ctx, q.runningKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func (q *Queue) Revoke(ctx context.Context, jobIDs ...string) error {
	if len(jobIDs) == 0 {
		return nil
	}
	members := make([]any, 0, len(jobIDs))
	for _, id := range jobIDs {
		members = append(members, id)
	}
	return q.client.SAdd(ctx, q.revokedKey, members...).Err()
}

func (q *Queue) IsRevoked(ctx context.Context, jobID string) (bool, error) {
	return q.client.SIsMember(ctx, q.revokedKey, jobID).Result()
}

// Close is a no-op; the client belongs to the caller.
func (q *Queue) Close() error {
	return nil
}
