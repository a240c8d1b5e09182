// Package storage holds the persisted state of privacy requests: the requests
// themselves, one RequestTask per collection and action, the sub-requests of
// asynchronous tasks and the per-collection execution log.
package storage

import (
	"context"
	"time"

	"github.com/dsrkit/dsrkit/pkg/graph"
	"github.com/dsrkit/dsrkit/pkg/policy"
	"github.com/dsrkit/dsrkit/pkg/traversal"
)

type RequestStatus string

const (
	RequestPending       RequestStatus = "pending"
	RequestApproved      RequestStatus = "approved"
	RequestInProcessing  RequestStatus = "in_processing"
	RequestRequiresInput RequestStatus = "requires_input"
	RequestComplete      RequestStatus = "complete"
	RequestError         RequestStatus = "error"
	RequestCanceled      RequestStatus = "canceled"
)

// Terminal reports whether no further work happens for a request in this status.
func (s RequestStatus) Terminal() bool {
	return s == RequestComplete || s == RequestError || s == RequestCanceled
}

// InFlight lists the statuses the interruption sweep inspects.
var InFlight = []RequestStatus{RequestApproved, RequestInProcessing, RequestRequiresInput}

type TaskStatus string

const (
	TaskPending       TaskStatus = "pending"
	TaskInProcessing  TaskStatus = "in_processing"
	TaskComplete      TaskStatus = "complete"
	TaskError         TaskStatus = "error"
	TaskPolling       TaskStatus = "polling"
	TaskSkipped       TaskStatus = "skipped"
	TaskRequiresInput TaskStatus = "requires_input"
)

// Exited reports whether a task or sub-request in this status will not change again on its own.
func (s TaskStatus) Exited() bool {
	return s == TaskComplete || s == TaskError || s == TaskSkipped
}

type AsyncType string

const (
	AsyncNone    AsyncType = "none"
	AsyncPolling AsyncType = "polling"
)

type PrivacyRequest struct {
	ID        string
	Status    RequestStatus
	Identity  map[string]any
	Policy    *policy.Policy
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RequestTask is the unit of work for one collection and one action of a privacy request.
// The ROOT task carries the identity as its only row; the TERMINATOR task completes
// once every collection of its action has.
type RequestTask struct {
	ID               string
	PrivacyRequestID string
	Address          graph.CollectionAddress
	ActionType       policy.ActionType
	Status           TaskStatus
	AsyncType        AsyncType
	ConnectorKey     string

	// Collection is the snapshot of the collection the task was planned against.
	Collection *graph.Collection

	// IncomingEdges feed upstream rows into the query fields of this collection.
	IncomingEdges []traversal.Edge
	Upstream      []graph.CollectionAddress
	Downstream    []graph.CollectionAddress

	Rows       []map[string]any
	RowsMasked int
	Message    string
	RetryCount int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (t *RequestTask) IsRoot() bool {
	return t.Address.IsRoot()
}

func (t *RequestTask) IsTerminator() bool {
	return t.Address.IsTerminator()
}

// SubRequest tracks one asynchronous call of a polling task by its correlation id.
type SubRequest struct {
	ID            string
	RequestTaskID string
	CorrelationID string
	Status        TaskStatus
	Rows          []map[string]any
	Message       string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type ExecutionLog struct {
	ID               string
	PrivacyRequestID string
	Address          graph.CollectionAddress
	ActionType       policy.ActionType
	Status           TaskStatus
	Message          string
	CreatedAt        time.Time
}

// TaskFilter selects request tasks. Zero fields match everything.
type TaskFilter struct {
	PrivacyRequestID string
	ActionType       policy.ActionType
	Statuses         []TaskStatus
}

func (f TaskFilter) Matches(t *RequestTask) bool {
	if f.PrivacyRequestID != "" && t.PrivacyRequestID != f.PrivacyRequestID {
		return false
	}
	if f.ActionType != "" && t.ActionType != f.ActionType {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if t.Status == s {
			return true
		}
	}
	return false
}

// Datastore persists privacy requests and their tasks. Listing methods return
// rows ordered by id, which orders them by creation time.
type Datastore interface {
	CreatePrivacyRequest(ctx context.Context, pr *PrivacyRequest) error
	GetPrivacyRequest(ctx context.Context, id string) (*PrivacyRequest, error)
	ListPrivacyRequests(ctx context.Context, statuses ...RequestStatus) ([]*PrivacyRequest, error)
	UpdatePrivacyRequestStatus(ctx context.Context, id string, status RequestStatus) error

	// CreateRequestTasks writes all tasks or none.
	CreateRequestTasks(ctx context.Context, tasks ...*RequestTask) error
	GetRequestTask(ctx context.Context, id string) (*RequestTask, error)
	ListRequestTasks(ctx context.Context, filter TaskFilter) ([]*RequestTask, error)

	// ClaimRequestTask moves a task to status `to` only if its current status is
	// one of `from`. It reports whether this caller won the claim.
	ClaimRequestTask(ctx context.Context, id string, from []TaskStatus, to TaskStatus) (bool, error)

	// UpdateRequestTask writes the mutable fields of t: status, async type,
	// rows, rows masked, message and retry count.
	UpdateRequestTask(ctx context.Context, t *RequestTask) error
	DeleteRequestTasks(ctx context.Context, ids ...string) error

	CreateSubRequests(ctx context.Context, subs ...*SubRequest) error
	ListSubRequests(ctx context.Context, requestTaskID string) ([]*SubRequest, error)
	UpdateSubRequest(ctx context.Context, s *SubRequest) error

	AppendExecutionLog(ctx context.Context, l *ExecutionLog) error
	ListExecutionLogs(ctx context.Context, privacyRequestID string) ([]*ExecutionLog, error)

	// DeleteExpiredRequests removes terminal requests last updated before the
	// cutoff together with their tasks, sub-requests and logs.
	DeleteExpiredRequests(ctx context.Context, before time.Time) (int, error)

	// IsReady reports whether the datastore is reachable and migrated.
	IsReady(ctx context.Context) (ReadinessStatus, error)

	// Close closes the datastore and cleans up any residual resources.
	Close()
}

// ReadinessStatus represents the readiness status of the datastore.
type ReadinessStatus struct {
	// Message is a human-friendly status message for the current datastore status.
	Message string

	IsReady bool
}
