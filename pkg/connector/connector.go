//go:generate mockgen -source connector.go -destination ../../internal/mocks/mock_connector.go -package mocks Connector,AsyncConnector

// Package connector defines how the scheduler talks to the stores that hold a
// data subject's records. Statements come from pkg/queryconfig; connectors only
// execute them.
package connector

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/exp/maps"

	"github.com/dsrkit/dsrkit/pkg/queryconfig"
)

var (
	ErrUnknownConnector = errors.New("unknown connector")
	ErrDuplicateKey     = errors.New("connector key already registered")
)

type ResultKind int

const (
	ResultReady ResultKind = iota
	ResultPending
	ResultFailed
	ResultNeedsInput
)

func (k ResultKind) String() string {
	switch k {
	case ResultReady:
		return "ready"
	case ResultPending:
		return "pending"
	case ResultFailed:
		return "failed"
	case ResultNeedsInput:
		return "needs_input"
	}
	return fmt.Sprintf("ResultKind(%d)", int(k))
}

// Result is what one call against a store produced. Only the fields of its
// Kind are set.
type Result struct {
	Kind ResultKind

	// Rows read by a Ready retrieval.
	Rows []map[string]any
	// Masked counts the records a Ready erasure changed.
	Masked int

	// CorrelationIDs identify the asynchronous calls of a Pending result.
	CorrelationIDs []string

	// Err is why a Failed result failed.
	Err error

	// Message tells an operator what a NeedsInput result is waiting for.
	Message string
}

func Ready(rows []map[string]any) Result {
	return Result{Kind: ResultReady, Rows: rows}
}

func Masked(n int) Result {
	return Result{Kind: ResultReady, Masked: n}
}

// Pending registers asynchronous calls. With no correlation ids nothing is
// tracked and the scheduler treats the result as Ready with no rows.
func Pending(correlationIDs ...string) Result {
	return Result{Kind: ResultPending, CorrelationIDs: correlationIDs}
}

func Failed(err error) Result {
	return Result{Kind: ResultFailed, Err: err}
}

func NeedsInput(message string) Result {
	return Result{Kind: ResultNeedsInput, Message: message}
}

type Connector interface {
	// Key is the connector key datasets refer to.
	Key() string

	// ConnectionType selects the statement flavour this connector executes.
	ConnectionType() queryconfig.ConnectionType

	// Retrieve executes a read statement.
	Retrieve(ctx context.Context, stmt queryconfig.Statement) Result

	// Mask executes update statements, one per row to erase.
	Mask(ctx context.Context, stmts []queryconfig.Statement) Result

	// Test checks that the store is reachable.
	Test(ctx context.Context) error

	Close() error
}

// AsyncStatus is the state of one asynchronous call.
type AsyncStatus struct {
	Complete bool

	// SkipResultFetch marks a completed call whose result must not be fetched.
	SkipResultFetch bool
}

// AsyncConnector is a Connector whose retrievals may return Pending.
type AsyncConnector interface {
	Connector

	CheckAsyncStatus(ctx context.Context, correlationID string) (AsyncStatus, error)
	FetchAsyncResult(ctx context.Context, correlationID string) ([]map[string]any, error)
}

// StatusCodeIgnorer is implemented by connectors whose failed calls with
// certain status codes mean there is nothing to track rather than an error.
type StatusCodeIgnorer interface {
	IgnoredStatusCodes() []int
}

// IsIgnored reports whether c ignores failures with the status code.
func IsIgnored(c Connector, statusCode int) bool {
	ignorer, ok := c.(StatusCodeIgnorer)
	if !ok {
		return false
	}
	for _, code := range ignorer.IgnoredStatusCodes() {
		if code == statusCode {
			return true
		}
	}
	return false
}

// Registry resolves connector keys. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

func NewRegistry(connectors ...Connector) (*Registry, error) {
	r := &Registry{connectors: make(map[string]Connector, len(connectors))}
	for _, c := range connectors {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(c Connector) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.connectors[c.Key()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, c.Key())
	}
	r.connectors[c.Key()] = c
	return nil
}

func (r *Registry) Get(key string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnector, key)
	}
	return c, nil
}

// Keys returns the registered keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := maps.Keys(r.connectors)
	slices.Sort(keys)
	return keys
}

// Close closes every connector and returns their errors joined.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, c := range r.connectors {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.Key(), err))
		}
	}
	return errors.Join(errs...)
}
