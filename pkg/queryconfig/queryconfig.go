// Package queryconfig translates an execution node and its input values into a
// statement for one kind of store: SQL for relational dialects, filter documents
// for MongoDB, and an action descriptor for collections a person resolves.
// Statements are never executed here.
package queryconfig

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dsrkit/dsrkit/pkg/graph"
	"github.com/dsrkit/dsrkit/pkg/policy"
	"github.com/dsrkit/dsrkit/pkg/traversal"
)

// ErrSQLTranslation is returned when a node cannot be expressed as a statement.
var ErrSQLTranslation = errors.New("could not translate node into a statement")

type ConnectionType string

const (
	Postgres ConnectionType = "postgres"
	MySQL    ConnectionType = "mysql"
	SQLite   ConnectionType = "sqlite"
	MSSQL    ConnectionType = "mssql"
	MongoDB  ConnectionType = "mongodb"
	Manual   ConnectionType = "manual"
	HTTP     ConnectionType = "http"
)

// Statement is one of *SQLStatement, *MongoStatement or *ManualAction.
type Statement interface {
	statement()
}

// Inputs maps a field of the node to the values flowing into it from upstream.
type Inputs map[graph.FieldPath][]any

// Row is a single record returned by a store.
type Row = map[string]any

// Node is the part of a traversal node that statement generation needs.
type Node struct {
	Address         graph.CollectionAddress
	Collection      *graph.Collection
	QueryFieldPaths []graph.FieldPath
}

// NodeFromTraversal copies the fields query generation needs from n.
func NodeFromTraversal(n *traversal.Node) Node {
	return Node{Address: n.Address, Collection: n.Collection, QueryFieldPaths: n.QueryFieldPaths()}
}

type QueryConfig interface {
	Node() Node

	// GenerateQuery builds a read statement. It returns a nil Statement when no
	// usable input values are available, meaning the node has nothing to read.
	GenerateQuery(inputs Inputs) (Statement, error)

	// GenerateUpdate builds a masking statement for one row according to the
	// erasure rules of p. It returns a nil Statement when the row has no primary
	// key or nothing to mask.
	GenerateUpdate(row Row, p *policy.Policy, requestID string) (Statement, error)

	// DryRunQuery renders the read statement with placeholder tokens in place of values.
	DryRunQuery() (string, error)

	// QueryToString renders stmt with its values inlined, for display only.
	QueryToString(stmt Statement) string
}

type options struct {
	now func() time.Time
}

type Option func(*options)

// WithNow sets the clock used to resolve dynamic partition bounds.
func WithNow(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

type factory func(n Node, o options) QueryConfig

var factories = map[ConnectionType]factory{
	Postgres: func(n Node, o options) QueryConfig { return newSQLQueryConfig(n, o, postgresDialect) },
	MySQL:    func(n Node, o options) QueryConfig { return newSQLQueryConfig(n, o, mysqlDialect) },
	SQLite:   func(n Node, o options) QueryConfig { return newSQLQueryConfig(n, o, sqliteDialect) },
	MSSQL:    func(n Node, o options) QueryConfig { return newSQLQueryConfig(n, o, mssqlDialect) },
	MongoDB:  func(n Node, o options) QueryConfig { return &mongoQueryConfig{base: base{node: n}} },
	Manual:   func(n Node, o options) QueryConfig { return &manualQueryConfig{base: base{node: n}} },
	HTTP:     func(n Node, o options) QueryConfig { return &manualQueryConfig{base: base{node: n}} },
}

// New selects the query config for a connection type.
func New(ct ConnectionType, n Node, opts ...Option) (QueryConfig, error) {
	f, ok := factories[ct]
	if !ok {
		return nil, fmt.Errorf("unsupported connection type %q", ct)
	}
	if n.Collection == nil {
		return nil, fmt.Errorf("node %s has no collection", n.Address)
	}

	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return f(n, o), nil
}

// base holds the algorithm shared by every store.
type base struct {
	node Node
}

func (b base) Node() Node {
	return b.node
}

// fieldValues is one input field with its usable values.
type fieldValues struct {
	path   graph.FieldPath
	field  *graph.Field
	values []any
}

// filteredInputs keeps the query fields that have at least one usable value.
// Values are cast with the field's data type; empty values and values that fail
// to cast are dropped, and duplicates collapse in first-seen order.
func (b base) filteredInputs(inputs Inputs) []fieldValues {
	var out []fieldValues
	for _, path := range b.node.QueryFieldPaths {
		f, ok := b.node.Collection.FieldByPath(path)
		if !ok {
			continue
		}

		var values []any
		seen := make(map[string]struct{})
		for _, raw := range inputs[path] {
			if isEmpty(raw) {
				continue
			}
			v, ok := f.Cast(raw)
			if !ok || isEmpty(v) {
				continue
			}
			key := fmt.Sprintf("%T:%v", v, v)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			values = append(values, v)
		}

		if len(values) > 0 {
			out = append(out, fieldValues{path: path, field: f, values: values})
		}
	}
	return out
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

// placeholderInputs gives every query field a single token value.
func (b base) placeholderInputs(token string) []fieldValues {
	var out []fieldValues
	for _, path := range b.node.QueryFieldPaths {
		f, ok := b.node.Collection.FieldByPath(path)
		if !ok {
			continue
		}
		out = append(out, fieldValues{path: path, field: f, values: []any{token}})
	}
	return out
}

// primaryKeys returns the first value of every primary key path present in row.
func (b base) primaryKeys(row Row) map[graph.FieldPath]any {
	keys := make(map[graph.FieldPath]any)
	for _, path := range b.node.Collection.PrimaryKeyPaths() {
		values := path.RetrieveFrom(row)
		if len(values) == 0 || values[0] == nil {
			continue
		}
		keys[path] = values[0]
	}
	return keys
}

func sortedPaths[V any](m map[graph.FieldPath]V) []graph.FieldPath {
	paths := make([]graph.FieldPath, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i].String() < paths[j].String() })
	return paths
}
