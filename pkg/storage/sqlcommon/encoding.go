package sqlcommon

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/dsrkit/dsrkit/pkg/graph"
	"github.com/dsrkit/dsrkit/pkg/policy"
	"github.com/dsrkit/dsrkit/pkg/storage"
	"github.com/dsrkit/dsrkit/pkg/traversal"
)

// traversalDetails is the JSON stored in request_task.traversal_details.
type traversalDetails struct {
	IncomingEdges []traversal.Edge          `json:"incoming_edges,omitempty"`
	Upstream      []graph.CollectionAddress `json:"upstream,omitempty"`
	Downstream    []graph.CollectionAddress `json:"downstream,omitempty"`
}

func marshalText(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func marshalNullable(v any, isNil bool) (sql.NullString, error) {
	if isNil {
		return sql.NullString{}, nil
	}
	s, err := marshalText(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: s, Valid: true}, nil
}

// unmarshalText decodes numbers as json.Number so identifiers keep their precision.
func unmarshalText(s sql.NullString, v any) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewBufferString(s.String))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidRecord, err)
	}
	return nil
}

func marshalRows(rows []map[string]any) (sql.NullString, error) {
	return marshalNullable(rows, rows == nil)
}

func unmarshalRows(s sql.NullString) ([]map[string]any, error) {
	var rows []map[string]any
	if err := unmarshalText(s, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func marshalCollection(c *graph.Collection) (sql.NullString, error) {
	return marshalNullable(c, c == nil)
}

// unmarshalCollection parses the snapshot with the same routine used when planning.
func unmarshalCollection(s sql.NullString) (*graph.Collection, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	c, err := graph.ParseCollection([]byte(s.String))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidRecord, err)
	}
	return c, nil
}

func marshalPolicy(p *policy.Policy) (string, error) {
	if p == nil {
		return "{}", nil
	}
	return marshalText(p)
}

func unmarshalPolicy(s string) (*policy.Policy, error) {
	var p policy.Policy
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidRecord, err)
	}
	return &p, nil
}
