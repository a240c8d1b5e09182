package graph

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidGraph     = errors.New("invalid dataset graph")
	ErrInvalidReference = errors.New("reference to a collection or field that does not exist")
	ErrSelfReference    = errors.New("field references its own collection")
)

// ReferenceError reports a reference rejected while building a Graph.
type ReferenceError struct {
	Field  FieldAddress
	Target string
	Err    error
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("%s -> %s: %v", e.Field, e.Target, e.Err)
}

func (e *ReferenceError) Unwrap() error {
	return e.Err
}
