package graph

import (
	"encoding/json"
	"fmt"

	"github.com/dsrkit/dsrkit/pkg/masking"
	"github.com/dsrkit/dsrkit/pkg/partition"
)

// Collection is a table, document collection or endpoint within a dataset.
type Collection struct {
	Name   string   `json:"name"`
	Fields []*Field `json:"fields"`

	// After lists collections that must finish before this one starts.
	After []CollectionAddress `json:"after,omitempty"`
	// EraseAfter lists collections whose erasure must finish before this one is masked.
	EraseAfter []CollectionAddress `json:"erase_after,omitempty"`

	Partitioning            []partition.Spec `json:"partitioning,omitempty"`
	MaskingStrategyOverride *masking.Config  `json:"masking_strategy_override,omitempty"`
}

// FlatField is a field together with its full path from the collection root.
type FlatField struct {
	Path  FieldPath
	Field *Field
}

// FieldReference is an outbound reference declared on a field of a collection.
type FieldReference struct {
	Path      FieldPath
	Reference Reference
}

// ParseCollection decodes a collection snapshot produced by json.Marshal and validates it.
func ParseCollection(data []byte) (*Collection, error) {
	var c Collection
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode collection snapshot: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks field names and partitioning. References are checked when the graph is built.
func (c *Collection) Validate() error {
	if err := validateName("collection", c.Name); err != nil {
		return err
	}
	if err := validateFieldNames(c.Fields, FieldPath{}); err != nil {
		return fmt.Errorf("collection %q: %w", c.Name, err)
	}
	for _, spec := range c.Partitioning {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("collection %q: %w", c.Name, err)
		}
	}
	if err := partition.ValidateNoOverlap(c.Partitioning); err != nil {
		return fmt.Errorf("collection %q: %w", c.Name, err)
	}
	return nil
}

// FieldPaths flattens the collection depth-first in declaration order.
// Object fields appear before their nested fields.
func (c *Collection) FieldPaths() []FlatField {
	var out []FlatField
	var walk func(fields []*Field, parent FieldPath)
	walk = func(fields []*Field, parent FieldPath) {
		for _, f := range fields {
			path := parent.Child(f.Name)
			out = append(out, FlatField{Path: path, Field: f})
			walk(f.Fields, path)
		}
	}
	walk(c.Fields, FieldPath{})
	return out
}

func (c *Collection) FieldDict() map[FieldPath]*Field {
	flat := c.FieldPaths()
	dict := make(map[FieldPath]*Field, len(flat))
	for _, ff := range flat {
		dict[ff.Path] = ff.Field
	}
	return dict
}

func (c *Collection) FieldByPath(p FieldPath) (*Field, bool) {
	levels := p.Levels()
	fields := c.Fields
	var found *Field
	for _, level := range levels {
		found = nil
		for _, f := range fields {
			if f.Name == level {
				found = f
				break
			}
		}
		if found == nil {
			return nil, false
		}
		fields = found.Fields
	}
	return found, found != nil
}

func (c *Collection) References() []FieldReference {
	var out []FieldReference
	for _, ff := range c.FieldPaths() {
		for _, ref := range ff.Field.References {
			out = append(out, FieldReference{Path: ff.Path, Reference: ref})
		}
	}
	return out
}

func (c *Collection) IdentityFields() []FlatField {
	var out []FlatField
	for _, ff := range c.FieldPaths() {
		if ff.Field.Identity != "" {
			out = append(out, ff)
		}
	}
	return out
}

// FieldsByCategory indexes scalar field paths by each of their data categories.
func (c *Collection) FieldsByCategory() map[string][]FieldPath {
	out := make(map[string][]FieldPath)
	for _, ff := range c.FieldPaths() {
		if ff.Field.Kind != ScalarField {
			continue
		}
		for _, category := range ff.Field.DataCategories {
			out[category] = append(out[category], ff.Path)
		}
	}
	return out
}

func (c *Collection) TopLevelFieldNames() []string {
	names := make([]string, 0, len(c.Fields))
	for _, f := range c.Fields {
		names = append(names, f.Name)
	}
	return names
}

func (c *Collection) PrimaryKeyPaths() []FieldPath {
	var out []FieldPath
	for _, ff := range c.FieldPaths() {
		if ff.Field.PrimaryKey {
			out = append(out, ff.Path)
		}
	}
	return out
}
