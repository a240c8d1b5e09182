// Package graph defines the addressing model and the declarative dataset graph:
// datasets own collections, collections own fields, and fields reference fields
// in other collections.
package graph

import (
	"fmt"
	"strings"
)

const (
	addressSeparator = ":"
	pathSeparator    = "."
)

// CollectionAddress identifies a collection across all datasets.
type CollectionAddress struct {
	Dataset    string
	Collection string
}

var (
	// RootAddress is the virtual source of seed identity values.
	RootAddress = CollectionAddress{Dataset: "__ROOT__", Collection: "__ROOT__"}
	// TerminatorAddress is the virtual sink reached from every terminal collection.
	TerminatorAddress = CollectionAddress{Dataset: "__TERMINATE__", Collection: "__TERMINATE__"}
)

func NewCollectionAddress(dataset, collection string) CollectionAddress {
	return CollectionAddress{Dataset: dataset, Collection: collection}
}

// ParseCollectionAddress parses "dataset:collection".
func ParseCollectionAddress(s string) (CollectionAddress, error) {
	dataset, collection, ok := strings.Cut(s, addressSeparator)
	if !ok || dataset == "" || collection == "" || strings.Contains(collection, addressSeparator) {
		return CollectionAddress{}, fmt.Errorf("invalid collection address %q", s)
	}
	return CollectionAddress{Dataset: dataset, Collection: collection}, nil
}

func (a CollectionAddress) String() string {
	return a.Dataset + addressSeparator + a.Collection
}

// Less orders addresses by dataset, then collection.
func (a CollectionAddress) Less(b CollectionAddress) bool {
	if a.Dataset != b.Dataset {
		return a.Dataset < b.Dataset
	}
	return a.Collection < b.Collection
}

// Compare returns -1, 0 or 1, for use with slices.SortFunc.
func (a CollectionAddress) Compare(b CollectionAddress) int {
	switch {
	case a == b:
		return 0
	case a.Less(b):
		return -1
	default:
		return 1
	}
}

func (a CollectionAddress) IsRoot() bool {
	return a == RootAddress
}

func (a CollectionAddress) IsTerminator() bool {
	return a == TerminatorAddress
}

// Field returns the address of a field of this collection.
func (a CollectionAddress) Field(levels ...string) FieldAddress {
	return FieldAddress{Collection: a, Path: NewFieldPath(levels...)}
}

func (a CollectionAddress) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *CollectionAddress) UnmarshalText(text []byte) error {
	parsed, err := ParseCollectionAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// FieldPath is an ordered sequence of field names. It is comparable, so it can key maps.
type FieldPath struct {
	path string
}

func NewFieldPath(levels ...string) FieldPath {
	return FieldPath{path: strings.Join(levels, pathSeparator)}
}

// ParseFieldPath parses a dotted path such as "address.city".
func ParseFieldPath(s string) FieldPath {
	return FieldPath{path: s}
}

func (p FieldPath) String() string {
	return p.path
}

func (p FieldPath) IsEmpty() bool {
	return p.path == ""
}

func (p FieldPath) Levels() []string {
	if p.path == "" {
		return nil
	}
	return strings.Split(p.path, pathSeparator)
}

// Child appends a level to the path.
func (p FieldPath) Child(name string) FieldPath {
	if p.path == "" {
		return FieldPath{path: name}
	}
	return FieldPath{path: p.path + pathSeparator + name}
}

func (p FieldPath) MarshalText() ([]byte, error) {
	return []byte(p.path), nil
}

func (p *FieldPath) UnmarshalText(text []byte) error {
	p.path = string(text)
	return nil
}

// RetrieveFrom returns every value found at this path in row. Arrays met along
// the way are flattened, so a path through a list of objects yields one value per element.
func (p FieldPath) RetrieveFrom(row map[string]any) []any {
	return retrieve(row, p.Levels())
}

func retrieve(v any, levels []string) []any {
	if len(levels) == 0 {
		if list, ok := v.([]any); ok {
			return list
		}
		return []any{v}
	}

	switch node := v.(type) {
	case map[string]any:
		child, ok := node[levels[0]]
		if !ok {
			return nil
		}
		return retrieve(child, levels[1:])
	case []any:
		var out []any
		for _, elem := range node {
			out = append(out, retrieve(elem, levels)...)
		}
		return out
	}
	return nil
}

// FieldAddress identifies a field, nested or scalar, across all datasets.
type FieldAddress struct {
	Collection CollectionAddress
	Path       FieldPath
}

func NewFieldAddress(dataset, collection string, levels ...string) FieldAddress {
	return FieldAddress{Collection: NewCollectionAddress(dataset, collection), Path: NewFieldPath(levels...)}
}

// ParseFieldAddress parses "dataset:collection:a.b.c".
func ParseFieldAddress(s string) (FieldAddress, error) {
	parts := strings.SplitN(s, addressSeparator, 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return FieldAddress{}, fmt.Errorf("invalid field address %q", s)
	}
	return FieldAddress{
		Collection: CollectionAddress{Dataset: parts[0], Collection: parts[1]},
		Path:       ParseFieldPath(parts[2]),
	}, nil
}

func (a FieldAddress) String() string {
	return a.Collection.String() + addressSeparator + a.Path.String()
}

func (a FieldAddress) Less(b FieldAddress) bool {
	if a.Collection != b.Collection {
		return a.Collection.Less(b.Collection)
	}
	return a.Path.path < b.Path.path
}

func (a FieldAddress) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *FieldAddress) UnmarshalText(text []byte) error {
	parsed, err := ParseFieldAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
