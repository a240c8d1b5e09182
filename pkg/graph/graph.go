package graph

import (
	"fmt"
	"slices"
)

// GraphDataset is a named group of collections served by one connector.
type GraphDataset struct {
	Name         string        `json:"name"`
	Collections  []*Collection `json:"collections"`
	After        []string      `json:"after,omitempty"`
	ConnectorKey string        `json:"connector_key"`
}

// Edge links two fields. A directed edge only carries values From -> To; an
// undirected edge is oriented during traversal.
type Edge struct {
	From     FieldAddress
	To       FieldAddress
	Directed bool
}

// Touches reports whether either end of the edge lies in addr.
func (e Edge) Touches(addr CollectionAddress) bool {
	return e.From.Collection == addr || e.To.Collection == addr
}

// IdentityField is a field that can be seeded from a supplied identity value.
type IdentityField struct {
	Address  FieldAddress
	Identity string
}

// Graph is a validated set of datasets. It is immutable once built.
type Graph struct {
	datasets      []*GraphDataset
	order         []CollectionAddress
	collections   map[CollectionAddress]*Collection
	connectorKeys map[CollectionAddress]string
	after         map[CollectionAddress][]CollectionAddress
	eraseAfter    map[CollectionAddress][]CollectionAddress
	edges         []Edge
	identities    []IdentityField
}

// NewGraph validates datasets and indexes them. Every reference must point at an
// existing field of another collection, and every after constraint at an existing
// collection or dataset. Dataset level after constraints are expanded into the
// after set of each of the dataset's collections.
func NewGraph(datasets ...*GraphDataset) (*Graph, error) {
	g := &Graph{
		datasets:      datasets,
		collections:   make(map[CollectionAddress]*Collection),
		connectorKeys: make(map[CollectionAddress]string),
		after:         make(map[CollectionAddress][]CollectionAddress),
		eraseAfter:    make(map[CollectionAddress][]CollectionAddress),
	}

	byDataset := make(map[string][]CollectionAddress, len(datasets))
	for _, ds := range datasets {
		if err := validateName("dataset", ds.Name); err != nil {
			return nil, err
		}
		if _, ok := byDataset[ds.Name]; ok {
			return nil, fmt.Errorf("%w: duplicate dataset %q", ErrInvalidGraph, ds.Name)
		}
		byDataset[ds.Name] = nil

		for _, c := range ds.Collections {
			if err := c.Validate(); err != nil {
				return nil, fmt.Errorf("dataset %q: %w", ds.Name, err)
			}
			addr := NewCollectionAddress(ds.Name, c.Name)
			if _, ok := g.collections[addr]; ok {
				return nil, fmt.Errorf("%w: duplicate collection %q", ErrInvalidGraph, addr)
			}
			g.collections[addr] = c
			g.connectorKeys[addr] = ds.ConnectorKey
			g.order = append(g.order, addr)
			byDataset[ds.Name] = append(byDataset[ds.Name], addr)
		}
	}

	for _, ds := range datasets {
		for _, c := range ds.Collections {
			addr := NewCollectionAddress(ds.Name, c.Name)
			if err := g.indexCollection(addr, c, ds, byDataset); err != nil {
				return nil, err
			}
		}
	}

	return g, nil
}

func (g *Graph) indexCollection(addr CollectionAddress, c *Collection, ds *GraphDataset, byDataset map[string][]CollectionAddress) error {
	after := make(map[CollectionAddress]struct{})
	for _, a := range c.After {
		if _, ok := g.collections[a]; !ok {
			return &ReferenceError{Field: addr.Field(), Target: a.String(), Err: ErrInvalidReference}
		}
		after[a] = struct{}{}
	}
	for _, name := range ds.After {
		members, ok := byDataset[name]
		if !ok {
			return &ReferenceError{Field: addr.Field(), Target: name, Err: ErrInvalidReference}
		}
		for _, a := range members {
			after[a] = struct{}{}
		}
	}
	delete(after, addr)
	g.after[addr] = sortedAddresses(after)

	eraseAfter := make(map[CollectionAddress]struct{})
	for _, a := range c.EraseAfter {
		if _, ok := g.collections[a]; !ok {
			return &ReferenceError{Field: addr.Field(), Target: a.String(), Err: ErrInvalidReference}
		}
		eraseAfter[a] = struct{}{}
	}
	g.eraseAfter[addr] = sortedAddresses(eraseAfter)

	for _, ff := range c.FieldPaths() {
		here := FieldAddress{Collection: addr, Path: ff.Path}
		if ff.Field.Identity != "" {
			g.identities = append(g.identities, IdentityField{Address: here, Identity: ff.Field.Identity})
		}

		for _, ref := range ff.Field.References {
			target := ref.Target
			if target.Collection == addr {
				return &ReferenceError{Field: here, Target: target.String(), Err: ErrSelfReference}
			}
			targetCollection, ok := g.collections[target.Collection]
			if !ok {
				return &ReferenceError{Field: here, Target: target.String(), Err: ErrInvalidReference}
			}
			if _, ok := targetCollection.FieldByPath(target.Path); !ok {
				return &ReferenceError{Field: here, Target: target.String(), Err: ErrInvalidReference}
			}

			switch ref.Direction {
			case DirectionTo:
				g.edges = append(g.edges, Edge{From: here, To: target, Directed: true})
			case DirectionFrom:
				g.edges = append(g.edges, Edge{From: target, To: here, Directed: true})
			default:
				g.edges = append(g.edges, Edge{From: here, To: target})
			}
		}
	}
	return nil
}

func sortedAddresses(set map[CollectionAddress]struct{}) []CollectionAddress {
	out := make([]CollectionAddress, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	slices.SortFunc(out, CollectionAddress.Compare)
	return out
}

func (g *Graph) Datasets() []*GraphDataset {
	return g.datasets
}

// Addresses returns every collection address in declaration order.
func (g *Graph) Addresses() []CollectionAddress {
	return slices.Clone(g.order)
}

func (g *Graph) Collection(addr CollectionAddress) (*Collection, bool) {
	c, ok := g.collections[addr]
	return c, ok
}

func (g *Graph) ConnectorKey(addr CollectionAddress) string {
	return g.connectorKeys[addr]
}

// After returns the effective after set of addr, sorted.
func (g *Graph) After(addr CollectionAddress) []CollectionAddress {
	return g.after[addr]
}

func (g *Graph) EraseAfter(addr CollectionAddress) []CollectionAddress {
	return g.eraseAfter[addr]
}

// Edges returns the declared edges in field declaration order.
func (g *Graph) Edges() []Edge {
	return g.edges
}

func (g *Graph) IdentityFields() []IdentityField {
	return g.identities
}
