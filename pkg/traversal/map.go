package traversal

import (
	"encoding/json"
	"slices"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/dsrkit/dsrkit/pkg/graph"
)

// NodeMap lists the field edges of one node grouped by the neighbouring collection.
// Edges are rendered as "source.path -> dest.path".
type NodeMap struct {
	From map[string][]string `json:"from"`
	To   map[string][]string `json:"to"`
}

// Map is the traversal keyed by collection address. encoding/json sorts map keys,
// so equal traversals marshal to identical bytes.
type Map map[string]NodeMap

func pathEdge(e Edge) string {
	return e.From.Path.String() + " -> " + e.To.Path.String()
}

func groupEdges(dst map[string][]string, groups map[graph.CollectionAddress][]Edge) {
	for addr, edges := range groups {
		key := addr.String()
		for _, e := range edges {
			dst[key] = append(dst[key], pathEdge(e))
		}
		slices.Sort(dst[key])
	}
}

// Map renders the root and every visited collection. Revisit edges are listed as inbound edges.
func (t *Traversal) Map() Map {
	m := make(Map, len(t.order)+1)
	nodes := append([]*Node{t.root}, t.Nodes()...)
	for _, n := range nodes {
		nm := NodeMap{From: make(map[string][]string), To: make(map[string][]string)}
		groupEdges(nm.From, n.Parents)
		groupEdges(nm.From, n.Revisits)
		groupEdges(nm.To, n.Children)
		m[n.Address.String()] = nm
	}
	return m
}

// Representation is the cacheable form of a traversal: each collection mapped to
// its sorted inbound edges. The root is omitted.
type Representation map[string][]string

// Representation captures the plan for caching and later diffing.
func (t *Traversal) Representation() Representation {
	r := make(Representation, len(t.order))
	for _, n := range t.Nodes() {
		edges := make([]string, 0)
		for _, e := range n.IncomingEdges() {
			edges = append(edges, e.String())
		}
		slices.Sort(edges)
		r[n.Address.String()] = edges
	}
	return r
}

// Fingerprint is a stable hash of the plan's representation.
func (t *Traversal) Fingerprint() string {
	return t.Representation().Fingerprint()
}

func (r Representation) Fingerprint() string {
	data, err := json.Marshal(r)
	if err != nil {
		return ""
	}
	return strconv.FormatUint(xxhash.Sum64(data), 16)
}
