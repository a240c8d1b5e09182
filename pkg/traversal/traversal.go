// Package traversal turns a dataset graph and a set of seed identities into an
// execution plan: one node per collection, with every reference edge oriented in
// the direction that values flow.
package traversal

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dsrkit/dsrkit/pkg/graph"
)

var ErrTraversal = errors.New("traversal error")

// Error names the collections a traversal could not schedule.
type Error struct {
	// Unreachable collections have no path from any supplied seed.
	Unreachable []graph.CollectionAddress
	// Blocked collections were reached but their after constraints never cleared.
	Blocked []graph.CollectionAddress
}

func (e *Error) Error() string {
	var parts []string
	if len(e.Blocked) > 0 {
		parts = append(parts, "blocked by after constraints: "+joinAddresses(e.Blocked))
	}
	if len(e.Unreachable) > 0 {
		parts = append(parts, "unreachable: "+joinAddresses(e.Unreachable))
	}
	return "traversal could not visit every collection; " + strings.Join(parts, "; ")
}

func (e *Error) Unwrap() error {
	return ErrTraversal
}

func joinAddresses(addrs []graph.CollectionAddress) string {
	s := make([]string, 0, len(addrs))
	for _, a := range addrs {
		s = append(s, a.String())
	}
	return strings.Join(s, ", ")
}

// Edge is an oriented reference between two fields.
type Edge struct {
	From graph.FieldAddress `json:"from"`
	To   graph.FieldAddress `json:"to"`
}

func (e Edge) String() string {
	return e.From.String() + " -> " + e.To.String()
}

// ParseEdge parses the output of Edge.String.
func ParseEdge(s string) (Edge, error) {
	from, to, ok := strings.Cut(s, " -> ")
	if !ok {
		return Edge{}, fmt.Errorf("invalid edge %q", s)
	}
	fromAddr, err := graph.ParseFieldAddress(from)
	if err != nil {
		return Edge{}, err
	}
	toAddr, err := graph.ParseFieldAddress(to)
	if err != nil {
		return Edge{}, err
	}
	return Edge{From: fromAddr, To: toAddr}, nil
}

// Node wraps one collection in a traversal. Neighbour maps are keyed by the
// address of the collection at the other end of the edges.
type Node struct {
	Address    graph.CollectionAddress
	Collection *graph.Collection

	Parents  map[graph.CollectionAddress][]Edge
	Children map[graph.CollectionAddress][]Edge

	// Revisits holds inbound edges from collections that ran after this one.
	// They are part of the plan but never delay this node.
	Revisits map[graph.CollectionAddress][]Edge
}

func newNode(addr graph.CollectionAddress, c *graph.Collection) *Node {
	return &Node{
		Address:    addr,
		Collection: c,
		Parents:    make(map[graph.CollectionAddress][]Edge),
		Children:   make(map[graph.CollectionAddress][]Edge),
		Revisits:   make(map[graph.CollectionAddress][]Edge),
	}
}

func (n *Node) IsRoot() bool {
	return n.Address.IsRoot()
}

// IsTerminal reports whether no other node waits on this one.
func (n *Node) IsTerminal() bool {
	return len(n.Children) == 0
}

// Upstream returns the sorted addresses this node waits on.
func (n *Node) Upstream() []graph.CollectionAddress {
	return sortedKeys(n.Parents)
}

// Downstream returns the sorted addresses that wait on this node.
func (n *Node) Downstream() []graph.CollectionAddress {
	return sortedKeys(n.Children)
}

// IncomingEdges returns the edges feeding this node, ordered by source address.
func (n *Node) IncomingEdges() []Edge {
	var edges []Edge
	for _, addr := range sortedKeys(n.Parents) {
		edges = append(edges, n.Parents[addr]...)
	}
	return edges
}

// QueryFieldPaths returns the distinct fields of this node that receive input
// values, in first-seen order of IncomingEdges.
func (n *Node) QueryFieldPaths() []graph.FieldPath {
	var paths []graph.FieldPath
	seen := make(map[graph.FieldPath]struct{})
	for _, e := range n.IncomingEdges() {
		if _, ok := seen[e.To.Path]; ok {
			continue
		}
		seen[e.To.Path] = struct{}{}
		paths = append(paths, e.To.Path)
	}
	return paths
}

func sortedKeys(m map[graph.CollectionAddress][]Edge) []graph.CollectionAddress {
	keys := make([]graph.CollectionAddress, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, graph.CollectionAddress.Compare)
	return keys
}

// Traversal is the execution plan for one graph and one set of seeds. It is
// read-only once New returns.
type Traversal struct {
	graph *graph.Graph
	seeds map[string]any
	root  *Node
	nodes map[graph.CollectionAddress]*Node
	order []graph.CollectionAddress
}

// New plans a traversal. Only identity fields whose identity appears in seeds
// become start points. Nodes are visited from a FIFO queue; each pop takes the
// first queued node whose after constraints are satisfied by the nodes already
// visited. A node that runs orients every undecided edge touching it away from
// itself. New returns an *Error when any collection cannot be visited.
func New(g *graph.Graph, seeds map[string]any) (*Traversal, error) {
	t := &Traversal{
		graph: g,
		seeds: seeds,
		root:  newNode(graph.RootAddress, nil),
		nodes: make(map[graph.CollectionAddress]*Node),
	}

	candidates := make([]graph.Edge, 0, len(g.Edges()))
	for _, id := range g.IdentityFields() {
		if _, ok := seeds[id.Identity]; !ok {
			continue
		}
		candidates = append(candidates, graph.Edge{
			From:     graph.RootAddress.Field(id.Identity),
			To:       id.Address,
			Directed: true,
		})
	}
	candidates = append(candidates, g.Edges()...)

	remaining := make(map[graph.CollectionAddress]struct{})
	for _, addr := range g.Addresses() {
		c, _ := g.Collection(addr)
		t.nodes[addr] = newNode(addr, c)
		remaining[addr] = struct{}{}
	}

	pending := make([]bool, len(candidates))
	for i := range pending {
		pending[i] = true
	}

	queued := map[graph.CollectionAddress]struct{}{graph.RootAddress: {}}
	queue := []*Node{t.root}

	for len(queue) > 0 {
		idx := slices.IndexFunc(queue, func(n *Node) bool { return t.canRunGiven(n, remaining) })
		if idx < 0 {
			blocked := make([]graph.CollectionAddress, 0, len(queue))
			for _, n := range queue {
				blocked = append(blocked, n.Address)
			}
			return nil, t.traversalError(remaining, blocked)
		}

		n := queue[idx]
		queue = slices.Delete(queue, idx, idx+1)

		for i, e := range candidates {
			if !pending[i] {
				continue
			}

			var oriented Edge
			switch {
			case e.From.Collection == n.Address:
				oriented = Edge{From: e.From, To: e.To}
			case e.To.Collection == n.Address && !e.Directed:
				oriented = Edge{From: e.To, To: e.From}
			default:
				continue
			}
			pending[i] = false

			other := t.nodes[oriented.To.Collection]
			if _, unvisited := remaining[other.Address]; !unvisited {
				other.Revisits[n.Address] = append(other.Revisits[n.Address], oriented)
				continue
			}

			n.Children[other.Address] = append(n.Children[other.Address], oriented)
			other.Parents[n.Address] = append(other.Parents[n.Address], oriented)
			if _, ok := queued[other.Address]; !ok {
				queued[other.Address] = struct{}{}
				queue = append(queue, other)
			}
		}

		if !n.IsRoot() {
			delete(remaining, n.Address)
			t.order = append(t.order, n.Address)
		}
	}

	if len(remaining) > 0 {
		return nil, t.traversalError(remaining, nil)
	}
	return t, nil
}

// canRunGiven reports whether none of the node's after constraints are still unvisited.
func (t *Traversal) canRunGiven(n *Node, remaining map[graph.CollectionAddress]struct{}) bool {
	if n.IsRoot() {
		return true
	}
	for _, a := range t.graph.After(n.Address) {
		if _, ok := remaining[a]; ok {
			return false
		}
	}
	return true
}

func (t *Traversal) traversalError(remaining map[graph.CollectionAddress]struct{}, blocked []graph.CollectionAddress) error {
	isBlocked := make(map[graph.CollectionAddress]struct{}, len(blocked))
	for _, b := range blocked {
		isBlocked[b] = struct{}{}
	}

	var unreachable []graph.CollectionAddress
	for addr := range remaining {
		if _, ok := isBlocked[addr]; !ok {
			unreachable = append(unreachable, addr)
		}
	}
	slices.SortFunc(unreachable, graph.CollectionAddress.Compare)
	slices.SortFunc(blocked, graph.CollectionAddress.Compare)

	return &Error{Unreachable: unreachable, Blocked: blocked}
}

func (t *Traversal) Graph() *graph.Graph {
	return t.graph
}

func (t *Traversal) Seeds() map[string]any {
	return t.seeds
}

func (t *Traversal) Root() *Node {
	return t.root
}

func (t *Traversal) Node(addr graph.CollectionAddress) (*Node, bool) {
	if addr.IsRoot() {
		return t.root, true
	}
	n, ok := t.nodes[addr]
	return n, ok
}

// Nodes returns every collection node in the order it was visited.
func (t *Traversal) Nodes() []*Node {
	out := make([]*Node, 0, len(t.order))
	for _, addr := range t.order {
		out = append(out, t.nodes[addr])
	}
	return out
}

// Terminals returns the addresses of nodes with no children, in visit order.
func (t *Traversal) Terminals() []graph.CollectionAddress {
	var out []graph.CollectionAddress
	for _, addr := range t.order {
		if t.nodes[addr].IsTerminal() {
			out = append(out, addr)
		}
	}
	return out
}

// RootRow is the single row the root node produces: the seed values keyed by identity.
func (t *Traversal) RootRow() map[string]any {
	row := make(map[string]any, len(t.seeds))
	for k, v := range t.seeds {
		row[k] = v
	}
	return row
}
