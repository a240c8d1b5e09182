package traversal

import (
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/multi"
)

// dotGraph renders a traversal with one line per field edge.
type dotGraph struct {
	*multi.DirectedGraph // two collections can be linked by more than one field edge

	// collection address to node ID
	mapping map[string]int64
}

var _ dot.Attributers = (*dotGraph)(nil)

func (g *dotGraph) DOTAttributers() (graph, node, edge encoding.Attributer) {
	return g, nil, nil
}

func (g *dotGraph) Attributes() []encoding.Attribute {
	return []encoding.Attribute{{Key: "rankdir", Value: "LR"}}
}

type dotNode struct {
	graph.Node
	attrs []encoding.Attribute
}

func (d *dotNode) Attributes() []encoding.Attribute {
	return d.attrs
}

type dotLine struct {
	graph.Line
	attrs []encoding.Attribute
}

func (d *dotLine) Attributes() []encoding.Attribute {
	return d.attrs
}

func (g *dotGraph) addNode(label string, terminal bool) graph.Node {
	if id, ok := g.mapping[label]; ok {
		return g.Node(id)
	}
	n := &dotNode{Node: g.DirectedGraph.NewNode(), attrs: []encoding.Attribute{{Key: "label", Value: label}}}
	if terminal {
		n.attrs = append(n.attrs, encoding.Attribute{Key: "shape", Value: "doublecircle"})
	}
	g.DirectedGraph.AddNode(n)
	g.mapping[label] = n.ID()
	return n
}

func (g *dotGraph) addLine(from, to graph.Node, label, style string) {
	line := &dotLine{Line: g.DirectedGraph.NewLine(from, to), attrs: []encoding.Attribute{{Key: "label", Value: label}}}
	if style != "" {
		line.attrs = append(line.attrs, encoding.Attribute{Key: "style", Value: style})
	}
	g.DirectedGraph.SetLine(line)
}

// DOT returns a Graphviz rendering of the plan. Revisit edges are dashed and
// terminal collections are drawn as double circles. It is meant for debugging;
// the output is stable for a given traversal.
func (t *Traversal) DOT() string {
	g := &dotGraph{DirectedGraph: multi.NewDirectedGraph(), mapping: make(map[string]int64)}

	g.addNode(t.root.Address.String(), false)
	for _, n := range t.Nodes() {
		g.addNode(n.Address.String(), n.IsTerminal())
	}

	for _, n := range append([]*Node{t.root}, t.Nodes()...) {
		for _, child := range n.Downstream() {
			for _, e := range n.Children[child] {
				g.addLine(g.Node(g.mapping[n.Address.String()]), g.Node(g.mapping[child.String()]), pathEdge(e), "")
			}
		}
		for _, src := range sortedKeys(n.Revisits) {
			for _, e := range n.Revisits[src] {
				g.addLine(g.Node(g.mapping[src.String()]), g.Node(g.mapping[n.Address.String()]), pathEdge(e), "dashed")
			}
		}
	}

	out, err := dot.MarshalMulti(g, "", "", "")
	if err != nil {
		return ""
	}
	return string(out)
}
