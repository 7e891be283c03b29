// Package graph provides the normalized transformation-graph model shared by
// all lineage operations. Format readers build a Graph once per input; tracing
// and sequencing treat it as a read-only snapshot.
package graph

// NodeKind classifies a processing node's lineage semantics.
type NodeKind string

const (
	// KindSource is a root dataset; tracing terminates here.
	KindSource NodeKind = "source"
	// KindTarget is a final dataset written by the pipeline.
	KindTarget NodeKind = "target"
	// KindPassthrough is a transform whose fields flow through explicit edges
	// (filters, sorters, expression stages without embedded text).
	KindPassthrough NodeKind = "passthrough"
	// KindQueryOverride carries an embedded SELECT that replaces the default
	// field plumbing (source-qualifier style overrides).
	KindQueryOverride NodeKind = "query_override"
	// KindProcedureCall invokes external logic that cannot be traced
	// field-by-field; it contributes wildcard edges only.
	KindProcedureCall NodeKind = "procedure_call"
	// KindFormula carries an embedded calculation expression.
	KindFormula NodeKind = "formula"
	// KindConsolidation is a hierarchy member whose value rolls up from its
	// recorded children.
	KindConsolidation NodeKind = "consolidation"
)

// Direction indicates how a port participates in data flow.
type Direction int

const (
	// Input ports only receive data.
	Input Direction = iota
	// Output ports only produce data.
	Output
	// Both ports pass data through.
	Both
)

// Port is a named, directional field slot on a node.
type Port struct {
	Name      string
	Direction Direction
}

// ChildRef records one child of a consolidation member together with its
// consolidation operator (+, -, *, /, %, ~, ^).
type ChildRef struct {
	Name     string
	Operator rune
}

// Node is a modeled processing unit.
type Node struct {
	ID    string
	Kind  NodeKind
	Ports []Port
	// Text holds the embedded query/formula/statement for QueryOverride,
	// Formula, and ProcedureCall nodes; empty otherwise.
	Text string
	// Children is populated only on Consolidation nodes.
	Children []ChildRef
}

// HasPort reports whether the node declares a port with the given name.
func (n *Node) HasPort(name string) bool {
	for _, p := range n.Ports {
		if p.Name == name {
			return true
		}
	}
	return false
}

// OutputPorts returns the names of ports with Output or Both direction,
// in declaration order.
func (n *Node) OutputPorts() []string {
	var out []string
	for _, p := range n.Ports {
		if p.Direction == Output || p.Direction == Both {
			out = append(out, p.Name)
		}
	}
	return out
}

// FieldRef identifies one field on one node.
type FieldRef struct {
	Node  string
	Field string
}

// Edge is an explicit field-to-field connection between two ports.
type Edge struct {
	FromNode  string
	FromField string
	ToNode    string
	ToField   string
}

// Graph holds the node and edge sets for one transformation graph.
// Insertion order is preserved for nodes and for the edges into each field;
// that order governs tie-breaking in sequencing and tracing.
type Graph struct {
	nodes map[string]*Node
	order []string
	// into maps (to_node, to_field) -> upstream refs, insertion ordered.
	into map[FieldRef][]FieldRef
	// seen tracks inserted edges so duplicates are no-ops.
	seen map[Edge]struct{}
	// edges in insertion order, for node-level sequencing.
	edges []Edge
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
		into:  make(map[FieldRef][]FieldRef),
		seen:  make(map[Edge]struct{}),
	}
}

// AddNode inserts a node. Re-adding an existing ID replaces its definition
// without changing its position in insertion order.
func (g *Graph) AddNode(n *Node) {
	if _, exists := g.nodes[n.ID]; !exists {
		g.order = append(g.order, n.ID)
	}
	g.nodes[n.ID] = n
}

// AddEdge inserts an explicit field-to-field edge. It returns an
// *InvalidReferenceError when either endpoint node is missing or does not
// declare the named port. Inserting the same edge twice has no effect.
func (g *Graph) AddEdge(e Edge) error {
	if err := g.checkEndpoint(e.FromNode, e.FromField); err != nil {
		return err
	}
	if err := g.checkEndpoint(e.ToNode, e.ToField); err != nil {
		return err
	}

	if _, dup := g.seen[e]; dup {
		return nil
	}
	g.seen[e] = struct{}{}
	g.edges = append(g.edges, e)

	key := FieldRef{Node: e.ToNode, Field: e.ToField}
	g.into[key] = append(g.into[key], FieldRef{Node: e.FromNode, Field: e.FromField})
	return nil
}

func (g *Graph) checkEndpoint(node, field string) error {
	n, ok := g.nodes[node]
	if !ok {
		return &InvalidReferenceError{Node: node, Field: field, Missing: "node"}
	}
	if !n.HasPort(field) {
		return &InvalidReferenceError{Node: node, Field: field, Missing: "port"}
	}
	return nil
}

// Node returns the node with the given ID.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// EdgesInto returns the upstream (node, field) pairs feeding the given field,
// in edge insertion order. The returned slice must not be mutated.
func (g *Graph) EdgesInto(node, field string) []FieldRef {
	return g.into[FieldRef{Node: node, Field: field}]
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// Edges returns all explicit edges in insertion order.
func (g *Graph) Edges() []Edge {
	return g.edges
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of distinct edges in the graph.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}
