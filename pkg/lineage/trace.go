package lineage

import (
	"strings"

	"github.com/fieldtrace-labs/fieldtrace/pkg/calcref"
	"github.com/fieldtrace-labs/fieldtrace/pkg/graph"
	"github.com/fieldtrace-labs/fieldtrace/pkg/sqlref"
)

// DefaultHopLimit bounds a single trace branch. Deep enough for any sane
// pipeline; mis-modeled cyclic inputs hit it instead of spinning.
const DefaultHopLimit = 64

// Options configures a trace invocation.
type Options struct {
	// HopLimit is the maximum hop count per branch.
	HopLimit int
	// Tables maps known table names to their column lists, for resolving
	// embedded query projections. When nil it is derived from the graph's
	// Source nodes (ID -> output ports).
	Tables map[string][]string
	// Scope supplies the active scope restriction attached to formula and
	// passthrough hops.
	Scope *calcref.ScopeStack
	// ScopeFor overrides Scope with a per-node filter lookup.
	ScopeFor func(nodeID string) string
}

// Option mutates trace Options.
type Option func(*Options)

// WithHopLimit sets the per-branch hop limit.
func WithHopLimit(n int) Option {
	return func(o *Options) { o.HopLimit = n }
}

// WithTables sets the known-table schemas used for query resolution.
func WithTables(tables map[string][]string) Option {
	return func(o *Options) { o.Tables = tables }
}

// WithScope sets the scope stack consulted at each visited node.
func WithScope(s *calcref.ScopeStack) Option {
	return func(o *Options) { o.Scope = s }
}

// WithScopeResolver sets a per-node filter lookup, taking precedence over
// WithScope.
func WithScopeResolver(fn func(nodeID string) string) Option {
	return func(o *Options) { o.ScopeFor = fn }
}

// workItem is one pending (node, field) visit with the provenance context of
// the step that pushed it.
type workItem struct {
	ref  graph.FieldRef
	hops int
	// via is the step that discovered this pair; nil for the seed.
	via *Step
	// conf and agg carry the confidence and aggregation tag an edge emitted
	// at a root would inherit.
	conf float64
	agg  string
	// filter is the scope restriction active when this pair was pushed.
	filter string
	// emitted marks pairs whose edge was already recorded at push time
	// (query-derived), so reaching a root does not double-report.
	emitted bool
}

// tracer holds the per-call state of one Trace invocation. Nothing here
// outlives the call.
type tracer struct {
	g       *graph.Graph
	opts    Options
	target  graph.FieldRef
	visited map[graph.FieldRef]bool
	stack   []workItem
	result  *Result
	order   int
}

// Trace resolves the upstream provenance of one target field. It returns a
// *graph.InvalidReferenceError when the target node or port does not exist;
// every other problem degrades to a warning on the Result.
func Trace(g *graph.Graph, nodeID, field string, opts ...Option) (*Result, error) {
	o := Options{HopLimit: DefaultHopLimit}
	for _, opt := range opts {
		opt(&o)
	}
	if o.HopLimit <= 0 {
		o.HopLimit = DefaultHopLimit
	}
	if o.Tables == nil {
		o.Tables = SourceTables(g)
	}

	n, ok := g.Node(nodeID)
	if !ok {
		return nil, &graph.InvalidReferenceError{Node: nodeID, Field: field, Missing: "node"}
	}
	if !n.HasPort(field) {
		return nil, &graph.InvalidReferenceError{Node: nodeID, Field: field, Missing: "port"}
	}

	tr := &tracer{
		g:       g,
		opts:    o,
		target:  graph.FieldRef{Node: nodeID, Field: field},
		visited: make(map[graph.FieldRef]bool),
		result:  &Result{},
	}
	tr.stack = []workItem{{ref: tr.target, conf: ConfidenceExplicit}}
	tr.run()
	return tr.result, nil
}

// SourceTables derives the known-table map from a graph's Source nodes.
func SourceTables(g *graph.Graph) map[string][]string {
	tables := make(map[string][]string)
	for _, n := range g.Nodes() {
		if n.Kind != graph.KindSource {
			continue
		}
		cols := n.OutputPorts()
		if len(cols) == 0 {
			for _, p := range n.Ports {
				cols = append(cols, p.Name)
			}
		}
		tables[n.ID] = cols
	}
	return tables
}

func (t *tracer) run() {
	for len(t.stack) > 0 {
		item := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]

		if t.visited[item.ref] {
			continue
		}
		t.visited[item.ref] = true

		if item.hops > t.opts.HopLimit {
			t.warn(WarnHopLimitExceeded, item.ref.Node, "branch abandoned after hop limit")
			continue
		}

		node, ok := t.g.Node(item.ref.Node)
		if !ok {
			// Query-derived pushes only reference modeled nodes, so this
			// is unreachable for well-formed graphs; skip defensively.
			continue
		}

		// Sources are roots: report the fact and stop the branch.
		if node.Kind == graph.KindSource {
			if !item.emitted && item.via != nil {
				t.emitRootEdge(item)
			}
			continue
		}

		inputs := t.g.EdgesInto(item.ref.Node, item.ref.Field)
		step := t.recordStep(node, item.ref, inputs)

		switch node.Kind {
		case graph.KindQueryOverride:
			t.visitQueryOverride(node, item, step)
		case graph.KindProcedureCall:
			t.visitProcedureCall(node, step)
		default:
			t.visitReferences(node, item, step, inputs)
		}
	}
}

// recordStep appends the LineageStep for a visited non-source pair.
func (t *tracer) recordStep(node *graph.Node, ref graph.FieldRef, inputs []graph.FieldRef) *Step {
	step := Step{
		Order:      t.order,
		NodeID:     node.ID,
		Kind:       node.Kind,
		Inputs:     inputs,
		Output:     ref,
		Expression: node.Text,
	}
	t.order++
	t.result.Steps = append(t.result.Steps, step)
	return &t.result.Steps[len(t.result.Steps)-1]
}

// visitQueryOverride resolves an embedded SELECT. A recognized procedure
// invocation short-circuits to a single opaque edge; otherwise the projection
// columns matching the visited field become query-derived edges, descending
// only into tables that are themselves modeled nodes.
func (t *tracer) visitQueryOverride(node *graph.Node, item workItem, step *Step) {
	if schema, name, ok := sqlref.DetectCall(node.Text); ok {
		t.result.Edges = append(t.result.Edges, Edge{
			SourceNode:  procSource(schema, name),
			SourceField: WildcardField,
			TargetNode:  t.target.Node,
			TargetField: t.target.Field,
			Kind:        graph.KindProcedureCall,
			Expression:  "CALL " + procSource(schema, name),
			Confidence:  ConfidenceExplicit,
			StepOrder:   step.Order,
		})
		return
	}

	proj, warnings := sqlref.Extract(node.Text, t.opts.Tables)
	for _, w := range warnings {
		switch w.Kind {
		case sqlref.WarnAmbiguousColumn:
			t.warn(WarnAmbiguousColumn, node.ID, "column "+w.Column+" matches tables "+w.Detail)
		case sqlref.WarnUnknownColumn:
			t.warn(WarnUnknownColumn, node.ID, "column "+w.Column+" matches no known table")
		case sqlref.WarnParseFailure:
			t.warn(WarnParseSoftFailure, node.ID, w.Detail)
		}
	}
	if proj == nil {
		return
	}

	for _, col := range proj.Columns {
		if !strings.EqualFold(col.Output, item.ref.Field) {
			continue
		}
		for _, in := range col.Inputs {
			t.result.Edges = append(t.result.Edges, Edge{
				SourceNode:  in.Table,
				SourceField: in.Column,
				TargetNode:  t.target.Node,
				TargetField: t.target.Field,
				Kind:        graph.KindQueryOverride,
				Expression:  strings.TrimSpace(col.Expr),
				Aggregation: col.Aggregate,
				Confidence:  ConfidenceQueryDerived,
				StepOrder:   step.Order,
			})
			if _, modeled := t.g.Node(in.Table); modeled {
				t.push(workItem{
					ref:     graph.FieldRef{Node: in.Table, Field: in.Column},
					hops:    item.hops + 1,
					via:     step,
					conf:    ConfidenceQueryDerived,
					agg:     col.Aggregate,
					emitted: true,
				})
			}
		}
	}
}

// visitProcedureCall reports an opaque producer: one wildcard edge, no
// descent.
func (t *tracer) visitProcedureCall(node *graph.Node, step *Step) {
	schema, name, ok := sqlref.DetectCall(node.Text)
	if !ok {
		name = node.ID
	}
	t.result.Edges = append(t.result.Edges, Edge{
		SourceNode:  procSource(schema, name),
		SourceField: WildcardField,
		TargetNode:  t.target.Node,
		TargetField: t.target.Field,
		Kind:        graph.KindProcedureCall,
		Expression:  "EXEC " + procSource(schema, name),
		Confidence:  ConfidenceExplicit,
		StepOrder:   step.Order,
	})
}

// visitReferences handles formula, passthrough, target, and consolidation
// hops: embedded text references when present, explicit edges otherwise.
func (t *tracer) visitReferences(node *graph.Node, item workItem, step *Step, inputs []graph.FieldRef) {
	filter := t.filterFor(node.ID)

	if node.Text == "" {
		for _, in := range inputs {
			t.push(workItem{
				ref:    in,
				hops:   item.hops + 1,
				via:    step,
				conf:   ConfidenceExplicit,
				agg:    item.agg,
				filter: filter,
			})
		}
		return
	}

	tokens := calcref.Tokens(node.Text)
	if len(tokens) == 0 {
		t.warn(WarnParseSoftFailure, node.ID, "embedded text yielded no references")
		return
	}

	resolved := 0
	for _, ref := range tokens {
		for _, up := range t.resolveToken(node, ref.Name) {
			resolved++
			t.push(workItem{
				ref:    up,
				hops:   item.hops + 1,
				via:    step,
				conf:   ConfidenceExplicit,
				agg:    ref.Aggregation,
				filter: filter,
			})
		}
	}
	if resolved == 0 {
		t.warn(WarnParseSoftFailure, node.ID, "no reference resolved to a known field")
	}
}

// resolveToken maps one extracted token to upstream (node, field) pairs.
// Category.Member arrow references resolve to the modeled node of that name;
// a token naming one of the node's own ports resolves to the explicit edges
// feeding that port. Anything else (string literals, function names) resolves
// to nothing.
func (t *tracer) resolveToken(node *graph.Node, token string) []graph.FieldRef {
	if dim, member, ok := strings.Cut(token, "."); ok {
		if n, modeled := t.g.Node(dim); modeled && n.HasPort(member) {
			return []graph.FieldRef{{Node: dim, Field: member}}
		}
		// Unmodeled qualifier: fall through on the member name alone.
		token = member
	}
	if node.HasPort(token) {
		return t.g.EdgesInto(node.ID, token)
	}
	return nil
}

// emitRootEdge flattens a reached source root into a provenance fact against
// the trace target.
func (t *tracer) emitRootEdge(item workItem) {
	t.result.Edges = append(t.result.Edges, Edge{
		SourceNode:  item.ref.Node,
		SourceField: item.ref.Field,
		TargetNode:  t.target.Node,
		TargetField: t.target.Field,
		Kind:        item.via.Kind,
		Expression:  item.via.Expression,
		Aggregation: item.agg,
		Filter:      item.filter,
		Confidence:  item.conf,
		StepOrder:   item.via.Order,
	})
}

func (t *tracer) push(item workItem) {
	if !t.visited[item.ref] {
		t.stack = append(t.stack, item)
	}
}

func (t *tracer) warn(kind WarnKind, nodeID, detail string) {
	t.result.Warnings = append(t.result.Warnings, Warning{Kind: kind, NodeID: nodeID, Detail: detail})
}

func (t *tracer) filterFor(nodeID string) string {
	if t.opts.ScopeFor != nil {
		return t.opts.ScopeFor(nodeID)
	}
	if t.opts.Scope != nil {
		return t.opts.Scope.Filter()
	}
	return ""
}

func procSource(schema, name string) string {
	if schema != "" {
		return schema + "." + name
	}
	return name
}
