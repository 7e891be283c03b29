package lineage

import (
	"github.com/fieldtrace-labs/fieldtrace/pkg/graph"
)

// consolidationOps maps a consolidation operator to its aggregation tag.
// Unknown operators default to SUM.
var consolidationOps = map[rune]string{
	'+': "SUM",
	'-': "SUBTRACT",
	'*': "MULTIPLY",
	'/': "DIVIDE",
	'%': "PERCENT",
	'~': "IGNORE",
	'^': "NEVER_CONSOLIDATE",
}

// ConsolidationTag returns the aggregation tag for a consolidation operator.
func ConsolidationTag(op rune) string {
	if tag, ok := consolidationOps[op]; ok {
		return tag
	}
	return "SUM"
}

// SynthesizeHierarchy expands parent/child consolidation relationships into
// lineage edges: one child-to-parent edge per recorded child, tagged with the
// child's aggregation operator. Nodes without children contribute nothing.
func SynthesizeHierarchy(g *graph.Graph) []Edge {
	var edges []Edge
	for _, n := range g.Nodes() {
		if n.Kind != graph.KindConsolidation || len(n.Children) == 0 {
			continue
		}
		for _, child := range n.Children {
			edges = append(edges, Edge{
				SourceNode:  child.Name,
				SourceField: child.Name,
				TargetNode:  n.ID,
				TargetField: n.ID,
				Kind:        graph.KindConsolidation,
				Expression:  string(child.Operator) + child.Name,
				Aggregation: ConsolidationTag(child.Operator),
				Confidence:  ConfidenceExplicit,
			})
		}
	}
	return edges
}
