package lineage

import (
	"fmt"

	"github.com/fieldtrace-labs/fieldtrace/pkg/graph"
)

// WildcardField is the sentinel source field used when the producing node is
// opaque and contributes no column-level detail.
const WildcardField = "*"

// Confidence scores by derivation.
const (
	// ConfidenceExplicit applies to edges derived from explicit field
	// connections, formula references, and opaque procedure calls.
	ConfidenceExplicit = 1.0
	// ConfidenceQueryDerived applies to edges recovered from embedded
	// query projections.
	ConfidenceQueryDerived = 0.95
)

// Step is one hop in a resolved provenance chain. Order 0 is the target
// field itself; higher orders lie toward the sources.
type Step struct {
	Order      int
	NodeID     string
	Kind       graph.NodeKind
	Inputs     []graph.FieldRef
	Output     graph.FieldRef
	Expression string
}

// Edge is a flattened provenance fact ready for external emission.
type Edge struct {
	SourceNode  string
	SourceField string // WildcardField when the producer is opaque
	TargetNode  string
	TargetField string
	Kind        graph.NodeKind
	Expression  string
	// Aggregation names the aggregation function applied across this edge,
	// when one could be inferred.
	Aggregation string
	// Filter is the active scope restriction at the producing hop, if any.
	Filter     string
	Confidence float64
	StepOrder  int
}

// WarnKind classifies trace warnings.
type WarnKind string

const (
	// WarnParseSoftFailure means an embedded text yielded no references;
	// the node contributed nothing but tracing continued.
	WarnParseSoftFailure WarnKind = "parse_soft_failure"
	// WarnAmbiguousColumn means an unqualified column matched more than one
	// known table and was excluded rather than guessed.
	WarnAmbiguousColumn WarnKind = "ambiguous_column"
	// WarnUnknownColumn means an unqualified column matched no known table
	// and was excluded.
	WarnUnknownColumn WarnKind = "unknown_column"
	// WarnHopLimitExceeded means one branch was abandoned after the maximum
	// hop count; the rest of the trace is unaffected.
	WarnHopLimitExceeded WarnKind = "hop_limit_exceeded"
)

// Warning records a recoverable problem encountered during a trace.
type Warning struct {
	Kind   WarnKind
	NodeID string
	Detail string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s at %s: %s", w.Kind, w.NodeID, w.Detail)
}

// Result is the output of one Trace call, owned by the caller.
type Result struct {
	// Steps in discovery order. Consumers needing source-first order sort
	// by descending Order.
	Steps []Step
	// Edges flattened for emission.
	Edges []Edge
	// Warnings aggregated from soft failures; never fatal.
	Warnings []Warning
}

// MinConfidence returns the combined confidence of a group of edges: the
// minimum over the group, or ConfidenceExplicit for an empty group.
func MinConfidence(edges []Edge) float64 {
	min := ConfidenceExplicit
	for _, e := range edges {
		if e.Confidence < min {
			min = e.Confidence
		}
	}
	return min
}
