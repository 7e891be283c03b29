// Package lineage resolves field-level provenance over a transformation
// graph: for a chosen target field it produces the ordered chain of
// transformation steps and the flattened source-to-target edges that fed it.
//
// # Features
//
//   - Upstream tracing: cycle-safe traversal from a target field back to its
//     root sources, following explicit edges, embedded query projections,
//     and formula references
//   - Confidence scoring: explicit edges score 1.0, query-derived edges 0.95,
//     grouped edges combine by minimum
//   - Hierarchy synthesis: consolidation parent/child relationships expand
//     into edges tagged with their aggregation operator
//
// # Basic Usage
//
//	result, err := lineage.Trace(g, "TGT_ORDERS", "ORDER_COUNT")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for _, e := range result.Edges {
//	    fmt.Printf("%s.%s -> %s.%s (%.2f)\n",
//	        e.SourceNode, e.SourceField, e.TargetNode, e.TargetField, e.Confidence)
//	}
//
// Tracing is a pure function over a finished graph snapshot: calls for
// different target fields share no state and are safe to run concurrently.
package lineage
