package lineage

import (
	"errors"
	"strings"
	"testing"

	"github.com/fieldtrace-labs/fieldtrace/pkg/calcref"
	"github.com/fieldtrace-labs/fieldtrace/pkg/graph"
)

// =============================================================================
// Test Helpers
// =============================================================================

func node(id string, kind graph.NodeKind, text string, ports ...string) *graph.Node {
	n := &graph.Node{ID: id, Kind: kind, Text: text}
	for _, p := range ports {
		n.Ports = append(n.Ports, graph.Port{Name: p, Direction: graph.Both})
	}
	return n
}

func connect(t *testing.T, g *graph.Graph, from, fromField, to, toField string) {
	t.Helper()
	err := g.AddEdge(graph.Edge{FromNode: from, FromField: fromField, ToNode: to, ToField: toField})
	if err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
}

func findEdge(edges []Edge, sourceNode, sourceField string) *Edge {
	for i := range edges {
		if edges[i].SourceNode == sourceNode && edges[i].SourceField == sourceField {
			return &edges[i]
		}
	}
	return nil
}

// =============================================================================
// Explicit and Query-Derived Tracing
// =============================================================================

func TestTrace_ExplicitChain(t *testing.T) {
	g := graph.New()
	g.AddNode(node("SRC_ORDERS", graph.KindSource, "", "AMOUNT"))
	g.AddNode(node("FIL_VALID", graph.KindPassthrough, "", "AMOUNT"))
	g.AddNode(node("TGT_SALES", graph.KindTarget, "", "AMOUNT"))
	connect(t, g, "SRC_ORDERS", "AMOUNT", "FIL_VALID", "AMOUNT")
	connect(t, g, "FIL_VALID", "AMOUNT", "TGT_SALES", "AMOUNT")

	res, err := Trace(g, "TGT_SALES", "AMOUNT")
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}

	if len(res.Edges) != 1 {
		t.Fatalf("expected 1 edge, got %v", res.Edges)
	}
	e := res.Edges[0]
	if e.SourceNode != "SRC_ORDERS" || e.SourceField != "AMOUNT" {
		t.Errorf("source = %s.%s", e.SourceNode, e.SourceField)
	}
	if e.TargetNode != "TGT_SALES" || e.TargetField != "AMOUNT" {
		t.Errorf("target = %s.%s", e.TargetNode, e.TargetField)
	}
	if e.Confidence != ConfidenceExplicit {
		t.Errorf("confidence = %v, want %v", e.Confidence, ConfidenceExplicit)
	}

	// Steps record the walk: target first, then the passthrough.
	if len(res.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %v", res.Steps)
	}
	if res.Steps[0].NodeID != "TGT_SALES" || res.Steps[0].Order != 0 {
		t.Errorf("step 0 = %+v", res.Steps[0])
	}
	if res.Steps[1].NodeID != "FIL_VALID" || res.Steps[1].Order != 1 {
		t.Errorf("step 1 = %+v", res.Steps[1])
	}
	if len(res.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", res.Warnings)
	}
}

func TestTrace_QueryOverride(t *testing.T) {
	g := graph.New()
	g.AddNode(node("CUSTOMERS", graph.KindSource, "", "CUSTOMER_ID", "NAME"))
	g.AddNode(node("ORDERS", graph.KindSource, "", "ORDER_ID", "CUSTOMER_ID", "AMOUNT"))
	g.AddNode(node("SQ_ORDERS", graph.KindQueryOverride,
		`SELECT c.CUSTOMER_ID, COUNT(o.ORDER_ID) AS ORDER_COUNT
		 FROM CUSTOMERS c LEFT JOIN ORDERS o ON c.CUSTOMER_ID = o.CUSTOMER_ID
		 GROUP BY c.CUSTOMER_ID`,
		"CUSTOMER_ID", "ORDER_COUNT"))
	g.AddNode(node("TGT_SUMMARY", graph.KindTarget, "", "ORDER_COUNT"))
	connect(t, g, "SQ_ORDERS", "ORDER_COUNT", "TGT_SUMMARY", "ORDER_COUNT")
	// The override replaces the explicit plumbing below it; this edge must
	// not be followed once the embedded query resolves.
	connect(t, g, "CUSTOMERS", "CUSTOMER_ID", "SQ_ORDERS", "CUSTOMER_ID")

	res, err := Trace(g, "TGT_SUMMARY", "ORDER_COUNT")
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}

	if len(res.Edges) != 1 {
		t.Fatalf("expected 1 edge, got %v", res.Edges)
	}
	e := res.Edges[0]
	if e.SourceNode != "ORDERS" || e.SourceField != "ORDER_ID" {
		t.Errorf("source = %s.%s, want ORDERS.ORDER_ID", e.SourceNode, e.SourceField)
	}
	if e.TargetNode != "TGT_SUMMARY" || e.TargetField != "ORDER_COUNT" {
		t.Errorf("target = %s.%s", e.TargetNode, e.TargetField)
	}
	if e.Kind != graph.KindQueryOverride {
		t.Errorf("kind = %s", e.Kind)
	}
	if e.Aggregation != "COUNT" {
		t.Errorf("aggregation = %q, want COUNT", e.Aggregation)
	}
	if e.Confidence != ConfidenceQueryDerived {
		t.Errorf("confidence = %v, want %v", e.Confidence, ConfidenceQueryDerived)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", res.Warnings)
	}
}

func TestTrace_FormulaResolvesFieldsNotLiterals(t *testing.T) {
	g := graph.New()
	g.AddNode(node("AGG_ORDERS", graph.KindSource, "", "ORDER_COUNT"))
	g.AddNode(node("EXP_STATUS", graph.KindFormula,
		`IIF(ORDER_COUNT > 10, 'VIP', 'ACTIVE')`,
		"ORDER_COUNT", "STATUS"))
	g.AddNode(node("TGT_CUST", graph.KindTarget, "", "STATUS"))
	connect(t, g, "AGG_ORDERS", "ORDER_COUNT", "EXP_STATUS", "ORDER_COUNT")
	connect(t, g, "EXP_STATUS", "STATUS", "TGT_CUST", "STATUS")

	res, err := Trace(g, "TGT_CUST", "STATUS")
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}

	// Only the genuine field reference survives; the string literals must
	// not resolve to anything.
	if len(res.Edges) != 1 {
		t.Fatalf("expected 1 edge, got %v", res.Edges)
	}
	e := res.Edges[0]
	if e.SourceNode != "AGG_ORDERS" || e.SourceField != "ORDER_COUNT" {
		t.Errorf("source = %s.%s", e.SourceNode, e.SourceField)
	}
	if e.Kind != graph.KindFormula {
		t.Errorf("kind = %s", e.Kind)
	}
	if !strings.Contains(e.Expression, "IIF") {
		t.Errorf("expression = %q, want the formula text", e.Expression)
	}
	if e.Confidence != ConfidenceExplicit {
		t.Errorf("confidence = %v", e.Confidence)
	}
}

func TestTrace_FormulaAggregationTag(t *testing.T) {
	g := graph.New()
	g.AddNode(node("SRC_EAST", graph.KindSource, "", "East"))
	g.AddNode(node("SRC_WEST", graph.KindSource, "", "West"))
	g.AddNode(node("CALC_TOTAL", graph.KindFormula,
		`"Total" = @SUM("East", "West");`,
		"East", "West", "Total"))
	connect(t, g, "SRC_EAST", "East", "CALC_TOTAL", "East")
	connect(t, g, "SRC_WEST", "West", "CALC_TOTAL", "West")

	res, err := Trace(g, "CALC_TOTAL", "Total")
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}

	if len(res.Edges) != 2 {
		t.Fatalf("expected 2 edges, got %v", res.Edges)
	}
	for _, want := range []struct{ node, field string }{
		{"SRC_EAST", "East"},
		{"SRC_WEST", "West"},
	} {
		e := findEdge(res.Edges, want.node, want.field)
		if e == nil {
			t.Fatalf("missing edge from %s.%s in %v", want.node, want.field, res.Edges)
		}
		if e.Aggregation != "SUM" {
			t.Errorf("%s: aggregation = %q, want SUM", want.node, e.Aggregation)
		}
	}
	if got := MinConfidence(res.Edges); got != ConfidenceExplicit {
		t.Errorf("MinConfidence = %v, want %v", got, ConfidenceExplicit)
	}
}

// =============================================================================
// Procedure Calls
// =============================================================================

func TestTrace_ProcedureCallIdioms(t *testing.T) {
	tests := []struct {
		name       string
		kind       graph.NodeKind
		text       string
		wantSource string
		wantExpr   string
	}{
		{
			name:       "plsql block in override",
			kind:       graph.KindQueryOverride,
			text:       "BEGIN PKG.GET_KEY(:1,:2); END;",
			wantSource: "PKG.GET_KEY",
			wantExpr:   "CALL PKG.GET_KEY",
		},
		{
			name:       "dedicated call node",
			kind:       graph.KindProcedureCall,
			text:       "EXECUTE STAGE.LOAD_FACTS",
			wantSource: "STAGE.LOAD_FACTS",
			wantExpr:   "EXEC STAGE.LOAD_FACTS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := graph.New()
			g.AddNode(node("SP_KEY", tt.kind, tt.text, "KEY"))
			g.AddNode(node("TGT_DIM", graph.KindTarget, "", "KEY"))
			connect(t, g, "SP_KEY", "KEY", "TGT_DIM", "KEY")

			res, err := Trace(g, "TGT_DIM", "KEY")
			if err != nil {
				t.Fatalf("Trace: %v", err)
			}
			if len(res.Edges) != 1 {
				t.Fatalf("expected 1 edge, got %v", res.Edges)
			}
			e := res.Edges[0]
			if e.SourceNode != tt.wantSource || e.SourceField != WildcardField {
				t.Errorf("source = %s.%s, want %s.%s", e.SourceNode, e.SourceField, tt.wantSource, WildcardField)
			}
			if e.Kind != graph.KindProcedureCall {
				t.Errorf("kind = %s", e.Kind)
			}
			if e.Expression != tt.wantExpr {
				t.Errorf("expression = %q, want %q", e.Expression, tt.wantExpr)
			}
			if e.Confidence != ConfidenceExplicit {
				t.Errorf("confidence = %v", e.Confidence)
			}
		})
	}
}

// =============================================================================
// Termination and Limits
// =============================================================================

func TestTrace_CycleTerminates(t *testing.T) {
	g := graph.New()
	g.AddNode(node("SRC", graph.KindSource, "", "X"))
	g.AddNode(node("LOOP_A", graph.KindPassthrough, "", "X"))
	g.AddNode(node("LOOP_B", graph.KindPassthrough, "", "X"))
	g.AddNode(node("TGT", graph.KindTarget, "", "X"))
	connect(t, g, "SRC", "X", "LOOP_A", "X")
	connect(t, g, "LOOP_B", "X", "LOOP_A", "X")
	connect(t, g, "LOOP_A", "X", "LOOP_B", "X")
	connect(t, g, "LOOP_A", "X", "TGT", "X")

	res, err := Trace(g, "TGT", "X")
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}

	if len(res.Edges) != 1 {
		t.Fatalf("expected 1 edge, got %v", res.Edges)
	}
	if e := res.Edges[0]; e.SourceNode != "SRC" {
		t.Errorf("source = %s, want SRC", e.SourceNode)
	}
	// Each (node, field) pair is visited at most once.
	seen := make(map[string]int)
	for _, s := range res.Steps {
		seen[s.NodeID]++
		if seen[s.NodeID] > 1 {
			t.Errorf("node %s visited %d times", s.NodeID, seen[s.NodeID])
		}
	}
}

func TestTrace_HopLimit(t *testing.T) {
	g := graph.New()
	g.AddNode(node("SRC", graph.KindSource, "", "X"))
	g.AddNode(node("P1", graph.KindPassthrough, "", "X"))
	g.AddNode(node("P2", graph.KindPassthrough, "", "X"))
	g.AddNode(node("P3", graph.KindPassthrough, "", "X"))
	g.AddNode(node("TGT", graph.KindTarget, "", "X"))
	connect(t, g, "SRC", "X", "P1", "X")
	connect(t, g, "P1", "X", "P2", "X")
	connect(t, g, "P2", "X", "P3", "X")
	connect(t, g, "P3", "X", "TGT", "X")

	res, err := Trace(g, "TGT", "X", WithHopLimit(2))
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}

	if len(res.Edges) != 0 {
		t.Errorf("expected no edges past the limit, got %v", res.Edges)
	}
	var hit bool
	for _, w := range res.Warnings {
		if w.Kind == WarnHopLimitExceeded {
			hit = true
		}
	}
	if !hit {
		t.Errorf("expected hop limit warning, got %v", res.Warnings)
	}

	// The same graph resolves fully under the default limit.
	res, err = Trace(g, "TGT", "X")
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	if len(res.Edges) != 1 || res.Edges[0].SourceNode != "SRC" {
		t.Errorf("expected full resolution, got %v", res.Edges)
	}
}

// =============================================================================
// Scope Filters
// =============================================================================

func TestTrace_ScopeFilterAttaches(t *testing.T) {
	g := graph.New()
	g.AddNode(node("SRC", graph.KindSource, "", "Sales"))
	g.AddNode(node("CALC", graph.KindPassthrough, "", "Sales"))
	connect(t, g, "SRC", "Sales", "CALC", "Sales")

	var scope calcref.ScopeStack
	scope.Push(calcref.ParseScope(`Scenario->Actual, Year->FY24`))

	res, err := Trace(g, "CALC", "Sales", WithScope(&scope))
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	if len(res.Edges) != 1 {
		t.Fatalf("expected 1 edge, got %v", res.Edges)
	}
	want := `Scenario IN ("Actual") AND Year IN ("FY24")`
	if got := res.Edges[0].Filter; got != want {
		t.Errorf("filter = %q, want %q", got, want)
	}
}

func TestTrace_ScopeResolverWins(t *testing.T) {
	g := graph.New()
	g.AddNode(node("SRC", graph.KindSource, "", "X"))
	g.AddNode(node("P", graph.KindPassthrough, "", "X"))
	connect(t, g, "SRC", "X", "P", "X")

	var scope calcref.ScopeStack
	scope.Push(calcref.ParseScope(`Year->FY24`))

	res, err := Trace(g, "P", "X",
		WithScope(&scope),
		WithScopeResolver(func(nodeID string) string { return "node=" + nodeID }),
	)
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	if got := res.Edges[0].Filter; got != "node=P" {
		t.Errorf("filter = %q, want the resolver value", got)
	}
}

// =============================================================================
// Errors and Warnings
// =============================================================================

func TestTrace_InvalidTarget(t *testing.T) {
	g := graph.New()
	g.AddNode(node("SRC", graph.KindSource, "", "X"))

	tests := []struct {
		name        string
		node, field string
		wantMissing string
	}{
		{"unknown node", "NOPE", "X", "node"},
		{"unknown port", "SRC", "NOPE", "port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Trace(g, tt.node, tt.field)
			var ref *graph.InvalidReferenceError
			if !errors.As(err, &ref) {
				t.Fatalf("expected InvalidReferenceError, got %v", err)
			}
			if ref.Missing != tt.wantMissing {
				t.Errorf("missing = %q, want %q", ref.Missing, tt.wantMissing)
			}
		})
	}
}

func TestTrace_SoftFailures(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"no references at all", "@TODAY()"},
		{"nothing resolves", `"Some Unknown Thing" * 2`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := graph.New()
			g.AddNode(node("EXP", graph.KindFormula, tt.text, "OUT"))
			g.AddNode(node("TGT", graph.KindTarget, "", "OUT"))
			connect(t, g, "EXP", "OUT", "TGT", "OUT")

			res, err := Trace(g, "TGT", "OUT")
			if err != nil {
				t.Fatalf("Trace: %v", err)
			}
			if len(res.Edges) != 0 {
				t.Errorf("expected no edges, got %v", res.Edges)
			}
			var soft bool
			for _, w := range res.Warnings {
				if w.Kind == WarnParseSoftFailure && w.NodeID == "EXP" {
					soft = true
				}
			}
			if !soft {
				t.Errorf("expected soft failure warning, got %v", res.Warnings)
			}
		})
	}
}

func TestTrace_AmbiguousColumnExcluded(t *testing.T) {
	g := graph.New()
	g.AddNode(node("CUSTOMERS", graph.KindSource, "", "CUSTOMER_ID"))
	g.AddNode(node("ORDERS", graph.KindSource, "", "CUSTOMER_ID"))
	g.AddNode(node("SQ", graph.KindQueryOverride,
		"SELECT CUSTOMER_ID FROM CUSTOMERS, ORDERS", "CUSTOMER_ID"))
	g.AddNode(node("TGT", graph.KindTarget, "", "CUSTOMER_ID"))
	connect(t, g, "SQ", "CUSTOMER_ID", "TGT", "CUSTOMER_ID")

	res, err := Trace(g, "TGT", "CUSTOMER_ID")
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	if len(res.Edges) != 0 {
		t.Errorf("ambiguous column must not produce edges, got %v", res.Edges)
	}
	var warned bool
	for _, w := range res.Warnings {
		if w.Kind == WarnAmbiguousColumn {
			warned = true
		}
	}
	if !warned {
		t.Errorf("expected ambiguity warning, got %v", res.Warnings)
	}
}

func TestTrace_UnknownColumnWarns(t *testing.T) {
	g := graph.New()
	g.AddNode(node("ORDERS", graph.KindSource, "", "ORDER_ID"))
	g.AddNode(node("SQ", graph.KindQueryOverride,
		"SELECT MYSTERY_COL FROM ORDERS", "MYSTERY_COL"))
	g.AddNode(node("TGT", graph.KindTarget, "", "MYSTERY_COL"))
	connect(t, g, "SQ", "MYSTERY_COL", "TGT", "MYSTERY_COL")

	res, err := Trace(g, "TGT", "MYSTERY_COL")
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	if len(res.Edges) != 0 {
		t.Errorf("unknown column must not produce edges, got %v", res.Edges)
	}
	var warned bool
	for _, w := range res.Warnings {
		if w.Kind == WarnUnknownColumn && w.NodeID == "SQ" {
			warned = true
		}
	}
	if !warned {
		t.Errorf("expected unknown-column warning, got %v", res.Warnings)
	}
}

// =============================================================================
// Source Table Derivation
// =============================================================================

func TestSourceTables(t *testing.T) {
	g := graph.New()
	g.AddNode(node("ORDERS", graph.KindSource, "", "ORDER_ID", "AMOUNT"))
	g.AddNode(node("XFORM", graph.KindPassthrough, "", "AMOUNT"))

	tables := SourceTables(g)
	if len(tables) != 1 {
		t.Fatalf("expected 1 table, got %v", tables)
	}
	cols := tables["ORDERS"]
	if len(cols) != 2 || cols[0] != "ORDER_ID" || cols[1] != "AMOUNT" {
		t.Errorf("ORDERS columns = %v", cols)
	}
}
