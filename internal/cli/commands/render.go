package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fieldtrace-labs/fieldtrace/internal/engine"
	"github.com/fieldtrace-labs/fieldtrace/pkg/lineage"
	"github.com/jedib0t/go-pretty/v6/table"
)

func renderReport(w io.Writer, report *engine.Report, format string) error {
	if format == "json" {
		return renderJSON(w, report)
	}
	renderEdgeTable(w, report.Edges)
	renderWarnings(w, report.Warnings)
	_, _ = fmt.Fprintf(w, "(%d edges, %d fields traced)\n", len(report.Edges), report.FieldsTraced)
	return nil
}

func renderJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderEdgeTable(w io.Writer, edges []lineage.Edge) {
	if len(edges) == 0 {
		_, _ = fmt.Fprintln(w, "(no edges)")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Target", "Field", "Source", "Source Field", "Agg", "Conf", "Filter"})
	for _, e := range edges {
		t.AppendRow(table.Row{
			e.TargetNode,
			e.TargetField,
			e.SourceNode,
			e.SourceField,
			e.Aggregation,
			fmt.Sprintf("%.2f", e.Confidence),
			e.Filter,
		})
	}
	t.Render()
}

func renderWarnings(w io.Writer, warnings []lineage.Warning) {
	if len(warnings) == 0 {
		return
	}
	_, _ = fmt.Fprintf(w, "\nWarnings (%d):\n", len(warnings))
	for _, warning := range warnings {
		_, _ = fmt.Fprintf(w, "  [%s] %s: %s\n", warning.Kind, warning.NodeID, warning.Detail)
	}
}

func renderSequence(w io.Writer, subject string, order []string, format string) error {
	if format == "json" {
		return renderJSON(w, map[string]any{"subject": subject, "sequence": order})
	}
	_, _ = fmt.Fprintf(w, "Sequence for: %s\n\n", subject)
	for i, id := range order {
		_, _ = fmt.Fprintf(w, "  %3d. %s\n", i+1, id)
	}
	_, _ = fmt.Fprintf(w, "\n(%d nodes)\n", len(order))
	return nil
}
