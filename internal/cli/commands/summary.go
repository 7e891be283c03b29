package commands

import (
	"io"

	"github.com/fieldtrace-labs/fieldtrace/internal/reader/infaxml"
	"github.com/fieldtrace-labs/fieldtrace/pkg/graph"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// NewSummaryCommand creates the summary command.
func NewSummaryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary <file>",
		Short: "Summarize the contents of a repository export",
		Long: `List every mapping in a repository export with its node and edge counts,
grouped by folder. Useful for sizing a migration before tracing.`,
		Example: `  fieldtrace summary export.xml
  fieldtrace summary export.xml -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSummary(cmd, args[0])
		},
	}
	return cmd
}

// mappingSummary is one row of the summary output.
type mappingSummary struct {
	Folder  string `json:"folder"`
	Mapping string `json:"mapping"`
	Nodes   int    `json:"nodes"`
	Edges   int    `json:"edges"`
	Sources int    `json:"sources"`
	Targets int    `json:"targets"`
	Dropped int    `json:"dropped_connectors"`
}

func runSummary(cmd *cobra.Command, path string) error {
	cc := NewCommandContext(cmd)

	export, err := loadExport(path, cc.Logger)
	if err != nil {
		return err
	}

	var rows []mappingSummary
	for _, folder := range export.Folders {
		for _, m := range folder.Mappings() {
			rows = append(rows, summarize(folder.Name, m))
		}
	}

	if cc.Cfg.Output == "json" {
		return renderJSON(cmd.OutOrStdout(), rows)
	}
	renderSummaryTable(cmd.OutOrStdout(), rows)
	return nil
}

func summarize(folder string, m *infaxml.Mapping) mappingSummary {
	s := mappingSummary{
		Folder:  folder,
		Mapping: m.Name,
		Nodes:   m.Graph.NodeCount(),
		Edges:   m.Graph.EdgeCount(),
		Targets: len(m.Targets),
		Dropped: len(m.Dropped),
	}
	for _, n := range m.Graph.Nodes() {
		if n.Kind == graph.KindSource {
			s.Sources++
		}
	}
	return s
}

func renderSummaryTable(w io.Writer, rows []mappingSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Folder", "Mapping", "Nodes", "Edges", "Sources", "Targets", "Dropped"})
	for _, r := range rows {
		t.AppendRow(table.Row{r.Folder, r.Mapping, r.Nodes, r.Edges, r.Sources, r.Targets, r.Dropped})
	}
	t.Render()
}
