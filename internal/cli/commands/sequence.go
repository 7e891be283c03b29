package commands

import (
	"github.com/spf13/cobra"
)

// SequenceOptions holds options for the sequence command.
type SequenceOptions struct {
	Folder  string
	Mapping string
}

// NewSequenceCommand creates the sequence command.
func NewSequenceCommand() *cobra.Command {
	opts := &SequenceOptions{}

	cmd := &cobra.Command{
		Use:   "sequence <file>",
		Short: "Show the processing order of a graph",
		Long: `Print the topological processing order of a transformation graph.

A repository export is sequenced per mapping; a .jil scheduler file is
sequenced by box membership and condition dependencies. Nodes caught in a
dependency cycle are appended after all orderable nodes.`,
		Example: `  # Order the instances of a mapping
  fieldtrace sequence export.xml --mapping M_LOAD_SALES

  # Order scheduler jobs by their conditions
  fieldtrace sequence nightly.jil`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSequence(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.Folder, "folder", "", "Repository folder (default: first folder)")
	cmd.Flags().StringVarP(&opts.Mapping, "mapping", "m", "", "Mapping name within the folder")

	return cmd
}

func runSequence(cmd *cobra.Command, path string, opts *SequenceOptions) error {
	cc := NewCommandContext(cmd)

	if isJobFile(path) {
		export, err := loadJobs(path)
		if err != nil {
			return err
		}
		g := export.BuildGraph()
		return renderSequence(cmd.OutOrStdout(), path, g.Sequence(), cc.Cfg.Output)
	}

	m, err := loadMapping(path, opts.Folder, opts.Mapping, cc.Logger)
	if err != nil {
		return err
	}
	return renderSequence(cmd.OutOrStdout(), m.Name, m.Graph.Sequence(), cc.Cfg.Output)
}
