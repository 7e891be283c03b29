package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// TraceOptions holds options for the trace command.
type TraceOptions struct {
	Folder  string
	Mapping string
	Calc    bool
	Subject string
	Outline string
}

// NewTraceCommand creates the trace command.
func NewTraceCommand() *cobra.Command {
	opts := &TraceOptions{}

	cmd := &cobra.Command{
		Use:   "trace <file>...",
		Short: "Trace target fields back to their sources",
		Long: `Resolve field-level provenance for every target field of a mapping or
calculation script set.

For a repository export, each target field is traced through the mapping's
transformation graph back to source definition fields. For calculation
scripts, each assigned member is traced through formula references, with
FIX scope restrictions attached as filters.`,
		Example: `  # Trace a mapping from a repository export
  fieldtrace trace export.xml --mapping M_LOAD_SALES

  # Trace calculation scripts against an outline
  fieldtrace trace --calc alloc.csc close.csc --subject Finance --outline accounts.otl

  # Output as JSON
  fieldtrace trace export.xml --mapping M_LOAD_SALES -o json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(cmd, args, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Folder, "folder", "", "Repository folder (default: first folder)")
	cmd.Flags().StringVarP(&opts.Mapping, "mapping", "m", "", "Mapping name within the folder")
	cmd.Flags().BoolVar(&opts.Calc, "calc", false, "Treat inputs as calculation scripts")
	cmd.Flags().StringVar(&opts.Subject, "subject", "", "Subject name for calc traces")
	cmd.Flags().StringVar(&opts.Outline, "outline", "", "Outline extract for consolidation hierarchy")

	return cmd
}

func runTrace(cmd *cobra.Command, args []string, opts *TraceOptions) error {
	cc := NewCommandContext(cmd)

	if opts.Calc {
		scripts, err := loadScripts(args, cc.Logger)
		if err != nil {
			return err
		}
		outline, err := loadOutline(opts.Outline)
		if err != nil {
			return err
		}
		subject := opts.Subject
		if subject == "" {
			subject = args[0]
		}
		report, err := cc.Engine.ResolveCalc(cmd.Context(), subject, scripts, outline)
		if err != nil {
			return err
		}
		return renderReport(cmd.OutOrStdout(), report, cc.Cfg.Output)
	}

	if len(args) != 1 {
		return fmt.Errorf("expected one repository export, got %d files", len(args))
	}
	m, err := loadMapping(args[0], opts.Folder, opts.Mapping, cc.Logger)
	if err != nil {
		return err
	}
	report, err := cc.Engine.ResolveMapping(cmd.Context(), m)
	if err != nil {
		return err
	}
	return renderReport(cmd.OutOrStdout(), report, cc.Cfg.Output)
}
