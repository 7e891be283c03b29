package commands

import (
	"fmt"

	"github.com/fieldtrace-labs/fieldtrace/internal/catalog"
	"github.com/fieldtrace-labs/fieldtrace/internal/engine"
	"github.com/spf13/cobra"
)

// EmitOptions holds options for the emit command.
type EmitOptions struct {
	Folder  string
	Mapping string
	Calc    bool
	Subject string
	Outline string
	DryRun  bool
}

// NewEmitCommand creates the emit command.
func NewEmitCommand() *cobra.Command {
	opts := &EmitOptions{}

	cmd := &cobra.Command{
		Use:   "emit <file>...",
		Short: "Push resolved provenance to the metadata catalog",
		Long: `Resolve field-level provenance and emit it to the metadata catalog as
dataset upstream-lineage aspects. Stored procedure references additionally
become data job entities under a shared flow.

With --dry-run the change proposals are printed as JSON instead of sent.`,
		Example: `  # Emit a mapping's lineage
  fieldtrace emit export.xml --mapping M_LOAD_SALES --server http://localhost:8080

  # Inspect the proposals without sending
  fieldtrace emit export.xml --mapping M_LOAD_SALES --dry-run`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEmit(cmd, args, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Folder, "folder", "", "Repository folder (default: first folder)")
	cmd.Flags().StringVarP(&opts.Mapping, "mapping", "m", "", "Mapping name within the folder")
	cmd.Flags().BoolVar(&opts.Calc, "calc", false, "Treat inputs as calculation scripts")
	cmd.Flags().StringVar(&opts.Subject, "subject", "", "Subject name for calc traces")
	cmd.Flags().StringVar(&opts.Outline, "outline", "", "Outline extract for consolidation hierarchy")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Print proposals instead of sending them")

	return cmd
}

func runEmit(cmd *cobra.Command, args []string, opts *EmitOptions) error {
	cc := NewCommandContext(cmd)

	report, err := resolveForEmit(cmd, args, opts, cc)
	if err != nil {
		return err
	}

	builder := catalog.NewBuilder(cc.Cfg.Catalog.Platform, cc.Cfg.Catalog.Env)
	proposals := builder.BuildUpstreamLineage(report.Edges)
	proposals = append(proposals, builder.BuildProcedureJobs("", report.Edges)...)

	if len(proposals) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "(nothing to emit)")
		return nil
	}

	if opts.DryRun {
		return renderJSON(cmd.OutOrStdout(), proposals)
	}

	if cc.Cfg.Catalog.Server == "" {
		return fmt.Errorf("no catalog server configured; set --server or catalog.server")
	}
	emitter := catalog.NewEmitter(catalog.EmitterConfig{
		ServerURL: cc.Cfg.Catalog.Server,
		Token:     cc.Cfg.Catalog.Token,
		BatchSize: cc.Cfg.Catalog.BatchSize,
		Logger:    cc.Logger,
	})
	if err := emitter.Emit(cmd.Context(), proposals); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Emitted %d proposals to %s\n", len(proposals), cc.Cfg.Catalog.Server)
	return nil
}

func resolveForEmit(cmd *cobra.Command, args []string, opts *EmitOptions, cc *CommandContext) (*engine.Report, error) {
	if opts.Calc {
		scripts, err := loadScripts(args, cc.Logger)
		if err != nil {
			return nil, err
		}
		outline, err := loadOutline(opts.Outline)
		if err != nil {
			return nil, err
		}
		subject := opts.Subject
		if subject == "" {
			subject = args[0]
		}
		return cc.Engine.ResolveCalc(cmd.Context(), subject, scripts, outline)
	}

	if len(args) != 1 {
		return nil, fmt.Errorf("expected one repository export, got %d files", len(args))
	}
	m, err := loadMapping(args[0], opts.Folder, opts.Mapping, cc.Logger)
	if err != nil {
		return nil, err
	}
	return cc.Engine.ResolveMapping(cmd.Context(), m)
}
