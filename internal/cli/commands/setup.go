// Package commands implements the fieldtrace subcommands.
package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fieldtrace-labs/fieldtrace/internal/config"
	"github.com/fieldtrace-labs/fieldtrace/internal/engine"
	"github.com/fieldtrace-labs/fieldtrace/internal/reader/calcscript"
	"github.com/fieldtrace-labs/fieldtrace/internal/reader/infaxml"
	"github.com/fieldtrace-labs/fieldtrace/internal/reader/jil"
	"github.com/spf13/cobra"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg    *config.Config
	Logger *slog.Logger
	Engine *engine.Engine
}

// NewCommandContext collects the loaded config, logger, and a resolver
// engine for a command invocation.
func NewCommandContext(cmd *cobra.Command) *CommandContext {
	cfg := config.Current()
	logger := config.GetLogger(cmd.Context())

	eng := engine.New(engine.Config{
		HopLimit: cfg.HopLimit,
		Workers:  cfg.Workers,
		Logger:   logger,
	})

	return &CommandContext{Cfg: cfg, Logger: logger, Engine: eng}
}

// loadMapping parses a repository export and selects one mapping.
// An empty folder name selects the first folder; an empty mapping name is
// accepted only when the folder holds exactly one mapping.
func loadMapping(path, folderName, mappingName string, logger *slog.Logger) (*infaxml.Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening export: %w", err)
	}
	defer func() { _ = f.Close() }()

	export, err := infaxml.NewParser(logger).Parse(f)
	if err != nil {
		return nil, err
	}
	if len(export.Folders) == 0 {
		return nil, fmt.Errorf("export %s contains no folders", path)
	}

	folder := export.Folders[0]
	if folderName != "" {
		folder = nil
		for _, fl := range export.Folders {
			if fl.Name == folderName {
				folder = fl
				break
			}
		}
		if folder == nil {
			return nil, fmt.Errorf("export %s has no folder %q", path, folderName)
		}
	}

	if mappingName == "" {
		names := folder.MappingNames()
		if len(names) != 1 {
			return nil, fmt.Errorf("folder %q holds %d mappings, pick one with --mapping (%s)",
				folder.Name, len(names), strings.Join(names, ", "))
		}
		mappingName = names[0]
	}
	return folder.Mapping(mappingName)
}

// loadExport parses a full repository export.
func loadExport(path string, logger *slog.Logger) (*infaxml.Export, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening export: %w", err)
	}
	defer func() { _ = f.Close() }()
	return infaxml.NewParser(logger).Parse(f)
}

// loadScripts parses each path as a calculation script.
func loadScripts(paths []string, logger *slog.Logger) ([]*calcscript.Script, error) {
	parser := calcscript.NewParser(logger)
	scripts := make([]*calcscript.Script, 0, len(paths))
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening script: %w", err)
		}
		s, err := parser.Parse(path, f)
		_ = f.Close()
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, s)
	}
	return scripts, nil
}

// loadOutline parses an outline extract; an empty path yields nil.
func loadOutline(path string) (*calcscript.Outline, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening outline: %w", err)
	}
	defer func() { _ = f.Close() }()
	return calcscript.ParseOutline(f)
}

// loadJobs parses a scheduler job definition file.
func loadJobs(path string) (*jil.Export, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening job file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return jil.Parse(f)
}

// isJobFile reports whether the path looks like a scheduler definition
// rather than a repository export.
func isJobFile(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".jil")
}
