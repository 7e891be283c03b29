// Package engine orchestrates lineage resolution: it sequences a
// transformation graph, traces every target field concurrently, and merges
// the results into one report ready for rendering or catalog emission.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/fieldtrace-labs/fieldtrace/internal/reader/calcscript"
	"github.com/fieldtrace-labs/fieldtrace/internal/reader/infaxml"
	"github.com/fieldtrace-labs/fieldtrace/pkg/graph"
	"github.com/fieldtrace-labs/fieldtrace/pkg/lineage"
)

// DefaultWorkers bounds concurrent field traces.
const DefaultWorkers = 8

// Config holds engine configuration.
type Config struct {
	// HopLimit is the per-branch trace limit; 0 uses the lineage default.
	HopLimit int
	// Workers bounds concurrent traces; 0 uses DefaultWorkers.
	Workers int
	// Logger is the structured logger (optional, uses discard if nil).
	Logger *slog.Logger
}

// Engine resolves lineage for whole graphs. Safe for concurrent use.
type Engine struct {
	hopLimit int
	workers  int
	logger   *slog.Logger
}

// New creates an engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Engine{hopLimit: cfg.HopLimit, workers: workers, logger: logger}
}

// Report is the merged outcome of resolving one graph.
type Report struct {
	// Subject names what was resolved (mapping or script set).
	Subject string
	// Sequence is the processing order of the graph's nodes.
	Sequence []string
	// Edges are the flattened provenance facts, deterministically ordered.
	Edges []lineage.Edge
	// Warnings aggregated across all traces.
	Warnings []lineage.Warning
	// FieldsTraced counts the target fields that were resolved.
	FieldsTraced int
}

// ResolveMapping resolves every target field of a parsed mapping.
func (e *Engine) ResolveMapping(ctx context.Context, m *infaxml.Mapping) (*Report, error) {
	var targets []graph.FieldRef
	for _, id := range m.Targets {
		node, ok := m.Graph.Node(id)
		if !ok {
			continue
		}
		for _, p := range node.Ports {
			targets = append(targets, graph.FieldRef{Node: id, Field: p.Name})
		}
	}

	for _, dropped := range m.Dropped {
		e.logger.Warn("connector dropped", "mapping", m.Name, "connector", dropped)
	}

	return e.resolve(ctx, m.Name, m.Graph, targets, lineage.WithTables(m.Tables))
}

// ResolveCalc builds the graph for a set of calculation scripts (plus an
// optional consolidation outline) and resolves every assigned member,
// attaching each member's scope restriction. Hierarchy edges from the
// outline are merged into the report.
func (e *Engine) ResolveCalc(ctx context.Context, subject string, scripts []*calcscript.Script, outline *calcscript.Outline) (*Report, error) {
	g := calcscript.BuildGraph(scripts, outline)

	var targets []graph.FieldRef
	seen := make(map[string]bool)
	for _, s := range scripts {
		for _, f := range s.Formulas {
			if !seen[f.Member] {
				seen[f.Member] = true
				targets = append(targets, graph.FieldRef{Node: f.Member, Field: f.Member})
			}
		}
	}

	report, err := e.resolve(ctx, subject, g, targets,
		lineage.WithScopeResolver(calcscript.ScopeFilters(scripts)))
	if err != nil {
		return nil, err
	}

	report.Edges = append(report.Edges, lineage.SynthesizeHierarchy(g)...)
	sortEdges(report.Edges)
	return report, nil
}

// resolve sequences the graph and traces the target fields concurrently.
// lineage.Trace treats the graph as read-only, so traces share it safely.
func (e *Engine) resolve(ctx context.Context, subject string, g *graph.Graph, targets []graph.FieldRef, opts ...lineage.Option) (*Report, error) {
	report := &Report{
		Subject:      subject,
		Sequence:     g.Sequence(),
		FieldsTraced: len(targets),
	}
	if e.hopLimit > 0 {
		opts = append(opts, lineage.WithHopLimit(e.hopLimit))
	}

	e.logger.Debug("resolving graph",
		"subject", subject, "nodes", g.NodeCount(), "targets", len(targets))

	var mu sync.Mutex
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(e.workers)

	for _, target := range targets {
		eg.Go(func() error {
			if err := egctx.Err(); err != nil {
				return err
			}
			res, err := lineage.Trace(g, target.Node, target.Field, opts...)
			if err != nil {
				return fmt.Errorf("tracing %s.%s: %w", target.Node, target.Field, err)
			}
			mu.Lock()
			report.Edges = append(report.Edges, res.Edges...)
			report.Warnings = append(report.Warnings, res.Warnings...)
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	sortEdges(report.Edges)
	sortWarnings(report.Warnings)
	e.logger.Info("graph resolved",
		"subject", subject, "edges", len(report.Edges), "warnings", len(report.Warnings))
	return report, nil
}

// sortEdges imposes a stable order on merged edges: target first, then
// source. Concurrent tracing makes the raw append order nondeterministic.
func sortEdges(edges []lineage.Edge) {
	sort.SliceStable(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.TargetNode != b.TargetNode {
			return a.TargetNode < b.TargetNode
		}
		if a.TargetField != b.TargetField {
			return a.TargetField < b.TargetField
		}
		if a.SourceNode != b.SourceNode {
			return a.SourceNode < b.SourceNode
		}
		return a.SourceField < b.SourceField
	})
}

func sortWarnings(warnings []lineage.Warning) {
	sort.SliceStable(warnings, func(i, j int) bool {
		a, b := warnings[i], warnings[j]
		if a.NodeID != b.NodeID {
			return a.NodeID < b.NodeID
		}
		return a.Detail < b.Detail
	})
}
