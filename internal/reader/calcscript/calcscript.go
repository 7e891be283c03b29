// Package calcscript reads OLAP calculation scripts: FIX/ENDFIX scope blocks
// and member formula assignments, plus outline consolidation declarations.
// The result is a graph of formula and consolidation nodes whose scope
// restrictions are resolvable per node during tracing.
package calcscript

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/fieldtrace-labs/fieldtrace/pkg/calcref"
	"github.com/fieldtrace-labs/fieldtrace/pkg/graph"
)

var (
	fixStartRE = regexp.MustCompile(`(?i)\bFIX\s*\(([^)]*)\)`)
	fixEndRE   = regexp.MustCompile(`(?i)^\s*ENDFIX\s*;?`)
	// "Member" = expression;  (quotes optional)
	assignRE = regexp.MustCompile(`^\s*(?:"([^"]+)"|([A-Za-z_][\w .]*?))\s*=\s*(.+?)\s*;\s*$`)
	setVarRE = regexp.MustCompile(`(?i)^\s*(?:SET|VAR)\s+\w+`)
)

// Formula is one member assignment together with the scope active at its
// position in the script.
type Formula struct {
	Member string
	Text   string
	// Filter is the rendered scope restriction at the assignment, "" when
	// the assignment sits outside any FIX block.
	Filter string
	Line   int
}

// Script is a parsed calculation script.
type Script struct {
	Name     string
	Formulas []Formula
	// Unbalanced counts ENDFIX statements with no matching FIX; the parser
	// ignores them but reports the count.
	Unbalanced int
}

// Parser reads calculation scripts.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a parser. A nil logger discards all output.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Parser{logger: logger}
}

// Parse reads one script. FIX statements push their member context on the
// scope stack, ENDFIX pops it, and each assignment captures the merged scope
// active at that point.
func (p *Parser) Parse(name string, r io.Reader) (*Script, error) {
	script := &Script{Name: name}
	var scope calcref.ScopeStack

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "/*") || strings.HasPrefix(line, "//") {
			continue
		}
		if setVarRE.MatchString(line) {
			continue
		}

		if m := fixStartRE.FindStringSubmatch(line); m != nil {
			scope.Push(calcref.ParseScope(m[1]))
			continue
		}
		if fixEndRE.MatchString(line) {
			if scope.Depth() == 0 {
				script.Unbalanced++
			}
			scope.Pop()
			continue
		}

		if m := assignRE.FindStringSubmatch(line); m != nil {
			member := m[1]
			if member == "" {
				member = strings.TrimSpace(m[2])
			}
			script.Formulas = append(script.Formulas, Formula{
				Member: member,
				Text:   line,
				Filter: scope.Filter(),
				Line:   lineNum,
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading calc script %s: %w", name, err)
	}

	if d := scope.Depth(); d > 0 {
		p.logger.Warn("script ended inside FIX blocks", "script", name, "open", d)
	}
	p.logger.Debug("parsed calc script", "script", name, "formulas", len(script.Formulas))
	return script, nil
}

// Outline declares the consolidation hierarchy of one dimension: each member
// with its children and their consolidation operators.
type Outline struct {
	Members []OutlineMember
}

// OutlineMember is one hierarchy member.
type OutlineMember struct {
	Name     string
	Children []graph.ChildRef
}

// BuildGraph renders scripts and an optional outline as a transformation
// graph. Each assigned member becomes a Formula node whose ports are the
// member itself plus every member its text references; referenced members
// without formulas of their own become Source nodes. Outline members become
// Consolidation nodes carrying their children.
func BuildGraph(scripts []*Script, outline *Outline) *graph.Graph {
	g := graph.New()

	assigned := make(map[string]*graph.Node)
	ensure := func(name string, kind graph.NodeKind) *graph.Node {
		if n, ok := g.Node(name); ok {
			return n
		}
		n := &graph.Node{
			ID:    name,
			Kind:  kind,
			Ports: []graph.Port{{Name: name, Direction: graph.Both}},
		}
		g.AddNode(n)
		return n
	}

	for _, s := range scripts {
		for _, f := range s.Formulas {
			n := ensure(f.Member, graph.KindFormula)
			n.Kind = graph.KindFormula
			n.Text = f.Text
			assigned[f.Member] = n
		}
	}

	// Wire references after all formulas are known, so a member referenced
	// before its own assignment still comes out as a Formula node. Each
	// referenced member gets an input port on the consuming node, which is
	// what token resolution follows during a trace.
	for _, s := range scripts {
		for _, f := range s.Formulas {
			n := assigned[f.Member]
			for _, ref := range calcref.Tokens(f.Text) {
				name := memberName(ref.Name)
				if name == f.Member {
					continue
				}
				if _, ok := g.Node(name); !ok {
					ensure(name, graph.KindSource)
				}
				if !n.HasPort(name) {
					n.Ports = append(n.Ports, graph.Port{Name: name, Direction: graph.Input})
				}
				_ = g.AddEdge(graph.Edge{
					FromNode:  name,
					FromField: name,
					ToNode:    f.Member,
					ToField:   name,
				})
			}
		}
	}

	if outline != nil {
		for _, m := range outline.Members {
			n := ensure(m.Name, graph.KindConsolidation)
			if _, isFormula := assigned[m.Name]; !isFormula {
				n.Kind = graph.KindConsolidation
			}
			n.Children = append(n.Children, m.Children...)
		}
	}
	return g
}

// ScopeFilters returns a per-member filter lookup for the scripts, for use
// with lineage.WithScopeResolver.
func ScopeFilters(scripts []*Script) func(member string) string {
	filters := make(map[string]string)
	for _, s := range scripts {
		for _, f := range s.Formulas {
			if _, ok := filters[f.Member]; !ok {
				filters[f.Member] = f.Filter
			}
		}
	}
	return func(member string) string { return filters[member] }
}

// memberName strips the Dim.Member qualifier down to the member, matching how
// arrow references name hierarchy members.
func memberName(token string) string {
	if _, member, ok := strings.Cut(token, "."); ok {
		return member
	}
	return token
}
