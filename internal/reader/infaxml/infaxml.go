// Package infaxml reads Informatica PowerCenter repository exports (POWERMART
// XML) and builds transformation graphs from their mappings.
package infaxml

import (
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/fieldtrace-labs/fieldtrace/pkg/calcref"
	"github.com/fieldtrace-labs/fieldtrace/pkg/graph"
)

// Transformation type names as they appear in exports.
const (
	typeSourceDefinition = "Source Definition"
	typeSourceQualifier  = "Source Qualifier"
	typeTargetDefinition = "Target Definition"
	typeStoredProcedure  = "Stored Procedure"
)

// attrSQLQuery is the TABLEATTRIBUTE carrying a source-qualifier override.
const attrSQLQuery = "Sql Query"

// =============================================================================
// Wire Structures
// =============================================================================

type powermart struct {
	XMLName      xml.Name     `xml:"POWERMART"`
	Repositories []repository `xml:"REPOSITORY"`
}

type repository struct {
	Name    string   `xml:"NAME,attr"`
	Folders []folder `xml:"FOLDER"`
}

type folder struct {
	Name            string           `xml:"NAME,attr"`
	Sources         []sourceDef      `xml:"SOURCE"`
	Targets         []targetDef      `xml:"TARGET"`
	Transformations []transformation `xml:"TRANSFORMATION"`
	Mappings        []mappingElem    `xml:"MAPPING"`
}

type sourceDef struct {
	Name      string     `xml:"NAME,attr"`
	Database  string     `xml:"DBDNAME,attr"`
	OwnerName string     `xml:"OWNERNAME,attr"`
	Fields    []defField `xml:"SOURCEFIELD"`
}

type targetDef struct {
	Name      string     `xml:"NAME,attr"`
	Database  string     `xml:"DBDNAME,attr"`
	OwnerName string     `xml:"OWNERNAME,attr"`
	Fields    []defField `xml:"TARGETFIELD"`
}

type defField struct {
	Name     string `xml:"NAME,attr"`
	Datatype string `xml:"DATATYPE,attr"`
}

type transformation struct {
	Name          string           `xml:"NAME,attr"`
	Type          string           `xml:"TYPE,attr"`
	ProcedureName string           `xml:"PROCEDURENAME,attr"`
	OwnerName     string           `xml:"OWNERNAME,attr"`
	Fields        []transformField `xml:"TRANSFORMFIELD"`
	Attributes    []tableAttribute `xml:"TABLEATTRIBUTE"`
}

type transformField struct {
	Name       string `xml:"NAME,attr"`
	PortType   string `xml:"PORTTYPE,attr"`
	Expression string `xml:"EXPRESSION,attr"`
}

type tableAttribute struct {
	Name  string `xml:"NAME,attr"`
	Value string `xml:"VALUE,attr"`
}

type mappingElem struct {
	Name            string           `xml:"NAME,attr"`
	IsValid         string           `xml:"ISVALID,attr"`
	Instances       []instance       `xml:"INSTANCE"`
	Connectors      []connector      `xml:"CONNECTOR"`
	Transformations []transformation `xml:"TRANSFORMATION"`
}

type instance struct {
	Name               string `xml:"NAME,attr"`
	TransformationName string `xml:"TRANSFORMATION_NAME,attr"`
	TransformationType string `xml:"TRANSFORMATION_TYPE,attr"`
}

type connector struct {
	FromInstance string `xml:"FROMINSTANCE,attr"`
	FromField    string `xml:"FROMFIELD,attr"`
	ToInstance   string `xml:"TOINSTANCE,attr"`
	ToField      string `xml:"TOFIELD,attr"`
}

// =============================================================================
// Public Model
// =============================================================================

// Export is a parsed repository export.
type Export struct {
	Repository string
	Folders    []*Folder
}

// Folder groups the definitions and mappings of one repository folder.
type Folder struct {
	Name string

	sources         map[string]*sourceDef
	targets         map[string]*targetDef
	transformations map[string]*transformation
	mappings        []mappingElem
}

// Mapping is one mapping rendered as a transformation graph, ready for
// tracing and sequencing.
type Mapping struct {
	Name  string
	Graph *graph.Graph
	// Tables maps known source tables (owner-qualified when the export
	// carries an owner) to their column lists, for query resolution.
	Tables map[string][]string
	// Targets lists the target instance names, in instance order.
	Targets []string
	// Dropped records connectors that referenced unknown instances or
	// fields; the rest of the mapping is unaffected.
	Dropped []string
}

// UnknownMappingError reports a mapping lookup that matched nothing.
type UnknownMappingError struct {
	Folder  string
	Mapping string
}

func (e *UnknownMappingError) Error() string {
	return fmt.Sprintf("folder %q has no mapping %q", e.Folder, e.Mapping)
}

// =============================================================================
// Parsing
// =============================================================================

// Parser reads POWERMART exports.
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

// Parse decodes one export document.
func (p *Parser) Parse(r io.Reader) (*Export, error) {
	var doc powermart
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding POWERMART export: %w", err)
	}
	if len(doc.Repositories) == 0 {
		return nil, fmt.Errorf("export contains no REPOSITORY element")
	}

	repo := doc.Repositories[0]
	out := &Export{Repository: repo.Name}
	for i := range repo.Folders {
		out.Folders = append(out.Folders, p.buildFolder(&repo.Folders[i]))
	}
	p.logger.Debug("parsed export", "repository", repo.Name, "folders", len(out.Folders))
	return out, nil
}

func (p *Parser) buildFolder(f *folder) *Folder {
	out := &Folder{
		Name:            f.Name,
		sources:         make(map[string]*sourceDef),
		targets:         make(map[string]*targetDef),
		transformations: make(map[string]*transformation),
		mappings:        f.Mappings,
	}
	for i := range f.Sources {
		out.sources[f.Sources[i].Name] = &f.Sources[i]
	}
	for i := range f.Targets {
		out.targets[f.Targets[i].Name] = &f.Targets[i]
	}
	for i := range f.Transformations {
		out.transformations[f.Transformations[i].Name] = &f.Transformations[i]
	}
	return out
}

// MappingNames returns the folder's mapping names in document order.
func (f *Folder) MappingNames() []string {
	names := make([]string, 0, len(f.mappings))
	for _, m := range f.mappings {
		names = append(names, m.Name)
	}
	return names
}

// Mapping builds the transformation graph for one mapping.
func (f *Folder) Mapping(name string) (*Mapping, error) {
	for i := range f.mappings {
		if f.mappings[i].Name == name {
			return f.buildMapping(&f.mappings[i]), nil
		}
	}
	return nil, &UnknownMappingError{Folder: f.Name, Mapping: name}
}

// Mappings builds graphs for every mapping in the folder.
func (f *Folder) Mappings() []*Mapping {
	out := make([]*Mapping, 0, len(f.mappings))
	for i := range f.mappings {
		out = append(out, f.buildMapping(&f.mappings[i]))
	}
	return out
}

func (f *Folder) buildMapping(m *mappingElem) *Mapping {
	// Mapping-local transformations shadow folder-level reusable ones.
	local := make(map[string]*transformation, len(m.Transformations))
	for i := range m.Transformations {
		local[m.Transformations[i].Name] = &m.Transformations[i]
	}
	lookup := func(name string) *transformation {
		if t, ok := local[name]; ok {
			return t
		}
		return f.transformations[name]
	}

	out := &Mapping{
		Name:   m.Name,
		Graph:  graph.New(),
		Tables: make(map[string][]string),
	}

	// Transformation definition per instance, for port-expression wiring.
	// Instance order keeps the derived edges deterministic.
	type instanceDef struct {
		id  string
		def *transformation
	}
	var defs []instanceDef

	for _, inst := range m.Instances {
		node := f.buildInstanceNode(&inst, lookup)
		if node == nil {
			continue
		}
		out.Graph.AddNode(node)
		switch node.Kind {
		case graph.KindSource:
			out.Tables[f.sourceTableName(inst.TransformationName)] = portNames(node)
		case graph.KindTarget:
			out.Targets = append(out.Targets, node.ID)
		case graph.KindPassthrough:
			defs = append(defs, instanceDef{id: node.ID, def: lookup(inst.TransformationName)})
		}
	}

	for _, c := range m.Connectors {
		err := out.Graph.AddEdge(graph.Edge{
			FromNode:  c.FromInstance,
			FromField: c.FromField,
			ToNode:    c.ToInstance,
			ToField:   c.ToField,
		})
		if err != nil {
			out.Dropped = append(out.Dropped,
				fmt.Sprintf("%s.%s -> %s.%s: %v", c.FromInstance, c.FromField, c.ToInstance, c.ToField, err))
		}
	}

	for _, d := range defs {
		wireFieldExpressions(out.Graph, d.id, d.def)
	}
	return out
}

// wireFieldExpressions adds intra-node edges for ports derived by a
// port-level expression, so a trace hops from the derived port to the ports
// the expression reads. A port whose expression is just its own name is plain
// passthrough and needs no wiring.
func wireFieldExpressions(g *graph.Graph, nodeID string, t *transformation) {
	if t == nil {
		return
	}
	node, ok := g.Node(nodeID)
	if !ok {
		return
	}
	for _, fld := range t.Fields {
		if fld.Expression == "" || fld.Expression == fld.Name {
			continue
		}
		for _, ref := range calcref.Tokens(fld.Expression) {
			if ref.Name == fld.Name || !node.HasPort(ref.Name) {
				continue
			}
			_ = g.AddEdge(graph.Edge{
				FromNode:  nodeID,
				FromField: ref.Name,
				ToNode:    nodeID,
				ToField:   fld.Name,
			})
		}
	}
}

// buildInstanceNode maps one mapping instance to a graph node. Instances
// whose definition cannot be found are skipped; their connectors surface as
// dropped edges later.
func (f *Folder) buildInstanceNode(inst *instance, lookup func(string) *transformation) *graph.Node {
	switch inst.TransformationType {
	case typeSourceDefinition:
		def, ok := f.sources[inst.TransformationName]
		if !ok {
			return nil
		}
		return &graph.Node{ID: inst.Name, Kind: graph.KindSource, Ports: defPorts(def.Fields, graph.Output)}

	case typeTargetDefinition:
		def, ok := f.targets[inst.TransformationName]
		if !ok {
			return nil
		}
		return &graph.Node{ID: inst.Name, Kind: graph.KindTarget, Ports: defPorts(def.Fields, graph.Input)}
	}

	t := lookup(inst.TransformationName)
	if t == nil {
		return nil
	}

	node := &graph.Node{ID: inst.Name, Kind: graph.KindPassthrough, Ports: transformPorts(t.Fields)}
	switch inst.TransformationType {
	case typeSourceQualifier:
		if sql := tableAttr(t.Attributes, attrSQLQuery); sql != "" {
			node.Kind = graph.KindQueryOverride
			node.Text = sql
		}
	case typeStoredProcedure:
		node.Kind = graph.KindProcedureCall
		node.Text = callText(t.OwnerName, t.ProcedureName, inst.Name)
	}
	return node
}

// tableAttr returns the named TABLEATTRIBUTE value.
func tableAttr(attrs []tableAttribute, name string) string {
	for _, a := range attrs {
		if a.Name == name {
			return strings.TrimSpace(a.Value)
		}
	}
	return ""
}

// callText renders a traceable invocation for a stored-procedure instance.
func callText(owner, proc, fallback string) string {
	if proc == "" {
		proc = fallback
	}
	if owner != "" {
		return "CALL " + owner + "." + proc + "()"
	}
	return "CALL " + proc + "()"
}

func defPorts(fields []defField, dir graph.Direction) []graph.Port {
	ports := make([]graph.Port, 0, len(fields))
	for _, fld := range fields {
		ports = append(ports, graph.Port{Name: fld.Name, Direction: dir})
	}
	return ports
}

func transformPorts(fields []transformField) []graph.Port {
	ports := make([]graph.Port, 0, len(fields))
	for _, fld := range fields {
		ports = append(ports, graph.Port{Name: fld.Name, Direction: portDirection(fld.PortType)})
	}
	return ports
}

func portDirection(portType string) graph.Direction {
	upper := strings.ToUpper(portType)
	in := strings.Contains(upper, "INPUT")
	out := strings.Contains(upper, "OUTPUT")
	switch {
	case in && out:
		return graph.Both
	case out:
		return graph.Output
	case in:
		return graph.Input
	}
	return graph.Both
}

func portNames(n *graph.Node) []string {
	names := make([]string, 0, len(n.Ports))
	for _, p := range n.Ports {
		names = append(names, p.Name)
	}
	return names
}

// sourceTableName returns the owner-qualified table name for a source
// definition, matching how override queries reference it.
func (f *Folder) sourceTableName(name string) string {
	if def, ok := f.sources[name]; ok && def.OwnerName != "" {
		return def.OwnerName + "." + name
	}
	return name
}
