// Package catalog renders resolved lineage as metadata-catalog change
// proposals and ships them to a catalog server over REST.
//
// The wire shapes follow the generic metadata-service model: dataset URNs,
// schema-field URNs, an upstreamLineage aspect with fine-grained field
// lineage, and dataFlow/dataJob URNs for orchestration entities.
package catalog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fieldtrace-labs/fieldtrace/pkg/graph"
	"github.com/fieldtrace-labs/fieldtrace/pkg/lineage"
	"github.com/google/uuid"
)

// =============================================================================
// URNs
// =============================================================================

// DatasetURN builds a dataset URN for a platform/name/environment triple.
func DatasetURN(platform, name, env string) string {
	return fmt.Sprintf("urn:li:dataset:(urn:li:dataPlatform:%s,%s,%s)", platform, name, env)
}

// FieldURN builds a schema-field URN under a dataset.
func FieldURN(datasetURN, field string) string {
	return fmt.Sprintf("urn:li:schemaField:(%s,%s)", datasetURN, field)
}

// DataFlowURN builds an orchestration flow URN.
func DataFlowURN(orchestrator, flowID, env string) string {
	return fmt.Sprintf("urn:li:dataFlow:(%s,%s,%s)", orchestrator, flowID, env)
}

// DataJobURN builds a job URN under a flow.
func DataJobURN(flowURN, jobID string) string {
	return fmt.Sprintf("urn:li:dataJob:(%s,%s)", flowURN, jobID)
}

// =============================================================================
// Wire Objects
// =============================================================================

// Upstream is one dataset-level upstream entry.
type Upstream struct {
	Dataset string `json:"dataset"`
	Type    string `json:"type"`
}

// FineGrainedLineage is one field-level lineage fact.
type FineGrainedLineage struct {
	UpstreamType       string   `json:"upstreamType"`
	Upstreams          []string `json:"upstreams"`
	DownstreamType     string   `json:"downstreamType"`
	Downstreams        []string `json:"downstreams"`
	TransformOperation string   `json:"transformOperation,omitempty"`
	ConfidenceScore    float64  `json:"confidenceScore"`
}

// UpstreamLineage is the upstreamLineage aspect of one dataset.
type UpstreamLineage struct {
	Upstreams          []Upstream           `json:"upstreams"`
	FineGrainedLineage []FineGrainedLineage `json:"fineGrainedLineages,omitempty"`
}

// ChangeProposal is one aspect mutation addressed to an entity.
type ChangeProposal struct {
	ProposalID string `json:"proposalId"`
	EntityType string `json:"entityType"`
	EntityURN  string `json:"entityUrn"`
	AspectName string `json:"aspectName"`
	Aspect     any    `json:"aspect"`
}

// DataJobInfo is the job-metadata aspect for an orchestration job.
type DataJobInfo struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// DataJobIO records a job's input and output datasets.
type DataJobIO struct {
	Inputs  []string `json:"inputDatasets"`
	Outputs []string `json:"outputDatasets"`
}

// =============================================================================
// Builder
// =============================================================================

// Builder turns resolved lineage edges into change proposals.
type Builder struct {
	// Platform names the data platform datasets live on (e.g. "oracle").
	Platform string
	// Env is the catalog environment tag (e.g. "PROD").
	Env string
}

// NewBuilder creates a builder with sensible defaults.
func NewBuilder(platform, env string) *Builder {
	if platform == "" {
		platform = "oracle"
	}
	if env == "" {
		env = "PROD"
	}
	return &Builder{Platform: platform, Env: env}
}

// BuildUpstreamLineage groups edges by target dataset and renders one
// upstreamLineage proposal per dataset. Within a dataset, edges group by
// target field: the combined confidence is the minimum over the group, the
// transform operation joins each hop's expression source-first (descending
// step order), and wildcard source fields contribute the dataset upstream
// but no field upstream.
func (b *Builder) BuildUpstreamLineage(edges []lineage.Edge) []ChangeProposal {
	byTarget := groupBy(edges, func(e lineage.Edge) string { return e.TargetNode })

	var proposals []ChangeProposal
	for _, target := range sortedKeys(byTarget) {
		targetEdges := byTarget[target]
		targetURN := DatasetURN(b.Platform, target, b.Env)

		var upstreams []Upstream
		seenUpstream := make(map[string]bool)
		var fineGrained []FineGrainedLineage

		byField := groupBy(targetEdges, func(e lineage.Edge) string { return e.TargetField })
		for _, field := range sortedKeys(byField) {
			fieldEdges := byField[field]

			var upstreamFields []string
			seenField := make(map[string]bool)
			for _, e := range fieldEdges {
				sourceURN := DatasetURN(b.Platform, e.SourceNode, b.Env)
				if !seenUpstream[sourceURN] {
					seenUpstream[sourceURN] = true
					upstreams = append(upstreams, Upstream{Dataset: sourceURN, Type: "TRANSFORMED"})
				}
				if e.SourceField == lineage.WildcardField {
					continue
				}
				fieldURN := FieldURN(sourceURN, e.SourceField)
				if !seenField[fieldURN] {
					seenField[fieldURN] = true
					upstreamFields = append(upstreamFields, fieldURN)
				}
			}
			if len(upstreamFields) == 0 {
				continue
			}

			fineGrained = append(fineGrained, FineGrainedLineage{
				UpstreamType:       "FIELD_SET",
				Upstreams:          upstreamFields,
				DownstreamType:     "FIELD",
				Downstreams:        []string{FieldURN(targetURN, field)},
				TransformOperation: chainExpression(fieldEdges),
				ConfidenceScore:    lineage.MinConfidence(fieldEdges),
			})
		}

		if len(upstreams) == 0 {
			continue
		}
		proposals = append(proposals, ChangeProposal{
			ProposalID: uuid.NewString(),
			EntityType: "dataset",
			EntityURN:  targetURN,
			AspectName: "upstreamLineage",
			Aspect: UpstreamLineage{
				Upstreams:          upstreams,
				FineGrainedLineage: fineGrained,
			},
		})
	}
	return proposals
}

// BuildProcedureJobs renders one dataJob proposal per distinct procedure-call
// producer in the edge set, addressed under a shared stored_procedures flow.
func (b *Builder) BuildProcedureJobs(orchestrator string, edges []lineage.Edge) []ChangeProposal {
	if orchestrator == "" {
		orchestrator = b.Platform
	}
	flowURN := DataFlowURN(orchestrator, "stored_procedures", b.Env)

	var proposals []ChangeProposal
	seen := make(map[string]bool)
	for _, e := range edges {
		if e.Kind != graph.KindProcedureCall || seen[e.SourceNode] {
			continue
		}
		seen[e.SourceNode] = true
		proposals = append(proposals, ChangeProposal{
			ProposalID: uuid.NewString(),
			EntityType: "dataJob",
			EntityURN:  DataJobURN(flowURN, e.SourceNode),
			AspectName: "dataJobInfo",
			Aspect: DataJobInfo{
				Name: e.SourceNode,
				Type: "STORED_PROCEDURE",
			},
		})
	}
	return proposals
}

// chainExpression joins the hop expressions of one field group source-first,
// tagging each hop with its kind.
func chainExpression(edges []lineage.Edge) string {
	ordered := make([]lineage.Edge, len(edges))
	copy(ordered, edges)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].StepOrder > ordered[j].StepOrder
	})

	var parts []string
	for _, e := range ordered {
		if e.Expression == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("[%s] %s", e.Kind, e.Expression))
	}
	return strings.Join(parts, " -> ")
}

func groupBy(edges []lineage.Edge, key func(lineage.Edge) string) map[string][]lineage.Edge {
	out := make(map[string][]lineage.Edge)
	for _, e := range edges {
		k := key(e)
		out[k] = append(out[k], e)
	}
	return out
}

func sortedKeys(m map[string][]lineage.Edge) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
