package catalog

import (
	"testing"

	"github.com/fieldtrace-labs/fieldtrace/pkg/graph"
	"github.com/fieldtrace-labs/fieldtrace/pkg/lineage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestURNs(t *testing.T) {
	ds := DatasetURN("oracle", "SALES.ORDERS", "PROD")
	assert.Equal(t, "urn:li:dataset:(urn:li:dataPlatform:oracle,SALES.ORDERS,PROD)", ds)

	assert.Equal(t,
		"urn:li:schemaField:(urn:li:dataset:(urn:li:dataPlatform:oracle,SALES.ORDERS,PROD),ORDER_ID)",
		FieldURN(ds, "ORDER_ID"))

	flow := DataFlowURN("informatica", "stored_procedures", "PROD")
	assert.Equal(t, "urn:li:dataFlow:(informatica,stored_procedures,PROD)", flow)
	assert.Equal(t, "urn:li:dataJob:(urn:li:dataFlow:(informatica,stored_procedures,PROD),SP_GET_KEY)",
		DataJobURN(flow, "SP_GET_KEY"))
}

func TestBuildUpstreamLineage_GroupsByTargetAndField(t *testing.T) {
	b := NewBuilder("oracle", "PROD")

	edges := []lineage.Edge{
		{SourceNode: "ORDERS", SourceField: "AMOUNT", TargetNode: "T_SALES", TargetField: "TOTAL",
			Kind: graph.KindQueryOverride, Expression: "SUM(o.AMOUNT)", Confidence: 0.95, StepOrder: 1},
		{SourceNode: "ORDERS", SourceField: "STATUS", TargetNode: "T_SALES", TargetField: "STATUS",
			Kind: graph.KindSource, Confidence: 1.0, StepOrder: 1},
	}

	proposals := b.BuildUpstreamLineage(edges)
	require.Len(t, proposals, 1)

	p := proposals[0]
	assert.NotEmpty(t, p.ProposalID)
	assert.Equal(t, "dataset", p.EntityType)
	assert.Equal(t, DatasetURN("oracle", "T_SALES", "PROD"), p.EntityURN)
	assert.Equal(t, "upstreamLineage", p.AspectName)

	aspect, ok := p.Aspect.(UpstreamLineage)
	require.True(t, ok)
	require.Len(t, aspect.Upstreams, 1)
	assert.Equal(t, DatasetURN("oracle", "ORDERS", "PROD"), aspect.Upstreams[0].Dataset)

	// Field groups come out in sorted target-field order.
	require.Len(t, aspect.FineGrainedLineage, 2)
	assert.Equal(t, []string{FieldURN(DatasetURN("oracle", "T_SALES", "PROD"), "STATUS")},
		aspect.FineGrainedLineage[0].Downstreams)
	assert.Equal(t, []string{FieldURN(DatasetURN("oracle", "T_SALES", "PROD"), "TOTAL")},
		aspect.FineGrainedLineage[1].Downstreams)
}

func TestBuildUpstreamLineage_MinConfidenceAndChain(t *testing.T) {
	b := NewBuilder("", "")

	edges := []lineage.Edge{
		{SourceNode: "EXP", SourceField: "DOUBLED", TargetNode: "T", TargetField: "TOTAL",
			Kind: graph.KindFormula, Expression: "AMOUNT * 2", Confidence: 1.0, StepOrder: 1},
		{SourceNode: "ORDERS", SourceField: "AMOUNT", TargetNode: "T", TargetField: "TOTAL",
			Kind: graph.KindQueryOverride, Expression: "o.AMOUNT", Confidence: 0.95, StepOrder: 2},
	}

	proposals := b.BuildUpstreamLineage(edges)
	require.Len(t, proposals, 1)
	aspect := proposals[0].Aspect.(UpstreamLineage)
	require.Len(t, aspect.FineGrainedLineage, 1)

	fg := aspect.FineGrainedLineage[0]
	assert.InDelta(t, 0.95, fg.ConfidenceScore, 1e-9)
	// Hops join source-first, tagged by kind.
	assert.Equal(t, "[query_override] o.AMOUNT -> [formula] AMOUNT * 2", fg.TransformOperation)
}

func TestBuildUpstreamLineage_WildcardExcludedFromFields(t *testing.T) {
	b := NewBuilder("oracle", "PROD")

	edges := []lineage.Edge{
		{SourceNode: "SP_LOAD", SourceField: lineage.WildcardField, TargetNode: "T", TargetField: "KEY",
			Kind: graph.KindProcedureCall, Expression: "EXEC STAGE.LOAD", Confidence: 1.0, StepOrder: 1},
	}

	proposals := b.BuildUpstreamLineage(edges)
	require.Len(t, proposals, 1)
	aspect := proposals[0].Aspect.(UpstreamLineage)

	// The opaque producer still appears as a dataset upstream, but no
	// field-level fact is fabricated for it.
	require.Len(t, aspect.Upstreams, 1)
	assert.Equal(t, DatasetURN("oracle", "SP_LOAD", "PROD"), aspect.Upstreams[0].Dataset)
	assert.Empty(t, aspect.FineGrainedLineage)
}

func TestBuildUpstreamLineage_NoEdges(t *testing.T) {
	b := NewBuilder("oracle", "PROD")
	assert.Empty(t, b.BuildUpstreamLineage(nil))
}

func TestBuildProcedureJobs(t *testing.T) {
	b := NewBuilder("oracle", "PROD")

	edges := []lineage.Edge{
		{SourceNode: "SP_GET_KEY", SourceField: lineage.WildcardField, TargetNode: "T", TargetField: "KEY",
			Kind: graph.KindProcedureCall, Confidence: 1.0},
		{SourceNode: "SP_GET_KEY", SourceField: lineage.WildcardField, TargetNode: "T", TargetField: "ALT_KEY",
			Kind: graph.KindProcedureCall, Confidence: 1.0},
		{SourceNode: "ORDERS", SourceField: "AMOUNT", TargetNode: "T", TargetField: "TOTAL",
			Kind: graph.KindSource, Confidence: 1.0},
	}

	proposals := b.BuildProcedureJobs("informatica", edges)
	require.Len(t, proposals, 1)

	p := proposals[0]
	assert.Equal(t, "dataJob", p.EntityType)
	assert.Equal(t,
		DataJobURN(DataFlowURN("informatica", "stored_procedures", "PROD"), "SP_GET_KEY"),
		p.EntityURN)

	info, ok := p.Aspect.(DataJobInfo)
	require.True(t, ok)
	assert.Equal(t, "SP_GET_KEY", info.Name)
	assert.Equal(t, "STORED_PROCEDURE", info.Type)
}

func TestBuildProcedureJobs_DefaultsOrchestratorToPlatform(t *testing.T) {
	b := NewBuilder("oracle", "PROD")

	edges := []lineage.Edge{
		{SourceNode: "SP_X", SourceField: lineage.WildcardField, TargetNode: "T", TargetField: "A",
			Kind: graph.KindProcedureCall, Confidence: 1.0},
	}

	proposals := b.BuildProcedureJobs("", edges)
	require.Len(t, proposals, 1)
	assert.Contains(t, proposals[0].EntityURN, "urn:li:dataFlow:(oracle,stored_procedures,PROD)")
}
