package jil

import (
	"strings"
	"testing"

	"github.com/fieldtrace-labs/fieldtrace/pkg/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nightlyJIL = `
/* Nightly load chain */
insert_job: BOX_NIGHTLY  job_type: BOX

insert_job: EXTRACT_ORDERS
job_type: CMD
box_name: BOX_NIGHTLY
command: /opt/etl/extract_orders.sh

insert_job: LOAD_DW
job_type: CMD
box_name: BOX_NIGHTLY
condition: s(EXTRACT_ORDERS) AND s(EXTRACT_CUSTOMERS,RUN)
command: /opt/etl/load_dw.sh
  --full-refresh

// standalone reporting job
insert_job: REFRESH_REPORTS
job_type: CMD
condition: s(LOAD_DW)
command: /opt/reports/refresh.sh
`

func parseNightly(t *testing.T) *Export {
	t.Helper()
	export, err := Parse(strings.NewReader(nightlyJIL))
	require.NoError(t, err)
	return export
}

func TestParse_JobsInDefinitionOrder(t *testing.T) {
	export := parseNightly(t)

	require.Len(t, export.Jobs, 4)
	names := make([]string, len(export.Jobs))
	for i, j := range export.Jobs {
		names[i] = j.Name
	}
	assert.Equal(t, []string{"BOX_NIGHTLY", "EXTRACT_ORDERS", "LOAD_DW", "REFRESH_REPORTS"}, names)
}

func TestParse_AttributesAndTrailingText(t *testing.T) {
	export := parseNightly(t)

	// insert_job line with trailing attribute text
	box, ok := export.Job("BOX_NIGHTLY")
	require.True(t, ok)
	assert.Equal(t, "BOX", box.Type)

	load, ok := export.Job("LOAD_DW")
	require.True(t, ok)
	assert.Equal(t, "CMD", load.Type)
	assert.Equal(t, "BOX_NIGHTLY", load.Box)
	assert.Contains(t, load.Attrs, "condition")
}

func TestParse_CommandContinuation(t *testing.T) {
	export := parseNightly(t)

	load, ok := export.Job("LOAD_DW")
	require.True(t, ok)
	assert.Equal(t, "/opt/etl/load_dw.sh\n--full-refresh", load.Command)
}

func TestUpstream_DropsInstanceQualifier(t *testing.T) {
	export := parseNightly(t)

	load, ok := export.Job("LOAD_DW")
	require.True(t, ok)
	assert.Equal(t, []string{"EXTRACT_ORDERS", "EXTRACT_CUSTOMERS"}, load.Upstream())
}

func TestUpstream_NoCondition(t *testing.T) {
	j := &Job{Name: "J1"}
	assert.Nil(t, j.Upstream())
}

func TestUpstream_Deduplicates(t *testing.T) {
	j := &Job{Condition: "s(A) AND f(A) OR d(B)"}
	assert.Equal(t, []string{"A", "B"}, j.Upstream())
}

func TestBoxJobs(t *testing.T) {
	export := parseNightly(t)

	jobs := export.BoxJobs("BOX_NIGHTLY")
	require.Len(t, jobs, 2)
	assert.Equal(t, "EXTRACT_ORDERS", jobs[0].Name)
	assert.Equal(t, "LOAD_DW", jobs[1].Name)
}

func TestBuildGraph_SequenceRespectsConditions(t *testing.T) {
	export := parseNightly(t)
	g := export.BuildGraph()

	// EXTRACT_CUSTOMERS comes from a condition only, so it is modeled as an
	// external source.
	ext, ok := g.Node("EXTRACT_CUSTOMERS")
	require.True(t, ok)
	assert.Equal(t, graph.KindSource, ext.Kind)

	order := g.Sequence()
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}

	assert.Less(t, pos["BOX_NIGHTLY"], pos["EXTRACT_ORDERS"])
	assert.Less(t, pos["EXTRACT_ORDERS"], pos["LOAD_DW"])
	assert.Less(t, pos["EXTRACT_CUSTOMERS"], pos["LOAD_DW"])
	assert.Less(t, pos["LOAD_DW"], pos["REFRESH_REPORTS"])
}
