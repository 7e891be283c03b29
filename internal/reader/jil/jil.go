// Package jil reads AutoSys JIL exports and turns job dependency conditions
// into a sequenceable graph. It covers the common insert_job export shape,
// not the full JIL language.
package jil

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/fieldtrace-labs/fieldtrace/pkg/graph"
)

// Job is one scheduler job definition.
type Job struct {
	Name      string
	Type      string
	Box       string
	Command   string
	Condition string
	// Attrs holds every attribute as written, lower-cased keys.
	Attrs map[string]string
}

// conditionRefRE captures NAME from status functions like s(NAME), f(NAME),
// d(NAME) inside a condition expression.
var conditionRefRE = regexp.MustCompile(`\b[a-zA-Z]\(([^)]+)\)`)

// Upstream returns the job names this job's condition depends on, in
// condition order without duplicates. Instance qualifiers ("JOB,RUN") keep
// only the job name.
func (j *Job) Upstream() []string {
	if j.Condition == "" {
		return nil
	}
	var names []string
	seen := make(map[string]bool)
	for _, m := range conditionRefRE.FindAllStringSubmatch(j.Condition, -1) {
		name := strings.TrimSpace(m[1])
		if i := strings.IndexByte(name, ','); i >= 0 {
			name = strings.TrimSpace(name[:i])
		}
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// Export holds the jobs of one or more JIL files, in definition order.
type Export struct {
	Jobs []*Job

	byName map[string]*Job
}

// Job returns a job by name.
func (e *Export) Job(name string) (*Job, bool) {
	j, ok := e.byName[name]
	return j, ok
}

// BoxJobs returns the jobs assigned to the named box, in definition order.
func (e *Export) BoxJobs(box string) []*Job {
	var jobs []*Job
	for _, j := range e.Jobs {
		if j.Box == box {
			jobs = append(jobs, j)
		}
	}
	return jobs
}

// Parse reads a JIL export. Attribute lines are "key: value"; lines without a
// colon continue the previous command or condition. Comments (/* and //) and
// blank lines are skipped.
func Parse(r io.Reader) (*Export, error) {
	export := &Export{byName: make(map[string]*Job)}
	var current *Job
	var lastKey string

	flush := func() {
		if current == nil {
			return
		}
		export.Jobs = append(export.Jobs, current)
		export.byName[current.Name] = current
		current = nil
		lastKey = ""
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "/*") || strings.HasPrefix(line, "//") {
			continue
		}

		if name, rest, ok := insertJob(line); ok {
			flush()
			current = &Job{Name: name, Type: "command", Attrs: make(map[string]string)}
			line = rest
			if line == "" {
				continue
			}
		}
		if current == nil {
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			// Continuation of the most recent multi-line attribute.
			switch lastKey {
			case "command":
				current.Command += "\n" + line
				current.Attrs["command"] = current.Command
			case "condition":
				current.Condition += " " + line
				current.Attrs["condition"] = current.Condition
			}
			continue
		}

		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		current.Attrs[key] = value
		lastKey = key
		switch key {
		case "job_type":
			current.Type = value
		case "box_name":
			current.Box = value
		case "command":
			current.Command = value
		case "condition":
			current.Condition = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading JIL: %w", err)
	}
	flush()
	return export, nil
}

// insertJob matches an "insert_job: NAME" line, returning the job name and
// any trailing attribute text ("insert_job: J1  job_type: CMD" is common).
func insertJob(line string) (name, rest string, ok bool) {
	lower := strings.ToLower(line)
	if !strings.HasPrefix(lower, "insert_job:") {
		return "", "", false
	}
	tail := strings.TrimSpace(line[len("insert_job:"):])
	if i := strings.IndexAny(tail, " \t"); i >= 0 {
		return tail[:i], strings.TrimSpace(tail[i:]), true
	}
	return tail, "", true
}

// BuildGraph renders the export as a job-level graph: one node per job (and
// per referenced box or external job), one edge per condition dependency and
// per box membership. graph.Sequence on the result yields execution order.
func (e *Export) BuildGraph() *graph.Graph {
	g := graph.New()

	port := []graph.Port{{Name: jobPort, Direction: graph.Both}}
	ensure := func(name string, kind graph.NodeKind) {
		if _, ok := g.Node(name); !ok {
			g.AddNode(&graph.Node{ID: name, Kind: kind, Ports: port})
		}
	}

	for _, j := range e.Jobs {
		ensure(j.Name, graph.KindPassthrough)
	}
	for _, j := range e.Jobs {
		if j.Box != "" {
			ensure(j.Box, graph.KindPassthrough)
			_ = g.AddEdge(graph.Edge{FromNode: j.Box, FromField: jobPort, ToNode: j.Name, ToField: jobPort})
		}
		for _, up := range j.Upstream() {
			// Conditions may reference jobs outside this export.
			ensure(up, graph.KindSource)
			_ = g.AddEdge(graph.Edge{FromNode: up, FromField: jobPort, ToNode: j.Name, ToField: jobPort})
		}
	}
	return g
}

// jobPort is the single port carried by every job node; JIL dependencies are
// job-level, not field-level.
const jobPort = "job"
