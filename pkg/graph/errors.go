package graph

import "fmt"

// InvalidReferenceError reports an edge endpoint that names a node or port
// absent from the graph. It is returned at construction time, never during
// tracing.
type InvalidReferenceError struct {
	Node    string
	Field   string
	Missing string // "node" or "port"
}

func (e *InvalidReferenceError) Error() string {
	if e.Missing == "node" {
		return fmt.Sprintf("invalid reference: node %q does not exist", e.Node)
	}
	return fmt.Sprintf("invalid reference: node %q has no port %q", e.Node, e.Field)
}
