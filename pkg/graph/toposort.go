package graph

// Sequence returns all node IDs in dependency order using Kahn's algorithm
// over the node-level graph induced by field edges. Ready nodes are consumed
// in first-discovered (FIFO) order, not sorted by name, so step numbering is
// deterministic for a given insertion order. Nodes still unresolved after the
// main loop are part of a cycle; they are appended in their original
// insertion order rather than reported as an error.
func (g *Graph) Sequence() []string {
	incoming := make(map[string]map[string]struct{}, len(g.order))
	outgoing := make(map[string]map[string]struct{}, len(g.order))
	for _, id := range g.order {
		incoming[id] = make(map[string]struct{})
		outgoing[id] = make(map[string]struct{})
	}

	for _, e := range g.edges {
		if e.FromNode == e.ToNode {
			continue
		}
		incoming[e.ToNode][e.FromNode] = struct{}{}
		outgoing[e.FromNode][e.ToNode] = struct{}{}
	}

	result := make([]string, 0, len(g.order))
	placed := make(map[string]bool, len(g.order))

	var queue []string
	for _, id := range g.order {
		if len(incoming[id]) == 0 {
			queue = append(queue, id)
		}
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if placed[id] {
			continue
		}
		placed[id] = true
		result = append(result, id)

		for next := range outgoing[id] {
			delete(incoming[next], id)
		}
		// Scan in insertion order so newly-ready nodes enqueue
		// deterministically regardless of map iteration.
		for _, next := range g.order {
			if _, dependent := outgoing[id][next]; !dependent {
				continue
			}
			if !placed[next] && len(incoming[next]) == 0 {
				queue = append(queue, next)
			}
		}
	}

	// Residual nodes sit on a cycle; keep insertion order.
	for _, id := range g.order {
		if !placed[id] {
			result = append(result, id)
		}
	}

	return result
}
