package calcref

import (
	"sort"
	"strings"
)

// ScopeContext maps a dimension (or category) name to the member names an
// active restriction allows. Member order is first-seen order.
type ScopeContext map[string][]string

// add appends a member under dim unless already present.
func (c ScopeContext) add(dim, member string) {
	for _, m := range c[dim] {
		if m == member {
			return
		}
	}
	c[dim] = append(c[dim], member)
}

// Merge unions another context into this one, dimension by dimension,
// preserving first-seen member order.
func (c ScopeContext) Merge(other ScopeContext) {
	for dim, members := range other {
		for _, m := range members {
			c.add(dim, m)
		}
	}
}

// ParseScope parses the member list of a scope-open statement (the inside of
// FIX(...)) into a context. Dimension->member arrow references are filed
// under their dimension; cross-dimensional groups ->(a, b) are flattened;
// quoted or bare members with no dimension land in the Unscoped bucket
// rather than being dropped.
func ParseScope(text string) ScopeContext {
	ctx := make(ScopeContext)

	for _, m := range arrowRE.FindAllStringSubmatch(text, -1) {
		ctx.add(m[1], firstGroup(m[1:]))
	}

	stripped := arrowRE.ReplaceAllString(text, " ")
	for _, m := range quotedRE.FindAllStringSubmatch(stripped, -1) {
		if name := firstGroup(m); name != "" {
			ctx.add(Unscoped, name)
		}
	}

	bare := quotedRE.ReplaceAllString(stripped, " ")
	for _, tok := range bareRE.FindAllString(bare, -1) {
		ctx.add(Unscoped, tok)
	}

	return ctx
}

// ScopeStack evaluates nested scope statements. Contexts push on scope-open
// and pop on scope-close; an unbalanced close is ignored.
type ScopeStack struct {
	stack []ScopeContext
}

// Push enters a scope.
func (s *ScopeStack) Push(ctx ScopeContext) {
	s.stack = append(s.stack, ctx)
}

// Pop leaves the innermost scope. Popping an empty stack is a no-op.
func (s *ScopeStack) Pop() {
	if len(s.stack) > 0 {
		s.stack = s.stack[:len(s.stack)-1]
	}
}

// Depth returns the number of open scopes.
func (s *ScopeStack) Depth() int {
	return len(s.stack)
}

// Active merges the whole stack, outermost first, into one context.
func (s *ScopeStack) Active() ScopeContext {
	merged := make(ScopeContext)
	for _, ctx := range s.stack {
		merged.Merge(ctx)
	}
	return merged
}

// Filter renders the active context as a human-readable restriction,
// `Dim IN ("m1", "m2") AND ...`, omitting the Unscoped bucket. Returns ""
// when nothing is in scope.
func (s *ScopeStack) Filter() string {
	return s.Active().Filter()
}

// Filter renders the context as a filter expression; see ScopeStack.Filter.
func (c ScopeContext) Filter() string {
	dims := make([]string, 0, len(c))
	for dim := range c {
		if dim == Unscoped {
			continue
		}
		dims = append(dims, dim)
	}
	sort.Strings(dims)

	var parts []string
	for _, dim := range dims {
		quoted := make([]string, len(c[dim]))
		for i, m := range c[dim] {
			quoted[i] = `"` + m + `"`
		}
		parts = append(parts, dim+" IN ("+strings.Join(quoted, ", ")+")")
	}
	return strings.Join(parts, " AND ")
}
