// Package calcref extracts member and field references from free-form
// calculation text: member formulas, scope (FIX) statements, and expression
// ports. It is purely textual; resolving a reference to an actual graph node
// is the tracer's job.
package calcref

import (
	"regexp"
	"strings"
)

// Unscoped is the reserved bucket for references that could not be
// attributed to a dimension or category.
const Unscoped = "_unscoped_"

// Ref is one referenced field token.
type Ref struct {
	// Name is the referenced token. Category->Member notation is captured
	// as "Category.Member".
	Name string
	// Aggregation carries the aggregation tag of the enclosing text, if
	// any. The tag applies to every reference found in the same text.
	Aggregation string
}

var (
	quotedRE = regexp.MustCompile(`"([^"]+)"|'([^']+)'|\[([^\]]+)\]`)
	// Go's regexp does not support backreferences, so the optionally
	// quoted member is spelled as an alternation instead of (["']?)...\2.
	arrowRE = regexp.MustCompile(`(\w+)->(?:"([^"'\s,;()]+)"|'([^"'\s,;()]+)'|([^"'\s,;()]+))`)
	bareRE   = regexp.MustCompile(`[A-Za-z_]\w*`)
)

// aggregationTags maps aggregation-function prefixes to their tag, scanned
// case-insensitively. First match wins in this order.
var aggregationTags = []struct {
	prefix string
	tag    string
}{
	{"@SUM(", "SUM"},
	{"@AVG(", "AVG"},
	{"@COUNT(", "COUNT"},
	{"@MAX(", "MAX"},
	{"@MIN(", "MIN"},
	{"@PRIOR(", "PRIOR"},
	{"@PARENTVAL(", "PARENT_VALUE"},
}

// Aggregation reports the aggregation tag implied by the text, if any.
func Aggregation(text string) (string, bool) {
	compact := strings.ToUpper(strings.Map(dropSpace, text))
	for _, a := range aggregationTags {
		if strings.Contains(compact, a.prefix) {
			return a.tag, true
		}
	}
	return "", false
}

func dropSpace(r rune) rune {
	if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
		return -1
	}
	return r
}

// References extracts the referenced field tokens from expression text:
// quoted identifiers ("x", 'x', [x]) first, then Category->Member arrow
// notation captured as Category.Member. When the text carries an
// aggregation function, the tag attaches to every reference found.
func References(text string) []Ref {
	refs, _ := quotedAndArrowRefs(text)
	return tagAll(refs, text)
}

// Tokens extracts every candidate field token from expression text:
// the References set plus bare unquoted identifiers that are not function
// invocations or numeric literals. Callers resolve candidates against known
// fields; unresolvable tokens (string literals, function names) simply fail
// to resolve.
func Tokens(text string) []Ref {
	refs, seen := quotedAndArrowRefs(text)

	// Strip quoted regions so their contents are not re-captured bare.
	stripped := quotedRE.ReplaceAllString(text, " ")
	stripped = arrowRE.ReplaceAllString(stripped, " ")

	for _, loc := range bareRE.FindAllStringIndex(stripped, -1) {
		tok := stripped[loc[0]:loc[1]]
		// Skip function invocations: @FUNC(...) and FUNC(...).
		rest := strings.TrimLeft(stripped[loc[1]:], " \t")
		if strings.HasPrefix(rest, "(") {
			continue
		}
		if loc[0] > 0 && stripped[loc[0]-1] == '@' {
			continue
		}
		if !seen[tok] {
			seen[tok] = true
			refs = append(refs, Ref{Name: tok})
		}
	}

	return tagAll(refs, text)
}

func quotedAndArrowRefs(text string) ([]Ref, map[string]bool) {
	var refs []Ref
	seen := make(map[string]bool)

	for _, m := range quotedRE.FindAllStringSubmatch(text, -1) {
		name := firstGroup(m)
		if name != "" && !seen[name] {
			seen[name] = true
			refs = append(refs, Ref{Name: name})
		}
	}

	for _, m := range arrowRE.FindAllStringSubmatch(text, -1) {
		name := m[1] + "." + firstGroup(m[1:])
		if !seen[name] {
			seen[name] = true
			refs = append(refs, Ref{Name: name})
		}
	}

	return refs, seen
}

func tagAll(refs []Ref, text string) []Ref {
	if tag, ok := Aggregation(text); ok {
		for i := range refs {
			refs[i].Aggregation = tag
		}
	}
	return refs
}

func firstGroup(m []string) string {
	for _, g := range m[1:] {
		if g != "" {
			return g
		}
	}
	return ""
}
