// Package sqlref extracts field-level provenance from embedded SELECT text.
// It is not a SQL parser: it resolves the projection list of a single
// SELECT against a set of known tables, which is all override queries need.
// Anything it cannot resolve is excluded, never guessed.
package sqlref

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// TableColumn identifies one column on one known table.
type TableColumn struct {
	Table  string
	Column string
}

// ColumnDeps describes the upstream columns one output column depends on.
type ColumnDeps struct {
	// Output is the alias, the bare column name, or expr_<n> when the
	// projection item is an unaliased expression.
	Output string
	Inputs []TableColumn
	// Expr is the projection item text; empty for SELECT * passthroughs.
	Expr string
	// Aggregate names the aggregate function wrapping the item, if any.
	Aggregate string
}

// Projection is the resolved output of one SELECT.
type Projection struct {
	Columns []ColumnDeps
	// Star is true when the query used SELECT * (or alias.*).
	Star bool
}

// WarnKind classifies extraction warnings.
type WarnKind string

const (
	// WarnParseFailure means the text could not be interpreted at all.
	WarnParseFailure WarnKind = "parse_failure"
	// WarnAmbiguousColumn means an unqualified column matched more than one
	// known table and was excluded.
	WarnAmbiguousColumn WarnKind = "ambiguous_column"
	// WarnUnknownColumn means an unqualified column matched no known table
	// and was excluded.
	WarnUnknownColumn WarnKind = "unknown_column"
)

// Warning records a recoverable extraction problem.
type Warning struct {
	Kind   WarnKind
	Column string
	Detail string
}

var sqlKeywords = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "JOIN": true, "LEFT": true,
	"RIGHT": true, "INNER": true, "OUTER": true, "FULL": true, "CROSS": true,
	"ON": true, "AND": true, "OR": true, "NOT": true, "AS": true, "IN": true,
	"IS": true, "NULL": true, "LIKE": true, "BETWEEN": true, "GROUP": true,
	"BY": true, "ORDER": true, "HAVING": true, "DISTINCT": true, "ALL": true,
	"UNION": true, "CASE": true, "WHEN": true, "THEN": true, "ELSE": true,
	"END": true, "ASC": true, "DESC": true, "EXISTS": true, "LIMIT": true,
	"OFFSET": true, "TRUE": true, "FALSE": true, "USING": true,
}

var aggregateFuncs = map[string]bool{
	"COUNT": true, "SUM": true, "AVG": true, "MIN": true, "MAX": true,
}

var (
	tableRefPattern  = regexp.MustCompile(`^\s*([A-Za-z_][\w$]*(?:\.[A-Za-z_][\w$]*)*)(?:\s+(?:AS\s+)?([A-Za-z_]\w*))?`)
	explicitAliasRE  = regexp.MustCompile(`(?i)\s+AS\s+([A-Za-z_]\w*)\s*$`)
	simpleColumnRE   = regexp.MustCompile(`^\s*(?:([A-Za-z_]\w*)\.)?([A-Za-z_]\w*)\s*$`)
	columnRefRE      = regexp.MustCompile(`([A-Za-z_]\w*)\s*\.\s*([A-Za-z_]\w*)|([A-Za-z_]\w*)\s*(\()?`)
	leadingAggRE     = regexp.MustCompile(`(?i)^\s*([A-Za-z_]\w*)\s*\(`)
	stringLiteralRE  = regexp.MustCompile(`'[^']*'`)
	tableStarPattern = regexp.MustCompile(`^\s*(?:([A-Za-z_]\w*)\.)?\*\s*$`)
)

// Extract resolves the projection of SELECT-style text against the known
// tables (name -> column list, column order preserved). Unresolvable and
// ambiguous references are dropped and reported as warnings; a text with no
// recognizable SELECT yields a nil projection and a parse warning.
func Extract(sql string, tables map[string][]string) (*Projection, []Warning) {
	cleaned := stripComments(sql)

	items, fromClause, ok := splitSelect(cleaned)
	if !ok {
		return nil, []Warning{{Kind: WarnParseFailure, Detail: "no SELECT projection found"}}
	}

	aliases := buildAliasMap(fromClause, tables)

	proj := &Projection{}
	var warnings []Warning

	for i, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		// SELECT * and alias.* expand to one direct mapping per known
		// table column, with no expression text.
		if m := tableStarPattern.FindStringSubmatch(item); m != nil {
			proj.Star = true
			only := ""
			if m[1] != "" {
				only = aliases.resolve(m[1])
			}
			for _, table := range sortedTables(tables, aliases, fromClause) {
				if only != "" && table != only {
					continue
				}
				for _, col := range tables[table] {
					proj.Columns = append(proj.Columns, ColumnDeps{
						Output: col,
						Inputs: []TableColumn{{Table: table, Column: col}},
					})
				}
			}
			continue
		}

		deps, ws := resolveItem(item, i, aliases, tables)
		warnings = append(warnings, ws...)
		proj.Columns = append(proj.Columns, deps)
	}

	return proj, warnings
}

// resolveItem resolves a single projection item to its upstream columns.
func resolveItem(item string, index int, aliases aliasMap, tables map[string][]string) (ColumnDeps, []Warning) {
	deps := ColumnDeps{Expr: item}
	var warnings []Warning

	expr := item
	if m := explicitAliasRE.FindStringSubmatchIndex(item); m != nil {
		deps.Output = item[m[2]:m[3]]
		expr = item[:m[0]]
	} else if m := simpleColumnRE.FindStringSubmatch(item); m != nil {
		deps.Output = m[2]
	} else {
		deps.Output = exprOutputName(index)
	}

	if m := leadingAggRE.FindStringSubmatch(expr); m != nil {
		if aggregateFuncs[strings.ToUpper(m[1])] {
			deps.Aggregate = strings.ToUpper(m[1])
		}
	}

	scrubbed := stringLiteralRE.ReplaceAllString(expr, "''")
	for _, ref := range scanColumnRefs(scrubbed) {
		if ref.qualifier != "" {
			table := aliases.resolve(ref.qualifier)
			if table == "" {
				// Unknown alias: keep the raw qualifier as the table name,
				// matching how override queries reference external tables.
				table = ref.qualifier
			}
			deps.Inputs = append(deps.Inputs, TableColumn{Table: table, Column: ref.column})
			continue
		}

		matches := tablesContaining(ref.column, tables)
		switch len(matches) {
		case 1:
			deps.Inputs = append(deps.Inputs, TableColumn{Table: matches[0], Column: ref.column})
		case 0:
			warnings = append(warnings, Warning{Kind: WarnUnknownColumn, Column: ref.column})
		default:
			warnings = append(warnings, Warning{
				Kind:   WarnAmbiguousColumn,
				Column: ref.column,
				Detail: strings.Join(matches, ", "),
			})
		}
	}

	return deps, warnings
}

type columnRef struct {
	qualifier string
	column    string
}

// scanColumnRefs finds candidate column references in an expression:
// qualified alias.column pairs, and bare identifiers that are neither SQL
// keywords nor function invocations.
func scanColumnRefs(expr string) []columnRef {
	var refs []columnRef
	seen := make(map[columnRef]bool)
	for _, m := range columnRefRE.FindAllStringSubmatch(expr, -1) {
		var ref columnRef
		switch {
		case m[1] != "":
			ref = columnRef{qualifier: m[1], column: m[2]}
		case m[3] != "" && m[4] == "": // bare identifier, not a call
			upper := strings.ToUpper(m[3])
			if sqlKeywords[upper] {
				continue
			}
			ref = columnRef{column: m[3]}
		default:
			continue
		}
		if !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}
	return refs
}

// tablesContaining returns the known tables declaring the column,
// case-insensitively, in deterministic name order.
func tablesContaining(column string, tables map[string][]string) []string {
	var matches []string
	for table, cols := range tables {
		for _, c := range cols {
			if strings.EqualFold(c, column) {
				matches = append(matches, table)
				break
			}
		}
	}
	sort.Strings(matches)
	return matches
}

// aliasMap maps upper-cased aliases and table names to known table names.
type aliasMap map[string]string

func (m aliasMap) resolve(name string) string {
	return m[strings.ToUpper(name)]
}

// buildAliasMap maps the FROM clause's table references and aliases to
// known table names. Known tables match exactly or by qualified-name suffix.
func buildAliasMap(fromClause string, tables map[string][]string) aliasMap {
	m := make(aliasMap)
	for _, ref := range tableRefs(fromClause) {
		resolved := matchKnownTable(ref.name, tables)
		if resolved == "" {
			resolved = ref.name
		}
		m[strings.ToUpper(ref.name)] = resolved
		if ref.alias != "" && !sqlKeywords[strings.ToUpper(ref.alias)] {
			m[strings.ToUpper(ref.alias)] = resolved
		}
	}
	return m
}

// tableRef is one table reference in a FROM clause, with its alias if any.
type tableRef struct {
	name  string
	alias string
}

// fromTerminators end the FROM clause body at top level.
var fromTerminators = []string{"WHERE", "GROUP", "ORDER", "HAVING", "UNION"}

// tableRefs lists the tables a FROM clause references, in clause order.
// Both ANSI JOINs and old-style comma joins ("FROM CUSTOMERS c, ORDERS o")
// are recognized: the body is split on top-level commas and each segment is
// scanned for its leading table plus any JOINed tables.
func tableRefs(fromClause string) []tableRef {
	upper := strings.ToUpper(fromClause)
	from := indexWord(upper, "FROM", 0)
	if from < 0 {
		return nil
	}
	body := fromClause[from+len("FROM"):]
	bodyUpper := upper[from+len("FROM"):]
	end := len(body)
	for _, kw := range fromTerminators {
		if i := indexWordTopLevel(body, bodyUpper, kw, 0); i >= 0 && i < end {
			end = i
		}
	}
	body = body[:end]

	var refs []tableRef
	for _, segment := range splitTopLevel(body, ',') {
		segUpper := strings.ToUpper(segment)
		off := 0
		for {
			if m := tableRefPattern.FindStringSubmatch(segment[off:]); m != nil {
				refs = append(refs, tableRef{name: m[1], alias: m[2]})
			}
			j := indexWordTopLevel(segment, segUpper, "JOIN", off)
			if j < 0 {
				break
			}
			off = j + len("JOIN")
		}
	}
	return refs
}

// matchKnownTable resolves a FROM-clause table name against the known table
// set: exact case-insensitive match first, then qualified-name suffix match
// (known "SCHEMA.ORDERS" matches reference "ORDERS").
func matchKnownTable(name string, tables map[string][]string) string {
	upper := strings.ToUpper(name)
	for known := range tables {
		if strings.ToUpper(known) == upper {
			return known
		}
	}
	for known := range tables {
		if strings.HasSuffix(strings.ToUpper(known), "."+upper) {
			return known
		}
	}
	return ""
}

// sortedTables returns the known tables in FROM-clause order where possible,
// falling back to name order for tables the clause never mentions.
func sortedTables(tables map[string][]string, aliases aliasMap, fromClause string) []string {
	var ordered []string
	added := make(map[string]bool)
	for _, ref := range tableRefs(fromClause) {
		if t := aliases.resolve(ref.name); t != "" && !added[t] {
			if _, known := tables[t]; known {
				ordered = append(ordered, t)
				added[t] = true
			}
		}
	}
	var rest []string
	for t := range tables {
		if !added[t] {
			rest = append(rest, t)
		}
	}
	sort.Strings(rest)
	return append(ordered, rest...)
}

// splitSelect locates the projection list and FROM clause of the first
// top-level SELECT. Returns ok=false when the text has no SELECT.
func splitSelect(sql string) (items []string, fromClause string, ok bool) {
	upper := strings.ToUpper(sql)
	sel := indexWord(upper, "SELECT", 0)
	if sel < 0 {
		return nil, "", false
	}
	start := sel + len("SELECT")

	// Skip DISTINCT / ALL qualifiers.
	rest := strings.TrimLeft(upper[start:], " \t\r\n")
	for _, q := range []string{"DISTINCT", "ALL"} {
		if strings.HasPrefix(rest, q+" ") || strings.HasPrefix(rest, q+"\n") || strings.HasPrefix(rest, q+"\t") {
			start += len(upper[start:]) - len(rest) + len(q)
			rest = strings.TrimLeft(upper[start:], " \t\r\n")
			break
		}
	}

	from := indexWordTopLevel(sql, upper, "FROM", start)
	if from < 0 {
		return nil, "", false
	}

	projection := sql[start:from]
	fromClause = sql[from:]
	return splitTopLevel(projection, ','), fromClause, true
}

// indexWord finds a whole-word occurrence of word in upper starting at off.
func indexWord(upper, word string, off int) int {
	for {
		i := strings.Index(upper[off:], word)
		if i < 0 {
			return -1
		}
		i += off
		before := i == 0 || !isWordByte(upper[i-1])
		afterIdx := i + len(word)
		after := afterIdx >= len(upper) || !isWordByte(upper[afterIdx])
		if before && after {
			return i
		}
		off = i + len(word)
	}
}

// indexWordTopLevel finds a whole-word occurrence at paren depth zero,
// outside string literals.
func indexWordTopLevel(sql, upper, word string, off int) int {
	depth := 0
	inString := false
	for i := off; i < len(sql); i++ {
		c := sql[i]
		switch {
		case inString:
			if c == '\'' {
				inString = false
			}
		case c == '\'':
			inString = true
		case c == '(':
			depth++
		case c == ')':
			depth--
		case depth == 0 && strings.HasPrefix(upper[i:], word):
			before := i == 0 || !isWordByte(upper[i-1])
			afterIdx := i + len(word)
			after := afterIdx >= len(upper) || !isWordByte(upper[afterIdx])
			if before && after {
				return i
			}
		}
	}
	return -1
}

// splitTopLevel splits on sep at paren depth zero, outside string literals.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth := 0
	inString := false
	last := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inString:
			if c == '\'' {
				inString = false
			}
		case c == '\'':
			inString = true
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == sep && depth == 0:
			parts = append(parts, s[last:i])
			last = i + 1
		}
	}
	parts = append(parts, s[last:])
	return parts
}

// stripComments removes -- line comments and /* */ block comments.
func stripComments(sql string) string {
	var b strings.Builder
	inString := false
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		if inString {
			b.WriteByte(c)
			if c == '\'' {
				inString = false
			}
			continue
		}
		switch {
		case c == '\'':
			inString = true
			b.WriteByte(c)
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
			b.WriteByte('\n')
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			i += 2
			for i+1 < len(sql) && !(sql[i] == '*' && sql[i+1] == '/') {
				i++
			}
			i++
			b.WriteByte(' ')
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

func exprOutputName(index int) string {
	return "expr_" + strconv.Itoa(index)
}
