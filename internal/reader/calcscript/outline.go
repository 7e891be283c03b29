package calcscript

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/fieldtrace-labs/fieldtrace/pkg/graph"
)

// consolidationOperators are the operator prefixes an outline line may carry.
const consolidationOperators = "+-*/%~^"

// ParseOutline reads an indented outline extract. Each line names a member;
// indentation nests it under the nearest shallower line, and an optional
// leading operator character sets its consolidation operator (default "+").
//
//	Net Income
//	  + Revenue
//	  - Expenses
//
// Blank lines and lines starting with "#" are skipped. Tabs count as a
// single indentation column each.
func ParseOutline(r io.Reader) (*Outline, error) {
	type frame struct {
		indent int
		idx    int
	}

	var (
		members []OutlineMember
		stack   []frame
		index   = make(map[string]int)
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		raw := scanner.Text()
		text := strings.TrimSpace(raw)
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		indent := len(raw) - len(strings.TrimLeft(raw, " \t"))

		op := '+'
		if len(text) > 1 && strings.ContainsRune(consolidationOperators, rune(text[0])) {
			op = rune(text[0])
			text = strings.TrimSpace(text[1:])
		}

		for len(stack) > 0 && stack[len(stack)-1].indent >= indent {
			stack = stack[:len(stack)-1]
		}
		if len(stack) > 0 {
			parent := &members[stack[len(stack)-1].idx]
			parent.Children = append(parent.Children, graph.ChildRef{Name: text, Operator: op})
		}

		idx, seen := index[text]
		if !seen {
			members = append(members, OutlineMember{Name: text})
			idx = len(members) - 1
			index[text] = idx
		}
		stack = append(stack, frame{indent: indent, idx: idx})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading outline: %w", err)
	}
	return &Outline{Members: members}, nil
}
