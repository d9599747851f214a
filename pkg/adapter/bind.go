package adapter

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/leapstack-labs/leapgrid/pkg/core"
	"github.com/leapstack-labs/leapgrid/pkg/dialect"
)

// BindParams rewrites a query's placeholders into the dialect's style and
// collects their values. Named placeholders take params[name]; positional
// ones take params["1"], params["2"] and so on.
func BindParams(q *core.Query, d *dialect.Dialect, params map[string]any) (string, []any, error) {
	if len(q.Params) == 0 {
		return q.Text, nil, nil
	}

	ordered := slices.Clone(q.Params)
	slices.SortFunc(ordered, func(a, b core.QueryParam) int { return a.Offset - b.Offset })

	var sb strings.Builder
	args := make([]any, 0, len(ordered))
	last := 0
	for i, p := range ordered {
		key, width := p.Name, len(p.Name)+1
		if p.Name == "" {
			key, width = strconv.Itoa(p.Index), 1
		}
		v, ok := params[key]
		if !ok {
			if p.Name != "" {
				return "", nil, fmt.Errorf("missing value for parameter :%s", p.Name)
			}
			return "", nil, fmt.Errorf("missing value for parameter %d", p.Index)
		}
		if p.Offset < last || p.Offset+width > len(q.Text) {
			return "", nil, fmt.Errorf("parameter at offset %d is outside the query", p.Offset)
		}
		sb.WriteString(q.Text[last:p.Offset])
		sb.WriteString(d.FormatPlaceholder(i + 1))
		args = append(args, v)
		last = p.Offset + width
	}
	sb.WriteString(q.Text[last:])
	return sb.String(), args, nil
}

// rowKeywords start statements that produce a result set.
var rowKeywords = []string{"SELECT", "WITH", "VALUES", "SHOW", "PRAGMA", "EXPLAIN", "TABLE", "DESCRIBE", "SUMMARIZE", "FROM"}

// ReturnsRows guesses whether a statement yields a result set.
func ReturnsRows(text string) bool {
	s := strings.TrimLeft(stripLeadingComments(text), "( \t\r\n")
	upper := strings.ToUpper(s)
	for _, kw := range rowKeywords {
		if strings.HasPrefix(upper, kw) && (len(upper) == len(kw) || !isWordByte(upper[len(kw)])) {
			return true
		}
	}
	return strings.Contains(upper, " RETURNING ")
}

func stripLeadingComments(s string) string {
	for {
		s = strings.TrimLeft(s, " \t\r\n")
		switch {
		case strings.HasPrefix(s, "--"):
			i := strings.IndexByte(s, '\n')
			if i < 0 {
				return ""
			}
			s = s[i+1:]
		case strings.HasPrefix(s, "/*"):
			i := strings.Index(s, "*/")
			if i < 0 {
				return ""
			}
			s = s[i+2:]
		default:
			return s
		}
	}
}

func isWordByte(c byte) bool {
	return c == '_' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
