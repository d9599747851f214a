package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/leapstack-labs/leapgrid/internal/session"
	"github.com/leapstack-labs/leapgrid/internal/model"
	"github.com/leapstack-labs/leapgrid/pkg/core"
)

// renderRows writes a result set in the given format: table, json, csv or md.
func renderRows(w io.Writer, format string, cols []string, rows [][]any) error {
	if format == "json" {
		return renderJSON(w, cols, rows)
	}
	if len(rows) == 0 && format != "csv" {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return nil
	}

	t := newTable(w, cols)
	for _, r := range rows {
		row := make(table.Row, len(cols))
		for i := range cols {
			if i < len(r) {
				row[i] = formatValue(r[i])
			}
		}
		t.AppendRow(row)
	}
	switch format {
	case "csv":
		t.RenderCSV()
	case "md", "markdown":
		t.RenderMarkdown()
	default:
		t.Render()
		_, _ = fmt.Fprintf(w, "(%d rows)\n", len(rows))
	}
	return nil
}

func newTable(w io.Writer, cols []string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	header := make(table.Row, len(cols))
	for i, c := range cols {
		header[i] = c
	}
	t.AppendHeader(header)
	return t
}

func renderJSON(w io.Writer, cols []string, rows [][]any) error {
	results := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		obj := make(map[string]any, len(cols))
		for i, c := range cols {
			if i < len(r) {
				obj[c] = jsonValue(r[i])
			}
		}
		results = append(results, obj)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func jsonValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func columnNames(cols []core.Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// stateMarks are shown in the row gutter.
var stateMarks = map[model.RowState]string{
	model.StateNormal:   "",
	model.StateAdded:    "+",
	model.StateModified: "*",
	model.StateRemoved:  "-",
}

// renderSnapshot writes the rows of a session with a gutter holding the row
// number, the focus marker and the row state. Column headers carry the sort
// direction. Changed cells are suffixed with '*'.
func renderSnapshot(w io.Writer, format string, snap session.Snapshot) error {
	if !snap.Opened {
		_, _ = fmt.Fprintln(w, "(nothing open)")
		return nil
	}
	if format != "table" {
		rows := make([][]any, len(snap.Rows))
		for i, r := range snap.Rows {
			rows[i] = r.Values
		}
		return renderRows(w, format, columnNames(snap.Columns), rows)
	}

	cols := []string{"#"}
	for _, c := range snap.Columns {
		name := c.Name
		if fc := snap.Filter.Constraint(c.Name); fc != nil && fc.OrderPosition > 0 {
			if fc.OrderDescending {
				name += " v"
			} else {
				name += " ^"
			}
		}
		if c.PrimaryKey {
			name += " (pk)"
		}
		cols = append(cols, name)
	}

	t := newTable(w, cols)
	for i, r := range snap.Rows {
		gutter := fmt.Sprintf("%d%s", r.Number, stateMarks[r.State])
		if i == snap.FocusRow {
			gutter = ">" + gutter
		}
		row := table.Row{gutter}
		for j, v := range r.Values {
			cell := formatValue(v)
			if j < len(r.Changed) && r.Changed[j] {
				cell += "*"
			}
			row = append(row, cell)
		}
		t.AppendRow(row)
	}
	t.Render()

	more := ""
	if snap.HasMore {
		more = ", more available"
	}
	_, _ = fmt.Fprintf(w, "%s: %d row(s)%s\n", snap.Container, len(snap.Rows), more)
	if snap.Status != "" {
		_, _ = fmt.Fprintln(w, newStyles(w).Muted.Render(snap.Status))
	}
	return nil
}
