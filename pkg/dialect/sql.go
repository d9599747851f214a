package dialect

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/leapstack-labs/leapgrid/pkg/core"
)

// Statement is SQL text with its bound arguments.
type Statement struct {
	SQL  string
	Args []any
}

// args collects bound values and hands out placeholders in order.
type args struct {
	d    *Dialect
	vals []any
}

func (a *args) add(v any) string {
	a.vals = append(a.vals, v)
	return a.d.FormatPlaceholder(len(a.vals))
}

// Literal renders v as an inline SQL literal.
func (d *Dialect) Literal(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case bool:
		switch {
		case d.BoolAsWords && x:
			return "TRUE"
		case d.BoolAsWords:
			return "FALSE"
		case x:
			return "1"
		default:
			return "0"
		}
	case int:
		return strconv.Itoa(x)
	case int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", x)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case []byte:
		return "X'" + hex.EncodeToString(x) + "'"
	case time.Time:
		return quoteString(x.Format("2006-01-02 15:04:05.999999999Z07:00"))
	case string:
		return quoteString(x)
	case fmt.Stringer:
		return quoteString(x.String())
	default:
		return quoteString(fmt.Sprintf("%v", x))
	}
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// From renders the FROM target of a container.
func (d *Dialect) From(c core.DataContainer) string {
	if c.IsQuery() {
		return "(" + strings.TrimRight(strings.TrimSpace(c.Query), ";") + ") src"
	}
	return d.QuoteQualified(c.Name)
}

// where renders the predicate part of a filter; empty when unfiltered.
func (d *Dialect) where(f *core.DataFilter, a *args) string {
	if f == nil {
		return ""
	}
	var preds []string
	for _, c := range f.Constraints {
		if !c.HasCondition() {
			continue
		}
		col := d.QuoteIdentifierIfNeeded(c.Column)
		switch {
		case c.Operator.Unary():
			preds = append(preds, col+" "+string(c.Operator))
		case c.Operator == core.OpIn:
			ph := make([]string, len(c.Values))
			for i, v := range c.Values {
				ph[i] = a.add(v)
			}
			preds = append(preds, col+" IN ("+strings.Join(ph, ", ")+")")
		default:
			preds = append(preds, col+" "+string(c.Operator)+" "+a.add(c.Values[0]))
		}
	}
	if w := strings.TrimSpace(f.Where); w != "" {
		preds = append(preds, "("+w+")")
	}
	if len(preds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(preds, " AND ")
}

// OrderBy renders the ORDER BY clause of a filter; empty when unordered.
func (d *Dialect) OrderBy(f *core.DataFilter) string {
	ordered := f.OrderedConstraints()
	if len(ordered) == 0 {
		return ""
	}
	parts := make([]string, len(ordered))
	for i, c := range ordered {
		parts[i] = d.QuoteIdentifierIfNeeded(c.Column)
		if c.OrderDescending {
			parts[i] += " DESC"
		}
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

// Select renders a paged read of a container with the filter pushed down.
// maxRows <= 0 reads everything from offset.
func (d *Dialect) Select(c core.DataContainer, f *core.DataFilter, offset, maxRows int) Statement {
	a := &args{d: d}
	var sb strings.Builder
	sb.WriteString("SELECT * FROM ")
	sb.WriteString(d.From(c))
	sb.WriteString(d.where(f, a))
	sb.WriteString(d.OrderBy(f))
	if maxRows > 0 {
		sb.WriteString(" LIMIT " + strconv.Itoa(maxRows))
	}
	if offset > 0 {
		if maxRows <= 0 && d.UnboundedLimit != "" {
			// SQLite only accepts OFFSET after a LIMIT.
			sb.WriteString(" LIMIT " + d.UnboundedLimit)
		}
		sb.WriteString(" OFFSET " + strconv.Itoa(offset))
	}
	return Statement{SQL: sb.String(), Args: a.vals}
}

// Count renders a row count of a container with the filter's predicates.
func (d *Dialect) Count(c core.DataContainer, f *core.DataFilter) Statement {
	a := &args{d: d}
	return Statement{SQL: "SELECT COUNT(*) FROM " + d.From(c) + d.where(f, a), Args: a.vals}
}

// keyPredicate renders "k1 = ? AND k2 IS NULL" for an identifier.
func (d *Dialect) keyPredicate(cols []string, vals []any, a *args, literal bool) string {
	parts := make([]string, len(cols))
	for i, col := range cols {
		q := d.QuoteIdentifierIfNeeded(col)
		switch {
		case vals[i] == nil:
			parts[i] = q + " IS NULL"
		case literal:
			parts[i] = q + " = " + d.Literal(vals[i])
		default:
			parts[i] = q + " = " + a.add(vals[i])
		}
	}
	return strings.Join(parts, " AND ")
}

// Action renders a persist action as a parameterized statement.
func (d *Dialect) Action(act *core.PersistAction) (Statement, error) {
	return d.render(act, false)
}

// Preview renders a persist action with values inlined. Used for dry runs.
func (d *Dialect) Preview(act *core.PersistAction) (string, error) {
	st, err := d.render(act, true)
	return st.SQL, err
}

func (d *Dialect) render(act *core.PersistAction, literal bool) (Statement, error) {
	a := &args{d: d}
	value := func(v any) string {
		if literal {
			return d.Literal(v)
		}
		return a.add(v)
	}
	table := d.QuoteQualified(act.Entity)

	switch act.Kind {
	case core.ActionInsert:
		if len(act.Columns) == 0 {
			return Statement{SQL: "INSERT INTO " + table + " DEFAULT VALUES" + d.returning(act)}, nil
		}
		cols := make([]string, len(act.Columns))
		vals := make([]string, len(act.Columns))
		for i, col := range act.Columns {
			cols[i] = d.QuoteIdentifierIfNeeded(col)
			vals[i] = value(act.Values[i])
		}
		sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)%s",
			table, strings.Join(cols, ", "), strings.Join(vals, ", "), d.returning(act))
		return Statement{SQL: sql, Args: a.vals}, nil

	case core.ActionUpdate:
		if len(act.KeyColumns) == 0 {
			return Statement{}, core.NewIdentifierError(act.Entity)
		}
		if len(act.Columns) == 0 {
			return Statement{}, fmt.Errorf("update of %s has no changed columns", act.Entity)
		}
		sets := make([]string, len(act.Columns))
		for i, col := range act.Columns {
			sets[i] = d.QuoteIdentifierIfNeeded(col) + " = " + value(act.Values[i])
		}
		sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
			table, strings.Join(sets, ", "), d.keyPredicate(act.KeyColumns, act.KeyValues, a, literal))
		return Statement{SQL: sql, Args: a.vals}, nil

	case core.ActionDelete:
		if len(act.KeyColumns) == 0 {
			return Statement{}, core.NewIdentifierError(act.Entity)
		}
		sql := fmt.Sprintf("DELETE FROM %s WHERE %s",
			table, d.keyPredicate(act.KeyColumns, act.KeyValues, a, literal))
		return Statement{SQL: sql, Args: a.vals}, nil

	default:
		return Statement{}, fmt.Errorf("unknown action kind %d", act.Kind)
	}
}

func (d *Dialect) returning(act *core.PersistAction) string {
	if !d.Returning || len(act.Returning) == 0 {
		return ""
	}
	cols := make([]string, len(act.Returning))
	for i, c := range act.Returning {
		cols[i] = d.QuoteIdentifierIfNeeded(c)
	}
	return " RETURNING " + strings.Join(cols, ", ")
}

// SavepointSQL returns the statement that sets a savepoint.
func (d *Dialect) SavepointSQL(name string) string {
	return "SAVEPOINT " + d.QuoteIdentifierIfNeeded(name)
}

// RollbackToSQL returns the statement that rolls back to a savepoint.
func (d *Dialect) RollbackToSQL(name string) string {
	return "ROLLBACK TO SAVEPOINT " + d.QuoteIdentifierIfNeeded(name)
}

// ReleaseSQL returns the statement that releases a savepoint.
func (d *Dialect) ReleaseSQL(name string) string {
	return "RELEASE SAVEPOINT " + d.QuoteIdentifierIfNeeded(name)
}
