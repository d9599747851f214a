package core

import (
	"reflect"
	"slices"
	"strings"
)

// Operator is a comparison applied by a filter constraint.
type Operator string

// Supported operators.
const (
	OpNone      Operator = ""
	OpEqual     Operator = "="
	OpNotEqual  Operator = "<>"
	OpGreater   Operator = ">"
	OpGreaterEq Operator = ">="
	OpLess      Operator = "<"
	OpLessEq    Operator = "<="
	OpLike      Operator = "LIKE"
	OpIn        Operator = "IN"
	OpIsNull    Operator = "IS NULL"
	OpNotNull   Operator = "IS NOT NULL"
)

// Unary reports whether the operator takes no value.
func (o Operator) Unary() bool {
	return o == OpIsNull || o == OpNotNull
}

// FilterConstraint is the per-column part of a DataFilter.
type FilterConstraint struct {
	Column   string   `yaml:"column"`
	Operator Operator `yaml:"operator,omitempty"`
	Values   []any    `yaml:"values,omitempty"`
	// OrderPosition is 1-based; 0 means the column is not ordered.
	OrderPosition   int  `yaml:"order_position,omitempty"`
	OrderDescending bool `yaml:"order_descending,omitempty"`
	Hidden          bool `yaml:"hidden,omitempty"`
}

// HasCondition reports whether the constraint restricts rows.
func (c *FilterConstraint) HasCondition() bool {
	if c.Operator == OpNone {
		return false
	}
	return c.Operator.Unary() || len(c.Values) > 0
}

// DataFilter combines ordering and predicate constraints for a result session.
type DataFilter struct {
	Constraints []*FilterConstraint `yaml:"constraints,omitempty"`
	Where       string              `yaml:"where,omitempty"` // raw condition appended with AND
}

// Clone returns a deep copy of the filter. Nil clones to nil.
func (f *DataFilter) Clone() *DataFilter {
	if f == nil {
		return nil
	}
	out := &DataFilter{Where: f.Where, Constraints: make([]*FilterConstraint, len(f.Constraints))}
	for i, c := range f.Constraints {
		cc := *c
		cc.Values = slices.Clone(c.Values)
		out.Constraints[i] = &cc
	}
	return out
}

// Constraint returns the constraint for column, or nil.
func (f *DataFilter) Constraint(column string) *FilterConstraint {
	if f == nil {
		return nil
	}
	for _, c := range f.Constraints {
		if strings.EqualFold(c.Column, column) {
			return c
		}
	}
	return nil
}

func (f *DataFilter) constraintFor(column string) *FilterConstraint {
	if c := f.Constraint(column); c != nil {
		return c
	}
	c := &FilterConstraint{Column: column}
	f.Constraints = append(f.Constraints, c)
	return c
}

// SetCondition sets the predicate for column, keeping its ordering.
func (f *DataFilter) SetCondition(column string, op Operator, values ...any) {
	c := f.constraintFor(column)
	c.Operator = op
	c.Values = values
}

// HasConditions reports whether any predicate is set.
func (f *DataFilter) HasConditions() bool {
	if f == nil {
		return false
	}
	if strings.TrimSpace(f.Where) != "" {
		return true
	}
	for _, c := range f.Constraints {
		if c.HasCondition() {
			return true
		}
	}
	return false
}

// HasOrdering reports whether any column is ordered.
func (f *DataFilter) HasOrdering() bool {
	return len(f.OrderedConstraints()) > 0
}

// OrderedConstraints returns ordered constraints by position.
func (f *DataFilter) OrderedConstraints() []*FilterConstraint {
	if f == nil {
		return nil
	}
	var out []*FilterConstraint
	for _, c := range f.Constraints {
		if c.OrderPosition > 0 {
			out = append(out, c)
		}
	}
	slices.SortStableFunc(out, func(a, b *FilterConstraint) int {
		return a.OrderPosition - b.OrderPosition
	})
	return out
}

// ClearOrdering removes ordering from every column.
func (f *DataFilter) ClearOrdering() {
	if f == nil {
		return
	}
	for _, c := range f.Constraints {
		c.OrderPosition = 0
		c.OrderDescending = false
	}
}

// ToggleSort cycles ordering of column: unsorted, ascending, descending, unsorted.
// forceAsc and forceDesc set the direction directly. Unless additive is set,
// ordering of every other column is reset.
func (f *DataFilter) ToggleSort(column string, forceAsc, forceDesc, additive bool) {
	c := f.constraintFor(column)

	if !additive {
		for _, other := range f.Constraints {
			if other != c {
				other.OrderPosition = 0
				other.OrderDescending = false
			}
		}
	}

	switch {
	case forceAsc:
		f.order(c, false)
	case forceDesc:
		f.order(c, true)
	case c.OrderPosition == 0:
		f.order(c, false)
	case !c.OrderDescending:
		c.OrderDescending = true
	default:
		c.OrderPosition = 0
		c.OrderDescending = false
	}
	f.renumber()
}

func (f *DataFilter) order(c *FilterConstraint, desc bool) {
	if c.OrderPosition == 0 {
		last := 0
		for _, o := range f.Constraints {
			last = max(last, o.OrderPosition)
		}
		c.OrderPosition = last + 1
	}
	c.OrderDescending = desc
}

func (f *DataFilter) renumber() {
	for i, c := range f.OrderedConstraints() {
		c.OrderPosition = i + 1
	}
}

// EqualPredicates compares only the row-restricting part of two filters.
// Ordering and visibility are ignored. Nil equals an empty filter.
func (f *DataFilter) EqualPredicates(other *DataFilter) bool {
	if strings.TrimSpace(f.where()) != strings.TrimSpace(other.where()) {
		return false
	}
	a, b := f.predicates(), other.predicates()
	if len(a) != len(b) {
		return false
	}
	for col, ca := range a {
		cb, ok := b[col]
		if !ok || ca.Operator != cb.Operator || !reflect.DeepEqual(ca.Values, cb.Values) {
			return false
		}
	}
	return true
}

// Equal compares predicates and ordering.
func (f *DataFilter) Equal(other *DataFilter) bool {
	if !f.EqualPredicates(other) {
		return false
	}
	oa, ob := f.OrderedConstraints(), other.OrderedConstraints()
	if len(oa) != len(ob) {
		return false
	}
	for i := range oa {
		if !strings.EqualFold(oa[i].Column, ob[i].Column) || oa[i].OrderDescending != ob[i].OrderDescending {
			return false
		}
	}
	return true
}

func (f *DataFilter) where() string {
	if f == nil {
		return ""
	}
	return f.Where
}

func (f *DataFilter) predicates() map[string]*FilterConstraint {
	out := map[string]*FilterConstraint{}
	if f == nil {
		return out
	}
	for _, c := range f.Constraints {
		if c.HasCondition() {
			out[strings.ToLower(c.Column)] = c
		}
	}
	return out
}
