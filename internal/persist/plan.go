// Package persist turns pending model edits into persist actions, applies
// them through an execution context and folds the outcomes back.
package persist

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapgrid/internal/model"
	"github.com/leapstack-labs/leapgrid/pkg/core"
)

// Previewer renders an action as a standalone statement for dry runs.
// *dialect.Dialect satisfies it.
type Previewer interface {
	Preview(act *core.PersistAction) (string, error)
}

// Plan is the set of actions for one apply, built from value snapshots so
// edits made while it runs do not leak into the statements.
type Plan struct {
	Container  core.DataContainer
	Entity     *core.Entity
	Identifier core.RowIdentifier
	Columns    []string // model column names, for mapping refreshed rows
	Actions    []*core.PersistAction

	snapshots map[int][]any // row ID -> values at plan time
}

// Counts returns the number of insert, update and delete actions.
func (p *Plan) Counts() (inserts, updates, deletes int) {
	for _, a := range p.Actions {
		switch a.Kind {
		case core.ActionInsert:
			inserts++
		case core.ActionUpdate:
			updates++
		case core.ActionDelete:
			deletes++
		}
	}
	return inserts, updates, deletes
}

// Empty reports whether there is nothing to apply.
func (p *Plan) Empty() bool {
	return p == nil || len(p.Actions) == 0
}

// BuildPlan partitions the model's dirty rows into inserts, updates and
// deletes, each in fetch order. Updates and deletes need a valid row
// identifier; without one no action is built and an identifier error is
// returned.
func BuildPlan(m *model.Model, container core.DataContainer) (*Plan, error) {
	inserts, updates, deletes := m.Pending()
	if len(inserts)+len(updates)+len(deletes) == 0 {
		return &Plan{Container: container}, nil
	}

	entity := m.Entity()
	if entity == nil || entity.Name == "" {
		return nil, core.NewIdentifierError(container.String())
	}
	plan := &Plan{
		Container:  container,
		Entity:     entity,
		Identifier: entity.BestIdentifier(),
		snapshots:  map[int][]any{},
	}
	for _, c := range m.Columns() {
		plan.Columns = append(plan.Columns, c.Name)
	}

	var keyIdx []int
	if len(updates)+len(deletes) > 0 {
		if !plan.Identifier.Valid() {
			return nil, core.NewIdentifierError(entity.Name)
		}
		for _, col := range plan.Identifier.Columns {
			i := m.ColumnIndex(col)
			if i < 0 {
				// The key is not part of the result, so rows cannot be addressed.
				return nil, core.NewIdentifierError(entity.Name)
			}
			keyIdx = append(keyIdx, i)
		}
	}

	for _, r := range inserts {
		plan.add(r, insertAction(m, entity, plan.Identifier, r))
	}
	for _, r := range updates {
		act := keyedAction(core.ActionUpdate, entity, plan.Identifier, keyIdx, r)
		for _, i := range r.ChangedColumns() {
			name := m.Columns()[i].Name
			if entity.ColumnIndex(name) < 0 {
				continue
			}
			act.Columns = append(act.Columns, name)
			act.Values = append(act.Values, r.Value(i))
		}
		if len(act.Columns) == 0 {
			continue
		}
		plan.add(r, act)
	}
	for _, r := range deletes {
		plan.add(r, keyedAction(core.ActionDelete, entity, plan.Identifier, keyIdx, r))
	}
	return plan, nil
}

func (p *Plan) add(r *model.Row, act *core.PersistAction) {
	act.RowID = r.ID()
	p.Actions = append(p.Actions, act)
	p.snapshots[r.ID()] = r.Snapshot()
}

func insertAction(m *model.Model, entity *core.Entity, id core.RowIdentifier, r *model.Row) *core.PersistAction {
	act := &core.PersistAction{Kind: core.ActionInsert, Entity: entity.Name}
	for i, c := range m.Columns() {
		ei := entity.ColumnIndex(c.Name)
		if ei < 0 {
			continue
		}
		ec := entity.Columns[ei]
		v := r.Value(i)
		if v == nil && (ec.Generated || ec.PrimaryKey) {
			// Left to the source's default or identity.
			continue
		}
		act.Columns = append(act.Columns, c.Name)
		act.Values = append(act.Values, v)
	}
	if entity.Has(core.CapReturning) {
		for _, c := range entity.Columns {
			if c.Generated || c.PrimaryKey || containsFold(id.Columns, c.Name) {
				act.Returning = append(act.Returning, c.Name)
			}
		}
	}
	return act
}

func keyedAction(kind core.ActionKind, entity *core.Entity, id core.RowIdentifier, keyIdx []int, r *model.Row) *core.PersistAction {
	act := &core.PersistAction{Kind: kind, Entity: entity.Name, KeyColumns: id.Columns}
	for _, i := range keyIdx {
		act.KeyValues = append(act.KeyValues, r.Original(i))
	}
	return act
}

// Script renders every action as a statement, one per line.
func (p *Plan) Script(pv Previewer) (string, error) {
	var sb strings.Builder
	for _, act := range p.Actions {
		stmt, err := pv.Preview(act)
		if err != nil {
			return "", fmt.Errorf("failed to render %s on %s: %w", act.Kind, act.Entity, err)
		}
		sb.WriteString(stmt)
		sb.WriteString(";\n")
	}
	return sb.String(), nil
}

func containsFold(list []string, s string) bool {
	for _, x := range list {
		if strings.EqualFold(x, s) {
			return true
		}
	}
	return false
}
