package persist

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/leapstack-labs/leapgrid/internal/model"
	"github.com/leapstack-labs/leapgrid/pkg/core"
)

// Settings controls how a plan is applied.
type Settings struct {
	UseSavepoints   bool
	AllOrNothing    bool
	RefreshInserted bool
	Timeout         time.Duration
}

// Result is what Execute brings back for the coordinator to apply.
type Result struct {
	Outcomes  []core.ActionOutcome
	Refreshed map[int][]any // row ID -> values re-read after insert
}

// Report summarizes an apply or a dry run.
type Report struct {
	DryRun    bool
	Inserts   int
	Updates   int
	Deletes   int
	Succeeded int
	Failed    int
	Script    string
	Outcomes  []core.ActionOutcome
	Duration  time.Duration
}

// Err joins the errors of failed actions.
func (r *Report) Err() error {
	var errs []error
	for _, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errors.Join(errs...)
}

// Persister applies plans.
type Persister struct {
	logger *slog.Logger
}

// New creates a persister. If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Persister {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Persister{logger: logger}
}

// DryRun renders the plan without touching the source.
func (p *Persister) DryRun(plan *Plan, pv Previewer) (*Report, error) {
	rep := &Report{DryRun: true}
	rep.Inserts, rep.Updates, rep.Deletes = plan.Counts()
	if plan.Empty() {
		return rep, nil
	}
	script, err := plan.Script(pv)
	if err != nil {
		return nil, err
	}
	rep.Script = script
	return rep, nil
}

// Execute runs the plan on ectx. Every action gets an outcome; one failed
// row does not stop the rest unless AllOrNothing is set. A returned error
// means the source failed as a whole and no outcome can be trusted.
func (p *Persister) Execute(ctx context.Context, ectx core.ExecutionContext, plan *Plan, s Settings) (*Result, error) {
	res := &Result{}
	if plan.Empty() {
		return res, nil
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	opts := core.PersistOptions{
		UseSavepoints: s.UseSavepoints && plan.Entity.Has(core.CapSavepoints),
		AllOrNothing:  s.AllOrNothing,
	}
	p.logger.Debug("persisting changes",
		slog.String("entity", plan.Entity.Name),
		slog.Int("actions", len(plan.Actions)),
		slog.Bool("savepoints", opts.UseSavepoints))

	outcomes, err := ectx.Persist(ctx, plan.Actions, opts)
	if err != nil {
		return nil, err
	}
	res.Outcomes = outcomes

	if s.RefreshInserted && plan.Identifier.Valid() {
		res.Refreshed = p.refreshInserted(ctx, ectx, plan, outcomes)
	}
	return res, nil
}

// refreshInserted re-reads inserted rows by key to pick up source defaults.
// Failures only cost the refresh.
func (p *Persister) refreshInserted(ctx context.Context, ectx core.ExecutionContext, plan *Plan, outcomes []core.ActionOutcome) map[int][]any {
	out := map[int][]any{}
	for _, o := range outcomes {
		act := o.Action
		if act == nil || act.Kind != core.ActionInsert || !o.Succeeded() {
			continue
		}
		filter, ok := plan.keyFilter(act, o.Returned)
		if !ok {
			continue
		}
		values, err := p.readOne(ctx, ectx, plan, filter)
		if err != nil {
			p.logger.Warn("failed to refresh inserted row", slog.String("entity", act.Entity), slog.String("error", err.Error()))
			continue
		}
		if values != nil {
			out[act.RowID] = values
		}
	}
	return out
}

// keyFilter builds an equality filter on the identifier from the inserted
// values and anything read back.
func (p *Plan) keyFilter(act *core.PersistAction, returned map[string]any) (*core.DataFilter, bool) {
	f := &core.DataFilter{}
	for _, key := range p.Identifier.Columns {
		v := lookup(returned, key)
		if v == nil {
			for i, c := range act.Columns {
				if strings.EqualFold(c, key) {
					v = act.Values[i]
				}
			}
		}
		if v == nil {
			return nil, false
		}
		f.SetCondition(key, core.OpEqual, v)
	}
	return f, true
}

func (p *Persister) readOne(ctx context.Context, ectx core.ExecutionContext, plan *Plan, filter *core.DataFilter) ([]any, error) {
	cur, _, err := ectx.Read(ctx, plan.Container, filter, 0, 1)
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	rows, err := cur.Fetch(ctx, 0, 1)
	if err != nil || len(rows) == 0 {
		return nil, err
	}

	// Map source columns onto the model's column order.
	src := cur.Columns()
	values := make([]any, len(plan.Columns))
	for i, name := range plan.Columns {
		for j, c := range src {
			if strings.EqualFold(c.Name, name) && j < len(rows[0]) {
				values[i] = rows[0][j]
				break
			}
		}
	}
	return values, nil
}

// Apply folds outcomes into the model: succeeded rows become NORMAL with
// read-back values merged, succeeded deletes leave the model and failed
// rows keep their pending state. Rows that vanished in the meantime are
// skipped.
func (p *Persister) Apply(m *model.Model, plan *Plan, res *Result) *Report {
	rep := &Report{Outcomes: res.Outcomes}
	rep.Inserts, rep.Updates, rep.Deletes = plan.Counts()

	for _, o := range res.Outcomes {
		if !o.Succeeded() {
			rep.Failed++
			continue
		}
		rep.Succeeded++
		act := o.Action
		row := m.RowByID(act.RowID)
		if row == nil {
			continue
		}
		if err := m.CommitRow(row, plan.snapshots[act.RowID], o.Returned); err != nil {
			p.logger.Debug("row changed during persist", slog.Int("row", act.RowID), slog.String("error", err.Error()))
			continue
		}
		if values, ok := res.Refreshed[act.RowID]; ok && row.State == model.StateNormal {
			m.RefreshRow(row, values)
		}
	}

	p.logger.Info("changes applied",
		slog.Int("succeeded", rep.Succeeded),
		slog.Int("failed", rep.Failed))
	return rep
}

func lookup(m map[string]any, key string) any {
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return nil
}
