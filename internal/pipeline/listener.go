package pipeline

import "github.com/leapstack-labs/leapgrid/pkg/core"

// Listener observes a script execution. Calls arrive on the goroutine
// running the script, in order.
type Listener interface {
	OnStartScript(queries []*core.Query)
	OnStartQuery(q *core.Query)
	OnEndQuery(r *core.QueryResult)
	OnEndScript(stats core.ExecutionStatistics, hadErrors bool)
}

// NopListener ignores every event. Embed it to implement part of Listener.
type NopListener struct{}

func (NopListener) OnStartScript([]*core.Query)                {}
func (NopListener) OnStartQuery(*core.Query)                   {}
func (NopListener) OnEndQuery(*core.QueryResult)               {}
func (NopListener) OnEndScript(core.ExecutionStatistics, bool) {}

// Multi fans events out to several listeners. Nil entries are skipped.
func Multi(listeners ...Listener) Listener {
	var out multi
	for _, l := range listeners {
		if l != nil {
			out = append(out, l)
		}
	}
	return out
}

type multi []Listener

func (m multi) OnStartScript(queries []*core.Query) {
	for _, l := range m {
		l.OnStartScript(queries)
	}
}

func (m multi) OnStartQuery(q *core.Query) {
	for _, l := range m {
		l.OnStartQuery(q)
	}
}

func (m multi) OnEndQuery(r *core.QueryResult) {
	for _, l := range m {
		l.OnEndQuery(r)
	}
}

func (m multi) OnEndScript(stats core.ExecutionStatistics, hadErrors bool) {
	for _, l := range m {
		l.OnEndScript(stats, hadErrors)
	}
}

// ResultReceiver takes the rows of each result set a statement yields.
// set is 0 for the first result set of a statement.
type ResultReceiver interface {
	ReceiveResultSet(q *core.Query, set int, columns []core.Column, rows [][]any) error
}

// ReceiverFunc adapts a function to ResultReceiver.
type ReceiverFunc func(q *core.Query, set int, columns []core.Column, rows [][]any) error

// ReceiveResultSet calls f.
func (f ReceiverFunc) ReceiveResultSet(q *core.Query, set int, columns []core.Column, rows [][]any) error {
	return f(q, set, columns, rows)
}
