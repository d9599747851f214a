package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/leapstack-labs/leapgrid/internal/pipeline"
	"github.com/leapstack-labs/leapgrid/internal/session"
	"github.com/leapstack-labs/leapgrid/pkg/core"
	"github.com/spf13/cobra"
)

const (
	browsePrompt     = "leapgrid> "
	browseContPrompt = "     ...> "
)

// lineReader is the part of readline the browser uses.
type lineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
	Close() error
}

// scanReader reads lines from a non-interactive input.
type scanReader struct {
	sc *bufio.Scanner
}

func newScanReader(r io.Reader) *scanReader {
	return &scanReader{sc: bufio.NewScanner(r)}
}

func (s *scanReader) Readline() (string, error) {
	if s.sc.Scan() {
		return s.sc.Text(), nil
	}
	if err := s.sc.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (s *scanReader) SetPrompt(string) {}

func (s *scanReader) Close() error { return nil }

// NewBrowseCommand creates the browse command.
func NewBrowseCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "browse [table]",
		Short: "Browse and edit table data interactively",
		Long: `Open an interactive result session against the configured target.

Rows are read a segment at a time. Filters and ordering are pushed to the
database when it supports them and applied locally otherwise. Edits are
kept pending until .apply writes them back in one transaction.

SQL ending with a semicolon is executed as a script; its last result set
replaces the displayed rows.`,
		Example: `  # Browse a table
  leapgrid browse orders

  # Start empty and open tables from the prompt
  leapgrid browse

  # Script a session
  printf '.where qty >= 10\n.sort qty desc\n' | leapgrid browse orders`,
		Args: cobra.MaximumNArgs(1),
		RunE: runBrowse,
	}

	cmd.Flags().Int("segment-size", 0, "Rows read per segment")
	cmd.Flags().Bool("restore-filter", false, "Apply the saved filter when a table is opened")
	cmd.Flags().String("locale", "", "Collation locale for local ordering")

	return cmd
}

func runBrowse(cmd *cobra.Command, args []string) error {
	cc := NewCommandContext(cmd)
	cfg, err := cc.loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	target, err := cc.OpenTarget(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = target.Close() }()

	opts := SessionOptions(cfg, target, nil, cc.Logger)
	store, err := cc.OpenStore(cfg)
	if err != nil {
		cc.Logger.Warn("saved filters and run log disabled", "error", err)
	} else {
		defer func() { _ = store.Close() }()
		opts.Store = store
	}

	sess := session.New(target.Source, opts)
	defer func() { _ = sess.Close() }()

	b := newBrowser(sess, cmd.OutOrStdout(), cmd.ErrOrStderr(), cfg.OutputFormat)

	var lr lineReader
	if stdinIsTerminal() {
		rl, err := readline.NewEx(&readline.Config{
			Prompt:          browsePrompt,
			HistoryFile:     filepath.Join(filepath.Dir(cfg.StatePath), "browse_history"),
			AutoComplete:    b.completer(),
			InterruptPrompt: "^C",
			EOFPrompt:       ".quit",
		})
		if err != nil {
			return fmt.Errorf("failed to initialize prompt: %w", err)
		}
		lr = rl
		_, _ = fmt.Fprintln(b.out, b.outStyles.Bold.Render(fmt.Sprintf("leapgrid (%s)", target.Source)))
		_, _ = fmt.Fprintln(b.out, b.outStyles.Muted.Render("Type .help for commands, .quit to exit"))
	} else {
		lr = newScanReader(cmd.InOrStdin())
	}
	defer func() { _ = lr.Close() }()

	if len(args) == 1 {
		b.run(ctx, ".open "+args[0])
	}
	return b.loop(ctx, lr)
}

// browser drives a session from dot-commands and SQL lines.
type browser struct {
	sess    *session.Session
	out     io.Writer
	errOut  io.Writer
	format  string
	columns []string

	outStyles *styles
	errStyles *styles
}

func newBrowser(sess *session.Session, out, errOut io.Writer, format string) *browser {
	return &browser{
		sess:      sess,
		out:       out,
		errOut:    errOut,
		format:    format,
		outStyles: newStyles(out),
		errStyles: newStyles(errOut),
	}
}

func (b *browser) loop(ctx context.Context, lr lineReader) error {
	var buf strings.Builder
	for {
		line, err := lr.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			b.sess.CancelFetch()
			buf.Reset()
			lr.SetPrompt(browsePrompt)
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if buf.Len() == 0 && strings.HasPrefix(line, ".") {
			if quit := b.run(ctx, line); quit {
				return nil
			}
			continue
		}

		buf.WriteString(line)
		if !strings.HasSuffix(line, ";") {
			buf.WriteString("\n")
			lr.SetPrompt(browseContPrompt)
			continue
		}
		lr.SetPrompt(browsePrompt)
		text := buf.String()
		buf.Reset()
		b.execute(ctx, text)
	}
}

func (b *browser) fail(err error) {
	_, _ = fmt.Fprintf(b.errOut, "%s %v\n", b.errStyles.Error.Render("Error:"), err)
}

func (b *browser) execute(ctx context.Context, text string) {
	sum, err := b.sess.ExecuteScript(ctx, text, nil)
	if err != nil {
		b.fail(err)
	}
	if sum == nil {
		return
	}
	for _, r := range sum.Results {
		if r.Err != nil {
			b.fail(r.Err)
		}
	}
	b.show(ctx)
}

// show waits for pending fetches and renders the session.
func (b *browser) show(ctx context.Context) {
	if err := b.sess.Wait(ctx); err != nil {
		b.fail(err)
		return
	}
	snap, err := b.sess.Snapshot()
	if err != nil {
		b.fail(err)
		return
	}
	b.columns = columnNames(snap.Columns)
	if err := renderSnapshot(b.out, b.format, snap); err != nil {
		b.fail(err)
	}
}

// run handles one dot-command and reports whether the browser should quit.
func (b *browser) run(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	command, args := strings.ToLower(parts[0]), parts[1:]

	var err error
	switch command {
	case ".quit", ".exit":
		return true
	case ".help":
		printBrowseHelp(b.out)
		return false
	case ".show":
		b.show(ctx)
		return false
	case ".open":
		if len(args) != 1 {
			err = errors.New("usage: .open <table>")
			break
		}
		err = b.sess.Open(ctx, core.DataContainer{Name: args[0]})
	case ".query":
		q := strings.TrimSpace(strings.TrimPrefix(line, parts[0]))
		if q == "" {
			err = errors.New("usage: .query <select>")
			break
		}
		err = b.sess.Open(ctx, core.DataContainer{Query: strings.TrimSuffix(q, ";")})
	case ".run":
		stmt := strings.TrimSpace(strings.TrimPrefix(line, parts[0]))
		if stmt == "" {
			err = errors.New("usage: .run <statement>")
			break
		}
		b.runImmediate(ctx, stmt)
		return false
	case ".next":
		err = b.sess.ReadNextSegment()
	case ".all":
		err = b.sess.ReadAllData()
	case ".refresh":
		err = b.sess.Refresh()
	case ".where":
		err = b.where(args)
	case ".unwhere":
		err = b.unwhere(args)
	case ".sort":
		err = b.sort(args)
	case ".back":
		err = b.sess.Back()
	case ".forward":
		err = b.sess.Forward()
	case ".history":
		if len(args) == 0 {
			b.history()
			return false
		}
		var pos int
		if pos, err = strconv.Atoi(args[0]); err != nil {
			err = fmt.Errorf("invalid history position %q", args[0])
		} else {
			err = b.sess.NavigateHistory(pos - 1)
		}
	case ".focus":
		var rows []int
		if rows, err = parseRows(args, 1); err == nil {
			err = b.sess.SetFocusRow(rows[0])
		}
	case ".select":
		var rows []int
		if rows, err = parseRows(args, 0); err == nil {
			err = b.sess.Select(rows...)
		}
	case ".set":
		err = b.set(args)
	case ".add":
		_, err = b.sess.AddNewRow(len(args) > 0 && args[0] == "copy", true)
	case ".delete":
		var n int
		if n, err = b.sess.DeleteSelectedRows(); err == nil {
			_, _ = fmt.Fprintf(b.out, "%d row(s) marked for deletion\n", n)
		}
	case ".apply":
		if len(args) > 0 && args[0] == "dry" {
			b.dryRun(ctx)
			return false
		}
		_, err = b.sess.ApplyChanges(ctx, false)
	case ".reject":
		err = b.sess.RejectChanges()
	case ".key":
		if len(args) == 0 {
			err = errors.New("usage: .key <column>...")
			break
		}
		err = b.sess.DeclareVirtualKey(args...)
	case ".count":
		var n int64
		if n, err = b.sess.CountRows(ctx); err == nil {
			_, _ = fmt.Fprintf(b.out, "%d row(s)\n", n)
			return false
		}
	case ".save":
		if err = b.sess.SaveFilter(); err == nil {
			_, _ = fmt.Fprintln(b.out, b.outStyles.Success.Render("filter saved"))
			return false
		}
	default:
		_, _ = fmt.Fprintln(b.errOut, b.errStyles.Warning.Render(
			fmt.Sprintf("Unknown command: %s (type .help for commands)", command)))
		return false
	}

	if err != nil {
		b.fail(err)
		return false
	}
	b.show(ctx)
	return false
}

// runImmediate prints every result set of one statement.
func (b *browser) runImmediate(ctx context.Context, stmt string) {
	recv := pipeline.ReceiverFunc(func(_ *core.Query, set int, columns []core.Column, rows [][]any) error {
		_, _ = fmt.Fprintf(b.out, "-- result set %d\n", set+1)
		return renderRows(b.out, b.format, columnNames(columns), rows)
	})
	res, err := b.sess.ExecuteImmediate(ctx, stmt, nil, recv)
	if err != nil {
		b.fail(err)
		return
	}
	if res.Err != nil {
		b.fail(res.Err)
		return
	}
	_, _ = fmt.Fprintln(b.out, b.outStyles.Muted.Render(core.NewQueryExecEvent(res.Query.Text, res.Stats, nil).Format()))
}

func (b *browser) currentFilter() (*core.DataFilter, error) {
	snap, err := b.sess.Snapshot()
	if err != nil {
		return nil, err
	}
	if f := snap.Filter.Clone(); f != nil {
		return f, nil
	}
	return &core.DataFilter{}, nil
}

var operators = map[string]core.Operator{
	"=":       core.OpEqual,
	"<>":      core.OpNotEqual,
	"!=":      core.OpNotEqual,
	">":       core.OpGreater,
	">=":      core.OpGreaterEq,
	"<":       core.OpLess,
	"<=":      core.OpLessEq,
	"like":    core.OpLike,
	"in":      core.OpIn,
	"null":    core.OpIsNull,
	"notnull": core.OpNotNull,
}

func (b *browser) where(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: .where <column> <op> [value...]")
	}
	op, ok := operators[strings.ToLower(args[1])]
	if !ok {
		return fmt.Errorf("unknown operator %q", args[1])
	}
	values := make([]any, 0, len(args)-2)
	for _, a := range args[2:] {
		values = append(values, parseValue(a))
	}
	if !op.Unary() && len(values) == 0 {
		return fmt.Errorf("operator %s needs a value", op)
	}
	f, err := b.currentFilter()
	if err != nil {
		return err
	}
	f.SetCondition(args[0], op, values...)
	return b.sess.SetDataFilter(f, true)
}

func (b *browser) unwhere(args []string) error {
	f, err := b.currentFilter()
	if err != nil {
		return err
	}
	if len(args) == 0 {
		f.Where = ""
		for _, c := range f.Constraints {
			c.Operator, c.Values = core.OpNone, nil
		}
	} else {
		f.SetCondition(args[0], core.OpNone)
	}
	return b.sess.SetDataFilter(f, true)
}

func (b *browser) sort(args []string) error {
	if len(args) == 0 || len(args) > 2 {
		return errors.New("usage: .sort [+]<column> [asc|desc]")
	}
	var asc, desc bool
	if len(args) == 2 {
		switch strings.ToLower(args[1]) {
		case "asc":
			asc = true
		case "desc":
			desc = true
		default:
			return fmt.Errorf("unknown direction %q", args[1])
		}
	}
	if col, ok := strings.CutPrefix(args[0], "+"); ok {
		return b.sess.AppendSortOrder(col, asc, desc)
	}
	return b.sess.ToggleSortOrder(args[0], asc, desc)
}

func (b *browser) set(args []string) error {
	if len(args) < 3 {
		return errors.New("usage: .set <row> <column> <value>")
	}
	row, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid row %q", args[0])
	}
	col := -1
	for i, name := range b.columns {
		if strings.EqualFold(name, args[1]) {
			col = i
			break
		}
	}
	if col < 0 {
		return fmt.Errorf("unknown column %q", args[1])
	}
	return b.sess.SetCellValue(row, col, parseValue(strings.Join(args[2:], " ")))
}

func (b *browser) dryRun(ctx context.Context) {
	rep, err := b.sess.ApplyChanges(ctx, true)
	if err != nil {
		b.fail(err)
		return
	}
	if rep.Script == "" {
		_, _ = fmt.Fprintln(b.out, "no pending changes")
		return
	}
	_, _ = fmt.Fprintln(b.out, rep.Script)
	_, _ = fmt.Fprintf(b.out, "-- %d insert(s), %d update(s), %d delete(s)\n", rep.Inserts, rep.Updates, rep.Deletes)
}

func (b *browser) history() {
	snap, err := b.sess.Snapshot()
	if err != nil {
		b.fail(err)
		return
	}
	for i, st := range snap.History {
		mark := " "
		if i == snap.HistoryPosition {
			mark = ">"
		}
		where, order := describeFilter(st.Filter)
		line := fmt.Sprintf("%s%d %s", mark, i+1, st.Container)
		if where != "" {
			line += " WHERE " + where
		}
		if order != "" {
			line += " ORDER BY " + order
		}
		_, _ = fmt.Fprintln(b.out, line)
	}
	_, _ = fmt.Fprintf(b.out, "history %d/%d (back: %t, forward: %t)\n",
		snap.HistoryPosition+1, snap.HistoryLen, snap.CanBack, snap.CanForward)
}

func (b *browser) completer() *readline.PrefixCompleter {
	cols := readline.PcItemDynamic(func(string) []string { return b.columns })
	return readline.NewPrefixCompleter(
		readline.PcItem(".open"),
		readline.PcItem(".query"),
		readline.PcItem(".run"),
		readline.PcItem(".next"),
		readline.PcItem(".all"),
		readline.PcItem(".refresh"),
		readline.PcItem(".where", cols),
		readline.PcItem(".unwhere", cols),
		readline.PcItem(".sort", cols),
		readline.PcItem(".back"),
		readline.PcItem(".forward"),
		readline.PcItem(".history"),
		readline.PcItem(".focus"),
		readline.PcItem(".select"),
		readline.PcItem(".set"),
		readline.PcItem(".add", readline.PcItem("copy")),
		readline.PcItem(".delete"),
		readline.PcItem(".apply", readline.PcItem("dry")),
		readline.PcItem(".reject"),
		readline.PcItem(".key", cols),
		readline.PcItem(".count"),
		readline.PcItem(".save"),
		readline.PcItem(".show"),
		readline.PcItem(".help"),
		readline.PcItem(".quit"),
		readline.PcItem(".exit"),
	)
}

// parseRows parses row indexes; want is the exact count, or 0 for any.
func parseRows(args []string, want int) ([]int, error) {
	if want > 0 && len(args) != want {
		return nil, fmt.Errorf("expected %d row number(s)", want)
	}
	rows := make([]int, 0, len(args))
	for _, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("invalid row %q", a)
		}
		rows = append(rows, n)
	}
	return rows, nil
}

// parseValue reads a literal typed at the prompt.
func parseValue(s string) any {
	if strings.EqualFold(s, "null") {
		return nil
	}
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return strings.ReplaceAll(s[1:len(s)-1], "''", "'")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if v, err := strconv.ParseBool(s); err == nil {
		return v
	}
	return s
}

func printBrowseHelp(w io.Writer) {
	help := `
Navigation:
  .open <table>             Open a table
  .query <select>           Open the result of a query
  .next / .all              Read the next segment / everything
  .refresh                  Re-read the current rows
  .where <col> <op> [vals]  Filter (ops: = <> > >= < <= like in null notnull)
  .unwhere [col]            Clear one or all conditions
  .sort <col> [asc|desc]    Toggle or set ordering
  .sort +<col> [asc|desc]   Order by col after the current ordering
  .back / .forward          Move through history
  .history [n]              List history entries, or go to entry n
  .count                    Count matching rows
  .save                     Save the current filter

Editing:
  .focus <row>              Move the focus
  .select <row>...          Select rows
  .set <row> <col> <value>  Change a cell ('text', 42, 1.5, true, null)
  .add [copy]               Add a row after the focus
  .delete                   Mark selected rows for deletion
  .apply [dry]              Write changes back, or print the statements
  .reject                   Discard pending changes
  .key <col>...             Treat columns as the row key of a keyless table

Other:
  .run <statement>          Print every result set of one statement
  .show                     Show the current rows
  .help                     Show this help message
  .quit / .exit             Exit

SQL ending with a semicolon is executed as a script.`
	_, _ = fmt.Fprintln(w, help)
}
