package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/leapstack-labs/leapgrid/internal/pipeline"
	"github.com/leapstack-labs/leapgrid/internal/script"
	"github.com/leapstack-labs/leapgrid/pkg/core"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// ExecOptions holds options for the exec command.
type ExecOptions struct {
	File   string
	Params map[string]string
	Watch  bool
}

// stdinIsTerminal is replaced in tests.
var stdinIsTerminal = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }

// NewExecCommand creates the exec command.
func NewExecCommand() *cobra.Command {
	opts := &ExecOptions{}

	cmd := &cobra.Command{
		Use:   "exec [SQL...]",
		Short: "Execute a SQL script against the target",
		Long: `Execute a script of one or more statements against the configured target.

Statements run in order. A failing statement is reported and the script
continues; a lost connection stops it. Every run is logged to the state
database and can be inspected with 'leapgrid runs'.`,
		Example: `  # Run statements given as arguments
  leapgrid exec "UPDATE orders SET qty = 0 WHERE id = 1; SELECT * FROM orders"

  # Run a script file with named parameters
  leapgrid exec -f report.sql -p since=2024-01-01

  # Pipe a script
  cat migrate.sql | leapgrid exec

  # Re-run a script file every time it is saved
  leapgrid exec -f scratch.sql --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "Read the script from a file")
	cmd.Flags().StringToStringVarP(&opts.Params, "param", "p", nil, "Named parameter (name=value), repeatable")
	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "Re-run the --file script whenever it changes")

	return cmd
}

func readScript(cmd *cobra.Command, args []string, opts *ExecOptions) (string, error) {
	switch {
	case len(args) > 0:
		return strings.Join(args, " "), nil
	case opts.File != "":
		content, err := os.ReadFile(opts.File)
		if err != nil {
			return "", fmt.Errorf("failed to read file: %w", err)
		}
		return string(content), nil
	case !stdinIsTerminal():
		content, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(content), nil
	default:
		return "", errors.New("no SQL given (pass it as arguments, with --file or on stdin)")
	}
}

// execListener prints a line for each statement that returned no rows.
type execListener struct {
	pipeline.NopListener
	w io.Writer
}

func (l execListener) OnEndQuery(r *core.QueryResult) {
	if r.ResultSets > 0 && r.Err == nil {
		return
	}
	_, _ = fmt.Fprintln(l.w, core.NewQueryExecEvent(r.Query.Text, r.Stats, r.Err).Format())
}

func runExec(cmd *cobra.Command, args []string, opts *ExecOptions) error {
	cc := NewCommandContext(cmd)
	cfg, err := cc.loadConfig(cmd)
	if err != nil {
		return err
	}
	if opts.Watch && (opts.File == "" || len(args) > 0) {
		return errors.New("--watch needs a script given with --file")
	}
	text, err := readScript(cmd, args, opts)
	if err != nil {
		return err
	}
	queries := script.Split(text)
	if len(queries) == 0 && !opts.Watch {
		return errors.New("no statements to execute")
	}

	ctx := cmd.Context()
	target, err := cc.OpenTarget(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = target.Close() }()

	var recorder pipeline.Listener
	store, err := cc.OpenStore(cfg)
	if err != nil {
		cc.Logger.Warn("run log disabled", "error", err)
	} else {
		defer func() { _ = store.Close() }()
		recorder = pipeline.NewRunRecorder(store, target.Adapter.ConnectionID(), cc.Logger)
	}

	params := make(map[string]any, len(opts.Params))
	for k, v := range opts.Params {
		params[k] = v
	}

	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()
	recv := pipeline.ReceiverFunc(func(_ *core.Query, _ int, columns []core.Column, rows [][]any) error {
		return renderRows(out, cfg.OutputFormat, columnNames(columns), rows)
	})
	p := pipeline.New(target.Source, pipeline.Options{FetchSize: cfg.Session.ReadAllLimit, Logger: cc.Logger})

	execute := func(queries []*core.Query) error {
		sum, err := p.Execute(ctx, queries, params, pipeline.Multi(execListener{w: errOut}, recorder), recv)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(errOut, "%d statement(s) executed, %d row(s) affected in %s\n",
			sum.Stats.Statements, sum.Stats.RowsAffected, sum.Stats.TotalTime.Round(time.Millisecond))
		switch {
		case sum.Cancelled:
			return core.Cancelled("exec")
		case sum.HadErrors:
			return errors.New("script finished with errors")
		}
		return nil
	}

	if !opts.Watch {
		return execute(queries)
	}

	rerun := func(queries []*core.Query) {
		if len(queries) == 0 {
			_, _ = fmt.Fprintln(errOut, "no statements to execute")
			return
		}
		if err := execute(queries); err != nil {
			_, _ = fmt.Fprintf(errOut, "Error: %v\n", err)
		}
	}
	rerun(queries)
	_, _ = fmt.Fprintf(errOut, "watching %s (Ctrl+C to stop)\n", opts.File)
	return watchFile(ctx, opts.File, cc.Logger, func() {
		content, err := os.ReadFile(opts.File)
		if err != nil {
			_, _ = fmt.Fprintf(errOut, "Error: %v\n", err)
			return
		}
		rerun(script.Split(string(content)))
	})
}
