package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// NewRunsCommand creates the runs command.
func NewRunsCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show the script run log",
		Long: `List scripts executed with exec or from a browse session, most recent first.

Use 'leapgrid runs show <id>' for the statements of one run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := NewCommandContext(cmd)
			cfg, err := cc.loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := cc.OpenStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			runs, err := store.ListRuns(limit)
			if err != nil {
				return err
			}
			rows := make([][]any, 0, len(runs))
			for _, r := range runs {
				duration := ""
				if r.CompletedAt != nil {
					duration = r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
				}
				rows = append(rows, []any{r.ID, r.StartedAt.Format(time.DateTime), string(r.Status), r.Queries, r.RowsAffected, duration, r.Error})
			}
			return renderRows(cmd.OutOrStdout(), cfg.OutputFormat,
				[]string{"id", "started", "status", "queries", "rows_affected", "duration", "error"}, rows)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")

	cmd.AddCommand(newRunsShowCommand())
	return cmd
}

func newRunsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the statements of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := NewCommandContext(cmd)
			cfg, err := cc.loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := cc.OpenStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			run, err := store.GetRun(args[0])
			if err != nil {
				return err
			}
			queries, err := store.GetQueryRunsForRun(run.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if cfg.OutputFormat == "table" {
				_, _ = fmt.Fprintf(out, "Run %s on %s: %s, %d statement(s), %d row(s) affected\n",
					run.ID, run.Connection, run.Status, run.Queries, run.RowsAffected)
			}
			rows := make([][]any, 0, len(queries))
			for _, q := range queries {
				rows = append(rows, []any{q.Position, string(q.Status), q.RowsAffected, q.RowsFetched, q.ExecutionMS, q.Text, q.Error})
			}
			return renderRows(out, cfg.OutputFormat,
				[]string{"position", "status", "rows_affected", "rows_fetched", "ms", "statement", "error"}, rows)
		},
	}
}
