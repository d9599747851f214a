package commands

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/leapstack-labs/leapgrid/pkg/core"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewFiltersCommand creates the filters command.
func NewFiltersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filters",
		Short: "Manage saved filters",
		Long: `Inspect and manage the filters saved with .save in a browse session.

Filters are keyed by connection and table, or by connection and query text.`,
	}

	cmd.AddCommand(newFiltersListCommand())
	cmd.AddCommand(newFiltersExportCommand())
	cmd.AddCommand(newFiltersDeleteCommand())

	return cmd
}

func newFiltersListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved filters",
		Args:  cobra.NoArgs,
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

			saved, err := store.ListFilters()
			if err != nil {
				return err
			}
			rows := make([][]any, 0, len(saved))
			for _, sf := range saved {
				where, order := describeFilter(sf.Filter)
				rows = append(rows, []any{sf.ContainerID, where, order, sf.UpdatedAt.Format(time.DateTime)})
			}
			return renderRows(cmd.OutOrStdout(), cfg.OutputFormat, []string{"container", "where", "order", "updated"}, rows)
		},
	}
}

func newFiltersExportCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export saved filters as YAML",
		Args:  cobra.NoArgs,
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

			saved, err := store.ListFilters()
			if err != nil {
				return err
			}
			doc := make(map[string]*core.DataFilter, len(saved))
			for _, sf := range saved {
				doc[sf.ContainerID] = sf.Filter
			}
			data, err := yaml.Marshal(doc)
			if err != nil {
				return fmt.Errorf("failed to encode filters: %w", err)
			}
			if file != "" {
				if err := os.WriteFile(file, data, 0o600); err != nil {
					return fmt.Errorf("failed to write %s: %w", file, err)
				}
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%d filter(s) written to %s\n", len(saved), file)
				return nil
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Write to a file instead of stdout")
	return cmd
}

func newFiltersDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <container-id>",
		Short: "Delete a saved filter",
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

			if err := store.DeleteFilter(args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted filter for %s\n", args[0])
			return nil
		},
	}
}

// describeFilter renders the conditions and the ordering of f for display.
func describeFilter(f *core.DataFilter) (where, order string) {
	if f == nil {
		return "", ""
	}
	var conds []string
	for _, c := range f.Constraints {
		if !c.HasCondition() {
			continue
		}
		switch {
		case c.Operator.Unary():
			conds = append(conds, fmt.Sprintf("%s %s", c.Column, c.Operator))
		case c.Operator == core.OpIn:
			vals := make([]string, len(c.Values))
			for i, v := range c.Values {
				vals[i] = formatValue(v)
			}
			conds = append(conds, fmt.Sprintf("%s IN (%s)", c.Column, strings.Join(vals, ", ")))
		default:
			conds = append(conds, fmt.Sprintf("%s %s %s", c.Column, c.Operator, formatValue(c.Values[0])))
		}
	}
	if f.Where != "" {
		conds = append(conds, f.Where)
	}

	var keys []string
	for _, c := range f.OrderedConstraints() {
		dir := "asc"
		if c.OrderDescending {
			dir = "desc"
		}
		keys = append(keys, c.Column+" "+dir)
	}
	return strings.Join(conds, " AND "), strings.Join(keys, ", ")
}
