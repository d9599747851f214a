package commands

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapgrid/pkg/adapter"
	"github.com/spf13/cobra"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// NewVersionCommand creates the version command.
func NewVersionCommand(info BuildInfo) *cobra.Command {
	var short bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display the leapgrid version, build metadata and the database adapters compiled in.`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			w := cmd.OutOrStdout()
			if short {
				_, _ = fmt.Fprintln(w, info.Version)
				return
			}
			_, _ = fmt.Fprintf(w, "leapgrid v%s\n", info.Version)
			_, _ = fmt.Fprintf(w, "commit:   %s\n", info.Commit)
			_, _ = fmt.Fprintf(w, "built:    %s\n", info.Date)
			_, _ = fmt.Fprintf(w, "adapters: %s\n", strings.Join(adapter.Names(), ", "))
		},
	}
	cmd.Flags().BoolVar(&short, "short", false, "Print only the version number")
	return cmd
}
