package commands

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server health and cluster topology",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			health, err := client.health(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "status: %s\n", health.Status)

			checks := make([]string, 0, len(health.Checks))
			for name := range health.Checks {
				checks = append(checks, name)
			}
			sort.Strings(checks)
			for _, name := range checks {
				fmt.Fprintf(out, "  %s: %s\n", name, health.Checks[name])
			}

			topo, err := client.topology(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\nredundancy: %d\n", topo.Redundancy)

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NODE\tROLE")
			for _, node := range topo.Nodes {
				fmt.Fprintf(w, "%s\t%s\n", node.ID, node.Role)
			}
			return w.Flush()
		},
	}
}
