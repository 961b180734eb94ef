package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newAgentsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List the active agents on the signed-in server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			storage, err := opts.openStorage()
			if err != nil {
				return err
			}
			client := signedInClient(storage)
			if client == nil {
				return errors.New("not signed in: run `agentdeskctl login` first")
			}

			agents, err := client.listAgents(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(agents) == 0 {
				fmt.Fprintln(out, "No agents available")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ASSISTANT ID\tNAME\tCATEGORY")
			for _, a := range agents {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", a.AssistantID, a.DisplayName, a.Category)
			}
			return tw.Flush()
		},
	}
}
