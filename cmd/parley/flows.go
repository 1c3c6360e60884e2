package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aretw0/parley/internal/cli"
	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/internal/presentation/graph"
)

var flowsCmd = &cobra.Command{
	Use:   "flows",
	Short: "Inspect the configured flows",
}

var flowsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List flows with their connection, priority and triggers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		repo, closeFn, err := cli.OpenFlows(cmd.Context(), cfg.Flows, logging.NewNop())
		if err != nil {
			return err
		}
		defer closeFn()

		connection, _ := cmd.Flags().GetString("connection")
		flows, err := repo.ListFlows(cmd.Context(), connection)
		if err != nil {
			return err
		}
		if len(flows) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No flows found.")
			return nil
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tCONNECTION\tACTIVE\tPRIORITY\tTRIGGERS")
		for _, f := range flows {
			fmt.Fprintf(tw, "%s\t%s\t%t\t%d\t%v\n", f.ID, f.ConnectionID, f.Active, f.Priority, f.Triggers)
		}
		return tw.Flush()
	},
}

var flowsGraphCmd = &cobra.Command{
	Use:   "graph <flow-id>",
	Short: "Export a flow as a Mermaid diagram",
	Long:  `Outputs a Mermaid flowchart (graph TD) of the flow. With --session, the session's path and current node are highlighted.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		repo, closeFn, err := cli.OpenFlows(cmd.Context(), cfg.Flows, logging.NewNop())
		if err != nil {
			return err
		}
		defer closeFn()

		flow, err := repo.LoadFlow(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		var overlay *graph.GraphOverlay
		if sessionID, _ := cmd.Flags().GetString("session"); sessionID != "" {
			store, _, closeStore, err := cli.OpenStore(cfg.Store)
			if err != nil {
				return err
			}
			defer closeStore()
			s, err := store.Get(cmd.Context(), sessionID)
			if err != nil {
				return err
			}
			if s.FlowID == flow.ID {
				overlay = graph.OverlayFor(s)
			}
		}

		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(*flow, overlay))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(flowsCmd)
	flowsCmd.AddCommand(flowsLsCmd)
	flowsCmd.AddCommand(flowsGraphCmd)

	flowsLsCmd.Flags().String("connection", "", "Only list flows of this connection")
	flowsGraphCmd.Flags().String("session", "", "Highlight the path of a stored session")
}
