package main

import (
	"fmt"

	"github.com/aretw0/canopy/internal/presentation/graph"
	"github.com/spf13/cobra"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Export the tree visualization",
	Long: `Outputs a Mermaid diagram (graph TD) of the branches and the tools attached to them.
With --conversation, the path of that conversation's last run is highlighted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}

		var overlay *graph.Overlay
		if id, _ := cmd.Flags().GetString("conversation"); id != "" {
			sessions, closeStore, err := a.file.OpenSessions(a.logger)
			if err != nil {
				return err
			}
			defer closeStore()
			state, err := sessions.Load(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("conversation %q: %w", id, err)
			}
			overlay = graph.OverlayFromRun(state)
		}

		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(a.router.Snapshot(), a.router.Tools(), overlay))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().String("conversation", "", "Highlight the last run of this conversation")
}
