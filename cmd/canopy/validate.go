package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the tree file",
	Long: `Loads the tree file and builds the router without running anything.
Configuration mistakes, unknown tools and invalid tree structure are reported.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "✗ %v\n", err)
			return err
		}
		tree := a.router.Snapshot()
		fmt.Fprintf(cmd.OutOrStdout(), "✓ tree %q is valid: %d node(s), %d tool(s), root %q\n",
			a.router.Name, len(tree.Nodes), len(a.router.Tools()), tree.RootID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
