package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools of the tree",
	Long: `Lists the tools admitted into the tree. With --catalog, prints every known
tool grouped by category as YAML instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}

		if all, _ := cmd.Flags().GetBool("catalog"); all {
			data, err := a.catalog.DiscoveryYAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tKIND\tDESCRIPTION")
		for _, d := range a.router.Tools() {
			kind := "tool"
			switch {
			case d.Rule:
				kind = "rule"
			case d.Terminal:
				kind = "terminal"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", d.Name, kind, d.Description)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(toolsCmd)
	toolsCmd.Flags().Bool("catalog", false, "Print the whole tool catalog as YAML")
}
