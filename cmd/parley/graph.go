package main

import (
	"fmt"

	"github.com/aretw0/parley/internal/cli"
	"github.com/spf13/cobra"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Export the dialog as a Mermaid diagram",
	Long: `Outputs a Mermaid flowchart (graph TD) of the dialog's rules and actions.
With --session the rules and prompt that conversation is suspended in are highlighted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, dir, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		session, _ := cmd.Flags().GetString("session")
		chart, err := cli.Graph(cmd.Context(), cfg, dir, session, logger)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), chart)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().String("session", "", "Conversation key to highlight (conversation/<channel>/<id>)")
}
