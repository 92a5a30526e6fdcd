package main

import (
	"github.com/aretw0/parley/internal/cli"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP channel",
	Long: `Serves the bot over HTTP: POST /api/messages processes a turn, replies are also
pushed to websocket subscribers of /api/conversations/{id}/stream. The OAuth redirect
endpoint and /metrics are mounted when configured.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, dir, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		if v, _ := cmd.Flags().GetString("addr"); v != "" {
			cfg.Addr = v
		}
		if cmd.Flags().Changed("metrics") {
			cfg.Metrics, _ = cmd.Flags().GetBool("metrics")
		}
		mcpAddr, _ := cmd.Flags().GetString("mcp-addr")
		return cli.Serve(cmd.Context(), cli.ServeOptions{Config: cfg, Dir: dir, MCPAddr: mcpAddr}, logger)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("addr", "a", "", "Address to listen on (default from config, :3978)")
	serveCmd.Flags().Bool("metrics", false, "Expose Prometheus metrics at /metrics")
	serveCmd.Flags().String("mcp-addr", "", "Also serve the MCP tools over SSE on this address")
}
