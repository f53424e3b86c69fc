package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	mcpserver "github.com/ziadkadry99/askdb/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP server for AI agent integration",
	Long:  `Starts a Model Context Protocol (MCP) server on stdio, exposing generate_sql, run_sql, ask, train and list_training_data tools.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(context.Background(), appOptions{database: true, audit: true, llm: true})
		if err != nil {
			return err
		}
		defer a.Close()

		// Set version from the cmd package variable.
		mcpserver.Version = Version

		// Stdout carries the protocol; status goes to stderr.
		fmt.Fprintf(os.Stderr, "askdb MCP server started on stdio (training items=%d, database=%t)\n",
			a.store.Count(), a.engine.CanExecute())

		srv := mcpserver.NewServer(a.engine, a.logger)
		return srv.Serve()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
