package cmd

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "askdb",
	Short: "Ask your database questions in plain language",
	Long: `askdb turns natural language questions into SQL. It retrieves
relevant schema, documentation and example queries from a local vector
store, has a language model write the SQL, validates it, and runs it
against your database, rewriting failing queries from the database error.
It is available as a CLI, an HTTP API and an MCP server.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", ".askdb.yml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
