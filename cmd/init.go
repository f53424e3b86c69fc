package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/askdb/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize askdb configuration with an interactive wizard",
	Long:  `Runs an interactive wizard that picks a model provider and a database, then writes the config file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.RunWizard(cfgFile)
		if err != nil {
			return err
		}
		fmt.Printf("\nWrote %s (dialect %s).\n", cfgFile, cfg.SQLDialect())
		if note := config.DialectNote(cfg.SQLDialect()); note != "" {
			fmt.Println(note)
		}
		fmt.Println("Next: load your schema with `askdb train --ddl 'schema/**/*.sql'`.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
