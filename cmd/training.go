package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
)

var trainingCmd = &cobra.Command{
	Use:   "training",
	Short: "List and remove stored training data",
}

var trainingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored training data",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := context.Background()
		jsonOutput, _ := cmd.Flags().GetBool("json")

		a, err := newApp(ctx, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		items := a.engine.ListTraining(ctx)
		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(items)
		}
		if len(items) == 0 {
			fmt.Println("No training data. Add some with `askdb train`.")
			return nil
		}
		for _, item := range items {
			fmt.Printf("%-48s %-13s %s\n", item.ID, item.Kind, truncate(oneLine(item.Content), 80))
			if item.Question != "" {
				fmt.Printf("%-48s %-13s Q: %s\n", "", "", truncate(item.Question, 80))
			}
		}
		fmt.Printf("\n%d item(s)\n", len(items))
		return nil
	},
}

var trainingRemoveCmd = &cobra.Command{
	Use:   "remove <id>...",
	Short: "Remove training items by id",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := newApp(ctx, appOptions{audit: true})
		if err != nil {
			return err
		}
		defer a.Close()

		var missing []string
		for _, id := range args {
			ok, err := a.engine.RemoveTraining(ctx, id)
			if err != nil {
				return err
			}
			if !ok {
				missing = append(missing, id)
				continue
			}
			fmt.Printf("Removed %s\n", id)
		}
		if len(missing) > 0 {
			return fmt.Errorf("not found: %s", strings.Join(missing, ", "))
		}
		return nil
	},
}

var trainingResetCmd = &cobra.Command{
	Use:       "reset <sql|ddl|documentation>",
	Short:     "Delete every item of one collection",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"sql", "ddl", "documentation"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			prompt := promptui.Prompt{
				Label:     fmt.Sprintf("Delete all %s training data", args[0]),
				IsConfirm: true,
			}
			if _, err := prompt.Run(); err != nil {
				fmt.Println("Aborted.")
				return nil
			}
		}

		a, err := newApp(ctx, appOptions{audit: true})
		if err != nil {
			return err
		}
		defer a.Close()

		ok, err := a.engine.ResetCollection(ctx, args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("unknown collection %q (want sql, ddl or documentation)", args[0])
		}
		fmt.Printf("Reset %s collection\n", args[0])
		return nil
	},
}

func init() {
	trainingListCmd.Flags().Bool("json", false, "output as JSON")
	trainingResetCmd.Flags().BoolP("yes", "y", false, "skip the confirmation prompt")
	trainingCmd.AddCommand(trainingListCmd, trainingRemoveCmd, trainingResetCmd)
	rootCmd.AddCommand(trainingCmd)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
