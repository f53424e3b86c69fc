package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/askdb/internal/agent"
	"github.com/ziadkadry99/askdb/internal/loader"
	"github.com/ziadkadry99/askdb/internal/progress"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Add training data to the vector store",
	Long: `Adds DDL statements, documentation and question/SQL pairs to the vector store.

Files are selected with glob patterns (** is supported):

  askdb train --ddl 'schema/**/*.sql' --docs 'docs/*.md' --pairs examples.yaml

A single item can be added inline:

  askdb train --question "How many orders?" --sql "SELECT COUNT(*) FROM orders"`,
	Args: cobra.NoArgs,
	RunE: runTrain,
}

func init() {
	trainCmd.Flags().StringArray("ddl", nil, "glob of SQL files whose statements are stored as DDL (repeatable)")
	trainCmd.Flags().StringArray("docs", nil, "glob of documentation files (repeatable)")
	trainCmd.Flags().StringArray("pairs", nil, "YAML file of question/sql pairs (repeatable)")
	trainCmd.Flags().StringArray("exclude", nil, "glob of files to skip (repeatable)")
	trainCmd.Flags().String("question", "", "question for an inline pair")
	trainCmd.Flags().String("sql", "", "SQL for an inline pair or standalone statement")
	trainCmd.Flags().String("documentation", "", "inline documentation text")
	trainCmd.Flags().Bool("ci", false, "plain progress output for CI logs")
	rootCmd.AddCommand(trainCmd)
}

func runTrain(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	ddl, _ := cmd.Flags().GetStringArray("ddl")
	docs, _ := cmd.Flags().GetStringArray("docs")
	pairs, _ := cmd.Flags().GetStringArray("pairs")
	exclude, _ := cmd.Flags().GetStringArray("exclude")
	question, _ := cmd.Flags().GetString("question")
	sql, _ := cmd.Flags().GetString("sql")
	documentation, _ := cmd.Flags().GetString("documentation")
	ci, _ := cmd.Flags().GetBool("ci")

	var items []loader.Item
	if len(ddl) > 0 {
		loaded, err := loader.LoadDDL(ddl, exclude)
		if err != nil {
			return err
		}
		items = append(items, loaded...)
	}
	if len(docs) > 0 {
		loaded, err := loader.LoadDocs(docs, exclude)
		if err != nil {
			return err
		}
		items = append(items, loaded...)
	}
	for _, path := range pairs {
		loaded, err := loader.LoadPairs(path)
		if err != nil {
			return err
		}
		items = append(items, loaded...)
	}
	if question != "" || sql != "" {
		items = append(items, loader.Item{Source: "--sql", Request: agent.TrainRequest{Question: question, SQL: sql}})
	}
	if documentation != "" {
		items = append(items, loader.Item{Source: "--documentation", Request: agent.TrainRequest{Documentation: documentation}})
	}
	if len(items) == 0 {
		return fmt.Errorf("nothing to train: pass --ddl, --docs, --pairs, --sql or --documentation")
	}

	a, err := newApp(ctx, appOptions{audit: true, batch: true})
	if err != nil {
		return err
	}
	defer a.Close()

	var rep progress.Reporter = progress.NewReporter("Training")
	if ci {
		rep = &progress.CIReporter{Out: cmd.ErrOrStderr(), Description: "Training"}
	}

	res, err := loader.Apply(ctx, a.engine, items, rep, a.logger)
	if err != nil {
		return err
	}
	if res.Added > 0 {
		if err := a.persist(ctx); err != nil {
			return err
		}
	}

	fmt.Printf("Added %d item(s), %d rejected. Vector store: %s (%d documents)\n",
		res.Added, res.Failed, a.cfg.VectorStore.Dir, a.store.Count())
	if res.Failed > 0 {
		return fmt.Errorf("%d training item(s) were rejected, run with --verbose for details", res.Failed)
	}
	return nil
}
