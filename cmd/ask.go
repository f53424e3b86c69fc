package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/askdb/internal/agent"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Generate SQL for a question and optionally run it",
	Long:  `Generates SQL for a natural language question. With --run the SQL is executed against the configured database, and failing queries are rewritten from the database error.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().Bool("run", false, "execute the generated SQL")
	askCmd.Flags().Bool("json", false, "output the result as JSON")
	askCmd.Flags().Int("rows", 20, "maximum number of rows to print")
	rootCmd.AddCommand(askCmd)
}

type askResultJSON struct {
	Question     string                   `json:"question"`
	SQL          string                   `json:"sql"`
	Valid        bool                     `json:"valid"`
	Attempts     int                      `json:"attempts"`
	ExactMatch   bool                     `json:"exact_match"`
	FinalSQL     string                   `json:"final_sql,omitempty"`
	Columns      []string                 `json:"columns,omitempty"`
	Rows         [][]any                  `json:"rows,omitempty"`
	ErrorHistory []agent.CorrectionRecord `json:"error_history,omitempty"`
	LastError    string                   `json:"last_error,omitempty"`
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	question := strings.Join(args, " ")

	run, _ := cmd.Flags().GetBool("run")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	maxRows, _ := cmd.Flags().GetInt("rows")

	a, err := newApp(ctx, appOptions{database: run, audit: true, llm: true})
	if err != nil {
		return err
	}
	defer a.Close()

	gen, err := a.engine.GenerateSQL(ctx, question)
	if err != nil {
		return err
	}

	out := askResultJSON{
		Question:   question,
		SQL:        gen.SQL,
		Valid:      gen.Valid,
		Attempts:   gen.Attempts,
		ExactMatch: gen.ExactMatch,
	}

	var x *agent.Execution
	if run {
		if !gen.Valid {
			return fmt.Errorf("not running SQL that failed validation: %w", gen.Err())
		}
		x, err = a.engine.RunWithRetry(ctx, gen.SQL, a.cfg.Execution.MaxRetries, question)
		if err != nil {
			return err
		}
		out.FinalSQL = x.FinalSQL
		out.ErrorHistory = x.History
		out.LastError = x.LastError
		if x.Succeeded() {
			preview := x.Result.Preview(maxRows)
			out.Columns, out.Rows = preview.Columns, preview.Rows
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	printGeneration(gen)
	if x != nil {
		printExecution(x, maxRows)
		return x.Err()
	}
	return nil
}

func printGeneration(gen *agent.Generation) {
	fmt.Println(gen.SQL)
	switch {
	case gen.ExactMatch:
		fmt.Fprintln(os.Stderr, "(exact match from training data)")
	case !gen.Valid:
		fmt.Fprintf(os.Stderr, "Warning: SQL did not pass validation after %d attempt(s): %s\n", gen.Attempts, gen.Reason)
	}
}

func printExecution(x *agent.Execution, maxRows int) {
	for _, rec := range x.History {
		fmt.Fprintf(os.Stderr, "Attempt %d failed: %s\n", rec.Attempt, truncate(rec.DatabaseError, 200))
	}
	if x.Corrected() {
		fmt.Printf("\nCorrected SQL:\n%s\n", x.FinalSQL)
	}
	if x.Succeeded() {
		fmt.Println()
		fmt.Print(x.Result.Markdown(maxRows))
	}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
