package retrieval

import (
	"fmt"
	"strings"

	"github.com/ziadkadry99/askdb/internal/llm"
)

// Example is a stored question/SQL pair replayed to the model as a worked
// example.
type Example struct {
	Question string `json:"question"`
	SQL      string `json:"sql"`
}

// PromptContext is everything retrieved for one question, already trimmed
// to the token budget. It is built per request and never stored.
type PromptContext struct {
	SystemPreamble  string
	SchemaFragments []string
	Docs            []string
	Examples        []Example
	Question        string
	TokenBudget     int
	// Skipped counts fragments left out because they did not fit.
	Skipped int
}

var dialectNames = map[string]string{
	"mysql":     "MySQL",
	"postgres":  "PostgreSQL",
	"sqlite":    "SQLite",
	"sqlserver": "SQL Server",
}

// DialectName returns the human-readable name of a dialect.
func DialectName(dialect string) string {
	if name, ok := dialectNames[dialect]; ok {
		return name
	}
	return dialect
}

// Preamble is the opening of the system message for dialect.
func Preamble(dialect string) string {
	return fmt.Sprintf("You are a %s expert. Please help to generate a SQL query to answer the question. "+
		"Your response should ONLY be based on the given context and follow the response guidelines and format instructions.", DialectName(dialect))
}

const (
	tablesHeader  = "\n===Tables \n"
	contextHeader = "\n===Additional Context \n\n"
)

// ResponseGuidelines closes the system message.
func ResponseGuidelines(dialect string) string {
	return "\n===Response Guidelines \n" +
		"1. If the provided context is sufficient, please generate a valid SQL query without any explanations for the question. \n" +
		"2. If the provided context is almost sufficient but requires knowledge of a specific string in a particular column, please generate an intermediate SQL query to find the distinct strings in that column. Prepend the query with a comment saying intermediate_sql \n" +
		"3. If the provided context is insufficient, please explain why it can't be generated. \n" +
		"4. Please use the most relevant table(s). \n" +
		"5. If the question has been asked and answered before, please repeat the answer exactly as it was given before. \n" +
		fmt.Sprintf("6. Ensure that the output SQL is %s-compliant and executable, and free of syntax errors. \n", DialectName(dialect))
}

// System renders the system message: preamble, tables, documentation and
// response guidelines.
func (p *PromptContext) System(dialect string) string {
	var b strings.Builder
	b.WriteString(p.SystemPreamble)
	if len(p.SchemaFragments) > 0 {
		b.WriteString(tablesHeader)
		for _, ddl := range p.SchemaFragments {
			b.WriteString(ddl)
			b.WriteString("\n\n")
		}
	}
	if len(p.Docs) > 0 {
		b.WriteString(contextHeader)
		for _, doc := range p.Docs {
			b.WriteString(doc)
			b.WriteString("\n\n")
		}
	}
	b.WriteString(ResponseGuidelines(dialect))
	return b.String()
}

// Messages renders the conversation sent to the model. Worked examples
// become user/assistant turns and the question is the final user turn,
// followed by instruction when one is given.
func (p *PromptContext) Messages(dialect, instruction string) []llm.Message {
	msgs := make([]llm.Message, 0, 2+2*len(p.Examples))
	msgs = append(msgs, llm.SystemMessage(p.System(dialect)))
	for _, ex := range p.Examples {
		msgs = append(msgs, llm.UserMessage(ex.Question), llm.AssistantMessage(ex.SQL))
	}

	question := p.Question
	if instruction != "" {
		question += "\n\n" + instruction
	}
	return append(msgs, llm.UserMessage(question))
}
