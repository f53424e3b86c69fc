package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/ziadkadry99/askdb/internal/agent"
	"github.com/ziadkadry99/askdb/internal/vectordb"
)

// handleGenerateSQL answers a question with SQL without running it.
func (s *Server) handleGenerateSQL(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: question"), nil
	}

	gen, err := s.engine.GenerateSQL(ctx, question)
	if err != nil {
		return s.toolError("generating SQL", err), nil
	}
	return mcp.NewToolResultText(formatGeneration(gen)), nil
}

// handleRunSQL validates and runs caller-supplied SQL with self-correction.
func (s *Server) handleRunSQL(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sql, err := request.RequireString("sql")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: sql"), nil
	}
	if !s.engine.IsValid(sql) {
		return mcp.NewToolResultError("The SQL did not pass validation; only a single complete statement is accepted."), nil
	}

	x, err := s.engine.RunWithRetry(ctx, sql, s.engine.Options().MaxRetries, "")
	if err != nil {
		return s.toolError("running SQL", err), nil
	}
	return s.executionResult(x), nil
}

// handleAsk generates SQL for a question and runs it.
func (s *Server) handleAsk(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: question"), nil
	}

	gen, err := s.engine.GenerateSQL(ctx, question)
	if err != nil {
		return s.toolError("generating SQL", err), nil
	}
	if !gen.Valid || !s.engine.CanExecute() {
		return mcp.NewToolResultText(formatGeneration(gen)), nil
	}

	x, err := s.engine.RunWithRetry(ctx, gen.SQL, s.engine.Options().MaxRetries, question)
	if err != nil {
		return s.toolError("running SQL", err), nil
	}
	return s.executionResult(x), nil
}

// handleTrain stores one training item.
func (s *Server) handleTrain(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req := agent.TrainRequest{
		Question:      request.GetString("question", ""),
		SQL:           request.GetString("sql", ""),
		DDL:           request.GetString("ddl", ""),
		Documentation: request.GetString("documentation", ""),
	}

	id, err := s.engine.Train(ctx, req)
	if err != nil {
		return s.toolError("adding training data", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Training data stored with id %s.", id)), nil
}

// handleListTrainingData lists the stored training items.
func (s *Server) handleListTrainingData(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(vectordb.FormatTraining(s.engine.ListTraining(ctx))), nil
}

func (s *Server) executionResult(x *agent.Execution) *mcp.CallToolResult {
	var sb strings.Builder
	if !x.Succeeded() {
		sb.WriteString(fmt.Sprintf("The query failed after %d attempt(s).\n\nLast SQL:\n%s\n\nLast error: %s\n",
			len(x.History)+1, x.FinalSQL, x.LastError))
		writeHistory(&sb, x.History)
		return mcp.NewToolResultError(sb.String())
	}

	sb.WriteString(fmt.Sprintf("SQL:\n%s\n\n", x.FinalSQL))
	if x.Corrected() {
		sb.WriteString(fmt.Sprintf("The original query failed and was corrected after %d attempt(s).\n", len(x.History)))
		writeHistory(&sb, x.History)
		sb.WriteString("\n")
	}
	sb.WriteString(x.Result.Markdown(s.engine.Options().MaxRowsPreview))
	return mcp.NewToolResultText(sb.String())
}

func writeHistory(sb *strings.Builder, history []agent.CorrectionRecord) {
	for _, rec := range history {
		sb.WriteString(fmt.Sprintf("\nAttempt %d: %s\nError: %s\n", rec.Attempt, rec.SQL, rec.DatabaseError))
	}
}

func formatGeneration(gen *agent.Generation) string {
	var sb strings.Builder
	sb.WriteString(gen.SQL)
	sb.WriteString("\n")
	switch {
	case gen.ExactMatch:
		sb.WriteString("\n(from a stored question that matches exactly)\n")
	case !gen.Valid:
		sb.WriteString(fmt.Sprintf("\nWarning: this SQL did not pass validation after %d attempt(s): %s\n", gen.Attempts, gen.Reason))
	}
	return sb.String()
}

// toolError reports err to the client. Input mistakes are returned as is;
// anything else is logged.
func (s *Server) toolError(action string, err error) *mcp.CallToolResult {
	if errors.Is(err, agent.ErrDatabaseNotConfigured) {
		return mcp.NewToolResultError("No database is configured. Set database.dsn in .askdb.yml.")
	}
	if !agent.IsInputError(err) {
		s.logger.Warn("tool failed", zap.String("action", action), zap.Error(err))
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", action, err))
}
