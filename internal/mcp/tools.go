package mcp

import "github.com/mark3labs/mcp-go/mcp"

// generateSQLTool defines the generate_sql MCP tool.
var generateSQLTool = mcp.NewTool("generate_sql",
	mcp.WithDescription("Generate a SQL query that answers a natural language question about the connected database. The query is validated but not executed."),
	mcp.WithString("question",
		mcp.Required(),
		mcp.Description("Natural language question"),
	),
)

// runSQLTool defines the run_sql MCP tool.
var runSQLTool = mcp.NewTool("run_sql",
	mcp.WithDescription("Run a SQL query against the connected database. Failing queries are rewritten from the database error and retried a bounded number of times."),
	mcp.WithString("sql",
		mcp.Required(),
		mcp.Description("SQL statement to execute"),
	),
)

// askTool defines the ask MCP tool.
var askTool = mcp.NewTool("ask",
	mcp.WithDescription("Answer a natural language question: generate SQL, run it with self-correction and return the rows."),
	mcp.WithString("question",
		mcp.Required(),
		mcp.Description("Natural language question"),
	),
)

// trainTool defines the train MCP tool.
var trainTool = mcp.NewTool("train",
	mcp.WithDescription("Add training data: a question with its SQL, a DDL statement, or documentation about the schema. Provide exactly one of sql, ddl or documentation."),
	mcp.WithString("question",
		mcp.Description("Question answered by sql (only with sql)"),
	),
	mcp.WithString("sql",
		mcp.Description("SQL answering question"),
	),
	mcp.WithString("ddl",
		mcp.Description("CREATE TABLE or other DDL statement"),
	),
	mcp.WithString("documentation",
		mcp.Description("Free-text documentation about tables, columns or business terms"),
	),
)

// listTrainingDataTool defines the list_training_data MCP tool.
var listTrainingDataTool = mcp.NewTool("list_training_data",
	mcp.WithDescription("List every stored training item with its id and kind."),
)
