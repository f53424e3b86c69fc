package mcp

import (
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ziadkadry99/askdb/internal/agent"
	"github.com/ziadkadry99/askdb/internal/logging"
)

// Version is set via ldflags at build time.
var Version = "dev"

// Server wraps an MCP server that exposes the engine as tools.
type Server struct {
	engine *agent.Engine
	logger *zap.Logger
	mcp    *server.MCPServer
}

// NewServer creates a new MCP server around engine.
func NewServer(engine *agent.Engine, logger *zap.Logger) *Server {
	s := &Server{
		engine: engine,
		logger: logging.OrNop(logger).Named("mcp"),
	}

	s.mcp = server.NewMCPServer(
		"askdb",
		Version,
		server.WithToolCapabilities(false),
	)

	s.registerTools()

	return s
}

// registerTools adds all tool definitions and their handlers to the MCP server.
func (s *Server) registerTools() {
	s.mcp.AddTool(generateSQLTool, s.handleGenerateSQL)
	s.mcp.AddTool(runSQLTool, s.handleRunSQL)
	s.mcp.AddTool(askTool, s.handleAsk)
	s.mcp.AddTool(trainTool, s.handleTrain)
	s.mcp.AddTool(listTrainingDataTool, s.handleListTrainingData)
}

// Serve starts the MCP server on stdio. Stdout is used for MCP protocol
// messages; all logging must go to stderr.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcp)
}
