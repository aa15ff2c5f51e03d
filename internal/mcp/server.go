package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dshills/semcode-mcp/internal/lifecycle"
)

const (
	// ServerName is the MCP server name
	ServerName = "semcode-mcp"
)

// ServerVersion is the current server version, overridden at link time
var ServerVersion = "0.1.0"

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp     *server.MCPServer
	manager *lifecycle.Manager
	logger  *zap.Logger
}

// NewServer creates a new MCP server instance. The tools reach the model
// and store through manager, so they answer with a model unavailable error
// until the manager has started.
func NewServer(manager *lifecycle.Manager) (*Server, error) {
	if manager == nil {
		return nil, errors.New("lifecycle manager is required")
	}

	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s := &Server{
		mcp:     mcpServer,
		manager: manager,
		logger:  manager.Logger().Named("mcp"),
	}

	// Register tools
	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return s, nil
}

// Serve loads the model in the background, then serves MCP over in and out
// until ctx is cancelled or the client disconnects. The manager is closed
// on return.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	defer func() {
		if err := s.manager.Close(); err != nil {
			s.logger.Warn("failed to release runtime", zap.Error(err))
		}
	}()

	s.manager.StartBackground(ctx)

	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(zap.NewStdLog(s.logger))

	s.logger.Info("serving MCP over stdio", zap.String("version", ServerVersion))
	err := stdio.Listen(ctx, in, out)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

type toolEntry struct {
	tool    mcp.Tool
	handler server.ToolHandlerFunc
}

func (s *Server) tools() []toolEntry {
	return []toolEntry{
		{listDirTool(), s.handleListDir},
		{searchCodeTool(), s.handleSearchCode},
		{indexDirectoryTool(), s.handleIndexDirectory},
		{getStatusTool(), s.handleGetStatus},
	}
}

// registerTools registers all MCP tools
func (s *Server) registerTools() error {
	for _, t := range s.tools() {
		if t.tool.Name == "" || t.handler == nil {
			return fmt.Errorf("incomplete tool definition %q", t.tool.Name)
		}
		s.mcp.AddTool(t.tool, t.handler)
	}
	return nil
}
