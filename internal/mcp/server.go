package mcp

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/contribrank/internal/engine"
)

const (
	// ServerName is the MCP server name
	ServerName = "contribrank"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server exposes an engine as MCP tools
type Server struct {
	mcp    *server.MCPServer
	engine *engine.Engine
	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new MCP server instance over an opened engine. The
// engine stays owned by the caller.
func NewServer(eng *engine.Engine, opts ...Option) *Server {
	s := &Server{
		engine: eng,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
	)
	s.registerTools()
	return s
}

// Serve speaks MCP on stdin and stdout until ctx is cancelled or stdin closes
func (s *Server) Serve(ctx context.Context) error {
	return s.ServeIO(ctx, os.Stdin, os.Stdout)
}

// ServeIO speaks MCP over the given streams
func (s *Server) ServeIO(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(&slogWriter{logger: s.logger}, "", 0))
	return stdio.Listen(ctx, in, out)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(hybridSearchTool(), s.handleHybridSearch)
	s.mcp.AddTool(matchOpportunitiesTool(), s.handleMatchOpportunities)
	s.mcp.AddTool(nearestByEmbeddingTool(), s.handleNearestByEmbedding)
	s.mcp.AddTool(lexicalScoreTool(), s.handleLexicalScore)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}

// slogWriter forwards the transport's log.Logger output to slog
type slogWriter struct {
	logger *slog.Logger
}

func (w *slogWriter) Write(p []byte) (int, error) {
	msg := string(p)
	if n := len(msg); n > 0 && msg[n-1] == '\n' {
		msg = msg[:n-1]
	}
	w.logger.Error("mcp transport", slog.String("message", msg))
	return len(p), nil
}
