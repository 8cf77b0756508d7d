// Package mcpserver exposes the capability server's tools over the Model Context Protocol.
package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/cchalm/kb-assistant/internal/tools"
)

// Server serves a tools.Server's tools to MCP clients
type Server struct {
	tools  *tools.Server
	server *mcp.Server
	logger *zap.Logger
}

func NewServer(registry *tools.Server, version string, logger *zap.Logger) *Server {
	s := &Server{
		tools:  registry,
		logger: logger,
	}

	impl := &mcp.Implementation{
		Name:    "kb-assistant",
		Version: version,
	}
	s.server = mcp.NewServer(impl, nil)
	s.registerTools()

	return s
}

// Run serves on stdio until the client disconnects or ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Connect serves a single session on transport
func (s *Server) Connect(ctx context.Context, transport mcp.Transport) (*mcp.ServerSession, error) {
	return s.server.Connect(ctx, transport, nil)
}

func (s *Server) registerTools() {
	for _, d := range s.tools.Descriptors() {
		var schema map[string]any
		if err := json.Unmarshal(d.InputSchema, &schema); err != nil {
			// Registered schemas have already been compiled, so this cannot happen for a valid registry
			s.logger.Error("skipping tool with unreadable schema", zap.String("tool", d.Name), zap.Error(err))
			continue
		}
		s.server.AddTool(&mcp.Tool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: schema,
		}, s.handler(d.Name))
	}
}

func (s *Server) handler(name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args json.RawMessage
		if req.Params != nil {
			args = req.Params.Arguments
		}
		s.logger.Debug("mcp tool call", zap.String("tool", name))

		result := s.tools.Call(ctx, name, args)
		content := make([]mcp.Content, 0, len(result.Content))
		for _, c := range result.Content {
			content = append(content, &mcp.TextContent{Text: c})
		}
		return &mcp.CallToolResult{
			Content: content,
			IsError: result.IsError,
		}, nil
	}
}
