// Package mcp exposes the memory service as MCP tools, resources and prompts
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	mcp "github.com/fredcamaral/gomcp-sdk"
	"github.com/fredcamaral/gomcp-sdk/protocol"
	"github.com/fredcamaral/gomcp-sdk/server"
	"github.com/fredcamaral/gomcp-sdk/transport"

	"scoped-memory-mcp/internal/config"
	"scoped-memory-mcp/internal/logging"
	"scoped-memory-mcp/internal/memory"
)

// MemoryServer implements the MCP server for scoped memories
type MemoryServer struct {
	service   *memory.Service
	config    *config.Config
	mcpServer *server.Server
	logger    logging.Logger
	tools     []string
}

// NewMemoryServer registers every tool, resource and prompt on a fresh MCP server
func NewMemoryServer(svc *memory.Service, cfg *config.Config) *MemoryServer {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	ms := &MemoryServer{
		service:   svc,
		config:    cfg,
		mcpServer: mcp.NewServer(cfg.Server.Name, cfg.Server.Version),
		logger:    logging.WithComponent("mcp"),
	}

	ms.registerTools()
	ms.registerResources()
	ms.registerPrompts()

	ms.logger.Info("MCP server initialized",
		"tools", len(ms.tools),
		"name", cfg.Server.Name,
		"version", cfg.Server.Version)
	return ms
}

func (ms *MemoryServer) registerTools() {
	for _, t := range ms.toolSpecs() {
		ms.mcpServer.AddTool(mcp.NewTool(t.name, t.description, t.schema), ms.toolHandler(t))
		ms.tools = append(ms.tools, t.name)
	}
	sort.Strings(ms.tools)
}

// toolHandler renders the envelope as JSON text. Errors travel inside the
// envelope with isError set, never as JSON-RPC errors.
func (ms *MemoryServer) toolHandler(t toolSpec) protocol.ToolHandler {
	return mcp.ToolHandlerFunc(func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		return envelopeResult(t.handle(ctx, params)), nil
	})
}

func envelopeResult(env memory.Envelope) *protocol.ToolCallResult {
	data, err := json.Marshal(env)
	if err != nil {
		return protocol.NewToolCallError(fmt.Sprintf("failed to encode response: %v", err))
	}
	result := protocol.NewToolCallResult(protocol.NewContent(string(data)))
	result.IsError = !env.OK()
	return result
}

// GetMCPServer returns the underlying MCP server
func (ms *MemoryServer) GetMCPServer() *server.Server {
	return ms.mcpServer
}

// HandleRequest dispatches one JSON-RPC request; the HTTP and WebSocket
// transports use it.
func (ms *MemoryServer) HandleRequest(ctx context.Context, req *protocol.JSONRPCRequest) *protocol.JSONRPCResponse {
	return ms.mcpServer.HandleRequest(ctx, req)
}

// ToolNames lists the registered tools, sorted
func (ms *MemoryServer) ToolNames() []string {
	return append([]string(nil), ms.tools...)
}

// ServeStdio runs the server over stdin/stdout until ctx is done
func (ms *MemoryServer) ServeStdio(ctx context.Context) error {
	ms.mcpServer.SetTransport(transport.NewStdioTransport())
	ms.logger.Info("Serving MCP over stdio")
	return ms.mcpServer.Start(ctx)
}
