package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"

	mcpproto "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

const (
	toolParseIntent = "sutra_parse_intent"
	toolAnnounce    = "sutra_announce"
	toolSend        = "sutra_send"
	toolRecv        = "sutra_recv"
	toolStats       = "sutra_stats"
)

// Config controls MCP route behavior.
type Config struct {
	APIKey    string
	Stateless bool
}

// NewHandler builds an MCP streamable HTTP handler with optional
// API-key auth.
func NewHandler(cfg Config, backend Backend) (http.Handler, error) {
	if backend == nil {
		return nil, fmt.Errorf("mcp backend is required")
	}

	s := mcpserver.NewMCPServer(
		"sutra-mcp",
		"1.0.0",
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
	)
	registerTools(s, backend)

	streamable := mcpserver.NewStreamableHTTPServer(s, mcpserver.WithStateLess(cfg.Stateless))
	var h http.Handler = http.HandlerFunc(streamable.ServeHTTP)

	if strings.TrimSpace(cfg.APIKey) != "" {
		h = apiKeyMiddleware(strings.TrimSpace(cfg.APIKey), h)
	}
	return h, nil
}

func registerTools(s *mcpserver.MCPServer, backend Backend) {
	s.AddTool(mcpproto.NewTool(toolParseIntent,
		mcpproto.WithDescription("Parse an English command into a concept and broadcast it. The single entry point for agent-originated commands."),
		mcpproto.WithString("text", mcpproto.Required(), mcpproto.Description("The command text.")),
	), func(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
		text := getString(req.GetArguments(), "text", "")
		if strings.TrimSpace(text) == "" {
			return errResult("text is required"), nil
		}
		result, err := backend.ParseIntent(ctx, text)
		if err != nil {
			return errResult(err.Error()), nil
		}
		return structuredResult("intent parsed and broadcast", result)
	})

	s.AddTool(mcpproto.NewTool(toolAnnounce,
		mcpproto.WithDescription("Register this agent as a handler for a concept. Messages sent to the concept land in the agent's mailbox."),
		mcpproto.WithString("concept", mcpproto.Required(), mcpproto.Description("Canonical concept name to handle.")),
		mcpproto.WithString("agent_id", mcpproto.Description("Agent identity from a prior announce; omit to mint a new one.")),
	), func(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
		args := req.GetArguments()
		concept := getString(args, "concept", "")
		if concept == "" {
			return errResult("concept is required"), nil
		}
		result, err := backend.Announce(ctx, getString(args, "agent_id", ""), concept)
		if err != nil {
			return errResult(err.Error()), nil
		}
		return structuredResult("agent announced", result)
	})

	s.AddTool(mcpproto.NewTool(toolSend,
		mcpproto.WithDescription("Send a message intent to every handler of a concept."),
		mcpproto.WithString("concept", mcpproto.Required(), mcpproto.Description("Canonical concept name to target.")),
		mcpproto.WithString("text", mcpproto.Description("Message payload.")),
	), func(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
		args := req.GetArguments()
		concept := getString(args, "concept", "")
		if concept == "" {
			return errResult("concept is required"), nil
		}
		result, err := backend.Send(ctx, concept, getString(args, "text", ""))
		if err != nil {
			return errResult(err.Error()), nil
		}
		return structuredResult("message sent", result)
	})

	s.AddTool(mcpproto.NewTool(toolRecv,
		mcpproto.WithDescription("Drain pending messages from this agent's mailbox."),
		mcpproto.WithString("agent_id", mcpproto.Required(), mcpproto.Description("Agent identity from announce.")),
		mcpproto.WithNumber("max", mcpproto.Description("Max messages to return (optional).")),
	), func(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
		args := req.GetArguments()
		agentID := getString(args, "agent_id", "")
		if agentID == "" {
			return errResult("agent_id is required"), nil
		}
		result, err := backend.Recv(ctx, agentID, getInt(args, "max", 0))
		if err != nil {
			return errResult(err.Error()), nil
		}
		return structuredResult("messages drained", result)
	})

	s.AddTool(mcpproto.NewTool(toolStats,
		mcpproto.WithDescription("Core and IPC statistics."),
	), func(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
		result, err := backend.Stats(ctx)
		if err != nil {
			return errResult(err.Error()), nil
		}
		return structuredResult("stats", result)
	})
}

func errResult(msg string) *mcpproto.CallToolResult {
	return &mcpproto.CallToolResult{
		Content: []mcpproto.Content{
			mcpproto.TextContent{Type: "text", Text: "Error: " + msg},
		},
		IsError: true,
	}
}

func structuredResult(summary string, data any) (*mcpproto.CallToolResult, error) {
	blob, err := json.Marshal(data)
	if err != nil {
		return errResult(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return &mcpproto.CallToolResult{
		Content: []mcpproto.Content{
			mcpproto.TextContent{Type: "text", Text: summary},
			mcpproto.TextContent{Type: "text", Text: string(blob)},
		},
	}, nil
}

func getString(args map[string]any, key string, def string) string {
	if args == nil {
		return def
	}
	if v, ok := args[key].(string); ok {
		return v
	}
	return def
}

func getInt(args map[string]any, key string, def int) int {
	if args == nil {
		return def
	}
	v, ok := args[key].(float64)
	if !ok {
		return def
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return def
	}
	return int(v)
}

func apiKeyMiddleware(expected string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		provided := strings.TrimSpace(r.Header.Get("X-API-Key"))
		if provided == "" {
			auth := strings.TrimSpace(r.Header.Get("Authorization"))
			if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				provided = strings.TrimSpace(auth[7:])
			}
		}
		if provided == "" || provided != expected {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
