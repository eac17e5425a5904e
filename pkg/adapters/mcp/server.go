package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/canopy"
	"github.com/aretw0/canopy/internal/logging"
	"github.com/aretw0/canopy/internal/sanitize"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/session"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// TreeURI is the resource exposing the current tree.
const TreeURI = "canopy://tree"

// Router is what the MCP server needs from a canopy router.
type Router interface {
	Snapshot() domain.Tree
	Tools() []domain.CapabilityDescriptor
	NewRun(request string) *domain.RunState
	Stream(ctx context.Context, state *domain.RunState) iter.Seq[domain.Event]
}

// RunResponse summarises a finished run.
type RunResponse struct {
	RunID          string                 `json:"run_id"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	Status         domain.RunStatus       `json:"status"`
	Tools          []string               `json:"tools"`
	Text           []string               `json:"text,omitempty"`
	Errors         []string               `json:"errors,omitempty"`
	Environment    *domain.Environment    `json:"environment"`
	History        []domain.DecisionEntry `json:"history"`
	Error          string                 `json:"error,omitempty"`
}

// Server exposes a router as an MCP server.
type Server struct {
	router    Router
	sessions  *session.Manager
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// ServerOption configures the Server.
type ServerOption func(*Server)

// WithSessions persists runs that carry a conversation_id through m.
func WithSessions(m *session.Manager) ServerOption {
	return func(s *Server) { s.sessions = m }
}

// WithServerLogger sets the server logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(router Router, opts ...ServerOption) *Server {
	s := &Server{
		router:    router,
		logger:    logging.NewNop(),
		mcpServer: server.NewMCPServer("canopy-mcp", canopy.Version, server.WithToolCapabilities(false), server.WithResourceCapabilities(false, false)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying server, e.g. for in-process clients.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio serves on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves over SSE on port until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("list_tools",
		mcp.WithDescription("List the tools admitted into the router."),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(s.router.Tools())
	})

	s.mcpServer.AddTool(mcp.NewTool("get_tree",
		mcp.WithDescription("Get the branch tree with its tool attachments."),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(s.router.Snapshot())
	})

	s.mcpServer.AddTool(mcp.NewTool("run",
		mcp.WithDescription("Route a request through the decision tree until a terminal tool completes."),
		mcp.WithString("request", mcp.Required(), mcp.Description("The user request")),
		mcp.WithString("conversation_id", mcp.Description("Persist the run under this conversation (optional)")),
	), s.handleRun)
}

func (s *Server) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	request := req.GetString("request", "")
	if request == "" {
		return mcp.NewToolResultError("'request' is required"), nil
	}
	request, err := sanitize.Request(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	conversationID := req.GetString("conversation_id", "")

	resp := RunResponse{ConversationID: conversationID}
	collect := func(ev domain.Event) {
		switch ev.Kind {
		case domain.EventText:
			resp.Text = append(resp.Text, ev.Message)
		case domain.EventError:
			resp.Errors = append(resp.Errors, ev.Message)
		}
	}

	var state *domain.RunState
	if conversationID != "" && s.sessions != nil {
		err := s.sessions.WithLock(ctx, conversationID, func(ctx context.Context) error {
			state = s.router.NewRun(request)
			state.ConversationID = conversationID
			for ev := range s.router.Stream(ctx, state) {
				collect(ev)
			}
			return s.sessions.Store().Save(context.WithoutCancel(ctx), conversationID, state)
		})
		if err != nil && state == nil {
			return mcp.NewToolResultError(fmt.Sprintf("run failed: %v", err)), nil
		}
		if err != nil {
			s.logger.Error("MCP run: failed to persist", "conversation_id", conversationID, "err", err)
		}
	} else {
		state = s.router.NewRun(request)
		state.ConversationID = conversationID
		for ev := range s.router.Stream(ctx, state) {
			collect(ev)
		}
	}

	resp.RunID = state.ID
	resp.Status = state.Status
	resp.Tools = state.ToolSequence()
	resp.Environment = state.Environment
	resp.History = state.History
	if state.Err != nil {
		resp.Error = state.Err.Error()
	}
	return jsonResult(resp)
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(TreeURI, "Current Tree Definition",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		data, err := json.Marshal(s.router.Snapshot())
		if err != nil {
			return nil, fmt.Errorf("failed to encode tree: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      TreeURI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode failed: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
