// Package mcp exposes scripthost sessions as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/scripthost"
	"github.com/aretw0/scripthost/internal/logging"
	"github.com/aretw0/scripthost/pkg/coordinator"
	"github.com/aretw0/scripthost/pkg/domain"
	"github.com/aretw0/scripthost/pkg/session"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// SessionsURI is the resource listing every registered session.
const SessionsURI = "scripthost://sessions"

// SessionStatus is the structured result of session tools.
type SessionStatus struct {
	Name     string `json:"name" jsonschema_description:"Session name"`
	Mode     string `json:"mode" jsonschema_description:"synchronous or worker"`
	Running  bool   `json:"running" jsonschema_description:"Whether an execution loop is live"`
	State    string `json:"state" jsonschema_description:"idle, running or repeating"`
	Pending  string `json:"pending" jsonschema_description:"Intents not yet observed by the loop"`
	Executed bool   `json:"executed" jsonschema_description:"Whether a script pass has completed"`
	Passes   int64  `json:"passes" jsonschema_description:"Script passes of the current loop"`
}

// VariableResult is the structured result of variable tools.
type VariableResult struct {
	Session string `json:"session"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Value   any    `json:"value"`
	Exists  bool   `json:"exists"`
}

type sessionArgs struct {
	Session string `json:"session"`
}

type executeArgs struct {
	Session string `json:"session"`
	Script  string `json:"script"`
}

type controlArgs struct {
	Session string `json:"session"`
	Action  string `json:"action"`
}

type variableArgs struct {
	Session string `json:"session"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Value   string `json:"value"`
}

// Server wraps a session Manager and exposes it as an MCP Server.
type Server struct {
	sessions  *session.Manager
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// Option configures the Server.
type Option func(*Server)

// WithLogger configures the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(mgr *session.Manager, opts ...Option) *Server {
	s := &Server{
		sessions:  mgr,
		logger:    logging.NewNop(),
		mcpServer: server.NewMCPServer("scripthost-mcp", strings.TrimSpace(scripthost.Version)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE starts the server on the given port using SSE and stops when ctx is done.
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
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
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
	// TOOL: list_sessions
	s.mcpServer.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List every registered scripting session with its loop state."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jsonBytes, _ := json.Marshal(s.statuses())
		return mcp.NewToolResultText(string(jsonBytes)), nil
	})

	// TOOL: execute_script
	executeTool := mcp.NewTool("execute_script",
		mcp.WithDescription("Execute a script file from the session's script directory. Worker sessions start their loop idle."),
		mcp.WithString("session", mcp.Required(), mcp.Description("Session name")),
		mcp.WithString("script", mcp.Required(), mcp.Description("Script file name, e.g. test.lua")),
		mcp.WithOutputSchema[SessionStatus](),
	)
	s.mcpServer.AddTool(executeTool, mcp.NewStructuredToolHandler(s.handleExecute))

	// TOOL: control_script
	controlTool := mcp.NewTool("control_script",
		mcp.WithDescription("Send a loop request to a worker session."),
		mcp.WithString("session", mcp.Required(), mcp.Description("Session name")),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum("run", "repeat", "stop", "terminate", "kill"),
			mcp.Description("Loop request")),
		mcp.WithOutputSchema[SessionStatus](),
	)
	s.mcpServer.AddTool(controlTool, mcp.NewStructuredToolHandler(s.handleControl))

	// TOOL: get_variable
	getTool := mcp.NewTool("get_variable",
		mcp.WithDescription("Read a global scalar variable of the session's script."),
		mcp.WithString("session", mcp.Required(), mcp.Description("Session name")),
		mcp.WithString("name", mcp.Required(), mcp.Description("Variable name")),
		mcp.WithString("type", mcp.Enum("string", "number", "bool"), mcp.Description("Requested type (defaults to the variable's own)")),
		mcp.WithOutputSchema[VariableResult](),
	)
	s.mcpServer.AddTool(getTool, mcp.NewStructuredToolHandler(s.handleGetVariable))

	// TOOL: set_variable
	setTool := mcp.NewTool("set_variable",
		mcp.WithDescription("Overwrite an existing global scalar variable of the session's script."),
		mcp.WithString("session", mcp.Required(), mcp.Description("Session name")),
		mcp.WithString("name", mcp.Required(), mcp.Description("Variable name")),
		mcp.WithString("type", mcp.Required(), mcp.Enum("string", "number", "bool"), mcp.Description("Value type")),
		mcp.WithString("value", mcp.Required(), mcp.Description("Value, parsed according to type")),
		mcp.WithOutputSchema[VariableResult](),
	)
	s.mcpServer.AddTool(setTool, mcp.NewStructuredToolHandler(s.handleSetVariable))

	// TOOL: get_snapshot
	s.mcpServer.AddTool(mcp.NewTool("get_snapshot",
		mcp.WithDescription("Dump every scalar variable of the session."),
		mcp.WithString("session", mcp.Required(), mcp.Description("Session name")),
		mcp.WithOutputSchema[domain.Snapshot](),
	), mcp.NewStructuredToolHandler(s.handleSnapshot))
}

// Handler methods for structured tools

func (s *Server) handleExecute(ctx context.Context, request mcp.CallToolRequest, args executeArgs) (SessionStatus, error) {
	c, err := s.sessions.Get(args.Session)
	if err != nil {
		return SessionStatus{}, err
	}
	script, err := session.SanitizeScriptName(args.Script)
	if err != nil {
		return SessionStatus{}, err
	}
	if err := c.ExecuteScript(ctx, script); err != nil {
		return SessionStatus{}, fmt.Errorf("execute failed: %w", err)
	}
	s.logger.Info("MCP execute", "session", args.Session, "script", args.Script)
	return status(c), nil
}

func (s *Server) handleControl(ctx context.Context, request mcp.CallToolRequest, args controlArgs) (SessionStatus, error) {
	c, err := s.sessions.Get(args.Session)
	if err != nil {
		return SessionStatus{}, err
	}

	var op func() error
	switch args.Action {
	case "run":
		op = c.RunScript
	case "repeat":
		op = c.RepeatScript
	case "stop":
		op = c.StopScript
	case "terminate":
		op = c.TerminateScript
	case "kill":
		op = c.KillScript
	default:
		return SessionStatus{}, fmt.Errorf("unknown action %q", args.Action)
	}
	if err := op(); err != nil {
		return SessionStatus{}, fmt.Errorf("%s failed: %w", args.Action, err)
	}
	return status(c), nil
}

func (s *Server) handleGetVariable(ctx context.Context, request mcp.CallToolRequest, args variableArgs) (VariableResult, error) {
	c, err := s.sessions.Get(args.Session)
	if err != nil {
		return VariableResult{}, err
	}

	res := VariableResult{Session: args.Session, Name: args.Name, Type: args.Type}
	if !c.VariableExists(args.Name) {
		return res, nil
	}
	res.Exists = true
	if res.Type == "" {
		res.Type = typeOf(c.Snapshot().Variables[args.Name])
	}

	switch res.Type {
	case "string":
		res.Value = c.GetString(args.Name)
	case "number":
		res.Value = c.GetDouble(args.Name)
	case "bool":
		res.Value = c.GetBool(args.Name)
	default:
		return VariableResult{}, fmt.Errorf("unknown type %q", res.Type)
	}
	return res, nil
}

func (s *Server) handleSetVariable(ctx context.Context, request mcp.CallToolRequest, args variableArgs) (VariableResult, error) {
	c, err := s.sessions.Get(args.Session)
	if err != nil {
		return VariableResult{}, err
	}

	res := VariableResult{Session: args.Session, Name: args.Name, Type: args.Type, Exists: true}
	switch args.Type {
	case "string":
		var clean string
		if clean, err = session.SanitizeInput(args.Value); err != nil {
			return VariableResult{}, err
		}
		res.Value = clean
		err = c.SetString(args.Name, clean)
	case "number":
		var f float64
		if f, err = strconv.ParseFloat(args.Value, 64); err != nil {
			return VariableResult{}, fmt.Errorf("invalid number %q: %w", args.Value, err)
		}
		res.Value = f
		err = c.SetDouble(args.Name, f)
	case "bool":
		var b bool
		if b, err = strconv.ParseBool(args.Value); err != nil {
			return VariableResult{}, fmt.Errorf("invalid bool %q: %w", args.Value, err)
		}
		res.Value = b
		err = c.SetBool(args.Name, b)
	default:
		return VariableResult{}, fmt.Errorf("unknown type %q", args.Type)
	}
	if err != nil {
		return VariableResult{}, err
	}
	return res, nil
}

func (s *Server) handleSnapshot(ctx context.Context, request mcp.CallToolRequest, args sessionArgs) (domain.Snapshot, error) {
	c, err := s.sessions.Get(args.Session)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return c.Snapshot(), nil
}

func (s *Server) registerResources() {
	// EXPOSE: scripthost://sessions
	s.mcpServer.AddResource(mcp.NewResource(SessionsURI, "Registered Sessions",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		jsonBytes, err := json.Marshal(s.statuses())
		if err != nil {
			return nil, fmt.Errorf("failed to encode sessions: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      SessionsURI,
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})
}

func (s *Server) statuses() []SessionStatus {
	out := []SessionStatus{}
	for _, name := range s.sessions.List() {
		if c, err := s.sessions.Get(name); err == nil {
			out = append(out, status(c))
		}
	}
	return out
}

func status(c *coordinator.Coordinator) SessionStatus {
	st := SessionStatus{
		Name:     c.Name(),
		Mode:     c.Mode().String(),
		State:    domain.StateIdle.String(),
		Pending:  c.Pending().String(),
		Executed: c.Executed(),
		Passes:   c.Passes(),
	}
	if state, err := c.PingScript(); err == nil {
		st.Running = true
		st.State = state.String()
	}
	return st
}

func typeOf(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "bool"
	default:
		return "number"
	}
}
