// Package http exposes the session manager as a REST API with chi.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aretw0/scripthost"
	"github.com/aretw0/scripthost/internal/logging"
	"github.com/aretw0/scripthost/pkg/coordinator"
	"github.com/aretw0/scripthost/pkg/domain"
	"github.com/aretw0/scripthost/pkg/session"
	"github.com/go-chi/chi/v5"
)

// Server serves the control surface of every session in a Manager.
type Server struct {
	Sessions *session.Manager
	Streams  *StreamManager
	logger   *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithStreams shares a StreamManager whose Hooks were given to the sessions.
func WithStreams(sm *StreamManager) Option {
	return func(s *Server) {
		s.Streams = sm
	}
}

// WithLogger configures the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// SessionInfo is the JSON view of one session.
type SessionInfo struct {
	Name     string `json:"name"`
	Mode     string `json:"mode"`
	Running  bool   `json:"running"`
	State    string `json:"state"`
	Pending  string `json:"pending"`
	Executed bool   `json:"executed"`
	Passes   int64  `json:"passes"`
	Script   string `json:"script,omitempty"`
}

// Variable is the JSON view of one script variable.
type Variable struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value any    `json:"value"`
}

type executeRequest struct {
	Script string `json:"script"`
}

// NewHandler creates a new HTTP handler for the session manager.
func NewHandler(mgr *session.Manager, opts ...Option) http.Handler {
	s := &Server{
		Sessions: mgr,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.Streams == nil {
		s.Streams = NewStreamManager()
	}

	r := chi.NewRouter()
	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.ListSessions)
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", s.GetSession)
			r.Get("/events", s.SubscribeEvents)
			r.Post("/persist", s.Persist)
			r.Post("/restore", s.Restore)
			r.Get("/vars", s.ListVariables)
			r.Get("/vars/{var}", s.GetVariable)
			r.Put("/vars/{var}", s.SetVariable)
			r.Post("/{action}", s.Control)
		})
	})
	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles GET /info.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":     "scripthost-http",
		"version": strings.TrimSpace(scripthost.Version),
	})
}

// ListSessions handles GET /sessions.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	infos := []SessionInfo{}
	for _, name := range s.Sessions.List() {
		c, err := s.Sessions.Get(name)
		if err != nil {
			continue // removed concurrently
		}
		infos = append(infos, describe(c))
	}
	s.writeJSON(w, http.StatusOK, infos)
}

// GetSession handles GET /sessions/{name}.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	c, ok := s.session(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, describe(c))
}

// Control handles POST /sessions/{name}/{action}.
func (s *Server) Control(w http.ResponseWriter, r *http.Request) {
	c, ok := s.session(w, r)
	if !ok {
		return
	}

	action := chi.URLParam(r, "action")
	var err error
	switch action {
	case "execute":
		var body executeRequest
		if decodeErr := json.NewDecoder(r.Body).Decode(&body); decodeErr != nil || body.Script == "" {
			s.writeError(w, http.StatusBadRequest, "body must be {\"script\": \"<file>\"}")
			return
		}
		script, sanitizeErr := session.SanitizeScriptName(body.Script)
		if sanitizeErr != nil {
			s.fail(w, sanitizeErr)
			return
		}
		err = c.ExecuteScript(r.Context(), script)
	case "run":
		err = c.RunScript()
	case "repeat":
		err = c.RepeatScript()
	case "stop":
		err = c.StopScript()
	case "terminate":
		err = c.TerminateScript()
	case "kill":
		err = c.KillScript()
	default:
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown action %q", action))
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}

	s.logger.Info("session control", "session", c.Name(), "action", action)
	s.writeJSON(w, http.StatusOK, describe(c))
}

// ListVariables handles GET /sessions/{name}/vars.
func (s *Server) ListVariables(w http.ResponseWriter, r *http.Request) {
	c, ok := s.session(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, c.Snapshot())
}

// GetVariable handles GET /sessions/{name}/vars/{var}?type=string|number|bool.
// Without a type, the variable's own type is reported.
func (s *Server) GetVariable(w http.ResponseWriter, r *http.Request) {
	c, ok := s.session(w, r)
	if !ok {
		return
	}

	name := chi.URLParam(r, "var")
	if !c.VariableExists(name) {
		s.fail(w, fmt.Errorf("%w: %s", domain.ErrVariableNotFound, name))
		return
	}

	typ := r.URL.Query().Get("type")
	if typ == "" {
		typ = typeOf(c.Snapshot().Variables[name])
	}

	v := Variable{Name: name, Type: typ}
	switch typ {
	case "string":
		v.Value = c.GetString(name)
	case "number":
		v.Value = c.GetDouble(name)
	case "bool":
		v.Value = c.GetBool(name)
	default:
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown type %q", typ))
		return
	}
	s.writeJSON(w, http.StatusOK, v)
}

// SetVariable handles PUT /sessions/{name}/vars/{var}.
func (s *Server) SetVariable(w http.ResponseWriter, r *http.Request) {
	c, ok := s.session(w, r)
	if !ok {
		return
	}

	var body Variable
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		s.logger.Warn("SetVariable: invalid request body", "err", err)
		return
	}
	body.Name = chi.URLParam(r, "var")

	var err error
	switch value := body.Value.(type) {
	case string:
		if body.Type != "" && body.Type != "string" {
			s.writeError(w, http.StatusBadRequest, "value does not match type")
			return
		}
		clean, sanitizeErr := session.SanitizeInput(value)
		if sanitizeErr != nil {
			s.fail(w, sanitizeErr)
			return
		}
		body.Value = clean
		err = c.SetString(body.Name, clean)
	case float64:
		if body.Type != "" && body.Type != "number" {
			s.writeError(w, http.StatusBadRequest, "value does not match type")
			return
		}
		err = c.SetDouble(body.Name, value)
	case bool:
		if body.Type != "" && body.Type != "bool" {
			s.writeError(w, http.StatusBadRequest, "value does not match type")
			return
		}
		err = c.SetBool(body.Name, value)
	default:
		s.writeError(w, http.StatusBadRequest, "value must be a string, number or bool")
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}

	body.Type = typeOf(body.Value)
	s.writeJSON(w, http.StatusOK, body)
}

// Persist handles POST /sessions/{name}/persist.
func (s *Server) Persist(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.Sessions.Persist(r.Context(), name); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Restore handles POST /sessions/{name}/restore.
func (s *Server) Restore(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	applied, err := s.Sessions.Restore(r.Context(), name)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"applied": applied})
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*coordinator.Coordinator, bool) {
	c, err := s.Sessions.Get(chi.URLParam(r, "name"))
	if err != nil {
		s.fail(w, err)
		return nil, false
	}
	return c, true
}

// StatusFor maps domain errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrVariableNotFound),
		errors.Is(err, domain.ErrSnapshotNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrAlreadyActive),
		errors.Is(err, domain.ErrNotRunning),
		errors.Is(err, domain.ErrClosed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrScriptFileUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrInvalidScriptName),
		errors.Is(err, session.ErrInputTooLarge),
		errors.Is(err, session.ErrInvalidUTF8):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNoStore):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "err", err)
	}
	s.writeError(w, status, err.Error())
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "err", err)
	}
}

func describe(c *coordinator.Coordinator) SessionInfo {
	info := SessionInfo{
		Name:     c.Name(),
		Mode:     c.Mode().String(),
		State:    domain.StateIdle.String(),
		Pending:  c.Pending().String(),
		Executed: c.Executed(),
		Passes:   c.Passes(),
		Script:   c.Script(),
	}
	if state, err := c.PingScript(); err == nil {
		info.Running = true
		info.State = state.String()
	}
	return info
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
