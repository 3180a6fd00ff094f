package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/aretw0/scripthost/pkg/domain"
	"github.com/go-chi/chi/v5"
)

// StreamManager fans lifecycle events out to SSE subscribers, per session.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan<- string]struct{} // session -> set of channels
}

func NewStreamManager() *StreamManager {
	return &StreamManager{
		subscribers: make(map[string]map[chan<- string]struct{}),
	}
}

func (sm *StreamManager) Subscribe(session string) (chan string, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan string, 16)
	if _, ok := sm.subscribers[session]; !ok {
		sm.subscribers[session] = make(map[chan<- string]struct{})
	}
	sm.subscribers[session][ch] = struct{}{}

	return ch, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if subs, ok := sm.subscribers[session]; ok {
			delete(subs, ch)
			close(ch)
			if len(subs) == 0 {
				delete(sm.subscribers, session)
			}
		}
	}
}

func (sm *StreamManager) Broadcast(session string, msg string) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for ch := range sm.subscribers[session] {
		select {
		case ch <- msg:
		default:
			// Drop message if channel is full (slow client)
			slog.Warn("SSE: Client buffer full, dropping message", "session", session)
		}
	}
}

// streamEvent is the payload of one SSE message.
type streamEvent struct {
	domain.EventBase
	From     string  `json:"from,omitempty"`
	To       string  `json:"to,omitempty"`
	Script   string  `json:"script,omitempty"`
	State    string  `json:"state,omitempty"`
	Duration float64 `json:"duration_seconds,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// Hooks returns lifecycle hooks that broadcast every event to the session's subscribers.
// Pass them to the Coordinators served by the handler.
func (sm *StreamManager) Hooks() domain.LifecycleHooks {
	script := func(ctx context.Context, e *domain.ScriptEvent) {
		ev := streamEvent{
			EventBase: e.EventBase,
			Script:    e.Script,
			State:     e.State.String(),
			Duration:  e.Duration.Seconds(),
		}
		if e.Err != nil {
			ev.Error = e.Err.Error()
		}
		sm.publish(ev)
	}
	return domain.LifecycleHooks{
		OnStateChange: func(ctx context.Context, e *domain.StateEvent) {
			sm.publish(streamEvent{EventBase: e.EventBase, From: e.From.String(), To: e.To.String()})
		},
		OnScriptStart:    script,
		OnScriptComplete: script,
		OnScriptError:    script,
	}
}

func (sm *StreamManager) publish(ev streamEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	sm.Broadcast(ev.Session, string(data))
}

// SubscribeEvents handles GET /sessions/{name}/events (SSE).
// The optional watch parameter filters by event type, e.g. watch=state_change,script_error.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.session(w, r); !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	name := chi.URLParam(r, "name")
	watch := map[string]bool{}
	if raw := r.URL.Query().Get("watch"); raw != "" {
		for _, field := range strings.Split(raw, ",") {
			watch[strings.TrimSpace(field)] = true
		}
	}

	ch, cancel := s.Streams.Subscribe(name)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()
	s.logger.Debug("SSE: client subscribed", "session", name)

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("SSE: client disconnected", "session", name)
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if len(watch) > 0 {
				var base domain.EventBase
				if err := json.Unmarshal([]byte(msg), &base); err == nil && !watch[string(base.Type)] {
					continue
				}
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}
