// Package memory provides in-process adapters for tests and embedding.
package memory

import (
	"errors"
	"sync"
	"time"

	"github.com/aretw0/scripthost/pkg/ports"
)

// Entry is one recorded log line.
type Entry struct {
	At      time.Time
	Message string
}

// LogSink records session log lines in memory.
// Safe for concurrent use.
type LogSink struct {
	mu      sync.Mutex
	entries []Entry
	closed  bool
}

var _ ports.LogSink = (*LogSink)(nil)

// NewLogSink creates an empty sink.
func NewLogSink() *LogSink {
	return &LogSink{}
}

// Log records one line.
func (s *LogSink) Log(at time.Time, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("log sink is closed")
	}
	s.entries = append(s.entries, Entry{At: at, Message: message})
	return nil
}

// Close marks the sink closed. Recorded entries stay readable.
func (s *LogSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *LogSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Entries returns a copy of the recorded entries.
func (s *LogSink) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

// Messages returns the recorded messages without timestamps.
func (s *LogSink) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Message
	}
	return out
}

// Lines renders the entries the way the file adapter writes them.
func (s *LogSink) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = ports.FormatLogLine(e.At, e.Message)
	}
	return out
}
