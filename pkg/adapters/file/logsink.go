// Package file provides filesystem adapters: the session log file and a JSON snapshot store.
package file

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/scripthost/pkg/ports"
)

var errSinkClosed = errors.New("log sink is closed")

// LogSink appends timestamped lines to a session log file.
type LogSink struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

var _ ports.LogSink = (*LogSink)(nil)

// Open creates (or truncates) <dir>/<SanitizeName(name)>.log.
func Open(dir, name string) (*LogSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to ensure log directory: %w", err)
	}

	path := filepath.Join(dir, SanitizeName(name)+".log")
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session log: %w", err)
	}
	return &LogSink{f: f, path: path}, nil
}

// Path returns the file being written.
func (s *LogSink) Path() string { return s.path }

// Log writes one line and flushes it to disk.
func (s *LogSink) Log(at time.Time, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errSinkClosed
	}
	if _, err := s.f.WriteString(ports.FormatLogLine(at, message) + "\n"); err != nil {
		return fmt.Errorf("failed to write session log: %w", err)
	}
	return s.f.Sync()
}

// Close releases the file. It is safe to call more than once.
func (s *LogSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// SanitizeName maps a session name to a portable file name. Path separators and
// characters reserved on common filesystems become underscores; brackets and spaces stay.
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "session"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r < 0x20:
			return '_'
		case strings.ContainsRune(`/\:*?"<>|`, r):
			return '_'
		}
		return r
	}, name)
}
