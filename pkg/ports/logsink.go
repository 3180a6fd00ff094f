package ports

import "time"

// LogSink receives the log lines of a single session.
// Implementations must be safe for concurrent use: completion and log notifications
// arrive from both the caller's goroutine and the worker's.
type LogSink interface {
	// Log appends one line stamped with at.
	Log(at time.Time, message string) error

	// Close flushes and releases the sink. Log after Close returns an error.
	Close() error
}

// LogLineLayout is the timestamp prefix of every session log line.
const LogLineLayout = "[2006-01-02] [15:04:05]"

// FormatLogLine renders a session log line without a trailing newline.
func FormatLogLine(at time.Time, message string) string {
	return at.Format(LogLineLayout) + " " + message
}
