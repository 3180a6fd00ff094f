package domain

import (
	"maps"
	"time"
)

// Snapshot captures the scalar variables of a session.
type Snapshot struct {
	Session   string         `json:"session"`
	Variables map[string]any `json:"variables"`
	Executed  bool           `json:"executed"`
	TakenAt   time.Time      `json:"taken_at"`
}

// Clone returns a copy whose Variables map is not shared.
func (s *Snapshot) Clone() *Snapshot {
	out := *s
	out.Variables = maps.Clone(s.Variables)
	if out.Variables == nil {
		out.Variables = make(map[string]any)
	}
	return &out
}
