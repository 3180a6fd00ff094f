package domain

import "fmt"

// RunState is the mode of an Environment's execution loop.
type RunState int32

const (
	StateIdle      RunState = iota // No script execution
	StateRunning                   // Execute once, then wait for the next request
	StateRepeating                 // Execute on every iteration until stopped
)

func (s RunState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateRepeating:
		return "repeating"
	default:
		return fmt.Sprintf("RunState(%d)", int32(s))
	}
}

// Mode selects where the execution loop runs.
type Mode int

const (
	// ModeSynchronous runs the loop on the caller's goroutine with no suspension.
	ModeSynchronous Mode = iota
	// ModeWorker runs the loop on a dedicated goroutine that polls at a fixed interval.
	ModeWorker
)

func (m Mode) String() string {
	if m == ModeWorker {
		return "worker"
	}
	return "synchronous"
}

// Intent is a set of pending transition requests.
// The loop promotes them in a fixed order: Run, then Repeat, then Stop (later wins).
type Intent uint32

const (
	IntentRun Intent = 1 << iota
	IntentRepeat
	IntentStop
	IntentTerminate
)

// IntentTransitions covers every intent that Idle clears. Terminate is consumed only on loop exit.
const IntentTransitions = IntentRun | IntentRepeat | IntentStop

// Has reports whether all bits of other are set.
func (i Intent) Has(other Intent) bool {
	return i&other == other
}

func (i Intent) String() string {
	if i == 0 {
		return "none"
	}
	var out string
	for _, n := range []struct {
		bit  Intent
		name string
	}{
		{IntentRun, "run"},
		{IntentRepeat, "repeat"},
		{IntentStop, "stop"},
		{IntentTerminate, "terminate"},
	} {
		if i.Has(n.bit) {
			if out != "" {
				out += "|"
			}
			out += n.name
		}
	}
	return out
}
