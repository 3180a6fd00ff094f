package ports

import (
	"context"
	"io"
)

// Interpreter is the narrow capability the Environment needs from an embedded scripting VM.
// Implementations are not required to be safe for concurrent use; the Environment serializes access.
type Interpreter interface {
	// ExecuteSource runs the chunk read from r. Cancelling ctx aborts a running chunk.
	ExecuteSource(ctx context.Context, r io.Reader, chunk string) error

	// VariableExists reports whether name is a script variable: a string, number or
	// boolean global. Library tables and functions do not count.
	VariableExists(name string) bool

	// Typed reads. Behavior is undefined when VariableExists is false; callers must guard.
	ReadString(name string) string
	ReadNumber(name string) float64
	ReadBool(name string) bool

	// Typed writes. Same guard requirement as the reads.
	WriteString(name string, value string)
	WriteNumber(name string, value float64)
	WriteBool(name string, value bool)

	// Variables returns the scalar (string, number, boolean) globals.
	Variables() map[string]any

	// Close releases the VM.
	Close()
}

// InterpreterFactory allocates a fresh Interpreter. It is invoked once per Environment,
// during initialization, on the goroutine that will own the Environment's loop.
type InterpreterFactory func() (Interpreter, error)
