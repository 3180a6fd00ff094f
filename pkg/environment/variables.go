package environment

import (
	"github.com/aretw0/scripthost/pkg/domain"
	"github.com/aretw0/scripthost/pkg/ports"
)

// VariableExists reports whether the script bound a value to name.
func (e *Environment) VariableExists(token domain.Token, name string) (bool, error) {
	var found bool
	err := e.withInterpreter(token, func(interp ports.Interpreter) error {
		found = interp.VariableExists(name)
		return nil
	})
	return found, err
}

// ReadString returns the named variable as a string, or domain.ErrVariableNotFound.
func (e *Environment) ReadString(token domain.Token, name string) (string, error) {
	return read(e, token, name, ports.Interpreter.ReadString)
}

// ReadNumber returns the named variable as a number, or domain.ErrVariableNotFound.
func (e *Environment) ReadNumber(token domain.Token, name string) (float64, error) {
	return read(e, token, name, ports.Interpreter.ReadNumber)
}

// ReadBool returns the named variable as a boolean, or domain.ErrVariableNotFound.
func (e *Environment) ReadBool(token domain.Token, name string) (bool, error) {
	return read(e, token, name, ports.Interpreter.ReadBool)
}

// WriteString overwrites an existing variable. Missing names are never declared.
func (e *Environment) WriteString(token domain.Token, name, value string) error {
	return write(e, token, name, func(i ports.Interpreter) { i.WriteString(name, value) })
}

// WriteNumber overwrites an existing variable. Missing names are never declared.
func (e *Environment) WriteNumber(token domain.Token, name string, value float64) error {
	return write(e, token, name, func(i ports.Interpreter) { i.WriteNumber(name, value) })
}

// WriteBool overwrites an existing variable. Missing names are never declared.
func (e *Environment) WriteBool(token domain.Token, name string, value bool) error {
	return write(e, token, name, func(i ports.Interpreter) { i.WriteBool(name, value) })
}

// Variables returns the scalar variables currently bound by the script.
func (e *Environment) Variables(token domain.Token) (map[string]any, error) {
	var vars map[string]any
	err := e.withInterpreter(token, func(interp ports.Interpreter) error {
		vars = interp.Variables()
		return nil
	})
	return vars, err
}

// withInterpreter runs fn while holding the interpreter guard. The guard is also held
// for the duration of a script pass, so reads never observe a half-executed chunk.
func (e *Environment) withInterpreter(token domain.Token, fn func(ports.Interpreter) error) error {
	if err := e.authorize(token); err != nil {
		return err
	}
	e.vm.Lock()
	defer e.vm.Unlock()
	if e.interp == nil {
		return domain.ErrNotInitialized
	}
	return fn(e.interp)
}

func read[T any](e *Environment, token domain.Token, name string, get func(ports.Interpreter, string) T) (T, error) {
	var out T
	err := e.withInterpreter(token, func(interp ports.Interpreter) error {
		if !interp.VariableExists(name) {
			return domain.ErrVariableNotFound
		}
		out = get(interp, name)
		return nil
	})
	return out, err
}

func write(e *Environment, token domain.Token, name string, set func(ports.Interpreter)) error {
	return e.withInterpreter(token, func(interp ports.Interpreter) error {
		if !interp.VariableExists(name) {
			return domain.ErrVariableNotFound
		}
		set(interp)
		return nil
	})
}
