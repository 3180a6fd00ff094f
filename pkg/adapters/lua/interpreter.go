// Package lua adapts gopher-lua to the ports.Interpreter capability.
package lua

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/aretw0/scripthost/pkg/ports"
	"github.com/aretw0/scripthost/pkg/registry"
	lua "github.com/yuin/gopher-lua"
)

// reservedGlobals are scalar globals installed by the VM itself.
var reservedGlobals = map[string]bool{
	"_VERSION":            true,
	"_GOPHER_LUA_VERSION": true,
}

// LogFunc receives the messages scripts pass to the global log function.
type LogFunc func(message string)

// Interpreter implements ports.Interpreter on top of a single *lua.LState.
// It is not safe for concurrent use.
type Interpreter struct {
	state    *lua.LState
	registry *registry.Registry
	logFn    LogFunc
	logger   *slog.Logger
	options  lua.Options
}

var _ ports.Interpreter = (*Interpreter)(nil)

// Option configures the Interpreter.
type Option func(*Interpreter)

// WithRegistry exposes every registered host function as a script global.
func WithRegistry(reg *registry.Registry) Option {
	return func(i *Interpreter) {
		i.registry = reg
	}
}

// WithLogFunc installs the global log(msg) function.
func WithLogFunc(fn LogFunc) Option {
	return func(i *Interpreter) {
		i.logFn = fn
	}
}

// WithCallStackSize bounds the Lua call stack (default: gopher-lua's default).
func WithCallStackSize(size int) Option {
	return func(i *Interpreter) {
		i.options.CallStackSize = size
	}
}

// WithLogger configures the structured logger used for host function failures.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Interpreter) {
		i.logger = logger
	}
}

// New creates a fresh Lua VM with the standard libraries opened.
func New(opts ...Option) *Interpreter {
	i := &Interpreter{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(i)
	}

	i.state = lua.NewState(i.options)

	if i.logFn != nil {
		i.state.SetGlobal("log", i.state.NewFunction(i.luaLog))
	}
	if i.registry != nil {
		for _, name := range i.registry.Names() {
			i.state.SetGlobal(name, i.state.NewFunction(i.hostCall(name)))
		}
	}
	return i
}

// Factory returns a ports.InterpreterFactory producing Interpreters with the given options.
func Factory(opts ...Option) ports.InterpreterFactory {
	return func() (ports.Interpreter, error) {
		return New(opts...), nil
	}
}

// ExecuteSource compiles and runs one chunk. Cancelling ctx aborts the chunk at the next instruction.
func (i *Interpreter) ExecuteSource(ctx context.Context, r io.Reader, chunk string) error {
	fn, err := i.state.Load(r, chunk)
	if err != nil {
		return fmt.Errorf("failed to load chunk: %w", err)
	}

	i.state.SetContext(ctx)
	defer i.state.RemoveContext()

	i.state.Push(fn)
	if err := i.state.PCall(0, lua.MultRet, nil); err != nil {
		// Leave the stack balanced for the next pass.
		i.state.SetTop(0)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("chunk aborted: %w", ctxErr)
		}
		return err
	}
	i.state.SetTop(0)
	return nil
}

// VariableExists reports whether name is a script variable: a string, number or boolean
// global. Library tables, functions and VM constants are not variables.
func (i *Interpreter) VariableExists(name string) bool {
	if reservedGlobals[name] {
		return false
	}
	return isScalar(i.state.GetGlobal(name))
}

func (i *Interpreter) ReadString(name string) string {
	return lua.LVAsString(i.state.GetGlobal(name))
}

func (i *Interpreter) ReadNumber(name string) float64 {
	return float64(lua.LVAsNumber(i.state.GetGlobal(name)))
}

func (i *Interpreter) ReadBool(name string) bool {
	return lua.LVAsBool(i.state.GetGlobal(name))
}

func (i *Interpreter) WriteString(name string, value string) {
	i.state.SetGlobal(name, lua.LString(value))
}

func (i *Interpreter) WriteNumber(name string, value float64) {
	i.state.SetGlobal(name, lua.LNumber(value))
}

func (i *Interpreter) WriteBool(name string, value bool) {
	i.state.SetGlobal(name, lua.LBool(value))
}

// Variables returns the scalar globals. Library tables and functions are skipped.
func (i *Interpreter) Variables() map[string]any {
	out := make(map[string]any)
	i.state.G.Global.ForEach(func(k, v lua.LValue) {
		key, ok := k.(lua.LString)
		if !ok || reservedGlobals[string(key)] || !isScalar(v) {
			return
		}
		out[string(key)] = toGo(v)
	})
	return out
}

// Close releases the VM.
func (i *Interpreter) Close() {
	i.state.Close()
}

func (i *Interpreter) luaLog(L *lua.LState) int {
	top := L.GetTop()
	msg := ""
	for n := 1; n <= top; n++ {
		if n > 1 {
			msg += " "
		}
		msg += L.Get(n).String()
	}
	i.logFn(msg)
	return 0
}

func (i *Interpreter) hostCall(name string) lua.LGFunction {
	return func(L *lua.LState) int {
		top := L.GetTop()
		args := make([]any, 0, top)
		for n := 1; n <= top; n++ {
			args = append(args, toGo(L.Get(n)))
		}

		ctx := L.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		result, err := i.registry.Call(ctx, name, args)
		if err != nil {
			i.logger.Debug("host function failed", "function", name, "err", err)
			L.RaiseError("%s: %s", name, err.Error())
			return 0
		}
		L.Push(toLua(L, result))
		return 1
	}
}

func isScalar(v lua.LValue) bool {
	switch v.Type() {
	case lua.LTString, lua.LTNumber, lua.LTBool:
		return true
	}
	return false
}

func toGo(v lua.LValue) any {
	switch v.Type() {
	case lua.LTString:
		return lua.LVAsString(v)
	case lua.LTNumber:
		return float64(lua.LVAsNumber(v))
	case lua.LTBool:
		return lua.LVAsBool(v)
	case lua.LTNil:
		return nil
	default:
		return v.String()
	}
}

// toLua converts host results. Decoded JSON objects and arrays become tables.
func toLua(L *lua.LState, v any) lua.LValue {
	switch t := v.(type) {
	case nil:
		return lua.LNil
	case string:
		return lua.LString(t)
	case bool:
		return lua.LBool(t)
	case float64:
		return lua.LNumber(t)
	case float32:
		return lua.LNumber(t)
	case int:
		return lua.LNumber(t)
	case int64:
		return lua.LNumber(t)
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range t {
			tbl.RawSetString(k, toLua(L, item))
		}
		return tbl
	case []any:
		tbl := L.NewTable()
		for _, item := range t {
			tbl.Append(toLua(L, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", t))
	}
}
