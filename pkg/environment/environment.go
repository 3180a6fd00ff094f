package environment

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aretw0/scripthost/pkg/domain"
	"github.com/aretw0/scripthost/pkg/ports"
)

// DefaultPollInterval is the worker-mode suspension between loop iterations.
const DefaultPollInterval = time.Second

// Owner is the Environment's view of the Coordinator that created it.
// Calls are made synchronously from the goroutine running the loop.
type Owner interface {
	// ScriptComplete is called after every script pass.
	ScriptComplete(token domain.Token) error
	// LogMessage appends a line to the session log.
	LogMessage(token domain.Token, message string) error
	// RegisterEnvironment publishes a worker Environment back to its creator.
	RegisterEnvironment(env *Environment, token domain.Token) error
}

// Config is the inert descriptor of an Environment. It is a plain value and may be
// copied freely across goroutines before New turns it into a live object.
type Config struct {
	Name         string
	ScriptDir    string
	Mode         domain.Mode
	PollInterval time.Duration
	Factory      ports.InterpreterFactory
	Logger       *slog.Logger
	Hooks        domain.LifecycleHooks
}

// Environment owns one interpreter instance and the run-state machine driving it.
type Environment struct {
	cfg    Config
	logger *slog.Logger

	mu          sync.Mutex // owner, token, initialized, script
	owner       Owner
	token       domain.Token
	initialized bool
	script      string

	vm     sync.Mutex // serializes every use of interp
	interp ports.Interpreter
	source []byte

	intents atomic.Uint32
	state   atomic.Int32
	active  atomic.Bool
	halt    atomic.Bool
	passes  atomic.Int64
	poll    atomic.Int64

	passMu     sync.Mutex
	cancelPass context.CancelFunc
	wake       chan struct{}
}

// New builds an inert Environment. No interpreter exists until Initialize.
func New(cfg Config) *Environment {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Name != "" {
		logger = logger.With("session", cfg.Name)
	}
	e := &Environment{
		cfg:    cfg,
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
	e.poll.Store(int64(cfg.PollInterval))
	return e
}

// SetPollInterval changes the worker suspension between iterations. Non-positive values
// restore DefaultPollInterval. The change applies from the next sleep.
func (e *Environment) SetPollInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultPollInterval
	}
	e.poll.Store(int64(d))
}

// SetOwner records the Coordinator that receives completion and log notifications.
// The owner is fixed once a token is bound.
func (e *Environment) SetOwner(owner Owner) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.token != 0 {
		return domain.ErrAccessDenied
	}
	e.owner = owner
	return nil
}

// SetToken rotates the capability token. Only a caller presenting the current token may
// change it; a freshly built Environment holds the zero token.
func (e *Environment) SetToken(current, next domain.Token) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if current != e.token {
		return domain.ErrAccessDenied
	}
	e.token = next
	return nil
}

// Initialize allocates the interpreter. It succeeds exactly once.
func (e *Environment) Initialize(token domain.Token) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if token != e.token {
		return domain.ErrAccessDenied
	}
	if e.initialized {
		e.logger.Warn("environment already initialized")
		return domain.ErrAlreadyInitialized
	}
	if e.owner == nil {
		return domain.ErrOwnerUnset
	}
	if e.cfg.Factory == nil {
		return fmt.Errorf("%w: no interpreter factory configured", domain.ErrNotInitialized)
	}

	interp, err := e.cfg.Factory()
	if err != nil {
		return fmt.Errorf("failed to create interpreter: %w", err)
	}

	e.vm.Lock()
	e.interp = interp
	e.vm.Unlock()

	e.initialized = true
	e.logger.Debug("environment initialized", "mode", e.cfg.Mode)
	return nil
}

// ExecuteScript resolves the script under the script directory and runs the loop on the
// caller's goroutine until it exits. In synchronous mode a run intent is raised first so the
// script executes immediately.
func (e *Environment) ExecuteScript(ctx context.Context, name string, token domain.Token) error {
	if err := e.authorize(token); err != nil {
		return err
	}
	e.setScript(name)

	if !e.Initialized() {
		e.logger.Error("cannot execute script before initialization", "script", name)
		return domain.ErrNotInitialized
	}
	if !e.active.CompareAndSwap(false, true) {
		e.logger.Error("cannot execute script, loop already active", "script", name)
		return domain.ErrAlreadyActive
	}

	if e.cfg.Mode == domain.ModeSynchronous {
		e.raise(domain.IntentRun)
	}
	e.halt.Store(false)
	return e.loop(ctx)
}

// Serve is the worker unit of work. It binds the owner and token, publishes the Environment
// to its owner, acquires the interpreter and only then enters the loop. Requests raised by
// the owner right after registration are kept for the loop.
func (e *Environment) Serve(ctx context.Context, owner Owner, name string, token domain.Token) error {
	if !e.active.CompareAndSwap(false, true) {
		return domain.ErrAlreadyActive
	}

	if err := e.bind(owner, name, token); err != nil {
		e.active.Store(false)
		return err
	}
	return e.loop(ctx)
}

func (e *Environment) bind(owner Owner, name string, token domain.Token) error {
	if err := e.SetOwner(owner); err != nil {
		return err
	}
	e.setScript(name)
	if err := e.SetToken(0, token); err != nil {
		return err
	}
	if err := owner.RegisterEnvironment(e, token); err != nil {
		return fmt.Errorf("failed to register with owner: %w", err)
	}
	return e.Initialize(token)
}

// RunScriptProcess requests a single pass.
func (e *Environment) RunScriptProcess(token domain.Token) error {
	if err := e.authorize(token); err != nil {
		return err
	}
	e.raise(domain.IntentRun)
	return nil
}

// RepeatScriptProcess requests a pass on every iteration until stopped.
func (e *Environment) RepeatScriptProcess(token domain.Token) error {
	if err := e.authorize(token); err != nil {
		return err
	}
	e.raise(domain.IntentRepeat)
	return nil
}

// StopScriptProcess requests the Idle state. In synchronous mode it also makes the loop exit,
// returning control to the caller of ExecuteScript.
func (e *Environment) StopScriptProcess(token domain.Token) error {
	if err := e.authorize(token); err != nil {
		return err
	}
	e.raise(domain.IntentStop)
	if e.cfg.Mode == domain.ModeSynchronous {
		e.halt.Store(true)
	}
	return nil
}

// TerminateThread asks the loop to exit after the current iteration.
func (e *Environment) TerminateThread(token domain.Token) error {
	if err := e.authorize(token); err != nil {
		return err
	}
	e.raise(domain.IntentTerminate)
	e.nudge()
	return nil
}

// KillThread halts the loop without going through the intents and aborts a script pass
// that is in flight.
func (e *Environment) KillThread(token domain.Token) error {
	if err := e.authorize(token); err != nil {
		return err
	}
	e.halt.Store(true)

	e.passMu.Lock()
	if e.cancelPass != nil {
		e.cancelPass()
	}
	e.passMu.Unlock()

	e.nudge()
	return nil
}

// Close releases the interpreter. The loop must not be active.
func (e *Environment) Close(token domain.Token) error {
	if err := e.authorize(token); err != nil {
		return err
	}
	if e.Active() {
		return domain.ErrAlreadyActive
	}

	e.vm.Lock()
	defer e.vm.Unlock()
	if e.interp != nil {
		e.interp.Close()
		e.interp = nil
	}
	return nil
}

// Name returns the session name from the Config.
func (e *Environment) Name() string { return e.cfg.Name }

// Mode returns the operating mode from the Config.
func (e *Environment) Mode() domain.Mode { return e.cfg.Mode }

// State returns the current RunState.
func (e *Environment) State() domain.RunState { return domain.RunState(e.state.Load()) }

// Pending returns the intents not yet consumed by the loop.
func (e *Environment) Pending() domain.Intent { return domain.Intent(e.intents.Load()) }

// Active reports whether the loop is running.
func (e *Environment) Active() bool { return e.active.Load() }

// Passes returns how many times the script has been executed.
func (e *Environment) Passes() int64 { return e.passes.Load() }

// Initialized reports whether Initialize has succeeded.
func (e *Environment) Initialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

// Script returns the resolved path of the targeted script file.
func (e *Environment) Script() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.script
}

func (e *Environment) authorize(token domain.Token) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if token != e.token {
		return domain.ErrAccessDenied
	}
	return nil
}

func (e *Environment) setScript(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.script = filepath.Join(e.cfg.ScriptDir, name)
}

func (e *Environment) credentials() (Owner, domain.Token) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.owner, e.token
}

func (e *Environment) raise(i domain.Intent) {
	e.intents.Or(uint32(i))
}

func (e *Environment) consume(i domain.Intent) {
	e.intents.And(^uint32(i))
}

// nudge wakes a sleeping worker loop so exit requests do not wait out the poll interval.
func (e *Environment) nudge() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}
