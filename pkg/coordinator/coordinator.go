package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aretw0/scripthost/internal/logging"
	"github.com/aretw0/scripthost/pkg/adapters/file"
	"github.com/aretw0/scripthost/pkg/adapters/lua"
	"github.com/aretw0/scripthost/pkg/domain"
	"github.com/aretw0/scripthost/pkg/environment"
	"github.com/aretw0/scripthost/pkg/ports"
	"github.com/aretw0/scripthost/pkg/registry"
)

const rule = "----------------------------------------------------------------------------"

// Coordinator owns an Environment and is the only holder of its token.
type Coordinator struct {
	name      string
	scriptDir string
	mode      domain.Mode
	poll      time.Duration
	logDir    string
	factory   ports.InterpreterFactory
	registry  *registry.Registry
	hooks     domain.LifecycleHooks
	logger    *slog.Logger
	locker    ports.DistributedLocker
	lockTTL   time.Duration

	token domain.Token

	sinkMu sync.Mutex
	sink   ports.LogSink

	mu        sync.Mutex
	env       *environment.Environment // published by registration in worker mode
	spawned   *environment.Environment // the worker Environment awaiting registration
	ready     chan struct{}
	readyOnce *sync.Once
	done      chan struct{}
	cancel    context.CancelFunc
	workerErr error
	closed    bool

	// life ends on Close; synchronous executions derive from it.
	life     context.Context
	shutdown context.CancelFunc
	inflight sync.WaitGroup

	spawnMu  sync.Mutex
	executed atomic.Bool
}

var _ environment.Owner = (*Coordinator)(nil)

// New creates a Coordinator for the named session. Scripts are resolved under scriptDir.
func New(name, scriptDir string, opts ...Option) (*Coordinator, error) {
	if name == "" {
		return nil, errors.New("coordinator: session name is required")
	}

	c := &Coordinator{
		name:      name,
		scriptDir: scriptDir,
		mode:      domain.ModeSynchronous,
		poll:      environment.DefaultPollInterval,
		logger:    logging.NewNop(),
		lockTTL:   DefaultLockTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("session", name)
	c.life, c.shutdown = context.WithCancel(context.Background())

	token, err := domain.NewToken()
	if err != nil {
		return nil, err
	}
	c.token = token

	if c.factory == nil {
		c.factory = lua.Factory(
			lua.WithRegistry(c.registry),
			lua.WithLogFunc(c.scriptLog),
			lua.WithLogger(c.logger),
		)
	}

	if c.sink == nil && c.logDir != "" {
		sink, err := file.Open(c.logDir, name)
		if err != nil {
			// The session keeps running without a log file.
			c.logger.Warn("session log unavailable", "dir", c.logDir, "err", err)
		} else {
			c.sink = sink
		}
	}

	c.write("-------------------->>> SCRIPT HOST LOGGING INITIATED <<<--------------------")
	c.write(name)
	c.write(rule)

	if c.mode == domain.ModeSynchronous {
		env := c.newEnvironment()
		if err := env.SetOwner(c); err != nil {
			return nil, err
		}
		if err := env.SetToken(0, c.token); err != nil {
			return nil, err
		}
		if err := env.Initialize(c.token); err != nil {
			c.shutdown()
			c.closeSink()
			return nil, fmt.Errorf("failed to initialize environment: %w", err)
		}
		c.env = env
	}

	return c, nil
}

func (c *Coordinator) newEnvironment() *environment.Environment {
	return environment.New(environment.Config{
		Name:         c.name,
		ScriptDir:    c.scriptDir,
		Mode:         c.mode,
		PollInterval: c.poll,
		Factory:      c.factory,
		Logger:       c.logger,
		Hooks:        c.hooks,
	})
}

// ExecuteScript runs the named script from the script directory.
//
// In synchronous mode it returns after one pass. In worker mode it returns once the
// worker has registered; the script then runs on RunScript or RepeatScript.
func (c *Coordinator) ExecuteScript(ctx context.Context, name string) error {
	if c.mode == domain.ModeSynchronous {
		return c.execute(ctx, name)
	}
	return c.spawn(ctx, name)
}

// execute runs a synchronous pass that Close can interrupt and join.
func (c *Coordinator) execute(ctx context.Context, name string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.ErrClosed
	}
	env := c.env
	c.inflight.Add(1)
	c.mu.Unlock()
	defer c.inflight.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.life, cancel)
	defer stop()

	return env.ExecuteScript(ctx, name, c.token)
}

func (c *Coordinator) spawn(ctx context.Context, name string) error {
	c.spawnMu.Lock()
	defer c.spawnMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.ErrClosed
	}
	if c.done != nil && !isClosed(c.done) {
		c.mu.Unlock()
		return domain.ErrAlreadyActive
	}
	c.mu.Unlock()

	var unlock ports.UnlockFunc
	if c.locker != nil {
		var err error
		unlock, err = c.locker.Lock(ctx, "worker:"+c.name, c.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire session lock: %w", err)
		}
	}

	env := c.newEnvironment()
	// The worker outlives this call; only Close or KillScript end it.
	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ready := make(chan struct{})
	done := make(chan struct{})

	c.mu.Lock()
	previous := c.env
	c.env = nil
	c.spawned = env
	c.ready = ready
	c.readyOnce = &sync.Once{}
	c.done = done
	c.cancel = cancel
	c.workerErr = nil
	c.mu.Unlock()

	if previous != nil {
		if err := previous.Close(c.token); err != nil {
			c.logger.Warn("failed to release previous environment", "err", err)
		}
	}

	go func() {
		defer close(done)
		defer cancel()

		err := env.Serve(workerCtx, c, name, c.token)
		if err != nil {
			c.logger.Error("worker exited with error", "script", name, "err", err)
		}
		c.mu.Lock()
		c.workerErr = err
		c.mu.Unlock()

		if unlock != nil {
			if err := unlock(context.Background()); err != nil {
				c.logger.Warn("failed to release session lock (will expire via TTL)", "err", err)
			}
		}
	}()

	select {
	case <-ready:
		return nil
	case <-done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.workerErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunScript asks the live loop for a single pass.
func (c *Coordinator) RunScript() error {
	return c.control((*environment.Environment).RunScriptProcess)
}

// RepeatScript asks the live loop to run the script on every iteration.
func (c *Coordinator) RepeatScript() error {
	return c.control((*environment.Environment).RepeatScriptProcess)
}

// StopScript returns the live loop to Idle.
func (c *Coordinator) StopScript() error {
	return c.control((*environment.Environment).StopScriptProcess)
}

// TerminateScript makes the live loop exit after the current iteration.
func (c *Coordinator) TerminateScript() error {
	return c.control((*environment.Environment).TerminateThread)
}

// KillScript stops the live loop at once, aborting a pass in flight.
func (c *Coordinator) KillScript() error {
	return c.control((*environment.Environment).KillThread)
}

// PingScript reports the state of the live loop.
func (c *Coordinator) PingScript() (domain.RunState, error) {
	env, err := c.live()
	if err != nil {
		return domain.StateIdle, err
	}
	return env.State(), nil
}

// Pending reports the intents the live loop has not yet consumed.
func (c *Coordinator) Pending() domain.Intent {
	env, err := c.current()
	if err != nil {
		return 0
	}
	return env.Pending()
}

// Wait blocks until the current worker exits. It returns immediately in synchronous mode
// or when no worker was spawned.
func (c *Coordinator) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}

	select {
	case <-done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.workerErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) control(op func(*environment.Environment, domain.Token) error) error {
	env, err := c.live()
	if err != nil {
		return err
	}
	return op(env, c.token)
}

// live returns the Environment only while its loop is running.
func (c *Coordinator) live() (*environment.Environment, error) {
	env, err := c.current()
	if err != nil {
		return nil, err
	}
	if !env.Active() {
		return nil, domain.ErrNotRunning
	}
	return env, nil
}

// current returns the registered Environment, running or not.
func (c *Coordinator) current() (*environment.Environment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, domain.ErrClosed
	}
	if c.env == nil {
		return nil, domain.ErrNotRunning
	}
	return c.env, nil
}

// ScriptComplete is called by the Environment after every pass.
func (c *Coordinator) ScriptComplete(token domain.Token) error {
	if err := c.check(token); err != nil {
		return err
	}
	c.executed.Store(true)

	if c.mode == domain.ModeSynchronous {
		c.mu.Lock()
		env := c.env
		c.mu.Unlock()
		if env != nil {
			return env.StopScriptProcess(c.token)
		}
	}
	return nil
}

// LogMessage writes one line to the session log.
func (c *Coordinator) LogMessage(token domain.Token, message string) error {
	if err := c.check(token); err != nil {
		return err
	}
	return c.write(message)
}

// RegisterEnvironment publishes the worker's Environment. Only the Environment this
// Coordinator spawned may register, and only once.
func (c *Coordinator) RegisterEnvironment(env *environment.Environment, token domain.Token) error {
	if err := c.check(token); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if env == nil || env != c.spawned {
		return fmt.Errorf("%w: environment was not spawned by this coordinator", domain.ErrAccessDenied)
	}
	if c.env != nil {
		return domain.ErrAlreadyActive
	}
	c.env = env
	c.readyOnce.Do(func() { close(c.ready) })
	c.logger.Debug("worker registered")
	return nil
}

func (c *Coordinator) check(token domain.Token) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrClosed
	}
	if token != c.token {
		return domain.ErrAccessDenied
	}
	return nil
}

// scriptLog receives the script's log() calls.
func (c *Coordinator) scriptLog(message string) {
	if err := c.write(message); err != nil {
		c.logger.Warn("failed to write script log", "err", err)
	}
}

// write sends a stamped line to the sink and mirrors it to the structured logger.
func (c *Coordinator) write(message string) error {
	c.logger.Info(message)

	c.sinkMu.Lock()
	defer c.sinkMu.Unlock()
	if c.sink == nil {
		return nil
	}
	return c.sink.Log(time.Now(), message)
}

func (c *Coordinator) closeSink() {
	c.sinkMu.Lock()
	defer c.sinkMu.Unlock()
	if c.sink == nil {
		return
	}
	if err := c.sink.Close(); err != nil {
		c.logger.Warn("failed to close session log", "err", err)
	}
	c.sink = nil
}

// Close kills and joins the worker, releases the interpreter and closes the log sink.
// Notifications arriving afterwards are rejected with domain.ErrClosed.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	env := c.env
	if env == nil {
		env = c.spawned
	}
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	if env != nil {
		// Rejected only if the worker has not bound its token yet; cancel covers that case.
		_ = env.KillThread(c.token)
	}
	c.shutdown()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	c.inflight.Wait()

	var errs []error
	if env != nil && !env.Active() {
		if err := env.Close(c.token); err != nil && !errors.Is(err, domain.ErrAccessDenied) {
			errs = append(errs, err)
		}
	}

	_ = c.write("LOGGING SHUTTING DOWN")
	c.closeSink()
	return errors.Join(errs...)
}

// Executed reports whether the script has completed at least one pass.
func (c *Coordinator) Executed() bool { return c.executed.Load() }

// Name returns the session name.
func (c *Coordinator) Name() string { return c.name }

// Mode returns the operating mode.
func (c *Coordinator) Mode() domain.Mode { return c.mode }

// Passes returns how many times the current Environment has run the script.
func (c *Coordinator) Passes() int64 {
	env, err := c.current()
	if err != nil {
		return 0
	}
	return env.Passes()
}

// Script returns the resolved path of the last script handed to ExecuteScript.
func (c *Coordinator) Script() string {
	env, err := c.current()
	if err != nil {
		return ""
	}
	return env.Script()
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
