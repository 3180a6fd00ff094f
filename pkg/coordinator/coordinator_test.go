package coordinator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/scripthost/pkg/adapters/memory"
	"github.com/aretw0/scripthost/pkg/domain"
	"github.com/aretw0/scripthost/pkg/environment"
	"github.com/aretw0/scripthost/pkg/ports"
	"github.com/aretw0/scripthost/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bannerLines = 3

func writeScript(t *testing.T, dir, name, source string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(source), 0o644))
}

func newSync(t *testing.T, source string, opts ...Option) (*Coordinator, *memory.LogSink) {
	t.Helper()
	dir := t.TempDir()
	writeScript(t, dir, "test.lua", source)

	sink := memory.NewLogSink()
	c, err := New("sync-session", dir, append([]Option{WithLogSink(sink)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, sink
}

func newWorker(t *testing.T, source string, opts ...Option) (*Coordinator, *memory.LogSink) {
	t.Helper()
	return newSync(t, source, append([]Option{WithThreading(true), WithPollInterval(5 * time.Millisecond)}, opts...)...)
}

func TestCoordinator_SynchronousReadsScriptVariables(t *testing.T) {
	c, _ := newSync(t, "width = 4\nheight = 5\nlabel = 'box'\nvisible = true\n")

	require.NoError(t, c.ExecuteScript(context.Background(), "test.lua"))

	assert.True(t, c.Executed())
	assert.Equal(t, 4.0, c.GetDouble("width"))
	assert.Equal(t, 5.0, c.GetDouble("height"))
	assert.Equal(t, "box", c.GetString("label"))
	assert.True(t, c.GetBool("visible"))
	assert.EqualValues(t, 1, c.Passes())
	assert.Equal(t, domain.StateIdle, c.env.State())
}

func TestCoordinator_MissingVariables(t *testing.T) {
	c, _ := newSync(t, "width = 4")
	require.NoError(t, c.ExecuteScript(context.Background(), "test.lua"))

	assert.False(t, c.VariableExists("depth"))
	assert.Equal(t, -1.0, c.GetDouble("depth"))
	assert.Equal(t, "", c.GetString("depth"))
	assert.False(t, c.GetBool("depth"))

	assert.ErrorIs(t, c.SetDouble("depth", 3), domain.ErrVariableNotFound)
	assert.ErrorIs(t, c.SetString("depth", "x"), domain.ErrVariableNotFound)
	assert.ErrorIs(t, c.SetBool("depth", true), domain.ErrVariableNotFound)
	assert.False(t, c.VariableExists("depth"), "a failed set must not declare the variable")

	require.NoError(t, c.SetDouble("width", 9))
	assert.Equal(t, 9.0, c.GetDouble("width"))
}

func TestCoordinator_LibraryGlobalsAreNotVariables(t *testing.T) {
	reg := registry.NewRegistry()
	reg.Register("roll", func(ctx context.Context, args []any) (any, error) { return 4.0, nil })
	c, _ := newSync(t, "label = string.format('n=%d', 3)\n", WithHostFunctions(reg))
	ctx := context.Background()
	require.NoError(t, c.ExecuteScript(ctx, "test.lua"))

	for _, name := range []string{"string", "print", "log", "roll", "_VERSION"} {
		assert.False(t, c.VariableExists(name), name)
		assert.Equal(t, -1.0, c.GetDouble(name), name)
	}
	assert.ErrorIs(t, c.SetDouble("string", 1), domain.ErrVariableNotFound)
	assert.ErrorIs(t, c.SetBool("log", false), domain.ErrVariableNotFound)
	assert.ErrorIs(t, c.SetString("roll", "x"), domain.ErrVariableNotFound)

	// The script still has its libraries on the next pass.
	require.NoError(t, c.SetString("label", "stale"))
	require.NoError(t, c.ExecuteScript(ctx, "test.lua"))
	assert.Equal(t, "n=3", c.GetString("label"))
}

func TestCoordinator_ExecutesAgain(t *testing.T) {
	c, _ := newSync(t, "count = (count or 0) + 1")
	ctx := context.Background()

	require.NoError(t, c.ExecuteScript(ctx, "test.lua"))
	require.NoError(t, c.ExecuteScript(ctx, "test.lua"))
	assert.Equal(t, 2.0, c.GetDouble("count"))
}

func TestCoordinator_LogBannerAndShutdown(t *testing.T) {
	c, sink := newSync(t, "width = 4")

	msgs := sink.Messages()
	require.Len(t, msgs, bannerLines)
	assert.Contains(t, msgs[0], "LOGGING INITIATED")
	assert.Equal(t, "sync-session", msgs[1])

	require.NoError(t, c.Close())
	msgs = sink.Messages()
	assert.Equal(t, "LOGGING SHUTTING DOWN", msgs[len(msgs)-1])
	assert.True(t, sink.Closed())
	assert.NoError(t, c.Close(), "close is idempotent")
}

func TestCoordinator_MissingScriptLogsOnce(t *testing.T) {
	c, sink := newSync(t, "width = 4")

	err := c.ExecuteScript(context.Background(), "nope.lua")
	assert.ErrorIs(t, err, domain.ErrScriptFileUnavailable)
	assert.False(t, c.Executed())

	msgs := sink.Messages()[bannerLines:]
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "nope.lua")
}

func TestCoordinator_ScriptErrorIsLogged(t *testing.T) {
	c, sink := newSync(t, "width = 4\nerror('boom')\n")

	require.NoError(t, c.ExecuteScript(context.Background(), "test.lua"))
	assert.True(t, c.Executed())
	// Values bound before the failure stay visible.
	assert.Equal(t, 4.0, c.GetDouble("width"))

	msgs := sink.Messages()[bannerLines:]
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "boom")
	assert.NotContains(t, msgs[0], "failed: chunk")
}

func TestCoordinator_ScriptLogAndHostFunctions(t *testing.T) {
	reg := registry.NewRegistry()
	reg.Register("double", func(ctx context.Context, args []any) (any, error) {
		return args[0].(float64) * 2, nil
	})

	c, sink := newSync(t, "log('hello', 3)\nwidth = double(21)\n", WithHostFunctions(reg))
	require.NoError(t, c.ExecuteScript(context.Background(), "test.lua"))

	assert.Equal(t, 42.0, c.GetDouble("width"))
	assert.Contains(t, sink.Messages(), "hello 3")
}

func TestCoordinator_SnapshotRestore(t *testing.T) {
	c, _ := newSync(t, "width = 4\nlabel = 'box'\nvisible = true\n")
	require.NoError(t, c.ExecuteScript(context.Background(), "test.lua"))

	snap := c.Snapshot()
	assert.Equal(t, "sync-session", snap.Session)
	assert.True(t, snap.Executed)
	assert.Equal(t, map[string]any{"width": 4.0, "label": "box", "visible": true}, snap.Variables)

	require.NoError(t, c.SetDouble("width", 10))
	require.NoError(t, c.SetBool("visible", false))

	snap.Variables["ghost"] = 1.0
	assert.Equal(t, 3, c.Restore(snap))
	assert.Equal(t, 4.0, c.GetDouble("width"))
	assert.True(t, c.GetBool("visible"))
	assert.False(t, c.VariableExists("ghost"))
}

func TestCoordinator_LifecycleHooks(t *testing.T) {
	var mu sync.Mutex
	var states []domain.RunState
	var completed atomic.Int32

	hooks := domain.LifecycleHooks{
		OnStateChange: func(ctx context.Context, e *domain.StateEvent) {
			mu.Lock()
			defer mu.Unlock()
			states = append(states, e.To)
		},
		OnScriptComplete: func(ctx context.Context, e *domain.ScriptEvent) {
			completed.Add(1)
		},
	}

	c, _ := newSync(t, "width = 4", WithLifecycleHooks(hooks))
	require.NoError(t, c.ExecuteScript(context.Background(), "test.lua"))

	assert.EqualValues(t, 1, completed.Load())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []domain.RunState{domain.StateRunning, domain.StateIdle}, states)
}

func TestCoordinator_FactoryFailure(t *testing.T) {
	failing := func() (ports.Interpreter, error) { return nil, errors.New("no vm") }
	_, err := New("broken", t.TempDir(), WithInterpreterFactory(failing))
	assert.ErrorContains(t, err, "no vm")

	_, err = New("", t.TempDir())
	assert.Error(t, err)
}

func TestCoordinator_LogDir(t *testing.T) {
	dir := t.TempDir()
	c, err := New("npc [1]", dir, WithLogDir(filepath.Join(dir, "log")))
	require.NoError(t, err)
	require.NoError(t, c.Close())

	data, err := os.ReadFile(filepath.Join(dir, "log", "npc [1].log"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, bannerLines+1)
	assert.Regexp(t, `^\[\d{4}-\d{2}-\d{2}\] \[\d{2}:\d{2}:\d{2}\] `, lines[0])
	assert.True(t, strings.HasSuffix(lines[len(lines)-1], "LOGGING SHUTTING DOWN"))
}

func TestCoordinator_WorkerLifecycle(t *testing.T) {
	c, _ := newWorker(t, "count = (count or 0) + 1")
	ctx := context.Background()

	require.NoError(t, c.ExecuteScript(ctx, "test.lua"))
	state, err := c.PingScript()
	require.NoError(t, err)
	assert.Equal(t, domain.StateIdle, state)
	assert.False(t, c.Executed(), "worker waits for a run request")

	require.NoError(t, c.RunScript())
	require.Eventually(t, func() bool { return c.GetDouble("count") == 1 }, time.Second, time.Millisecond)
	state, err = c.PingScript()
	require.NoError(t, err)
	assert.Equal(t, domain.StateRunning, state)

	require.NoError(t, c.RepeatScript())
	require.Eventually(t, func() bool { return c.GetDouble("count") >= 4 }, time.Second, time.Millisecond)

	require.NoError(t, c.StopScript())
	require.Eventually(t, func() bool {
		s, _ := c.PingScript()
		return s == domain.StateIdle
	}, time.Second, time.Millisecond)

	settled := c.GetDouble("count")
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, settled, c.GetDouble("count"), "idle loop must not execute")

	require.NoError(t, c.TerminateScript())
	require.NoError(t, c.Wait(ctx))

	_, err = c.PingScript()
	assert.ErrorIs(t, err, domain.ErrNotRunning)
	assert.ErrorIs(t, c.RunScript(), domain.ErrNotRunning)
	assert.Equal(t, settled, c.GetDouble("count"), "variables outlive the worker")
}

func TestCoordinator_WorkerAlreadyActive(t *testing.T) {
	c, _ := newWorker(t, "width = 4")
	ctx := context.Background()

	require.NoError(t, c.ExecuteScript(ctx, "test.lua"))
	assert.ErrorIs(t, c.ExecuteScript(ctx, "test.lua"), domain.ErrAlreadyActive)

	require.NoError(t, c.TerminateScript())
	require.NoError(t, c.Wait(ctx))

	// A finished worker can be replaced.
	require.NoError(t, c.ExecuteScript(ctx, "test.lua"))
	require.NoError(t, c.RunScript())
	require.Eventually(t, func() bool { return c.GetDouble("width") == 4 }, time.Second, time.Millisecond)
}

func TestCoordinator_KillAbortsInfiniteScript(t *testing.T) {
	c, sink := newWorker(t, "log('spinning')\nwhile true do end\n")
	ctx := context.Background()

	require.NoError(t, c.ExecuteScript(ctx, "test.lua"))
	require.NoError(t, c.RunScript())
	require.Eventually(t, func() bool {
		return len(sink.Messages()) > bannerLines
	}, time.Second, time.Millisecond)
	state, err := c.PingScript()
	require.NoError(t, err)
	assert.Equal(t, domain.StateRunning, state)

	require.NoError(t, c.KillScript())

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(waitCtx))

	_, err = c.PingScript()
	assert.ErrorIs(t, err, domain.ErrNotRunning)
	msgs := sink.Messages()[bannerLines:]
	require.Len(t, msgs, 2)
	assert.Equal(t, "spinning", msgs[0])
	assert.Contains(t, msgs[1], "aborted")
}

func TestCoordinator_CloseJoinsWorkerAndRejectsCallbacks(t *testing.T) {
	c, sink := newWorker(t, "while true do end")
	ctx := context.Background()

	require.NoError(t, c.ExecuteScript(ctx, "test.lua"))
	require.NoError(t, c.RepeatScript())
	env := c.env

	done := make(chan error, 1)
	go func() { done <- c.Close() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("close did not join the worker")
	}

	assert.False(t, env.Active())
	assert.ErrorIs(t, c.LogMessage(c.token, "late"), domain.ErrClosed)
	assert.ErrorIs(t, c.ScriptComplete(c.token), domain.ErrClosed)
	assert.ErrorIs(t, c.ExecuteScript(ctx, "test.lua"), domain.ErrClosed)
	assert.True(t, sink.Closed())
}

func TestCoordinator_CloseJoinsSynchronousExecution(t *testing.T) {
	c, sink := newSync(t, "while true do end")
	env := c.env

	executed := make(chan error, 1)
	go func() { executed <- c.ExecuteScript(context.Background(), "test.lua") }()
	require.Eventually(t, func() bool { return env.Passes() == 0 && env.Active() }, time.Second, time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- c.Close() }()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("close did not join the synchronous execution")
	}

	select {
	case <-executed:
	case <-time.After(time.Second):
		t.Fatal("execution still running after close")
	}
	assert.False(t, env.Active())
	_, err := env.Variables(c.token)
	assert.ErrorIs(t, err, domain.ErrNotInitialized, "interpreter released")
	assert.True(t, sink.Closed())
}

func TestCoordinator_CallbacksAreTokenGated(t *testing.T) {
	c, sink := newSync(t, "width = 4")
	wrong := c.token + 1

	assert.ErrorIs(t, c.LogMessage(wrong, "forged"), domain.ErrAccessDenied)
	assert.ErrorIs(t, c.ScriptComplete(wrong), domain.ErrAccessDenied)
	assert.False(t, c.Executed())
	assert.NotContains(t, sink.Messages(), "forged")

	stranger := environment.New(environment.Config{Name: "stranger"})
	assert.ErrorIs(t, c.RegisterEnvironment(stranger, c.token), domain.ErrAccessDenied)
	assert.ErrorIs(t, c.RegisterEnvironment(stranger, wrong), domain.ErrAccessDenied)
}

func TestCoordinator_SecondRegistrationRejected(t *testing.T) {
	c, _ := newWorker(t, "width = 4")
	require.NoError(t, c.ExecuteScript(context.Background(), "test.lua"))

	assert.ErrorIs(t, c.RegisterEnvironment(c.env, c.token), domain.ErrAlreadyActive)
}

type countingLocker struct {
	locks   atomic.Int32
	unlocks atomic.Int32
	err     error
}

func (l *countingLocker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.locks.Add(1)
	return func(ctx context.Context) error {
		l.unlocks.Add(1)
		return nil
	}, nil
}

func TestCoordinator_WorkerHoldsSessionLock(t *testing.T) {
	locker := &countingLocker{}
	c, _ := newWorker(t, "width = 4", WithLocker(locker, time.Minute))
	ctx := context.Background()

	require.NoError(t, c.ExecuteScript(ctx, "test.lua"))
	assert.EqualValues(t, 1, locker.locks.Load())
	assert.Zero(t, locker.unlocks.Load())

	require.NoError(t, c.TerminateScript())
	require.NoError(t, c.Wait(ctx))
	assert.EqualValues(t, 1, locker.unlocks.Load())
}

func TestCoordinator_LockFailure(t *testing.T) {
	locker := &countingLocker{err: errors.New("held elsewhere")}
	c, _ := newWorker(t, "width = 4", WithLocker(locker, time.Minute))

	err := c.ExecuteScript(context.Background(), "test.lua")
	assert.ErrorContains(t, err, "held elsewhere")
	_, err = c.PingScript()
	assert.ErrorIs(t, err, domain.ErrNotRunning)
}
