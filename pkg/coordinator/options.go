package coordinator

import (
	"log/slog"
	"time"

	"github.com/aretw0/scripthost/pkg/domain"
	"github.com/aretw0/scripthost/pkg/ports"
	"github.com/aretw0/scripthost/pkg/registry"
)

// DefaultLockTTL bounds how long a distributed worker lock survives a crashed host.
const DefaultLockTTL = 30 * time.Second

// Option configures the Coordinator.
type Option func(*Coordinator)

// WithThreading selects worker mode when true. The default is synchronous.
func WithThreading(threaded bool) Option {
	return func(c *Coordinator) {
		if threaded {
			c.mode = domain.ModeWorker
		} else {
			c.mode = domain.ModeSynchronous
		}
	}
}

// WithLogDir writes the session log to <dir>/<sanitized name>.log.
// It is ignored when WithLogSink is also given.
func WithLogDir(dir string) Option {
	return func(c *Coordinator) {
		c.logDir = dir
	}
}

// WithLogSink configures where session log lines are written.
func WithLogSink(sink ports.LogSink) Option {
	return func(c *Coordinator) {
		c.sink = sink
	}
}

// WithPollInterval sets the worker suspension between loop iterations.
func WithPollInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		c.poll = d
	}
}

// WithInterpreterFactory replaces the default Lua interpreter.
func WithInterpreterFactory(f ports.InterpreterFactory) Option {
	return func(c *Coordinator) {
		c.factory = f
	}
}

// WithLogger configures the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithLifecycleHooks registers observers for state changes and script passes.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(c *Coordinator) {
		c.hooks = hooks
	}
}

// WithLocker guards worker mode with a distributed lock keyed by the session name,
// so at most one host runs a given session at a time.
func WithLocker(locker ports.DistributedLocker, ttl time.Duration) Option {
	return func(c *Coordinator) {
		c.locker = locker
		c.lockTTL = ttl
	}
}

// WithHostFunctions exposes the registry's functions to scripts run by the default interpreter.
func WithHostFunctions(reg *registry.Registry) Option {
	return func(c *Coordinator) {
		c.registry = reg
	}
}
