package scripthost

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aretw0/scripthost/internal/logging"
	"github.com/aretw0/scripthost/pkg/adapters/file"
	"github.com/aretw0/scripthost/pkg/adapters/process"
	"github.com/aretw0/scripthost/pkg/adapters/redis"
	"github.com/aretw0/scripthost/pkg/config"
	"github.com/aretw0/scripthost/pkg/coordinator"
	"github.com/aretw0/scripthost/pkg/domain"
	"github.com/aretw0/scripthost/pkg/ports"
	"github.com/aretw0/scripthost/pkg/registry"
	"github.com/aretw0/scripthost/pkg/session"
)

// New creates a Coordinator wired with the Lua interpreter and a session log under ./log.
// Later options override the defaults, e.g. coordinator.WithLogDir or coordinator.WithLogSink.
func New(name, scriptDir string, opts ...coordinator.Option) (*coordinator.Coordinator, error) {
	defaults := []coordinator.Option{coordinator.WithLogDir(config.DefaultLogDir)}
	return coordinator.New(name, scriptDir, append(defaults, opts...)...)
}

// Option configures FromConfig.
type Option func(*builder)

type builder struct {
	logger   *slog.Logger
	hooks    domain.LifecycleHooks
	registry *registry.Registry
	extra    []coordinator.Option
}

// WithLogger sets the structured logger shared by the manager and every session.
func WithLogger(logger *slog.Logger) Option {
	return func(b *builder) {
		b.logger = logger
	}
}

// WithLifecycleHooks registers observability hooks on every session.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(b *builder) {
		b.hooks = hooks
	}
}

// WithHostFunctions shares a registry of host functions with every session.
// The configured process tools are added to it.
func WithHostFunctions(reg *registry.Registry) Option {
	return func(b *builder) {
		b.registry = reg
	}
}

// WithSessionOptions appends Coordinator options to every session.
func WithSessionOptions(opts ...coordinator.Option) Option {
	return func(b *builder) {
		b.extra = append(b.extra, opts...)
	}
}

// FromConfig builds a session Manager from a session file.
//
// A Redis address enables the Redis snapshot store and the distributed locks; otherwise a
// snapshot_dir enables the file store. Sessions are created in file order and autostarted.
// On failure every session created so far is closed.
func FromConfig(ctx context.Context, cfg *config.File, opts ...Option) (*session.Manager, error) {
	b := &builder{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	if b.registry == nil {
		b.registry = registry.NewRegistry()
	}
	if len(cfg.Tools) > 0 {
		process.NewRunner(process.WithProcesses(cfg.Tools)).Install(b.registry)
	}

	mgrOpts := []session.Option{session.WithLogger(b.logger)}
	var locker ports.DistributedLocker
	switch {
	case cfg.Redis.Addr != "":
		client := redis.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		store := redis.NewFromClient(client, redis.WithPrefix(cfg.Redis.Prefix), redis.WithTTL(cfg.Redis.TTL))
		locker = redis.NewLocker(client, cfg.Redis.Prefix)
		mgrOpts = append(mgrOpts, session.WithStore(store), session.WithLocker(locker))
		b.logger.Debug("redis backend enabled", "addr", cfg.Redis.Addr)
	case cfg.SnapshotDir != "":
		mgrOpts = append(mgrOpts, session.WithStore(file.NewStore(cfg.SnapshotDir)))
	}
	mgr := session.NewManager(mgrOpts...)

	for _, s := range cfg.Sessions {
		copts := []coordinator.Option{
			coordinator.WithThreading(s.Threaded),
			coordinator.WithLogDir(cfg.LogDir),
			coordinator.WithPollInterval(s.PollInterval),
			coordinator.WithLogger(b.logger),
			coordinator.WithLifecycleHooks(b.hooks),
			coordinator.WithHostFunctions(b.registry),
		}
		if locker != nil {
			copts = append(copts, coordinator.WithLocker(locker, coordinator.DefaultLockTTL))
		}

		c, err := coordinator.New(s.Name, s.ScriptDir, append(copts, b.extra...)...)
		if err != nil {
			_ = mgr.Close()
			return nil, fmt.Errorf("session %q: %w", s.Name, err)
		}
		if err := mgr.Add(c); err != nil {
			_ = c.Close()
			_ = mgr.Close()
			return nil, err
		}
		if err := autostart(ctx, c, s); err != nil {
			_ = mgr.Close()
			return nil, fmt.Errorf("session %q: autostart: %w", s.Name, err)
		}
	}
	return mgr, nil
}

// autostart executes the session's script. Worker sessions are then asked to run once or repeat.
func autostart(ctx context.Context, c *coordinator.Coordinator, s config.Session) error {
	if s.Autostart == config.AutostartNone {
		return nil
	}
	if err := c.ExecuteScript(ctx, s.Script); err != nil {
		return err
	}
	if c.Mode() != domain.ModeWorker {
		return nil
	}
	if s.Autostart == config.AutostartRepeat {
		return c.RepeatScript()
	}
	return c.RunScript()
}
