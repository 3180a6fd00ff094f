package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/scripthost/internal/logging"
	"github.com/aretw0/scripthost/pkg/coordinator"
	"github.com/aretw0/scripthost/pkg/domain"
	"github.com/aretw0/scripthost/pkg/ports"
)

// DefaultLockTTL bounds the distributed lock held around one operation.
const DefaultLockTTL = 30 * time.Second

// ErrNoStore is returned by Persist and Restore when no snapshot store is configured.
var ErrNoStore = errors.New("no snapshot store configured")

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager orchestrates access to named sessions, ensuring safe concurrent operations.
// It uses Reference Counting to garbage collect unused locks.
type Manager struct {
	store ports.SnapshotStore

	smu      sync.RWMutex
	sessions map[string]*coordinator.Coordinator

	mu    sync.Mutex            // Global lock for the map
	locks map[string]*lockEntry // Map of active locks

	locker  ports.DistributedLocker
	lockTTL time.Duration
	logger  *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithStore enables Persist and Restore.
func WithStore(store ports.SnapshotStore) Option {
	return func(m *Manager) {
		m.store = store
	}
}

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the lease of the distributed lock.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.lockTTL = ttl
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates an empty Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		sessions: make(map[string]*coordinator.Coordinator),
		locks:    make(map[string]*lockEntry),
		lockTTL:  DefaultLockTTL,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(name) after unlocking.
func (m *Manager) acquire(name string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[name]
	if !exists {
		entry = &lockEntry{}
		m.locks[name] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[name]
	if !exists {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, name)
	}
}

// Add registers a Coordinator under its name.
func (m *Manager) Add(c *coordinator.Coordinator) error {
	m.smu.Lock()
	defer m.smu.Unlock()
	if _, exists := m.sessions[c.Name()]; exists {
		return fmt.Errorf("%w: %s", domain.ErrSessionExists, c.Name())
	}
	m.sessions[c.Name()] = c
	return nil
}

// Get returns the named Coordinator.
func (m *Manager) Get(name string) (*coordinator.Coordinator, error) {
	m.smu.RLock()
	defer m.smu.RUnlock()
	c, ok := m.sessions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, name)
	}
	return c, nil
}

// List returns the session names, sorted.
func (m *Manager) List() []string {
	m.smu.RLock()
	defer m.smu.RUnlock()
	names := make([]string, 0, len(m.sessions))
	for name := range m.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Remove closes the named session and forgets it.
func (m *Manager) Remove(ctx context.Context, name string) error {
	return m.WithLock(ctx, name, func(ctx context.Context) error {
		m.smu.Lock()
		c, ok := m.sessions[name]
		delete(m.sessions, name)
		m.smu.Unlock()
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, name)
		}
		return c.Close()
	})
}

// Persist saves the session's current variables to the store.
func (m *Manager) Persist(ctx context.Context, name string) error {
	if m.store == nil {
		return ErrNoStore
	}
	return m.WithLock(ctx, name, func(ctx context.Context) error {
		c, err := m.Get(name)
		if err != nil {
			return err
		}
		snap := c.Snapshot()
		if err := m.store.Save(ctx, name, &snap); err != nil {
			return fmt.Errorf("failed to persist session: %w", err)
		}
		m.logger.Debug("session persisted", "session", name, "variables", len(snap.Variables))
		return nil
	})
}

// Restore writes the stored variables back into the session and returns how many applied.
func (m *Manager) Restore(ctx context.Context, name string) (int, error) {
	if m.store == nil {
		return 0, ErrNoStore
	}
	var applied int
	err := m.WithLock(ctx, name, func(ctx context.Context) error {
		c, err := m.Get(name)
		if err != nil {
			return err
		}
		snap, err := m.store.Load(ctx, name)
		if err != nil {
			return err
		}
		applied = c.Restore(*snap)
		m.logger.Debug("session restored", "session", name, "applied", applied)
		return nil
	})
	return applied, err
}

// Store returns the snapshot store, or nil.
func (m *Manager) Store() ports.SnapshotStore {
	return m.store
}

// WithLock executes a function while holding the lock for the session.
func (m *Manager) WithLock(ctx context.Context, name string, fn func(context.Context) error) error {
	entry := m.acquire(name)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(name)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, "ops:"+name, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(ctx); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"session", name,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}

// Close closes every session, then the store when it holds a connection.
func (m *Manager) Close() error {
	m.smu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*coordinator.Coordinator)
	m.smu.Unlock()

	var errs []error
	for name, c := range sessions {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if closer, ok := m.store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	return errors.Join(errs...)
}
