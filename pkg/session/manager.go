package session

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"log/slog"

	"github.com/aretw0/canopy/internal/logging"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
)

// DefaultLockTTL bounds how long a crashed replica can hold a conversation lock.
const DefaultLockTTL = 30 * time.Second

// Runner starts and drives runs. *canopy.Router satisfies it.
type Runner interface {
	NewRun(request string) *domain.RunState
	Stream(ctx context.Context, state *domain.RunState) iter.Seq[domain.Event]
}

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager serialises runs per conversation and persists their final state.
// It uses reference counting to garbage collect unused locks.
type Manager struct {
	store ports.RunStore

	mu    sync.Mutex            // Global lock for the map
	locks map[string]*lockEntry // Map of active locks

	locker  ports.DistributedLocker // Optional distributed locker
	lockTTL time.Duration
	logger  *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the distributed lock TTL.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a Manager over the given run store.
func NewManager(store ports.RunStore, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		locks:   make(map[string]*lockEntry),
		lockTTL: DefaultLockTTL,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(id) after unlocking.
func (m *Manager) acquire(id string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[id]
	if !exists {
		entry = &lockEntry{}
		m.locks[id] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[id]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, id)
	}
}

// Stream starts a run for the conversation and yields its events.
// The conversation lock is held until the run ends; the final state is saved
// even when the consumer stops early.
func (m *Manager) Stream(ctx context.Context, r Runner, conversationID, request string) iter.Seq[domain.Event] {
	return func(yield func(domain.Event) bool) {
		err := m.WithLock(ctx, conversationID, func(ctx context.Context) error {
			state := r.NewRun(request)
			state.ConversationID = conversationID

			for ev := range r.Stream(ctx, state) {
				if !yield(ev) {
					break
				}
			}

			if err := m.store.Save(context.WithoutCancel(ctx), conversationID, state); err != nil {
				return fmt.Errorf("failed to save run %s: %w", state.ID, err)
			}
			m.logger.Debug("run saved", "conversation_id", conversationID, "run", state.ID, "status", state.Status)
			return nil
		})
		if err != nil {
			m.logger.Error("conversation run failed", "conversation_id", conversationID, "err", err)
		}
	}
}

// Run executes a run for the conversation and returns its final state.
// A failed or cancelled run is returned together with its error.
func (m *Manager) Run(ctx context.Context, r Runner, conversationID, request string) (*domain.RunState, error) {
	var state *domain.RunState
	err := m.WithLock(ctx, conversationID, func(ctx context.Context) error {
		state = r.NewRun(request)
		state.ConversationID = conversationID
		for range r.Stream(ctx, state) {
		}
		if err := m.store.Save(context.WithoutCancel(ctx), conversationID, state); err != nil {
			return fmt.Errorf("failed to save run %s: %w", state.ID, err)
		}
		return state.Err
	})
	return state, err
}

// Load retrieves the latest run of a conversation.
func (m *Manager) Load(ctx context.Context, conversationID string) (*domain.RunState, error) {
	var state *domain.RunState
	err := m.WithLock(ctx, conversationID, func(ctx context.Context) error {
		var err error
		state, err = m.store.Load(ctx, conversationID)
		return err
	})
	return state, err
}

// Save persists a run state.
func (m *Manager) Save(ctx context.Context, conversationID string, state *domain.RunState) error {
	return m.WithLock(ctx, conversationID, func(ctx context.Context) error {
		return m.store.Save(ctx, conversationID, state)
	})
}

// Delete removes the stored run of a conversation.
func (m *Manager) Delete(ctx context.Context, conversationID string) error {
	return m.WithLock(ctx, conversationID, func(ctx context.Context) error {
		return m.store.Delete(ctx, conversationID)
	})
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// Store returns the underlying run store.
func (m *Manager) Store() ports.RunStore {
	return m.store
}

// WithLock executes a function while holding the lock for the conversation.
func (m *Manager) WithLock(ctx context.Context, conversationID string, fn func(context.Context) error) error {
	entry := m.acquire(conversationID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(conversationID)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, conversationID, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"conversation_id", conversationID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}

// IsNotFound reports whether err means no run is stored.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrRunNotFound)
}
