// Package session tracks the live game sessions of a server: one engine and
// one outbound queue per connected player, created on connect and reaped when
// idle.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fabula/internal/engine"
	"fabula/internal/messaging"
	"fabula/internal/observe"
)

// Default manager parameters.
const (
	defaultIdleTimeout  = 30 * time.Minute
	defaultReapInterval = time.Minute
)

// Session is one player's running game. The engine inside is confined to the
// session's turn processing; the activity timestamp is the only field touched
// from other goroutines.
type Session struct {
	// ID uniquely identifies the session across the server.
	ID string

	// Engine runs the session's game.
	Engine *engine.Engine

	// Queue carries the session's outbound events to its transport.
	Queue *messaging.ChannelQueue

	createdAt time.Time

	mu         sync.Mutex
	lastActive time.Time
}

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// Touch marks the session as active now. Transports call it on every inbound
// message so the reaper spares busy sessions.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// LastActive returns the time of the session's most recent activity.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// close releases the session's engine and queue.
func (s *Session) close() {
	s.Engine.Close()
	s.Queue.Close()
}

// Factory builds the engine for a new session. The queue is the session's
// outbound event queue, already created by the manager.
type Factory func(sessionID string, queue messaging.Queue) (*engine.Engine, error)

// ManagerConfig configures a [Manager].
type ManagerConfig struct {
	// Factory builds per-session engines. Required.
	Factory Factory

	// Metrics may be nil.
	Metrics *observe.Metrics

	// IdleTimeout is how long a session may sit inactive before the reaper
	// removes it. Defaults to 30 minutes.
	IdleTimeout time.Duration
}

// Manager owns the session table. Safe for concurrent use.
type Manager struct {
	factory     Factory
	metrics     *observe.Metrics
	idleTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates an empty manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Factory == nil {
		return nil, fmt.Errorf("session: factory is required")
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	return &Manager{
		factory:     cfg.Factory,
		metrics:     cfg.Metrics,
		idleTimeout: cfg.IdleTimeout,
		sessions:    make(map[string]*Session),
	}, nil
}

// Create builds a new session under the given ID. Creating an ID that is
// already live is an error; the transport must pick unique IDs.
func (m *Manager) Create(id string) (*Session, error) {
	if id == "" {
		return nil, fmt.Errorf("session: id must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[id]; exists {
		return nil, fmt.Errorf("session: %q already exists", id)
	}

	queue := messaging.NewChannelQueue()
	eng, err := m.factory(id, queue)
	if err != nil {
		queue.Close()
		return nil, fmt.Errorf("session: create %q: %w", id, err)
	}

	now := time.Now()
	s := &Session{
		ID:         id,
		Engine:     eng,
		Queue:      queue,
		createdAt:  now,
		lastActive: now,
	}
	m.sessions[id] = s
	m.metrics.SessionStarted(context.Background())
	slog.Info("session created", "session_id", id)
	return s, nil
}

// Get looks up a live session.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove tears a session down and releases its resources. Removing an
// unknown ID is a no-op.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return
	}
	s.close()
	m.metrics.SessionEnded(context.Background())
	slog.Info("session removed", "session_id", id)
}

// Each calls fn for every live session. The session table is snapshotted
// first, so fn may call back into the manager.
func (m *Manager) Each(fn func(*Session)) {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	for _, s := range all {
		fn(s)
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown tears down every live session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range all {
		s.close()
		m.metrics.SessionEnded(context.Background())
	}
	if len(all) > 0 {
		slog.Info("all sessions shut down", "count", len(all))
	}
}

// ReapIdle removes every session whose last activity is older than the idle
// timeout and returns how many were removed.
func (m *Manager) ReapIdle() int {
	cutoff := time.Now().Add(-m.idleTimeout)

	m.mu.Lock()
	var stale []string
	for id, s := range m.sessions {
		if s.LastActive().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		slog.Info("reaping idle session", "session_id", id)
		m.Remove(id)
	}
	return len(stale)
}

// Run reaps idle sessions periodically until ctx is cancelled, then shuts
// every session down. Meant to be launched as the manager's background
// goroutine.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(defaultReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Shutdown()
			return ctx.Err()
		case <-ticker.C:
			m.ReapIdle()
		}
	}
}
