package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/oggyb/matchroom/internal/identity"
	"github.com/oggyb/matchroom/internal/logger"
)

// Manager owns one Session per signed-in identity.
type Manager struct {
	deps Deps
	log  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(deps Deps) *Manager {
	if deps.Log == nil {
		deps.Log = logger.L()
	}
	return &Manager{deps: deps, log: deps.Log, sessions: make(map[string]*Session)}
}

// Get returns me's session, opening it on first use.
func (m *Manager) Get(ctx context.Context, me identity.Identity) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[me.UserID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	s, err := Open(ctx, me, m.deps)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.sessions[me.UserID]; ok {
		// lost the race to a concurrent Get
		m.mu.Unlock()
		s.Close()
		return existing, nil
	}
	m.sessions[me.UserID] = s
	m.mu.Unlock()
	return s, nil
}

// Lookup returns an open session without creating one.
func (m *Manager) Lookup(userID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	return s, ok
}

// Close ends userID's session with a best-effort teardown.
func (m *Manager) Close(userID string) <-chan struct{} {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()

	if !ok {
		done := make(chan struct{})
		close(done)
		return done
	}
	return s.Close()
}

// CloseAll tears every session down and waits for the cleanup attempts
// until ctx expires.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	pending := make([]<-chan struct{}, 0, len(sessions))
	for _, s := range sessions {
		pending = append(pending, s.Close())
	}
	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			m.log.Warn("shutdown before teardown completed", "sessions", len(sessions))
			return
		}
	}
}

// Listen closes sessions on sign-out notifications.
func (m *Manager) Listen(n identity.Notifier) (stop func()) {
	return n.OnChange(func(ev identity.Event) {
		if ev.Type == identity.SignedOut {
			m.Close(ev.Identity.UserID)
		}
	})
}
