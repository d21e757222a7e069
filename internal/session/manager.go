package session

import (
	"sync"

	"github.com/google/uuid"
)

// Manager tracks sessions by their opaque token
type Manager struct {
	deps Deps

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a manager whose sessions share deps
func NewManager(deps Deps) *Manager {
	return &Manager{
		deps:     deps,
		sessions: make(map[string]*Session),
	}
}

// Create starts a new logged-out session and returns its token
func (m *Manager) Create() (string, *Session) {
	token := uuid.NewString()
	s := New(m.deps)

	m.mu.Lock()
	m.sessions[token] = s
	m.mu.Unlock()

	return token, s
}

// Get returns the session for token
func (m *Manager) Get(token string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[token]
	return s, ok
}

// Remove logs out and forgets the session for token
func (m *Manager) Remove(token string) {
	m.mu.Lock()
	s, ok := m.sessions[token]
	delete(m.sessions, token)
	m.mu.Unlock()

	if ok {
		s.Logout()
	}
}

// Len returns the number of live sessions
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
