// Package sessions keeps at most one live session running per process.
package sessions

import (
	"context"
	"sync"

	"github.com/vango-go/shikkha/pkg/live/session"
)

// Manager owns the current live session. A Start while another session is
// connecting or active supersedes it: the old session is fully stopped and
// its resources released before the new one acquires any.
type Manager struct {
	mu      sync.Mutex
	current *session.Session
}

func NewManager() *Manager {
	return &Manager{}
}

// Start builds a session from cfg, supersedes the current one, and blocks
// until the new session is active or has failed.
func (m *Manager) Start(ctx context.Context, cfg session.Config) (*session.Session, error) {
	if m == nil {
		return nil, session.ErrStopped
	}
	s, err := session.New(cfg)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	old := m.current
	m.current = s
	m.mu.Unlock()

	if old != nil {
		old.Stop()
	}

	if err := s.Start(ctx); err != nil {
		m.release(s)
		return nil, err
	}
	return s, nil
}

// Stop ends the current session, if any. It is safe to call repeatedly.
func (m *Manager) Stop() {
	if m == nil {
		return
	}
	m.mu.Lock()
	s := m.current
	m.current = nil
	m.mu.Unlock()

	if s != nil {
		s.Stop()
	}
}

// Current returns the session most recently started, or nil.
func (m *Manager) Current() *session.Session {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// State reports the current session's state, or Idle when there is none.
func (m *Manager) State() session.LiveState {
	if s := m.Current(); s != nil {
		return s.State()
	}
	return session.LiveState{Phase: session.PhaseIdle}
}

func (m *Manager) release(s *session.Session) {
	m.mu.Lock()
	if m.current == s {
		m.current = nil
	}
	m.mu.Unlock()
}
