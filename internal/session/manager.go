package session

import (
	"context"
	"log"
	"sync"

	"github.com/amirphl/dexbook/internal/msgs"
)

// Manager owns at most one live Session and swaps it atomically on market
// switches. The old session is closed before the new subscription is issued;
// notifications still in flight for the old market are dropped by the new
// session's identity check.
type Manager struct {
	mu      sync.Mutex
	current *Session
	cancel  context.CancelFunc
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{}
}

// Switch tears down the current session, if any, and subscribes to the
// market described by cfg. The new session's event loop is started before
// Switch returns.
func (m *Manager) Switch(ctx context.Context, cfg Config) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		log.Printf("SessionManager | Leaving %s at %s", m.current.cfg.MarketID, m.current.cfg.Host)
		m.cancel()
		m.current.Close()
		m.current = nil
	}
	s, err := New(cfg)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(ctx)
	go s.Run(runCtx)
	m.current = s
	m.cancel = cancel
	log.Printf("SessionManager | Subscribed to %s at %s", cfg.MarketID, cfg.Host)
	return s, nil
}

// Current returns the live session, or nil between subscriptions.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Deliver routes a feed notification to the live session. Notifications
// arriving between subscriptions are dropped.
func (m *Manager) Deliver(u msgs.Update) {
	if s := m.Current(); s != nil {
		s.Deliver(u)
	}
}

// NotifyBalance routes a wallet balance change to the live session.
func (m *Manager) NotifyBalance(assetID uint32, avail uint64) {
	if s := m.Current(); s != nil {
		s.NotifyBalance(assetID, avail)
	}
}

// Close tears down the live session.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.cancel()
		m.current.Close()
		m.current = nil
	}
}
