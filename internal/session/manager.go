package session

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/abhinavathankar/Departly.ai/internal/store"
	"github.com/abhinavathankar/Departly.ai/internal/tracker"
	"github.com/abhinavathankar/Departly.ai/internal/traffic"
	"github.com/abhinavathankar/Departly.ai/internal/window"
)

// Manager runs independent monitoring sessions for different flights and
// users. Sessions share the stateless pollers and the calculator but no
// mutable state.
type Manager struct {
	cfg       Config
	tracker   *tracker.Tracker
	estimator *traffic.Estimator
	calc      *window.Calculator
	repo      store.SessionRepository

	onWindow   func(Snapshot)
	onTerminal func(Snapshot)

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(tr *tracker.Tracker, est *traffic.Estimator, calc *window.Calculator, repo store.SessionRepository, cfg Config, onWindow, onTerminal func(Snapshot)) *Manager {
	return &Manager{
		cfg:        cfg,
		tracker:    tr,
		estimator:  est,
		calc:       calc,
		repo:       repo,
		onWindow:   onWindow,
		onTerminal: onTerminal,
		sessions:   make(map[string]*Session),
	}
}

// Start creates and starts a new session under the given id.
func (m *Manager) Start(id string, req Request) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[id]; ok && !existing.Snapshot().State.IsTerminal() {
		return nil, fmt.Errorf("session %s is already running", id)
	}

	var s *Session
	s, err := New(id, req, m.tracker, m.estimator, m.calc, m.repo, m.cfg, m.onWindow, func(snap Snapshot) {
		if m.onTerminal != nil {
			m.onTerminal(snap)
		}
		m.prune(id, s)
	})
	if err != nil {
		return nil, fmt.Errorf("create session %s: %w", id, err)
	}

	m.sessions[id] = s
	s.Start()
	return s, nil
}

// Resume restarts every persisted session that had not reached a terminal
// state when the previous process exited.
func (m *Manager) Resume() error {
	if m.repo == nil {
		return nil
	}

	snaps, err := m.repo.LoadActive()
	if err != nil {
		return fmt.Errorf("resume sessions: %w", err)
	}

	for _, snap := range snaps {
		req := Request{
			Flight:     snap.Flight,
			Origin:     snap.Origin,
			Airport:    snap.Airport,
			RouteClass: snap.RouteClass,
		}
		if _, err := m.Start(snap.ID, req); err != nil {
			slog.Error("Failed to resume session", "session", snap.ID, "error", err)
			continue
		}
		slog.Info("Resumed persisted session", "session", snap.ID, "flight", snap.Flight.String())
	}

	return nil
}

// prune drops a session that reached TERMINAL on its own so a long-lived
// process does not accrete dead entries. Stop and StopAll delete the entries
// they cancel themselves; the pointer check keeps a pruned id safe to reuse.
func (m *Manager) prune(id string, s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sessions[id]; ok && cur == s {
		delete(m.sessions, id)
	}
}

// Get returns the session with the given id, if one exists.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Stop cancels one session and waits for its resources to be released.
func (m *Manager) Stop(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("session %s not found", id)
	}

	s.Stop()
	return nil
}

// StopAll cancels every session, waiting for each to finish.
func (m *Manager) StopAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
}
