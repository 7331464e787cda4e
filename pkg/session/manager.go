package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harun/parley/internal/observability"
	"github.com/harun/parley/internal/tracing"
	"github.com/harun/parley/pkg/agent"
	"github.com/rs/zerolog"
)

// ErrSessionNotFound is returned for unknown or ended sessions
var ErrSessionNotFound = errors.New("session not found")

// Manager owns every live session, keyed by session ID
type Manager struct {
	mu        sync.RWMutex
	sessions  map[string]*entry
	agent     agent.AgentSpec
	runConfig agent.RunConfig
	logger    zerolog.Logger
}

type entry struct {
	state    *State
	turns    map[uint64]context.CancelFunc
	nextTurn uint64
}

// ManagerConfig holds manager configuration
type ManagerConfig struct {
	Agent     agent.AgentSpec
	RunConfig agent.RunConfig
	Logger    zerolog.Logger
}

// NewManager creates an empty session manager
func NewManager(cfg ManagerConfig) *Manager {
	observability.EnsureRegistered()

	m := &Manager{
		sessions:  make(map[string]*entry),
		agent:     cfg.Agent,
		runConfig: cfg.RunConfig,
		logger:    cfg.Logger,
	}
	observability.SetActiveSessions(0)
	return m
}

// Start creates a new session bound to the current agent spec
func (m *Manager) Start(ctx context.Context) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	state := NewState(uuid.NewString(), m.agent, m.runConfig)
	m.sessions[state.ID()] = &entry{
		state: state,
		turns: make(map[uint64]context.CancelFunc),
	}
	count := len(m.sessions)
	m.mu.Unlock()

	observability.RecordSessionStarted()
	observability.SetActiveSessions(count)

	logger := tracing.LoggerFromContext(ctx, m.logger)
	logger.Info().
		Str("session_id", state.ID()).
		Str("agent", state.Agent().Name).
		Msg("Session started")

	return state, nil
}

// Get returns the session with the given ID
func (m *Manager) Get(id string) (*State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return e.state, true
}

// End drops a session and cancels its in-flight turns. It reports whether the session existed.
func (m *Manager) End(id string) bool {
	m.mu.Lock()
	e, ok := m.sessions[id]
	var cancels []context.CancelFunc
	if ok {
		delete(m.sessions, id)
		for _, cancel := range e.turns {
			cancels = append(cancels, cancel)
		}
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return false
	}

	for _, cancel := range cancels {
		cancel()
	}
	observability.SetActiveSessions(count)

	m.logger.Info().
		Str("session_id", id).
		Int("messages", e.state.Len()).
		Int("cancelled_turns", len(cancels)).
		Msg("Session ended")

	return true
}

// Count returns the number of live sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// List returns the IDs of live sessions in sorted order
func (m *Manager) List() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// BeginTurn derives the context for one turn of session id. The context is
// cancelled when the session ends; the returned func must be called when the
// turn is over.
func (m *Manager) BeginTurn(ctx context.Context, id string) (context.Context, context.CancelFunc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[id]
	if !ok {
		return nil, nil, ErrSessionNotFound
	}

	turnCtx, cancel := context.WithCancel(ctx)
	turnID := e.nextTurn
	e.nextTurn++
	e.turns[turnID] = cancel
	e.state.touch()

	done := func() {
		cancel()
		m.mu.Lock()
		delete(e.turns, turnID)
		m.mu.Unlock()
		e.state.touch()
	}
	return turnCtx, done, nil
}

// SetAgent replaces the agent spec used by sessions started from now on.
// Existing sessions keep the spec they were created with.
func (m *Manager) SetAgent(spec agent.AgentSpec) {
	m.mu.Lock()
	m.agent = spec
	m.mu.Unlock()

	m.logger.Info().Str("agent", spec.Name).Msg("Agent updated for new sessions")
}

// Agent returns the agent spec new sessions are bound to
func (m *Manager) Agent() agent.AgentSpec {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.agent
}

// ReapIdle ends sessions idle for longer than maxIdle that have no turn in
// flight. It returns the IDs it removed.
func (m *Manager) ReapIdle(maxIdle time.Duration) []string {
	cutoff := time.Now().Add(-maxIdle)

	m.mu.Lock()
	var reaped []string
	for id, e := range m.sessions {
		if len(e.turns) > 0 {
			continue
		}
		if e.state.LastActivity().Before(cutoff) {
			delete(m.sessions, id)
			reaped = append(reaped, id)
		}
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if len(reaped) > 0 {
		sort.Strings(reaped)
		observability.SetActiveSessions(count)
		observability.RecordSessionsReaped(len(reaped))
	}
	return reaped
}
