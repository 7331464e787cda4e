package session

import (
	"errors"
	"sync"
	"time"

	"github.com/harun/parley/pkg/agent"
)

// State is the conversation of one session. The agent spec and run config
// are bound at creation and never change for the session.
type State struct {
	id        string
	agent     agent.AgentSpec
	runConfig agent.RunConfig
	createdAt time.Time

	mu           sync.RWMutex
	history      agent.History
	lastActivity time.Time
}

// NewState creates a session with an empty history
func NewState(id string, spec agent.AgentSpec, runConfig agent.RunConfig) *State {
	now := time.Now()
	return &State{
		id:           id,
		agent:        spec,
		runConfig:    runConfig,
		createdAt:    now,
		history:      agent.History{},
		lastActivity: now,
	}
}

// AppendUserMessage records a user message. Empty text is allowed.
func (s *State) AppendUserMessage(text string) {
	s.append(agent.RoleUser, text)
}

// AppendAssistantMessage records an assistant reply
func (s *State) AppendAssistantMessage(text string) {
	s.append(agent.RoleAssistant, text)
}

func (s *State) append(role agent.Role, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, agent.Message{Role: role, Content: text})
	s.lastActivity = time.Now()
}

// ErrHistoryDiverged is returned by Adopt for a history that does not extend
// the current one
var ErrHistoryDiverged = errors.New("history does not extend the session history")

// Adopt replaces the history with next, which must keep every current message
// in place and only add to the end.
func (s *State) Adopt(next agent.History) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(next) < len(s.history) {
		return ErrHistoryDiverged
	}
	for i, msg := range s.history {
		if next[i] != msg {
			return ErrHistoryDiverged
		}
	}

	s.history = next.Clone()
	s.lastActivity = time.Now()
	return nil
}

// Snapshot returns a copy of the ordered history
func (s *State) Snapshot() agent.History {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history.Clone()
}

// Len returns the number of messages in the history
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

func (s *State) ID() string                 { return s.id }
func (s *State) Agent() agent.AgentSpec     { return s.agent }
func (s *State) RunConfig() agent.RunConfig { return s.runConfig }
func (s *State) CreatedAt() time.Time       { return s.createdAt }

// LastActivity returns when the session was last touched
func (s *State) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

func (s *State) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}
