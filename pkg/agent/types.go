package agent

import "time"

// Role identifies the author of a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleSystem only appears on the wire, never in a session history
	RoleSystem Role = "system"
)

// Message is one entry of a conversation
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// History is the ordered message sequence of one session
type History []Message

// Clone returns a copy that does not share the backing array
func (h History) Clone() History {
	if h == nil {
		return History{}
	}
	out := make(History, len(h))
	copy(out, h)
	return out
}

// ModelRef names a model and where it is served
type ModelRef struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
	Endpoint string `json:"endpoint,omitempty"`
}

// AgentSpec describes the single agent every session talks to.
// It is shared read-only across sessions.
type AgentSpec struct {
	Name         string   `json:"name"`
	Instructions string   `json:"instructions"`
	Model        ModelRef `json:"model"`
}

// RunConfig holds per-run settings. It is built once at startup and reused.
type RunConfig struct {
	Model       ModelRef      `json:"model"`
	Tracing     bool          `json:"tracing"`
	Timeout     time.Duration `json:"timeout"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// TurnState is the lifecycle of a single turn
type TurnState int

const (
	TurnIdle TurnState = iota
	TurnSending
	TurnStreaming
	TurnWaitingForComplete
	TurnDone
	TurnFailed
)

func (s TurnState) String() string {
	switch s {
	case TurnIdle:
		return "idle"
	case TurnSending:
		return "sending"
	case TurnStreaming:
		return "streaming"
	case TurnWaitingForComplete:
		return "waiting_for_complete"
	case TurnDone:
		return "done"
	case TurnFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible
func (s TurnState) Terminal() bool {
	return s == TurnDone || s == TurnFailed
}

// EstimateTokens provides a rough token count estimation
func EstimateTokens(instructions string, history History) int {
	totalChars := len(instructions)
	for _, msg := range history {
		totalChars += len(msg.Content)
	}
	// Rough estimation: 1 token ≈ 4 characters
	return (totalChars + 3) / 4
}
