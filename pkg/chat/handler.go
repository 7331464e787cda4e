package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/harun/parley/internal/tracing"
	"github.com/harun/parley/pkg/agent"
	"github.com/harun/parley/pkg/commandqueue"
	"github.com/harun/parley/pkg/session"
	"github.com/rs/zerolog"
)

const (
	DefaultWelcomeMessage  = "Welcome to Parley! How can I help you today?"
	DefaultThinkingMessage = "Thinking..."
)

// TurnRunner runs one conversation turn
type TurnRunner interface {
	RunTurn(ctx context.Context, spec agent.AgentSpec, cfg agent.RunConfig, history agent.History) (string, error)
	RunTurnStreaming(ctx context.Context, spec agent.AgentSpec, cfg agent.RunConfig, history agent.History) *agent.Stream
}

// Handler connects a chat front end to sessions and the turn runner
type Handler struct {
	sessions  *session.Manager
	runner    TurnRunner
	queue     *commandqueue.CommandQueue
	streaming bool
	logger    zerolog.Logger

	mu       sync.RWMutex
	welcome  string
	thinking string
}

// Config holds handler configuration
type Config struct {
	Sessions        *session.Manager
	Runner          TurnRunner
	Queue           *commandqueue.CommandQueue
	Streaming       bool
	WelcomeMessage  string
	ThinkingMessage string
	Logger          zerolog.Logger
}

// NewHandler creates a new chat handler
func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("turn runner is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("command queue is required")
	}

	h := &Handler{
		sessions:  cfg.Sessions,
		runner:    cfg.Runner,
		queue:     cfg.Queue,
		streaming: cfg.Streaming,
		logger:    cfg.Logger,
	}
	h.SetMessages(cfg.WelcomeMessage, cfg.ThinkingMessage)
	return h, nil
}

// SetMessages replaces the welcome and placeholder texts. Empty values fall back to the defaults.
func (h *Handler) SetMessages(welcome, thinking string) {
	if welcome == "" {
		welcome = DefaultWelcomeMessage
	}
	if thinking == "" {
		thinking = DefaultThinkingMessage
	}

	h.mu.Lock()
	h.welcome = welcome
	h.thinking = thinking
	h.mu.Unlock()
}

func (h *Handler) messages() (welcome, thinking string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.welcome, h.thinking
}

// Streaming reports whether replies are delivered fragment by fragment
func (h *Handler) Streaming() bool {
	return h.streaming
}

// OnSessionStart creates a session and greets the user. The greeting is shown
// but not stored in the session history.
func (h *Handler) OnSessionStart(ctx context.Context, r Renderer) (string, error) {
	state, err := h.sessions.Start(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to start session: %w", err)
	}

	if binder, ok := r.(SessionBinder); ok {
		if err := binder.BindSession(ctx, state.ID()); err != nil {
			h.sessions.End(state.ID())
			return "", fmt.Errorf("failed to bind session: %w", err)
		}
	}

	welcome, _ := h.messages()
	if err := r.SendMessage(ctx, welcome); err != nil {
		h.sessions.End(state.ID())
		return "", fmt.Errorf("failed to send welcome message: %w", err)
	}

	return state.ID(), nil
}

// OnMessage runs one turn for text. Turns of the same session run one at a
// time in arrival order. A RunFailure is rendered as "Error: <message>" and is
// not returned; the session stays usable.
func (h *Handler) OnMessage(ctx context.Context, sessionID, text string, r Renderer) error {
	state, ok := h.sessions.Get(sessionID)
	if !ok {
		return session.ErrSessionNotFound
	}

	ctx = tracing.NewTurnContext(ctx, sessionID)

	return h.queue.Enqueue(ctx, commandqueue.SessionLane(sessionID), func(ctx context.Context) error {
		turnCtx, done, err := h.sessions.BeginTurn(ctx, sessionID)
		if err != nil {
			return err
		}
		defer done()

		state.AppendUserMessage(text)

		if h.streaming {
			return h.streamTurn(turnCtx, state, r)
		}
		return h.completeTurn(turnCtx, state, r)
	})
}

// QueueStats reports the turn lanes that are running or waiting
func (h *Handler) QueueStats() map[string]commandqueue.LaneStats {
	return h.queue.Stats()
}

// OnSessionEnd drops the session, abandoning any turn in flight
func (h *Handler) OnSessionEnd(sessionID string) {
	h.queue.Drop(commandqueue.SessionLane(sessionID))
	h.sessions.End(sessionID)
}

func (h *Handler) completeTurn(ctx context.Context, state *session.State, r Renderer) error {
	reply, err := h.runner.RunTurn(ctx, state.Agent(), state.RunConfig(), state.Snapshot())
	if err != nil {
		return h.renderFailure(ctx, state, err, r.SendMessage)
	}

	state.AppendAssistantMessage(reply)
	return r.SendMessage(ctx, reply)
}

func (h *Handler) streamTurn(ctx context.Context, state *session.State, r Renderer) error {
	_, thinking := h.messages()
	if err := r.SendMessage(ctx, thinking); err != nil {
		return fmt.Errorf("failed to send placeholder: %w", err)
	}

	stream := h.runner.RunTurnStreaming(ctx, state.Agent(), state.RunConfig(), state.Snapshot())
	defer stream.Close()

	for stream.Next() {
		if err := r.StreamFragment(ctx, stream.Current()); err != nil {
			return fmt.Errorf("failed to stream fragment: %w", err)
		}
	}
	if err := stream.Err(); err != nil {
		return h.renderFailure(ctx, state, err, r.UpdateMessage)
	}

	if err := state.Adopt(stream.History()); err != nil {
		return fmt.Errorf("failed to record reply: %w", err)
	}
	return r.UpdateMessage(ctx, stream.FinalOutput())
}

// renderFailure shows a RunFailure to the user in place of the reply. Other
// errors, and failures of sessions that already ended, are returned as is.
func (h *Handler) renderFailure(ctx context.Context, state *session.State, err error, render func(context.Context, string) error) error {
	logger := tracing.LoggerFromContext(ctx, h.logger)

	var rf *agent.RunFailure
	if !errors.As(err, &rf) {
		return err
	}
	if _, alive := h.sessions.Get(state.ID()); !alive {
		logger.Debug().Str("failure", rf.Message).Msg("Turn abandoned, session ended")
		return err
	}

	logger.Warn().Str("failure", rf.Message).Msg("Turn failed, reporting to user")
	return render(ctx, FormatError(rf))
}

// FormatError renders a turn failure for display
func FormatError(err error) string {
	return "Error: " + err.Error()
}
