package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/parley/internal/observability"
	"github.com/harun/parley/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "parley.agent"

const (
	modeComplete  = "complete"
	modeStreaming = "streaming"
)

// Runner executes conversation turns against one provider
type Runner struct {
	provider Provider
	logger   zerolog.Logger
}

// Config holds runner configuration
type Config struct {
	Provider Provider
	Logger   zerolog.Logger
}

// NewRunner creates a new turn runner
func NewRunner(cfg Config) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}

	return &Runner{
		provider: cfg.Provider,
		logger:   cfg.Logger,
	}, nil
}

// ProviderName returns the name of the provider turns are sent to
func (r *Runner) ProviderName() string {
	return r.provider.Name()
}

// RunTurn sends the instructions and the full history to the provider and
// blocks until the complete reply is available. Any failure is a *RunFailure.
func (r *Runner) RunTurn(ctx context.Context, spec AgentSpec, cfg RunConfig, history History) (string, error) {
	start := time.Now()
	ctx, span, logger := r.beginTurn(ctx, spec, cfg, history, modeComplete)
	defer span.End()

	turnCtx, cancel := turnContext(ctx, cfg.Timeout)
	defer cancel()

	fail := func(err error) (string, error) {
		rf := asRunFailure(turnCtx, cfg.Timeout, err)
		tracing.RecordError(span, rf)
		observability.RecordTurn(r.provider.Name(), modeComplete, time.Since(start), false)
		logger.Error().Err(rf.Err).Str("failure", rf.Message).Dur("duration", time.Since(start)).Msg("Turn failed")
		return "", rf
	}

	if err := validateHistory(history); err != nil {
		return fail(err)
	}

	// Sending and WaitingForComplete collapse into the one blocking call
	response, err := r.provider.Complete(turnCtx, buildRequest(spec, cfg, history))
	if err != nil {
		return fail(err)
	}
	if response == nil {
		return fail(errors.New("provider returned no response"))
	}

	duration := time.Since(start)
	observability.RecordTurn(r.provider.Name(), modeComplete, duration, true)

	event := logger.Info().Dur("duration", duration).Int("reply_chars", len(response.Content))
	if response.Usage != nil {
		event = event.Int("input_tokens", response.Usage.InputTokens).Int("output_tokens", response.Usage.OutputTokens)
	}
	event.Msg("Turn completed")

	return response.Content, nil
}

// RunTurnStreaming returns a lazy stream of reply fragments. Nothing is sent
// to the provider until the first call to Next. The caller must Close it.
func (r *Runner) RunTurnStreaming(ctx context.Context, spec AgentSpec, cfg RunConfig, history History) *Stream {
	ctx, span, logger := r.beginTurn(ctx, spec, cfg, history, modeStreaming)
	turnCtx, cancel := turnContext(ctx, cfg.Timeout)

	return &Stream{
		provider: r.provider,
		ctx:      turnCtx,
		cancel:   cancel,
		span:     span,
		logger:   logger,
		timeout:  cfg.Timeout,
		input:    history.Clone(),
		request:  buildRequest(spec, cfg, history),
		state:    TurnIdle,
	}
}

func (r *Runner) beginTurn(ctx context.Context, spec AgentSpec, cfg RunConfig, history History, mode string) (context.Context, trace.Span, zerolog.Logger) {
	if ctx == nil {
		ctx = context.Background()
	}
	if tracing.GetTurnID(ctx) == "" {
		ctx = tracing.NewTurnContext(ctx, tracing.GetSessionKey(ctx))
	}

	ctx, span := tracing.StartSpanIf(
		cfg.Tracing,
		ctx,
		tracerName,
		"agent.run_turn",
		attribute.String("agent", spec.Name),
		attribute.String("provider", r.provider.Name()),
		attribute.String("model", cfg.Model.Name),
		attribute.String("mode", mode),
		attribute.Int("history_len", len(history)),
	)

	logger := tracing.LoggerFromContext(ctx, r.logger).With().
		Str("provider", r.provider.Name()).
		Str("mode", mode).
		Logger()
	logger.Debug().
		Int("history_len", len(history)).
		Int("estimated_tokens", EstimateTokens(spec.Instructions, history)).
		Msg("Starting turn")

	return ctx, span, logger
}

func turnContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// validateHistory checks that the turn has a user message to answer
func validateHistory(history History) error {
	if len(history) == 0 {
		return errors.New("history is empty")
	}
	if last := history[len(history)-1]; last.Role != RoleUser {
		return fmt.Errorf("history must end with a user message, got %s", last.Role)
	}
	return nil
}
