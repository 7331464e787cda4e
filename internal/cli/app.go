package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/harun/parley/internal/config"
	"github.com/harun/parley/internal/logger"
	"github.com/harun/parley/internal/tracing"
	"github.com/harun/parley/pkg/agent"
	"github.com/harun/parley/pkg/chat"
	"github.com/harun/parley/pkg/commandqueue"
	"github.com/harun/parley/pkg/session"
)

const queueDrainTimeout = 5 * time.Second

// newProvider builds the model provider for cfg. Tests swap it for a scripted one.
var newProvider = func(cfg *config.Config) (agent.Provider, error) {
	factory := &agent.ProviderFactory{}
	return factory.NewProvider(modelRef(cfg), cfg.APIKey)
}

// runtime holds everything one process needs to serve chat sessions
type runtime struct {
	cfg      *config.Config
	log      *logger.Logger
	sessions *session.Manager
	queue    *commandqueue.CommandQueue
	handler  *chat.Handler
}

// loadConfig loads, overrides and validates the configuration. A missing
// API key fails here, before any session exists.
func loadConfig() (*config.Config, *config.Loader, error) {
	loader := config.NewLoader(cfgFile)

	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	return cfg, loader, nil
}

func newRuntime(cfg *config.Config, console io.Writer) (*runtime, error) {
	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		Output:    console,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	if cfg.Tracing {
		if err := tracing.InitOpenTelemetry("parley"); err != nil {
			log.Warn().Err(err).Msg("Tracing disabled, provider setup failed")
		}
	}

	provider, err := newProvider(cfg)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	runner, err := agent.NewRunner(agent.Config{
		Provider: provider,
		Logger:   log.Component("agent"),
	})
	if err != nil {
		log.Close()
		return nil, err
	}

	sessions := session.NewManager(session.ManagerConfig{
		Agent:     agentSpec(cfg),
		RunConfig: runConfig(cfg),
		Logger:    log.Component("session"),
	})

	queue := commandqueue.New()

	handler, err := chat.NewHandler(chat.Config{
		Sessions:        sessions,
		Runner:          runner,
		Queue:           queue,
		Streaming:       cfg.Streaming,
		WelcomeMessage:  cfg.Agent.WelcomeMessage,
		ThinkingMessage: cfg.Agent.ThinkingMessage,
		Logger:          log.Component("chat"),
	})
	if err != nil {
		queue.Close()
		log.Close()
		return nil, err
	}

	log.Info().
		Str("provider", runner.ProviderName()).
		Str("model", cfg.Model.Name).
		Bool("streaming", cfg.Streaming).
		Msg("Chat runtime ready")

	return &runtime{
		cfg:      cfg,
		log:      log,
		sessions: sessions,
		queue:    queue,
		handler:  handler,
	}, nil
}

// applyReload points new sessions at the reloaded agent. Existing sessions
// keep the agent they started with.
func (r *runtime) applyReload(cfg *config.Config) {
	r.sessions.SetAgent(agentSpec(cfg))
	r.handler.SetMessages(cfg.Agent.WelcomeMessage, cfg.Agent.ThinkingMessage)

	r.log.Info().Str("agent", cfg.Agent.Name).Msg("Agent reloaded for new sessions")
}

func (r *runtime) Close() {
	for _, id := range r.sessions.List() {
		r.handler.OnSessionEnd(id)
	}
	// ended sessions cancel their turns; let them unwind before the workers stop
	r.queue.WaitIdle(queueDrainTimeout)
	r.queue.Close()

	if r.cfg.Tracing {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
			r.log.Warn().Err(err).Msg("Failed to flush traces")
		}
	}

	r.log.Close()
}

func modelRef(cfg *config.Config) agent.ModelRef {
	return agent.ModelRef{
		Name:     cfg.Model.Name,
		Provider: cfg.Model.Provider,
		Endpoint: cfg.Model.Endpoint,
	}
}

func agentSpec(cfg *config.Config) agent.AgentSpec {
	return agent.AgentSpec{
		Name:         cfg.Agent.Name,
		Instructions: cfg.Agent.Instructions,
		Model:        modelRef(cfg),
	}
}

func runConfig(cfg *config.Config) agent.RunConfig {
	return agent.RunConfig{
		Model:       modelRef(cfg),
		Tracing:     cfg.Tracing,
		Timeout:     cfg.Timeout,
		Temperature: cfg.Model.Temperature,
		MaxTokens:   cfg.Model.MaxTokens,
	}
}
