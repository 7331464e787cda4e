package agent

import (
	"context"
	"errors"
	"fmt"
)

// ErrIncompleteStream is reported when a provider closes a stream before
// sending its end-of-reply marker.
var ErrIncompleteStream = errors.New("stream ended before completion")

// Provider is the model provider boundary
type Provider interface {
	// Complete blocks until the full reply is available
	Complete(ctx context.Context, request Request) (*Response, error)

	// Stream starts a streaming completion. Transport errors may surface
	// either here or through ChunkStream.Err.
	Stream(ctx context.Context, request Request) (ChunkStream, error)

	// Name returns the provider name
	Name() string
}

// Request contains the parameters for one model call
type Request struct {
	Model        string
	SystemPrompt string
	Messages     History
	Temperature  float64
	MaxTokens    int
}

// Response contains the reply of a non-streaming call
type Response struct {
	Content string
	Usage   *TokenUsage
}

// ChunkStream is a single-pass sequence of text deltas. Err reports
// ErrIncompleteStream when the sequence ended without the provider marking
// the reply complete.
type ChunkStream interface {
	Next() bool
	Current() string
	Err() error
	Close() error
}

// ProviderFactory creates providers from a model reference
type ProviderFactory struct{}

// NewProvider creates a provider for ref.Provider
func (f *ProviderFactory) NewProvider(ref ModelRef, apiKey string) (Provider, error) {
	switch ref.Provider {
	case ProviderGemini:
		endpoint := ref.Endpoint
		if endpoint == "" {
			endpoint = DefaultGeminiEndpoint
		}
		return newOpenAICompatible(ProviderGemini, apiKey, endpoint), nil
	case ProviderOpenAI:
		return NewOpenAIProvider(apiKey, ref.Endpoint), nil
	case ProviderAnthropic:
		return NewAnthropicProvider(apiKey, ref.Endpoint), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", ref.Provider)
	}
}

// buildRequest assembles the request for one turn
func buildRequest(spec AgentSpec, cfg RunConfig, history History) Request {
	model := cfg.Model.Name
	if model == "" {
		model = spec.Model.Name
	}
	return Request{
		Model:        model,
		SystemPrompt: spec.Instructions,
		Messages:     history.Clone(),
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
	}
}
