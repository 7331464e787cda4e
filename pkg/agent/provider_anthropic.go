package agent

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// defaultAnthropicMaxTokens is used when the run config leaves MaxTokens unset;
// the Messages API requires it.
const defaultAnthropicMaxTokens = 1024

// AnthropicProvider implements Provider for Anthropic Claude
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates a new Anthropic provider. An empty baseURL keeps the SDK default.
func NewAnthropicProvider(apiKey, baseURL string) *AnthropicProvider {
	// turns are never retried; a failure goes straight back to the user
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
	}
}

// Name returns the provider name
func (p *AnthropicProvider) Name() string {
	return ProviderAnthropic
}

// Complete makes a blocking Messages API call
func (p *AnthropicProvider) Complete(ctx context.Context, request Request) (*Response, error) {
	response, err := p.client.Messages.New(ctx, p.params(request))
	if err != nil {
		return nil, err
	}

	content := ""
	for _, block := range response.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			content += b.Text
		}
	}

	return &Response{
		Content: content,
		Usage: &TokenUsage{
			InputTokens:  int(response.Usage.InputTokens),
			OutputTokens: int(response.Usage.OutputTokens),
		},
	}, nil
}

// Stream starts a streaming Messages API call
func (p *AnthropicProvider) Stream(ctx context.Context, request Request) (ChunkStream, error) {
	stream := p.client.Messages.NewStreaming(ctx, p.params(request))
	return &anthropicChunkStream{stream: stream}, nil
}

func (p *AnthropicProvider) params(request Request) anthropic.MessageNewParams {
	messages := make([]anthropic.MessageParam, 0, len(request.Messages))

	for _, msg := range request.Messages {
		switch msg.Role {
		case RoleUser:
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		case RoleAssistant:
			messages = append(messages, anthropic.MessageParam{
				Role: anthropic.MessageParamRoleAssistant,
				Content: []anthropic.ContentBlockParamUnion{
					anthropic.NewTextBlock(msg.Content),
				},
			})
		}
	}

	maxTokens := request.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(request.Model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}

	if request.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: request.SystemPrompt},
		}
	}

	if request.Temperature > 0 {
		params.Temperature = anthropic.Float(request.Temperature)
	}

	return params
}

// anthropicChunkStream yields text deltas. The reply is complete once
// message_stop arrives.
type anthropicChunkStream struct {
	stream   *ssestream.Stream[anthropic.MessageStreamEventUnion]
	current  string
	finished bool
	ended    bool
}

func (s *anthropicChunkStream) Next() bool {
	for s.stream.Next() {
		switch event := s.stream.Current().AsAny().(type) {
		case anthropic.MessageStopEvent:
			s.finished = true
		case anthropic.ContentBlockDeltaEvent:
			delta, ok := event.Delta.AsAny().(anthropic.TextDelta)
			if !ok || delta.Text == "" {
				continue
			}
			s.current = delta.Text
			return true
		}
	}
	s.current = ""
	s.ended = true
	return false
}

func (s *anthropicChunkStream) Current() string {
	return s.current
}

func (s *anthropicChunkStream) Err() error {
	if err := s.stream.Err(); err != nil {
		return err
	}
	if s.ended && !s.finished {
		return ErrIncompleteStream
	}
	return nil
}

func (s *anthropicChunkStream) Close() error {
	return s.stream.Close()
}
