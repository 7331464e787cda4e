package agent

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// DefaultGeminiEndpoint is Google's OpenAI-compatible base URL
const DefaultGeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta/openai/"

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint
type OpenAIProvider struct {
	client openai.Client
	name   string
}

// NewOpenAIProvider creates a new OpenAI provider. An empty baseURL keeps the SDK default.
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	return newOpenAICompatible(ProviderOpenAI, apiKey, baseURL)
}

func newOpenAICompatible(name, apiKey, baseURL string) *OpenAIProvider {
	// turns are never retried; a failure goes straight back to the user
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		name:   name,
	}
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return p.name
}

// Complete makes a blocking chat completion call
func (p *OpenAIProvider) Complete(ctx context.Context, request Request) (*Response, error) {
	response, err := p.client.Chat.Completions.New(ctx, p.params(request))
	if err != nil {
		return nil, err
	}

	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	return &Response{
		Content: response.Choices[0].Message.Content,
		Usage: &TokenUsage{
			InputTokens:  int(response.Usage.PromptTokens),
			OutputTokens: int(response.Usage.CompletionTokens),
		},
	}, nil
}

// Stream starts a streaming chat completion. HTTP errors surface through the
// returned stream's Err.
func (p *OpenAIProvider) Stream(ctx context.Context, request Request) (ChunkStream, error) {
	stream := p.client.Chat.Completions.NewStreaming(ctx, p.params(request))
	return &openAIChunkStream{stream: stream}, nil
}

func (p *OpenAIProvider) params(request Request) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(request.Messages)+1)

	if request.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(request.SystemPrompt))
	}

	for _, msg := range request.Messages {
		switch msg.Role {
		case RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(request.Model),
		Messages: messages,
	}

	if request.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(request.MaxTokens))
	}

	if request.Temperature > 0 {
		params.Temperature = openai.Float(request.Temperature)
	}

	return params
}

// openAIChunkStream adapts the SDK's SSE stream to ChunkStream, skipping
// chunks that carry no text (role headers, finish markers, usage). A reply is
// complete once a choice reports a finish reason.
type openAIChunkStream struct {
	stream   *ssestream.Stream[openai.ChatCompletionChunk]
	current  string
	finished bool
	ended    bool
}

func (s *openAIChunkStream) Next() bool {
	for s.stream.Next() {
		chunk := s.stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			s.finished = true
		}
		if choice.Delta.Content == "" {
			continue
		}
		s.current = choice.Delta.Content
		return true
	}
	s.current = ""
	s.ended = true
	return false
}

func (s *openAIChunkStream) Current() string {
	return s.current
}

func (s *openAIChunkStream) Err() error {
	if err := s.stream.Err(); err != nil {
		return err
	}
	if s.ended && !s.finished {
		return ErrIncompleteStream
	}
	return nil
}

func (s *openAIChunkStream) Close() error {
	return s.stream.Close()
}
