package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatRequest struct {
	Model    string `json:"model"`
	Stream   bool   `json:"stream"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// newCompletionServer serves an OpenAI-compatible chat completions endpoint
// that answers every prompt with fragments, streamed or joined.
func newCompletionServer(t *testing.T, fragments []string, received chan<- chatRequest) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":{"message":"invalid api key","type":"invalid_request_error"}}`)
			return
		}

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if received != nil {
			received <- req
		}

		if !req.Stream {
			w.Header().Set("Content-Type", "application/json")
			resp := map[string]interface{}{
				"id":      "chatcmpl-1",
				"object":  "chat.completion",
				"created": 1,
				"model":   req.Model,
				"choices": []map[string]interface{}{{
					"index":         0,
					"message":       map[string]string{"role": "assistant", "content": strings.Join(fragments, "")},
					"finish_reason": "stop",
				}},
				"usage": map[string]int{"prompt_tokens": 7, "completion_tokens": 3, "total_tokens": 10},
			}
			require.NoError(t, json.NewEncoder(w).Encode(resp))
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)

		writeChunk := func(delta map[string]string, finish interface{}) {
			chunk := map[string]interface{}{
				"id":      "chatcmpl-1",
				"object":  "chat.completion.chunk",
				"created": 1,
				"model":   req.Model,
				"choices": []map[string]interface{}{{
					"index":         0,
					"delta":         delta,
					"finish_reason": finish,
				}},
			}
			data, err := json.Marshal(chunk)
			require.NoError(t, err)
			fmt.Fprintf(w, "data: %s\n\n", data)
			if flusher != nil {
				flusher.Flush()
			}
		}

		writeChunk(map[string]string{"role": "assistant", "content": ""}, nil)
		for _, fragment := range fragments {
			writeChunk(map[string]string{"content": fragment}, nil)
		}
		writeChunk(map[string]string{}, "stop")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(server.Close)
	return server
}

func TestOpenAIProviderComplete(t *testing.T) {
	received := make(chan chatRequest, 1)
	server := newCompletionServer(t, []string{"Hi ", "there!"}, received)
	provider := NewOpenAIProvider("test-key", server.URL+"/v1/")

	resp, err := provider.Complete(context.Background(), Request{
		Model:        "gemini-2.0-flash",
		SystemPrompt: "Be brief.",
		Messages: History{
			{Role: RoleUser, Content: "Hello"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi there!", resp.Content)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 7, resp.Usage.InputTokens)

	req := <-received
	assert.Equal(t, "gemini-2.0-flash", req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, "Be brief.", req.Messages[0].Content)
	assert.Equal(t, "user", req.Messages[1].Role)
}

func TestOpenAIProviderStream(t *testing.T) {
	server := newCompletionServer(t, []string{"Hi", " there", "!"}, nil)
	provider := NewOpenAIProvider("test-key", server.URL+"/v1/")

	stream, err := provider.Stream(context.Background(), Request{
		Model:    "m",
		Messages: History{{Role: RoleUser, Content: "Hello"}},
	})
	require.NoError(t, err)
	defer stream.Close()

	var fragments []string
	for stream.Next() {
		fragments = append(fragments, stream.Current())
	}
	require.NoError(t, stream.Err())
	assert.Equal(t, []string{"Hi", " there", "!"}, fragments)
}

func TestOpenAIProviderUnauthorized(t *testing.T) {
	server := newCompletionServer(t, []string{"unused"}, nil)
	provider := NewOpenAIProvider("wrong-key", server.URL+"/v1/")

	_, err := provider.Complete(context.Background(), Request{
		Model:    "m",
		Messages: History{{Role: RoleUser, Content: "Hello"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

// Streaming reconstruction through the real SDK: concatenated fragments equal
// the non-streaming reply for the same input.
func TestRunnerReconstructionOverSSE(t *testing.T) {
	fragments := []string{"The ", "quick ", "brown ", "fox."}
	server := newCompletionServer(t, fragments, nil)

	runner, err := NewRunner(Config{
		Provider: NewOpenAIProvider("test-key", server.URL+"/v1/"),
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	spec := AgentSpec{Name: "Test", Instructions: "Be brief."}
	cfg := RunConfig{Model: ModelRef{Name: "m", Provider: ProviderOpenAI}, Timeout: 5 * time.Second}
	history := History{{Role: RoleUser, Content: "Tell me about the fox"}}

	complete, err := runner.RunTurn(context.Background(), spec, cfg, history)
	require.NoError(t, err)

	stream := runner.RunTurnStreaming(context.Background(), spec, cfg, history)
	defer stream.Close()

	var sb strings.Builder
	for stream.Next() {
		sb.WriteString(stream.Current())
	}
	require.NoError(t, stream.Err())

	assert.Equal(t, complete, sb.String())
	assert.Equal(t, complete, stream.FinalOutput())
	assert.Equal(t, TurnDone, stream.State())
}

// A body that closes before any finish_reason is a failed turn, not a short reply.
func TestRunnerStreamingTruncatedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"id":"c","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"content":"Hi th"},"finish_reason":null}]}`+"\n\n")
	}))
	t.Cleanup(server.Close)

	runner, err := NewRunner(Config{
		Provider: NewOpenAIProvider("test-key", server.URL+"/v1/"),
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	history := History{{Role: RoleUser, Content: "Hello"}}
	stream := runner.RunTurnStreaming(context.Background(), AgentSpec{Instructions: "x"}, RunConfig{Model: ModelRef{Name: "m"}, Timeout: 5 * time.Second}, history)
	defer stream.Close()

	var fragments []string
	for stream.Next() {
		fragments = append(fragments, stream.Current())
	}
	assert.Equal(t, []string{"Hi th"}, fragments)

	require.Error(t, stream.Err())
	assert.True(t, IsRunFailure(stream.Err()))
	assert.ErrorIs(t, stream.Err(), ErrIncompleteStream)
	assert.Equal(t, TurnFailed, stream.State())
	assert.Empty(t, stream.FinalOutput())
	assert.Equal(t, history, stream.History())
}

func TestRunnerStreamingUnauthorized(t *testing.T) {
	server := newCompletionServer(t, []string{"unused"}, nil)

	runner, err := NewRunner(Config{
		Provider: NewOpenAIProvider("wrong-key", server.URL+"/v1/"),
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	stream := runner.RunTurnStreaming(context.Background(), AgentSpec{Instructions: "x"}, RunConfig{Model: ModelRef{Name: "m"}}, History{{Role: RoleUser, Content: "Hello"}})
	defer stream.Close()

	assert.False(t, stream.Next())
	assert.True(t, IsRunFailure(stream.Err()))
	assert.Equal(t, TurnFailed, stream.State())
}

func TestProviderFactory(t *testing.T) {
	factory := &ProviderFactory{}

	gemini, err := factory.NewProvider(ModelRef{Name: "gemini-2.0-flash", Provider: ProviderGemini}, "k")
	require.NoError(t, err)
	assert.Equal(t, ProviderGemini, gemini.Name())

	openaiProvider, err := factory.NewProvider(ModelRef{Provider: ProviderOpenAI}, "k")
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, openaiProvider.Name())

	anthropicProvider, err := factory.NewProvider(ModelRef{Provider: ProviderAnthropic}, "k")
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, anthropicProvider.Name())

	_, err = factory.NewProvider(ModelRef{Provider: "unknown"}, "k")
	assert.Error(t, err)
}
