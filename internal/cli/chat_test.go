package cli

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/harun/parley/pkg/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

const welcome = "Welcome to Parley! How can I help you today?"

func TestChatSessionComplete(t *testing.T) {
	rt, provider := newTestRuntime(t, false)
	out := &syncBuffer{}

	err := chatSession(context.Background(), rt, strings.NewReader("Hello\n  /quit \nignored\n"), out)
	require.NoError(t, err)

	assert.Equal(t, welcome+"\n> Hi there!\n> ", out.String())
	require.Len(t, provider.Requests(), 1, "nothing after /quit is sent")
	assert.Equal(t, 0, rt.sessions.Count(), "leaving ends the session")
}

func TestChatSessionStreaming(t *testing.T) {
	rt, _ := newTestRuntime(t, true)
	out := &syncBuffer{}

	err := chatSession(context.Background(), rt, strings.NewReader("Hello\n"), out)
	require.NoError(t, err)

	assert.Equal(t, welcome+"\n> Thinking...\nHi there!\n> ", out.String())
}

func TestChatSessionSendsLinesAsTyped(t *testing.T) {
	rt, provider := newTestRuntime(t, false)

	err := chatSession(context.Background(), rt, strings.NewReader("  spaced out  \n\n"), &syncBuffer{})
	require.NoError(t, err)

	requests := provider.Requests()
	require.Len(t, requests, 2, "a blank line is a message too")
	assert.Equal(t, "  spaced out  ", requests[0].Messages[0].Content)
	assert.Equal(t, agent.History{
		{Role: agent.RoleUser, Content: "  spaced out  "},
		{Role: agent.RoleAssistant, Content: "echo:   spaced out  "},
		{Role: agent.RoleUser, Content: ""},
	}, requests[1].Messages)
}

func TestChatSessionFailureKeepsGoing(t *testing.T) {
	rt, provider := newTestRuntime(t, false)
	out := &syncBuffer{}

	err := chatSession(context.Background(), rt, strings.NewReader("boom\nagain\n"), out)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Error: upstream returned 500\n")
	assert.Contains(t, out.String(), "echo: again\n")

	requests := provider.Requests()
	require.Len(t, requests, 2)
	assert.Equal(t, agent.History{
		{Role: agent.RoleUser, Content: "boom"},
		{Role: agent.RoleUser, Content: "again"},
	}, requests[1].Messages, "the failed turn leaves only the user message")
}

func TestChatSessionCancelled(t *testing.T) {
	rt, _ := newTestRuntime(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := chatSession(ctx, rt, strings.NewReader("Hello\n"), &syncBuffer{})
	assert.Error(t, err, "a cancelled context cannot start a session")
}

func TestTerminalRendererUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("matching update ends the line", func(t *testing.T) {
		out := &bytes.Buffer{}
		r := newTerminalRenderer(out)
		require.NoError(t, r.StreamFragment(ctx, "Hi "))
		require.NoError(t, r.StreamFragment(ctx, "there"))
		require.NoError(t, r.UpdateMessage(ctx, "Hi there"))
		assert.Equal(t, "Hi there\n", out.String())
	})

	t.Run("differing update is printed on its own line", func(t *testing.T) {
		out := &bytes.Buffer{}
		r := newTerminalRenderer(out)
		require.NoError(t, r.StreamFragment(ctx, "Hi"))
		require.NoError(t, r.UpdateMessage(ctx, "Error: turn cancelled"))
		assert.Equal(t, "Hi\nError: turn cancelled\n", out.String())
	})

	t.Run("update without fragments", func(t *testing.T) {
		out := &bytes.Buffer{}
		r := newTerminalRenderer(out)
		require.NoError(t, r.UpdateMessage(ctx, "Error: model did not respond within 1s"))
		assert.Equal(t, "Error: model did not respond within 1s\n", out.String())
	})
}
