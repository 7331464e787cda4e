package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/parley/pkg/agent"
	"github.com/harun/parley/pkg/agent/agenttest"
	"github.com/harun/parley/pkg/chat"
	"github.com/harun/parley/pkg/commandqueue"
	"github.com/harun/parley/pkg/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWelcome = "Hello! How can I help you today?"

type receivedEvent struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Seq     int64           `json:"seq"`
	Data    json.RawMessage `json:"data"`
	Session string          `json:"session_id"`
}

func (e receivedEvent) text(t *testing.T) string {
	t.Helper()
	var data TextData
	require.NoError(t, json.Unmarshal(e.Data, &data))
	return data.Text
}

func (e receivedEvent) errorMessage(t *testing.T) string {
	t.Helper()
	var data ErrorData
	require.NoError(t, json.Unmarshal(e.Data, &data))
	return data.Message
}

type testGateway struct {
	server   *Server
	http     *httptest.Server
	sessions *session.Manager
	provider *agenttest.Provider
}

type gatewayOption func(*Config)

func withSecret(secret string) gatewayOption {
	return func(c *Config) { c.SharedSecret = secret }
}

func withLimits(limits RateLimits) gatewayOption {
	return func(c *Config) { c.RateLimits = limits }
}

func newTestGateway(t *testing.T, streaming bool, opts ...gatewayOption) *testGateway {
	t.Helper()

	provider := agenttest.NewProvider().
		Reply("Hello", "Hi", " there", "!").
		Hang("wait forever")

	runner, err := agent.NewRunner(agent.Config{Provider: provider, Logger: zerolog.Nop()})
	require.NoError(t, err)

	sessions := session.NewManager(session.ManagerConfig{
		Agent:     agent.AgentSpec{Name: "Gateway Bot", Instructions: "Be brief."},
		RunConfig: agent.RunConfig{Model: agent.ModelRef{Name: "test-model"}, Timeout: 5 * time.Second},
		Logger:    zerolog.Nop(),
	})

	queue := commandqueue.New()
	t.Cleanup(func() { queue.Close() })

	handler, err := chat.NewHandler(chat.Config{
		Sessions:       sessions,
		Runner:         runner,
		Queue:          queue,
		Streaming:      streaming,
		WelcomeMessage: testWelcome,
		Logger:         zerolog.Nop(),
	})
	require.NoError(t, err)

	cfg := Config{Handler: handler, Logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	server, err := NewServer(cfg)
	require.NoError(t, err)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
		ts.Close()
	})

	return &testGateway{server: server, http: ts, sessions: sessions, provider: provider}
}

func (g *testGateway) wsURL() string {
	return "ws" + strings.TrimPrefix(g.http.URL, "http") + "/ws"
}

func (g *testGateway) dial(t *testing.T, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(g.wsURL(), header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) receivedEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var event receivedEvent
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func sendText(t *testing.T, conn *websocket.Conn, content string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(Frame{Type: FrameMessage, Content: content}))
}

// connect dials and consumes the session.started and welcome events
func (g *testGateway) connect(t *testing.T) (*websocket.Conn, string) {
	t.Helper()
	conn := g.dial(t, nil)

	started := readEvent(t, conn)
	require.Equal(t, EventSessionStarted, started.Event)
	welcome := readEvent(t, conn)
	require.Equal(t, EventChatMessage, welcome.Event)

	return conn, started.Session
}

func TestNewServerValidation(t *testing.T) {
	_, err := NewServer(Config{Port: 8080})
	assert.Error(t, err, "handler is required")

	handler := &chat.Handler{}
	_, err = NewServer(Config{Port: -1, Handler: handler})
	assert.Error(t, err)

	_, err = NewServer(Config{Port: 70000, Handler: handler})
	assert.Error(t, err)
}

func TestSessionStartEvents(t *testing.T) {
	g := newTestGateway(t, false)
	conn := g.dial(t, nil)

	started := readEvent(t, conn)
	assert.Equal(t, "event", started.Type)
	assert.Equal(t, EventSessionStarted, started.Event)
	assert.Equal(t, int64(1), started.Seq)
	require.NotEmpty(t, started.Session)

	welcome := readEvent(t, conn)
	assert.Equal(t, EventChatMessage, welcome.Event)
	assert.Equal(t, int64(2), welcome.Seq)
	assert.Equal(t, started.Session, welcome.Session)
	assert.Equal(t, testWelcome, welcome.text(t))

	_, ok := g.sessions.Get(started.Session)
	assert.True(t, ok)
}

func TestCompleteReply(t *testing.T) {
	g := newTestGateway(t, false)
	conn, id := g.connect(t)

	sendText(t, conn, "Hello")

	reply := readEvent(t, conn)
	assert.Equal(t, EventChatMessage, reply.Event)
	assert.Equal(t, "Hi there!", reply.text(t))
	assert.Equal(t, int64(3), reply.Seq)

	state, ok := g.sessions.Get(id)
	require.True(t, ok)
	assert.Equal(t, agent.History{
		{Role: agent.RoleUser, Content: "Hello"},
		{Role: agent.RoleAssistant, Content: "Hi there!"},
	}, state.Snapshot())
}

func TestStreamingReply(t *testing.T) {
	g := newTestGateway(t, true)
	conn, _ := g.connect(t)

	sendText(t, conn, "Hello")

	placeholder := readEvent(t, conn)
	assert.Equal(t, EventChatMessage, placeholder.Event)
	assert.Equal(t, chat.DefaultThinkingMessage, placeholder.text(t))

	var tokens []string
	var final receivedEvent
	lastSeq := placeholder.Seq
	for {
		event := readEvent(t, conn)
		assert.Greater(t, event.Seq, lastSeq, "sequence numbers increase")
		lastSeq = event.Seq
		if event.Event != EventToken {
			final = event
			break
		}
		tokens = append(tokens, event.text(t))
	}

	assert.Equal(t, []string{"Hi", " there", "!"}, tokens)
	assert.Equal(t, EventUpdate, final.Event)
	assert.Equal(t, strings.Join(tokens, ""), final.text(t))
}

func TestMessagesKeepArrivalOrder(t *testing.T) {
	g := newTestGateway(t, false)
	conn, _ := g.connect(t)

	sendText(t, conn, "first")
	sendText(t, conn, "second")

	assert.Equal(t, "echo: first", readEvent(t, conn).text(t))
	assert.Equal(t, "echo: second", readEvent(t, conn).text(t))
}

func TestInvalidFrameKeepsConnection(t *testing.T) {
	g := newTestGateway(t, false)
	conn, _ := g.connect(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))

	event := readEvent(t, conn)
	assert.Equal(t, EventError, event.Event)
	assert.Contains(t, event.errorMessage(t), "invalid frame")

	sendText(t, conn, "Hello")
	assert.Equal(t, "Hi there!", readEvent(t, conn).text(t))
}

func TestPendingLimit(t *testing.T) {
	g := newTestGateway(t, false, withLimits(RateLimits{MessagesPerMinute: 10, MaxPending: 1}))
	conn, _ := g.connect(t)

	sendText(t, conn, "wait forever")
	sendText(t, conn, "Hello")

	event := readEvent(t, conn)
	assert.Equal(t, EventError, event.Event)
	assert.Equal(t, ReasonTooManyPending, event.errorMessage(t))
}

func TestDisconnectEndsSession(t *testing.T) {
	g := newTestGateway(t, false)
	conn, id := g.connect(t)

	sendText(t, conn, "wait forever")
	require.Eventually(t, func() bool {
		return len(g.provider.Requests()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		_, ok := g.sessions.Get(id)
		return !ok && g.server.ClientCount() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSharedSecret(t *testing.T) {
	g := newTestGateway(t, false, withSecret("s3cret"))

	t.Run("rejects missing secret", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(g.wsURL(), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, 0, g.sessions.Count())
	})

	t.Run("accepts header", func(t *testing.T) {
		conn := g.dial(t, http.Header{SecretHeader: []string{"s3cret"}})
		assert.Equal(t, EventSessionStarted, readEvent(t, conn).Event)
	})

	t.Run("accepts query parameter", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(g.wsURL()+"?secret=s3cret", nil)
		require.NoError(t, err)
		defer conn.Close()
		assert.Equal(t, EventSessionStarted, readEvent(t, conn).Event)
	})

	t.Run("client list requires secret", func(t *testing.T) {
		resp, err := http.Get(g.http.URL + "/clients")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestHealthAndClients(t *testing.T) {
	g := newTestGateway(t, false)
	_, id := g.connect(t)

	resp, err := http.Get(g.http.URL + "/healthz")
	require.NoError(t, err)
	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, float64(1), health["clients"])
	assert.Equal(t, float64(0), health["turns_running"])
	assert.Equal(t, float64(0), health["turns_queued"])

	resp, err = http.Get(g.http.URL + "/clients")
	require.NoError(t, err)
	var clients []ClientInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&clients))
	resp.Body.Close()
	require.Len(t, clients, 1)
	assert.Equal(t, id, clients[0].SessionID)
}

func TestStopAnnouncesShutdown(t *testing.T) {
	g := newTestGateway(t, false)
	conn, id := g.connect(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, g.server.Stop(ctx))

	event := readEvent(t, conn)
	assert.Equal(t, EventShutdown, event.Event)

	_, ok := g.sessions.Get(id)
	assert.False(t, ok, "stop ends every session")

	_, resp, err := websocket.DefaultDialer.Dial(g.wsURL(), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	assert.NoError(t, g.server.Stop(ctx), "stop is idempotent")
}

func TestStartBindsListener(t *testing.T) {
	g := newTestGateway(t, false)
	server, err := NewServer(Config{Host: "127.0.0.1", Port: 0, Handler: g.server.handler, Logger: zerolog.Nop()})
	require.NoError(t, err)

	require.NoError(t, server.Start())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	}()

	require.NotEmpty(t, server.Addr())
	resp, err := http.Get("http://" + server.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestExpiredSessionClosesConnection(t *testing.T) {
	g := newTestGateway(t, false)
	conn, id := g.connect(t)

	require.True(t, g.sessions.End(id))
	sendText(t, conn, "Hello")

	event := readEvent(t, conn)
	assert.Equal(t, EventError, event.Event)
	assert.Equal(t, ReasonSessionExpired, event.errorMessage(t))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "server closes the connection")
}

// fetchJSON decodes the body of a GET into into, reporting success
func fetchJSON(url string, into interface{}) bool {
	resp, err := http.Get(url)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK && json.NewDecoder(resp.Body).Decode(into) == nil
}

func TestHealthReportsTurnsInFlight(t *testing.T) {
	g := newTestGateway(t, false)
	conn, _ := g.connect(t)

	sendText(t, conn, "wait forever")
	sendText(t, conn, "Hello")

	require.Eventually(t, func() bool {
		var health map[string]interface{}
		return fetchJSON(g.http.URL+"/healthz", &health) && health["turns_running"] == float64(1)
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		var clients []ClientInfo
		return fetchJSON(g.http.URL+"/clients", &clients) && len(clients) == 1 && clients[0].Pending == 2 && clients[0].Accepted == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEndedSessionDropsRunningTurnQuietly(t *testing.T) {
	g := newTestGateway(t, false)
	conn, id := g.connect(t)

	sendText(t, conn, "wait forever")
	require.Eventually(t, func() bool {
		var health map[string]interface{}
		return fetchJSON(g.http.URL+"/healthz", &health) && health["turns_running"] == float64(1)
	}, 2*time.Second, 10*time.Millisecond)

	require.True(t, g.sessions.End(id))
	sendText(t, conn, "Hello")

	// the cancelled turn renders nothing; the next message finds the session gone
	event := readEvent(t, conn)
	assert.Equal(t, EventError, event.Event)
	assert.Equal(t, ReasonSessionExpired, event.errorMessage(t))
}
