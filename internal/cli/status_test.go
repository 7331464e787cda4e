package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/harun/parley/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusHelp(t *testing.T) {
	output, err := execute(t, "status", "--help")
	require.NoError(t, err)
	assert.Contains(t, output, "clients are connected")
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{"seconds only", 45 * time.Second, "45s"},
		{"minutes and seconds", 2*time.Minute + 30*time.Second, "2m30s"},
		{"hours minutes seconds", 3*time.Hour + 15*time.Minute + 20*time.Second, "3h15m20s"},
		{"zero", 0, "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatDuration(tt.duration))
		})
	}
}

func TestGatewayURL(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Gateway.Port = 9000

	cfg.Gateway.Host = "0.0.0.0"
	assert.Equal(t, "http://127.0.0.1:9000", gatewayURL(cfg))

	cfg.Gateway.Host = "chat.internal"
	assert.Equal(t, "http://chat.internal:9000", gatewayURL(cfg))
}

func TestFetchHealth(t *testing.T) {
	t.Run("decodes report", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/healthz", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"ok","clients":3,"turns_running":2,"turns_queued":1}`))
		}))
		defer ts.Close()

		report, err := fetchHealth(context.Background(), ts.URL+"/healthz")
		require.NoError(t, err)
		assert.Equal(t, &healthReport{Status: "ok", Clients: 3, TurnsRunning: 2, TurnsQueued: 1}, report)

		out := &bytes.Buffer{}
		printHealth(out, report)
		assert.Equal(t, "Gateway: ok\nClients: 3\nTurns:   2 running, 1 queued\n", out.String())
	})

	t.Run("non-200 is an error", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer ts.Close()

		_, err := fetchHealth(context.Background(), ts.URL+"/healthz")
		assert.Error(t, err)
	})
}
