package gateway

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthHandler_Authorize(t *testing.T) {
	t.Run("no secret admits everyone", func(t *testing.T) {
		auth := NewAuthHandler("")
		assert.False(t, auth.Enabled())
		assert.True(t, auth.Authorize(httptest.NewRequest("GET", "/ws", nil)))
	})

	auth := NewAuthHandler("test-secret")
	assert.True(t, auth.Enabled())

	tests := []struct {
		name   string
		target string
		header string
		want   bool
	}{
		{"header", "/ws", "test-secret", true},
		{"query", "/ws?secret=test-secret", "", true},
		{"header wins over query", "/ws?secret=wrong", "test-secret", true},
		{"wrong header", "/ws", "nope", false},
		{"wrong query", "/ws?secret=nope", "", false},
		{"missing", "/ws", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.target, nil)
			if tt.header != "" {
				req.Header.Set(SecretHeader, tt.header)
			}
			assert.Equal(t, tt.want, auth.Authorize(req))
		})
	}
}
