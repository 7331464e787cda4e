package gateway

import (
	"crypto/subtle"
	"net/http"
)

const (
	// SecretHeader carries the shared secret on the upgrade request
	SecretHeader = "X-Parley-Secret"

	secretQueryParam = "secret"
)

// AuthHandler checks the optional shared secret of incoming connections
type AuthHandler struct {
	sharedSecret string
}

// NewAuthHandler creates a new authentication handler. An empty secret
// admits every connection.
func NewAuthHandler(sharedSecret string) *AuthHandler {
	return &AuthHandler{
		sharedSecret: sharedSecret,
	}
}

// Enabled reports whether a secret is required
func (a *AuthHandler) Enabled() bool {
	return a.sharedSecret != ""
}

// Authorize checks the secret from the header, falling back to the query
// string for browser clients that cannot set headers on upgrade.
func (a *AuthHandler) Authorize(r *http.Request) bool {
	if !a.Enabled() {
		return true
	}

	presented := r.Header.Get(SecretHeader)
	if presented == "" {
		presented = r.URL.Query().Get(secretQueryParam)
	}

	return a.verify(presented)
}

func (a *AuthHandler) verify(presented string) bool {
	return subtle.ConstantTimeCompare([]byte(presented), []byte(a.sharedSecret)) == 1
}
