package security

import "time"

// NewTestTokenProvider returns a TokenProvider with a fixed secret and short
// TTLs. For unit tests only. Callers must not use in production.
func NewTestTokenProvider() *TokenProvider {
	return NewTokenProvider([]byte("test-secret"), "test-issuer", []string{"test-audience"}, 15*time.Minute)
}
