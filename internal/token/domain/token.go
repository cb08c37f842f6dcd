package domain

import "time"

// RefreshTokenFamily is one login session's rotation state (stored in
// refresh_token_families). Exactly one live jti per family; UpdatedAt doubles
// as the iat of the currently valid refresh token.
type RefreshTokenFamily struct {
	ID        string
	Jti       string
	UserID    string
	ExpiresOn time.Time
	UpdatedAt time.Time
}

// BlacklistEntry is a revoked access token id (stored in access_token_blacklist).
// ExpiresOn bounds how long the entry must be retained.
type BlacklistEntry struct {
	Jti       string
	ExpiresOn time.Time
}
