package repository

import (
	"context"
	"time"

	"payup/backend/internal/otp/domain"
)

// Repository defines persistence for OTP challenges. All mutations are single
// conditional statements so the database arbitrates concurrent callers.
type Repository interface {
	// Get returns the challenge for profileID, or nil if none exists.
	Get(ctx context.Context, profileID string) (*domain.Challenge, error)
	// Put overwrites (or creates) the challenge for c.ProfileID unconditionally,
	// stamping c.UpdatedAt from the store's clock so the cooldown is measured
	// against the same clock Reissue uses. Used for first issuance and for the
	// exhaustion-reset path.
	Put(ctx context.Context, c *domain.Challenge) error
	// Reissue replaces the code and decrements attempts_remaining, but only if
	// attempts remain and the cooldown since the last issue has elapsed.
	// Returns the updated challenge, or nil when the conditional update matched
	// no row (cooldown not elapsed, attempts exhausted, or challenge missing).
	Reissue(ctx context.Context, profileID, codeHash string, expiresAt time.Time, cooldown time.Duration) (*domain.Challenge, error)
	// ConsumeByPhone deletes the challenge matching the phone number and code
	// hash in one statement, treating expired codes as non-matches. Returns the
	// owning profile id, or "" when nothing was consumed.
	ConsumeByPhone(ctx context.Context, phoneNumber, codeHash string) (string, error)
}
