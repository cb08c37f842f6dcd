package repository

import (
	"context"
	"time"

	"payup/backend/internal/token/domain"
)

// Repository defines persistence for refresh-token families and the
// access-token blacklist. Rotation and blacklisting are single conditional
// statements; affected-row counts carry the race outcome.
type Repository interface {
	// CreateFamily persists a new family row (one per login).
	CreateFamily(ctx context.Context, f *domain.RefreshTokenFamily) error
	// Rotate atomically replaces the family's jti and expiry, but only when the
	// stored jti equals oldJti. Returns the updated family, or nil when the
	// conditional update matched no row (stale jti: reuse or a lost race).
	Rotate(ctx context.Context, familyID, oldJti, newJti string, expiresOn time.Time) (*domain.RefreshTokenFamily, error)
	// DeleteFamiliesByUser removes every family belonging to userID. Returns the
	// number of sessions ended.
	DeleteFamiliesByUser(ctx context.Context, userID string) (int64, error)
	// Blacklist inserts the access-token jti idempotently. Returns false when
	// the jti was already blacklisted.
	Blacklist(ctx context.Context, e *domain.BlacklistEntry) (bool, error)
	// IsBlacklisted reports whether the access-token jti has been revoked.
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
	// PurgeExpiredBlacklist deletes blacklist rows whose retention window has
	// passed. Returns the number of rows removed.
	PurgeExpiredBlacklist(ctx context.Context, now time.Time) (int64, error)
}
