package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"payup/backend/internal/otp/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an OTP challenge repository that uses the given db.
func NewPostgresRepository(sqlDB *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: sqlDB}
}

// Get returns the challenge for profileID, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) Get(ctx context.Context, profileID string) (*domain.Challenge, error) {
	var c domain.Challenge
	err := r.db.QueryRowContext(ctx,
		`SELECT profile_id, code_hash, expires_at, attempts_remaining, updated_at
		 FROM otp_challenges WHERE profile_id = $1`,
		profileID,
	).Scan(&c.ProfileID, &c.CodeHash, &c.ExpiresAt, &c.AttemptsRemaining, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// Put overwrites (or creates) the challenge for c.ProfileID. updated_at is
// stamped from the database clock, the same clock Reissue measures the
// cooldown against, and written back into c.
func (r *PostgresRepository) Put(ctx context.Context, c *domain.Challenge) error {
	return r.db.QueryRowContext(ctx,
		`INSERT INTO otp_challenges (profile_id, code_hash, expires_at, attempts_remaining, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (profile_id) DO UPDATE
		 SET code_hash = EXCLUDED.code_hash,
		     expires_at = EXCLUDED.expires_at,
		     attempts_remaining = EXCLUDED.attempts_remaining,
		     updated_at = now()
		 RETURNING updated_at`,
		c.ProfileID, c.CodeHash, c.ExpiresAt, c.AttemptsRemaining,
	).Scan(&c.UpdatedAt)
}

// Reissue decrements attempts_remaining and swaps in a new code, guarded by
// the cooldown in SQL so concurrent issuers cannot both pass the window check.
// Returns nil when no row matched.
func (r *PostgresRepository) Reissue(ctx context.Context, profileID, codeHash string, expiresAt time.Time, cooldown time.Duration) (*domain.Challenge, error) {
	var c domain.Challenge
	err := r.db.QueryRowContext(ctx,
		`UPDATE otp_challenges
		 SET code_hash = $2, expires_at = $3, attempts_remaining = attempts_remaining - 1, updated_at = now()
		 WHERE profile_id = $1
		   AND attempts_remaining > 0
		   AND updated_at <= now() - $4::interval
		 RETURNING profile_id, code_hash, expires_at, attempts_remaining, updated_at`,
		profileID, codeHash, expiresAt, cooldown.String(),
	).Scan(&c.ProfileID, &c.CodeHash, &c.ExpiresAt, &c.AttemptsRemaining, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// ConsumeByPhone atomically deletes the matching, unexpired challenge joined to
// the profile by phone number. Returns "" when no row was deleted.
func (r *PostgresRepository) ConsumeByPhone(ctx context.Context, phoneNumber, codeHash string) (string, error) {
	var profileID string
	err := r.db.QueryRowContext(ctx,
		`DELETE FROM otp_challenges c
		 USING profiles p
		 WHERE p.id = c.profile_id
		   AND p.phone_number = $1
		   AND c.code_hash = $2
		   AND c.expires_at > now()
		 RETURNING c.profile_id`,
		phoneNumber, codeHash,
	).Scan(&profileID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return profileID, nil
}
