package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"payup/backend/internal/token/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a token repository that uses the given db for persistence.
func NewPostgresRepository(sqlDB *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: sqlDB}
}

// CreateFamily persists the family row. The family must have ID and Jti set.
func (r *PostgresRepository) CreateFamily(ctx context.Context, f *domain.RefreshTokenFamily) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO refresh_token_families (id, jti, user_id, expires_on, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		f.ID, f.Jti, f.UserID, f.ExpiresOn, f.UpdatedAt,
	)
	return err
}

// Rotate replaces the family's jti when the stored one matches oldJti. The
// WHERE clause makes the database arbitrate concurrent refreshes: the first
// committer wins, later callers see no row.
func (r *PostgresRepository) Rotate(ctx context.Context, familyID, oldJti, newJti string, expiresOn time.Time) (*domain.RefreshTokenFamily, error) {
	var f domain.RefreshTokenFamily
	err := r.db.QueryRowContext(ctx,
		`UPDATE refresh_token_families
		 SET jti = $3, expires_on = $4, updated_at = now()
		 WHERE id = $1 AND jti = $2
		 RETURNING id, jti, user_id, expires_on, updated_at`,
		familyID, oldJti, newJti, expiresOn,
	).Scan(&f.ID, &f.Jti, &f.UserID, &f.ExpiresOn, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &f, nil
}

// DeleteFamiliesByUser removes all families for userID (signout everywhere).
func (r *PostgresRepository) DeleteFamiliesByUser(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM refresh_token_families WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Blacklist inserts the jti, swallowing the duplicate-key case. Returns false
// when the jti was already present.
func (r *PostgresRepository) Blacklist(ctx context.Context, e *domain.BlacklistEntry) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO access_token_blacklist (jti, expires_on) VALUES ($1, $2)
		 ON CONFLICT (jti) DO NOTHING`,
		e.Jti, e.ExpiresOn,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// IsBlacklisted reports whether jti is present in the blacklist.
func (r *PostgresRepository) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	var found bool
	err := r.db.QueryRowContext(ctx,
		`SELECT true FROM access_token_blacklist WHERE jti = $1`, jti,
	).Scan(&found)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return found, nil
}

// PurgeExpiredBlacklist deletes entries whose expires_on has passed.
func (r *PostgresRepository) PurgeExpiredBlacklist(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM access_token_blacklist WHERE expires_on <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
