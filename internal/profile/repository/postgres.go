package repository

import (
	"context"
	"database/sql"
	"errors"

	"payup/backend/internal/db"
	"payup/backend/internal/profile/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a profile repository that uses the given db for persistence.
func NewPostgresRepository(sqlDB *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: sqlDB}
}

// GetByPhone returns the profile with the given phone number, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByPhone(ctx context.Context, phoneNumber string) (*domain.Profile, error) {
	var p domain.Profile
	err := r.db.QueryRowContext(ctx,
		`SELECT id, phone_number, created_at, updated_at FROM profiles WHERE phone_number = $1`,
		phoneNumber,
	).Scan(&p.ID, &p.PhoneNumber, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// GetSubjectByProfile returns the profile/user id pair for profileID, or nil if
// the profile has no user row.
func (r *PostgresRepository) GetSubjectByProfile(ctx context.Context, profileID string) (*domain.Subject, error) {
	var s domain.Subject
	err := r.db.QueryRowContext(ctx,
		`SELECT profile_id, id FROM users WHERE profile_id = $1`,
		profileID,
	).Scan(&s.ProfileID, &s.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// CreateWithUser persists the profile and its user row in one transaction.
// Both must have IDs set; they are not assigned by this method.
func (r *PostgresRepository) CreateWithUser(ctx context.Context, p *domain.Profile, u *domain.User) error {
	return db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO profiles (id, phone_number, created_at, updated_at) VALUES ($1, $2, $3, $4)`,
			p.ID, p.PhoneNumber, p.CreatedAt, p.UpdatedAt,
		); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO users (id, profile_id, is_active, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
			u.ID, u.ProfileID, u.IsActive, u.CreatedAt, u.UpdatedAt,
		)
		return err
	})
}
