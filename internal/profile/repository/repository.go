package repository

import (
	"context"

	"payup/backend/internal/profile/domain"
)

// Repository defines persistence for profiles and their user rows.
type Repository interface {
	GetByPhone(ctx context.Context, phoneNumber string) (*domain.Profile, error)
	GetSubjectByProfile(ctx context.Context, profileID string) (*domain.Subject, error)
	CreateWithUser(ctx context.Context, p *domain.Profile, u *domain.User) error
}
