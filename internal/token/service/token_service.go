// Package service implements JWT issuance, refresh-token rotation with reuse
// detection, signout, and blacklist-aware access-token validation.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"payup/backend/internal/audit"
	profiledomain "payup/backend/internal/profile/domain"
	"payup/backend/internal/security"
	"payup/backend/internal/securityevent"
	tokendomain "payup/backend/internal/token/domain"
)

// Sentinel errors for token flows; the HTTP edge maps them to status codes.
var (
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")
	ErrRefreshTokenReuse   = errors.New("refresh token reuse detected; all sessions revoked")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrUserNotFound        = errors.New("user not found")
)

// TokenPair is a freshly signed access/refresh pair.
type TokenPair struct {
	AccessToken     string
	RefreshToken    string
	AccessExpiresAt time.Time
}

// TokenRepo is the minimal token repository needed by the token service.
type TokenRepo interface {
	CreateFamily(ctx context.Context, f *tokendomain.RefreshTokenFamily) error
	Rotate(ctx context.Context, familyID, oldJti, newJti string, expiresOn time.Time) (*tokendomain.RefreshTokenFamily, error)
	DeleteFamiliesByUser(ctx context.Context, userID string) (int64, error)
	Blacklist(ctx context.Context, e *tokendomain.BlacklistEntry) (bool, error)
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
}

// SubjectResolver maps a profile id to its user id.
type SubjectResolver interface {
	GetSubjectByProfile(ctx context.Context, profileID string) (*profiledomain.Subject, error)
}

// TokenService issues, rotates, and revokes the JWT pair.
type TokenService struct {
	tokenRepo   TokenRepo
	profileRepo SubjectResolver
	tokens      *security.TokenProvider
	events      securityevent.Emitter
	auditLog    audit.AuditLogger
	log         *zap.Logger
	refreshTTL  time.Duration
}

// NewTokenService returns a TokenService with the given dependencies.
// events and auditLog may be nil; both are best-effort side channels.
func NewTokenService(
	tokenRepo TokenRepo,
	profileRepo SubjectResolver,
	tokens *security.TokenProvider,
	events securityevent.Emitter,
	auditLog audit.AuditLogger,
	log *zap.Logger,
	refreshTTL time.Duration,
) *TokenService {
	if log == nil {
		log = zap.NewNop()
	}
	return &TokenService{
		tokenRepo:   tokenRepo,
		profileRepo: profileRepo,
		tokens:      tokens,
		events:      events,
		auditLog:    auditLog,
		log:         log,
		refreshTTL:  refreshTTL,
	}
}

var tracer = otel.Tracer("payup/backend/internal/token")

// Issue creates a new refresh-token family for the subject and signs a fresh
// access/refresh pair. One family per login.
func (s *TokenService) Issue(ctx context.Context, profileID string) (*TokenPair, error) {
	ctx, span := tracer.Start(ctx, "TokenService.Issue")
	defer span.End()

	subject, err := s.profileRepo.GetSubjectByProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if subject == nil {
		return nil, ErrUserNotFound
	}

	now := time.Now().UTC()
	family := &tokendomain.RefreshTokenFamily{
		ID:        uuid.New().String(),
		Jti:       uuid.New().String(),
		UserID:    subject.UserID,
		ExpiresOn: now.Add(s.refreshTTL),
		UpdatedAt: now,
	}
	if err := s.tokenRepo.CreateFamily(ctx, family); err != nil {
		return nil, err
	}

	if s.auditLog != nil {
		s.auditLog.LogEvent(ctx, subject.UserID, audit.ActionLogin, "refresh_token_family", family.ID)
	}
	return s.signPair(subject, family)
}

// Refresh validates and rotates the presented refresh token. A stale jti means
// the token was already rotated: the family is treated as compromised, every
// session for the user is revoked, and the caller gets a reuse rejection.
// Under two concurrent refreshes the conditional update lets exactly one win.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	ctx, span := tracer.Start(ctx, "TokenService.Refresh")
	defer span.End()

	if refreshToken == "" {
		return nil, ErrInvalidRefreshToken
	}
	claims, err := s.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		return nil, ErrInvalidRefreshToken
	}
	span.SetAttributes(attribute.String("token_family", claims.TokenFamily))

	now := time.Now().UTC()
	family, err := s.tokenRepo.Rotate(ctx, claims.TokenFamily, claims.ID, uuid.New().String(), now.Add(s.refreshTTL))
	if err != nil {
		return nil, err
	}
	if family == nil {
		s.handleReuse(ctx, claims)
		return nil, ErrRefreshTokenReuse
	}

	subject := &profiledomain.Subject{ProfileID: claims.ProfileID, UserID: claims.UserID}
	if s.auditLog != nil {
		s.auditLog.LogEvent(ctx, claims.UserID, audit.ActionTokenRefresh, "refresh_token_family", family.ID)
	}
	return s.signPair(subject, family)
}

// SignOut revokes every session for the token's user and blacklists the
// presented access token. Expired tokens are accepted (revoking an expired
// session is not an error), and a second signout with the same access token is
// a normal acknowledgement.
func (s *TokenService) SignOut(ctx context.Context, accessToken, refreshToken string) error {
	ctx, span := tracer.Start(ctx, "TokenService.SignOut")
	defer span.End()

	atClaims, err := s.tokens.DecodeAccessAllowExpired(accessToken)
	if err != nil {
		return ErrUnauthorized
	}
	rtClaims, err := s.tokens.DecodeRefreshAllowExpired(refreshToken)
	if err != nil {
		return ErrUnauthorized
	}

	ended, err := s.tokenRepo.DeleteFamiliesByUser(ctx, rtClaims.UserID)
	if err != nil {
		return err
	}

	expiresOn := time.Now().UTC()
	if atClaims.ExpiresAt != nil {
		expiresOn = atClaims.ExpiresAt.Time
	}
	inserted, err := s.tokenRepo.Blacklist(ctx, &tokendomain.BlacklistEntry{
		Jti:       atClaims.ID,
		ExpiresOn: expiresOn,
	})
	if err != nil {
		return err
	}
	if !inserted {
		s.log.Info("access token already blacklisted", zap.String("user_id", rtClaims.UserID))
	}

	s.emit(ctx, &securityevent.Event{
		Kind:       securityevent.KindSignoutEverywhere,
		UserID:     rtClaims.UserID,
		ProfileID:  rtClaims.ProfileID,
		OccurredAt: time.Now().UTC(),
	})
	if s.auditLog != nil {
		s.auditLog.LogEvent(ctx, rtClaims.UserID, audit.ActionSignout, "refresh_token_family", "")
	}
	s.log.Info("signed out everywhere",
		zap.String("user_id", rtClaims.UserID),
		zap.Int64("sessions_ended", ended))
	return nil
}

// Authenticate validates the access token and rejects it when blacklisted,
// even if its own exp has not passed. Used by every protected endpoint.
func (s *TokenService) Authenticate(ctx context.Context, accessToken string) (*profiledomain.Subject, error) {
	claims, err := s.tokens.ValidateAccess(accessToken)
	if err != nil {
		return nil, ErrUnauthorized
	}
	blacklisted, err := s.tokenRepo.IsBlacklisted(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if blacklisted {
		return nil, ErrUnauthorized
	}
	return &profiledomain.Subject{ProfileID: claims.ProfileID, UserID: claims.UserID}, nil
}

func (s *TokenService) signPair(subject *profiledomain.Subject, family *tokendomain.RefreshTokenFamily) (*TokenPair, error) {
	refreshToken, err := s.tokens.IssueRefresh(
		subject.ProfileID, subject.UserID, family.ID, family.Jti, family.UpdatedAt, family.ExpiresOn)
	if err != nil {
		return nil, err
	}
	accessToken, _, accessExp, err := s.tokens.IssueAccess(subject.ProfileID, subject.UserID)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:     accessToken,
		RefreshToken:    refreshToken,
		AccessExpiresAt: accessExp,
	}, nil
}

func (s *TokenService) handleReuse(ctx context.Context, claims *security.RefreshClaims) {
	revoked, err := s.tokenRepo.DeleteFamiliesByUser(ctx, claims.UserID)
	if err != nil {
		s.log.Error("failed to revoke families after reuse detection",
			zap.String("user_id", claims.UserID), zap.Error(err))
	}
	s.log.Warn("refresh token reuse detected",
		zap.String("user_id", claims.UserID),
		zap.String("token_family", claims.TokenFamily),
		zap.Int64("families_revoked", revoked))
	s.emit(ctx, &securityevent.Event{
		Kind:       securityevent.KindTokenReuse,
		UserID:     claims.UserID,
		ProfileID:  claims.ProfileID,
		FamilyID:   claims.TokenFamily,
		OccurredAt: time.Now().UTC(),
		Detail:     "stale jti presented for family",
	})
	if s.auditLog != nil {
		s.auditLog.LogEvent(ctx, claims.UserID, audit.ActionTokenReuse, "refresh_token_family", claims.TokenFamily)
	}
}

func (s *TokenService) emit(ctx context.Context, event *securityevent.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Emit(ctx, event); err != nil {
		s.log.Warn("security event emit failed", zap.String("kind", event.Kind), zap.Error(err))
	}
}
