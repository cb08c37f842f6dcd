// Package service implements OTP issuance and verification for phone-number login.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"payup/backend/internal/audit"
	otpcode "payup/backend/internal/otp"
	otpdomain "payup/backend/internal/otp/domain"
	profiledomain "payup/backend/internal/profile/domain"
)

// Sentinel errors for the OTP flows; the HTTP edge maps them to status codes.
var (
	ErrInvalidOtp        = errors.New("the OTP you entered is incorrect")
	ErrAttemptsExhausted = errors.New("otp attempts exhausted; wait for the current code to expire")
	ErrExternalService   = errors.New("sms provider failure")
	ErrSubjectNotFound   = errors.New("subject not found")
)

// RateLimitError reports a request inside the resend cooldown window, carrying
// what the caller needs to back off.
type RateLimitError struct {
	NextAllowedAt     time.Time
	AttemptsRemaining int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("not allowed; wait until %s", e.NextAllowedAt.Format(time.RFC3339))
}

// OtpResult is the outcome of a successful OTP request.
type OtpResult struct {
	NextAllowedAt     time.Time
	AttemptsRemaining int
}

// ProfileRepo is the minimal profile repository needed by the auth service.
type ProfileRepo interface {
	GetByPhone(ctx context.Context, phoneNumber string) (*profiledomain.Profile, error)
	GetSubjectByProfile(ctx context.Context, profileID string) (*profiledomain.Subject, error)
	CreateWithUser(ctx context.Context, p *profiledomain.Profile, u *profiledomain.User) error
}

// OtpRepo is the minimal OTP challenge repository needed by the auth service.
type OtpRepo interface {
	Get(ctx context.Context, profileID string) (*otpdomain.Challenge, error)
	Put(ctx context.Context, c *otpdomain.Challenge) error
	Reissue(ctx context.Context, profileID, codeHash string, expiresAt time.Time, cooldown time.Duration) (*otpdomain.Challenge, error)
	ConsumeByPhone(ctx context.Context, phoneNumber, codeHash string) (string, error)
}

// SMSSender delivers the OTP out of band.
type SMSSender interface {
	SendOTP(ctx context.Context, phone, code string) error
}

// DevOtpStore receives plain codes instead of the SMS provider in dev OTP mode.
type DevOtpStore interface {
	Put(ctx context.Context, phoneNumber, code string, expiresAt time.Time)
}

// AuthService orchestrates OTP issuance (cooldown, attempt budget, SMS
// dispatch) and one-shot verification.
type AuthService struct {
	profileRepo ProfileRepo
	otpRepo     OtpRepo
	sms         SMSSender
	devOtp      DevOtpStore
	devMode     bool
	auditLog    audit.AuditLogger
	log         *zap.Logger

	otpTTL      time.Duration
	cooldown    time.Duration
	maxAttempts int
}

// NewAuthService returns an AuthService with the given dependencies.
// devOtp is consulted instead of sms when devMode is true. auditLog may be nil.
func NewAuthService(
	profileRepo ProfileRepo,
	otpRepo OtpRepo,
	sms SMSSender,
	devOtp DevOtpStore,
	devMode bool,
	auditLog audit.AuditLogger,
	log *zap.Logger,
	otpTTL, cooldown time.Duration,
	maxAttempts int,
) *AuthService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthService{
		profileRepo: profileRepo,
		otpRepo:     otpRepo,
		sms:         sms,
		devOtp:      devOtp,
		devMode:     devMode,
		auditLog:    auditLog,
		log:         log,
		otpTTL:      otpTTL,
		cooldown:    cooldown,
		maxAttempts: maxAttempts,
	}
}

var tracer = otel.Tracer("payup/backend/internal/auth")

// RequestOtp issues a fresh OTP for the phone number, creating the subject on
// first contact. The challenge row is committed before the SMS call so a
// failed send never rolls back the attempt state; the stored code remains
// valid for the next delivery attempt.
func (s *AuthService) RequestOtp(ctx context.Context, phoneNumber string) (*OtpResult, error) {
	ctx, span := tracer.Start(ctx, "AuthService.RequestOtp")
	defer span.End()

	profile, err := s.resolveOrCreateProfile(ctx, phoneNumber)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("profile_id", profile.ID))

	code, err := otpcode.GenerateCode()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	expiresAt := now.Add(s.otpTTL)

	existing, err := s.otpRepo.Get(ctx, profile.ID)
	if err != nil {
		return nil, err
	}

	var challenge *otpdomain.Challenge
	switch {
	case existing == nil || existing.AttemptsRemaining == 0 || now.After(existing.ExpiresAt):
		// First contact, exhausted budget, or fully expired window: start a
		// fresh challenge with a reset attempt budget.
		challenge = &otpdomain.Challenge{
			ProfileID:         profile.ID,
			CodeHash:          otpcode.HashCode(code),
			ExpiresAt:         expiresAt,
			AttemptsRemaining: s.maxAttempts - 1,
			UpdatedAt:         now,
		}
		if err := s.otpRepo.Put(ctx, challenge); err != nil {
			return nil, err
		}
	default:
		challenge, err = s.otpRepo.Reissue(ctx, profile.ID, otpcode.HashCode(code), expiresAt, s.cooldown)
		if err != nil {
			return nil, err
		}
		if challenge == nil {
			// The conditional update matched nothing: either the cooldown has
			// not elapsed or a concurrent caller spent the last attempt.
			current, err := s.otpRepo.Get(ctx, profile.ID)
			if err != nil {
				return nil, err
			}
			if current == nil || current.AttemptsRemaining == 0 {
				return nil, ErrAttemptsExhausted
			}
			return nil, &RateLimitError{
				NextAllowedAt:     current.UpdatedAt.Add(s.cooldown),
				AttemptsRemaining: current.AttemptsRemaining,
			}
		}
	}

	if s.devMode && s.devOtp != nil {
		s.devOtp.Put(ctx, phoneNumber, code, challenge.ExpiresAt)
	} else if err := s.sms.SendOTP(ctx, phoneNumber, code); err != nil {
		s.log.Error("otp sms send failed", zap.String("profile_id", profile.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrExternalService, err)
	}

	if s.auditLog != nil {
		s.auditLog.LogEvent(ctx, profile.ID, audit.ActionOtpRequest, "otp_challenge", "")
	}

	next := challenge.UpdatedAt.Add(s.cooldown)
	if challenge.AttemptsRemaining == 0 {
		next = challenge.ExpiresAt
	}
	return &OtpResult{NextAllowedAt: next, AttemptsRemaining: challenge.AttemptsRemaining}, nil
}

// VerifyOtp consumes the matching, unexpired challenge for the phone number
// and resolves the verified subject. Consumption is one-shot: the same code
// cannot verify twice, and an expired code is a non-match even if correct.
// Wrong number and wrong code are deliberately indistinguishable.
func (s *AuthService) VerifyOtp(ctx context.Context, phoneNumber, code string) (*profiledomain.Subject, error) {
	ctx, span := tracer.Start(ctx, "AuthService.VerifyOtp")
	defer span.End()

	profileID, err := s.otpRepo.ConsumeByPhone(ctx, phoneNumber, otpcode.HashCode(code))
	if err != nil {
		return nil, err
	}
	if profileID == "" {
		s.log.Debug("otp verification failed")
		return nil, ErrInvalidOtp
	}

	subject, err := s.profileRepo.GetSubjectByProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if subject == nil {
		return nil, ErrSubjectNotFound
	}

	if s.auditLog != nil {
		s.auditLog.LogEvent(ctx, subject.UserID, audit.ActionOtpVerify, "otp_challenge", "")
	}
	return subject, nil
}

func (s *AuthService) resolveOrCreateProfile(ctx context.Context, phoneNumber string) (*profiledomain.Profile, error) {
	profile, err := s.profileRepo.GetByPhone(ctx, phoneNumber)
	if err != nil {
		return nil, err
	}
	if profile != nil {
		return profile, nil
	}
	now := time.Now().UTC()
	profile = &profiledomain.Profile{
		ID:          uuid.New().String(),
		PhoneNumber: phoneNumber,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	user := &profiledomain.User{
		ID:        uuid.New().String(),
		ProfileID: profile.ID,
		IsActive:  false,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.profileRepo.CreateWithUser(ctx, profile, user); err != nil {
		// Two first-contact requests can race; the loser hits the phone_number
		// unique constraint. Re-read and continue with the winner's row.
		winner, getErr := s.profileRepo.GetByPhone(ctx, phoneNumber)
		if getErr == nil && winner != nil {
			return winner, nil
		}
		return nil, err
	}
	s.log.Info("created subject for first contact", zap.String("profile_id", profile.ID))
	return profile, nil
}
