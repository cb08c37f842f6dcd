// Package server is the HTTP edge: routing, request decoding, and the mapping
// from service errors to status codes. No business logic lives here.
package server

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"go.uber.org/zap"

	authservice "payup/backend/internal/auth/service"
	"payup/backend/internal/devotp"
	tokenservice "payup/backend/internal/token/service"
)

// Server wires the auth and token services behind fiber handlers.
type Server struct {
	auth    *authservice.AuthService
	tokens  *tokenservice.TokenService
	devOtp  devotp.Store
	devMode bool
	log     *zap.Logger
}

// New builds the fiber application. devOtp is only routed when devMode is true.
func New(auth *authservice.AuthService, tokens *tokenservice.TokenService, devOtp devotp.Store, devMode bool, log *zap.Logger) *fiber.App {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{auth: auth, tokens: tokens, devOtp: devOtp, devMode: devMode, log: log}

	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorHandler: s.errorHandler,
	})
	app.Use(cors.New())
	app.Use(requestLogger(log))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	auth1 := app.Group("/auth")
	auth1.Post("/otp/request", s.requestOtp)
	auth1.Post("/otp/verify", s.verifyOtp)
	auth1.Post("/token/refresh", s.refresh)
	auth1.Post("/signout", s.signOut)
	auth1.Get("/me", s.me)

	if devMode && devOtp != nil {
		app.Get("/dev/otp", s.devOtpLookup)
	}
	return app
}

type requestOtpReq struct {
	PhoneNumber string `json:"phone_number"`
}

func (s *Server) requestOtp(c *fiber.Ctx) error {
	var req requestOtpReq
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	if req.PhoneNumber == "" {
		return fiber.NewError(fiber.StatusBadRequest, "phone_number required")
	}
	res, err := s.auth.RequestOtp(c.Context(), req.PhoneNumber)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"message":            "otp_sent",
		"next_allowed_at":    res.NextAllowedAt.UTC().Format(time.RFC3339),
		"attempts_remaining": res.AttemptsRemaining,
	})
}

type verifyOtpReq struct {
	PhoneNumber string `json:"phone_number"`
	Code        string `json:"code"`
}

// verifyOtp consumes the code and, on success, signs a fresh token pair for
// the verified subject in the same request.
func (s *Server) verifyOtp(c *fiber.Ctx) error {
	var req verifyOtpReq
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	if req.PhoneNumber == "" || req.Code == "" {
		return fiber.NewError(fiber.StatusBadRequest, "phone_number and code required")
	}
	subject, err := s.auth.VerifyOtp(c.Context(), req.PhoneNumber, req.Code)
	if err != nil {
		return err
	}
	pair, err := s.tokens.Issue(c.Context(), subject.ProfileID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"profile_id":        subject.ProfileID,
		"user_id":           subject.UserID,
		"access_token":      pair.AccessToken,
		"refresh_token":     pair.RefreshToken,
		"access_expires_at": pair.AccessExpiresAt.UTC().Format(time.RFC3339),
	})
}

type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) refresh(c *fiber.Ctx) error {
	var req refreshReq
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	pair, err := s.tokens.Refresh(c.Context(), req.RefreshToken)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"access_token":      pair.AccessToken,
		"refresh_token":     pair.RefreshToken,
		"access_expires_at": pair.AccessExpiresAt.UTC().Format(time.RFC3339),
	})
}

type signOutReq struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) signOut(c *fiber.Ctx) error {
	var req signOutReq
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	accessToken := bearerToken(c)
	if accessToken == "" || req.RefreshToken == "" {
		return fiber.NewError(fiber.StatusBadRequest, "access and refresh tokens required")
	}
	if err := s.tokens.SignOut(c.Context(), accessToken, req.RefreshToken); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "signed_out"})
}

// me validates the bearer token and returns the authenticated subject. It is
// the health check of a session: any protected surface would do the same.
func (s *Server) me(c *fiber.Ctx) error {
	accessToken := bearerToken(c)
	if accessToken == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
	}
	subject, err := s.tokens.Authenticate(c.Context(), accessToken)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"profile_id": subject.ProfileID,
		"user_id":    subject.UserID,
	})
}

func (s *Server) devOtpLookup(c *fiber.Ctx) error {
	phone := c.Query("phone_number")
	if phone == "" {
		return fiber.NewError(fiber.StatusBadRequest, "phone_number required")
	}
	code, expiresAt, ok := s.devOtp.Get(c.Context(), phone)
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "no active otp")
	}
	return c.JSON(fiber.Map{
		"phone_number": phone,
		"code":         code,
		"expires_at":   expiresAt.UTC().Format(time.RFC3339),
	})
}

func bearerToken(c *fiber.Ctx) string {
	h := c.Get(fiber.HeaderAuthorization)
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return h[7:]
	}
	return ""
}

// errorHandler maps service errors onto status codes. Anything unrecognized is
// a 500 with a generic body so internals never leak to clients.
func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	var rl *authservice.RateLimitError
	if errors.As(err, &rl) {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error":              "rate_limited",
			"next_allowed_at":    rl.NextAllowedAt.UTC().Format(time.RFC3339),
			"attempts_remaining": rl.AttemptsRemaining,
		})
	}

	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
	}

	switch {
	case errors.Is(err, authservice.ErrInvalidOtp):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, authservice.ErrAttemptsExhausted):
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, tokenservice.ErrInvalidRefreshToken),
		errors.Is(err, tokenservice.ErrRefreshTokenReuse),
		errors.Is(err, tokenservice.ErrUnauthorized):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, authservice.ErrSubjectNotFound),
		errors.Is(err, tokenservice.ErrUserNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, authservice.ErrExternalService):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "sms provider unavailable"})
	}

	s.log.Error("unhandled request error", zap.String("path", c.Path()), zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
}

func requestLogger(log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		log.Info("http request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.String("ip", c.IP()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("latency", time.Since(start)))
		return err
	}
}
