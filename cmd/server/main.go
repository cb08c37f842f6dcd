package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"payup/backend/internal/audit"
	auditrepo "payup/backend/internal/audit/repository"
	authservice "payup/backend/internal/auth/service"
	"payup/backend/internal/config"
	"payup/backend/internal/db"
	"payup/backend/internal/devotp"
	otprepo "payup/backend/internal/otp/repository"
	profilerepo "payup/backend/internal/profile/repository"
	"payup/backend/internal/security"
	"payup/backend/internal/securityevent"
	"payup/backend/internal/server"
	"payup/backend/internal/sms"
	"payup/backend/internal/telemetry/otel"
	tokenrepo "payup/backend/internal/token/repository"
	tokenservice "payup/backend/internal/token/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	var logger *zap.Logger
	if cfg.Env == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "payup-auth", cfg.OTLPInsecure)
	if err != nil {
		logger.Fatal("telemetry", zap.Error(err))
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = providers.Shutdown(shutdownCtx)
	}()

	sqlDB, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db", zap.Error(err))
	}
	defer sqlDB.Close()

	profiles := profilerepo.NewPostgresRepository(sqlDB)
	otps := otprepo.NewPostgresRepository(sqlDB)
	tokens := tokenrepo.NewPostgresRepository(sqlDB)
	auditLog := audit.NewLogger(auditrepo.NewPostgresRepository(sqlDB), logger, nil)

	emitter := securityevent.NewKafkaEmitter(cfg.SecurityKafkaBrokersList(), cfg.SecurityKafkaTopic)
	defer emitter.Close()
	var events securityevent.Emitter
	if emitter != nil {
		events = emitter
	}

	var devStore devotp.Store
	if cfg.OTPReturnToClient {
		devStore = devotp.NewMemoryStore()
		logger.Warn("dev OTP mode enabled; codes are retrievable via GET /dev/otp")
	}

	twilio := sms.NewTwilioClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFrom, cfg.TwilioBaseURL)
	provider := security.NewTokenProvider([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.Audiences(), cfg.AccessTTL())

	authSvc := authservice.NewAuthService(
		profiles, otps, twilio, devStore, cfg.OTPReturnToClient, auditLog, logger,
		cfg.OTPExpiry(), cfg.ResendCooldown(), cfg.OTPMaxAttempts)
	tokenSvc := tokenservice.NewTokenService(
		tokens, profiles, provider, events, auditLog, logger, cfg.RefreshTTL())

	app := server.New(authSvc, tokenSvc, devStore, cfg.OTPReturnToClient, logger)

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := app.Listen(cfg.HTTPAddr); err != nil {
			logger.Fatal("serve", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down http server...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
	logger.Info("http server stopped")
}
