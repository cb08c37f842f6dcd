// Worker runs the blacklist garbage collector and, when Kafka is configured,
// consumes security events and logs them for alerting.
// Set DATABASE_URL; optionally KAFKA_BROKERS, SECURITY_KAFKA_TOPIC, KAFKA_GROUP_ID.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"payup/backend/internal/config"
	"payup/backend/internal/db"
	"payup/backend/internal/securityevent"
	tokenrepo "payup/backend/internal/token/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("worker: DATABASE_URL is required")
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	sqlDB, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db", zap.Error(err))
	}
	defer sqlDB.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		logger.Info("worker: shutting down...")
		cancel()
	}()

	var wg sync.WaitGroup

	tokens := tokenrepo.NewPostgresRepository(sqlDB)
	wg.Add(1)
	go func() {
		defer wg.Done()
		runBlacklistGC(ctx, tokens, cfg.GCInterval(), logger)
	}()

	if brokers := cfg.SecurityKafkaBrokersList(); len(brokers) > 0 {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			Topic:          cfg.SecurityKafkaTopic,
			GroupID:        cfg.KafkaGroupID,
			MinBytes:       1,
			MaxBytes:       10e6, // 10MB
			MaxWait:        1 * time.Second,
			CommitInterval: time.Second,
		})
		defer reader.Close()

		wg.Add(1)
		go func() {
			defer wg.Done()
			consumeSecurityEvents(ctx, reader, logger)
		}()
		logger.Info("worker: consuming security events",
			zap.String("topic", cfg.SecurityKafkaTopic),
			zap.String("group", cfg.KafkaGroupID))
	} else {
		logger.Info("worker: KAFKA_BROKERS not set; security event consumer disabled")
	}

	wg.Wait()
	logger.Info("worker: stopped")
}

// runBlacklistGC periodically deletes blacklist rows whose tokens have expired
// on their own and no longer need an explicit deny.
func runBlacklistGC(ctx context.Context, tokens tokenrepo.Repository, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := tokens.PurgeExpiredBlacklist(ctx, time.Now().UTC())
			if err != nil {
				logger.Error("worker: blacklist purge failed", zap.Error(err))
				continue
			}
			if purged > 0 {
				logger.Info("worker: purged expired blacklist entries", zap.Int64("rows", purged))
			}
		}
	}
}

func consumeSecurityEvents(ctx context.Context, reader *kafka.Reader, logger *zap.Logger) {
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("worker: kafka read error", zap.Error(err))
			continue
		}

		var event securityevent.Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			logger.Error("worker: malformed security event", zap.Error(err))
			continue
		}

		fields := []zap.Field{
			zap.String("kind", event.Kind),
			zap.String("user_id", event.UserID),
			zap.Time("occurred_at", event.OccurredAt),
		}
		if event.FamilyID != "" {
			fields = append(fields, zap.String("family_id", event.FamilyID))
		}
		if event.Detail != "" {
			fields = append(fields, zap.String("detail", event.Detail))
		}
		switch event.Kind {
		case securityevent.KindTokenReuse:
			logger.Warn("security event", fields...)
		default:
			logger.Info("security event", fields...)
		}
	}
}
