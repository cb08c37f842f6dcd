// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres/CockroachDB DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// JWTSecret is the shared HS256 signing secret. Required at startup.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTIssuer is the iss claim (e.g. "auth@payup.turtlebyte").
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim, comma-separated for multiple audiences.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "24h").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "4320h" ~ 180d).
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// OTPTTL is how long an issued OTP stays valid (e.g. "30m").
	OTPTTL string `mapstructure:"OTP_TTL"`
	// OTPMaxAttempts is the issuance budget per challenge window (e.g. 3).
	OTPMaxAttempts int `mapstructure:"OTP_MAX_ATTEMPTS"`
	// OTPResendCooldown is the minimum gap between two OTP sends (e.g. "1m").
	OTPResendCooldown string `mapstructure:"OTP_RESEND_COOLDOWN"`
	// OTPReturnToClient when true enables dev OTP mode: no SMS, OTP stored for GET /dev/otp.
	// Must not be true when Env is production (startup error).
	OTPReturnToClient bool `mapstructure:"OTP_RETURN_TO_CLIENT"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// TwilioAccountSID is the Twilio account SID for OTP SMS delivery.
	TwilioAccountSID string `mapstructure:"TWILIO_ACCOUNT_SID"`
	// TwilioAuthToken is the Twilio API auth token.
	TwilioAuthToken string `mapstructure:"TWILIO_AUTH_TOKEN"`
	// TwilioFrom is the sender phone number or messaging service SID.
	TwilioFrom string `mapstructure:"TWILIO_FROM"`
	// TwilioBaseURL overrides the Twilio API base URL (tests, regional endpoints).
	TwilioBaseURL string `mapstructure:"TWILIO_BASE_URL"`

	// SecurityKafkaBrokers is a comma-separated list of Kafka broker addresses.
	// When empty, security events are logged only.
	SecurityKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// SecurityKafkaTopic is the Kafka topic for security events (default payup-security).
	SecurityKafkaTopic string `mapstructure:"SECURITY_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group ID for the security worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint for traces (empty disables tracing).
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// BlacklistGCInterval is how often the worker purges expired blacklist rows (e.g. "1h").
	BlacklistGCInterval string `mapstructure:"BLACKLIST_GC_INTERVAL"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "auth@payup.turtlebyte")
	v.SetDefault("JWT_AUDIENCE", "client@payup.turtlebyte")
	v.SetDefault("JWT_ACCESS_TTL", "24h")
	v.SetDefault("JWT_REFRESH_TTL", "4320h") // ~180d
	v.SetDefault("OTP_TTL", "30m")
	v.SetDefault("OTP_MAX_ATTEMPTS", 3)
	v.SetDefault("OTP_RESEND_COOLDOWN", "1m")
	v.SetDefault("OTP_RETURN_TO_CLIENT", false)
	v.SetDefault("APP_ENV", "")
	v.SetDefault("TWILIO_BASE_URL", "https://api.twilio.com")
	v.SetDefault("SECURITY_KAFKA_TOPIC", "payup-security")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_GROUP_ID", "payup-security-worker")
	v.SetDefault("BLACKLIST_GC_INTERVAL", "1h")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("config: JWT_SECRET must be set")
	}
	if cfg.OTPReturnToClient && cfg.Env == "production" {
		return nil, errors.New("config: OTP_RETURN_TO_CLIENT must not be true when APP_ENV=production")
	}
	if cfg.OTPMaxAttempts < 1 {
		return nil, errors.New("config: OTP_MAX_ATTEMPTS must be at least 1")
	}

	return &cfg, nil
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 24h if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTAccessTTL)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 4320h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTRefreshTTL)
	if err != nil || d <= 0 {
		return 4320 * time.Hour
	}
	return d
}

// OTPExpiry parses OTPTTL as a time.Duration. Returns 30m if unset or invalid.
func (c *Config) OTPExpiry() time.Duration {
	d, err := time.ParseDuration(c.OTPTTL)
	if err != nil || d <= 0 {
		return 30 * time.Minute
	}
	return d
}

// ResendCooldown parses OTPResendCooldown as a time.Duration. Returns 1m if unset or invalid.
func (c *Config) ResendCooldown() time.Duration {
	d, err := time.ParseDuration(c.OTPResendCooldown)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

// GCInterval parses BlacklistGCInterval as a time.Duration. Returns 1h if unset or invalid.
func (c *Config) GCInterval() time.Duration {
	d, err := time.ParseDuration(c.BlacklistGCInterval)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// Audiences returns the audience values from the comma-separated config.
func (c *Config) Audiences() []string {
	if c == nil || c.JWTAudience == "" {
		return nil
	}
	parts := strings.Split(c.JWTAudience, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SecurityKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if security eventing is enabled (non-empty list) and to create the producer.
func (c *Config) SecurityKafkaBrokersList() []string {
	if c == nil || c.SecurityKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.SecurityKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
