package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server        ServerConfig        `envconfig:"SERVER"`
	Store         StoreConfig         `envconfig:"STORE"`
	Redis         RedisConfig         `envconfig:"REDIS"`
	JWT           JWTConfig           `envconfig:"JWT"`
	DynamoDB      DynamoDBConfig      `envconfig:"DYNAMODB"`
	Payment       PaymentConfig       `envconfig:"PAYMENT"`
	Email         EmailConfig         `envconfig:"EMAIL"`
	RateLimit     RateLimitConfig     `envconfig:"RATE_LIMIT"`
	Observability ObservabilityConfig `envconfig:"OBSERVABILITY"`
	CORS          CORSConfig          `envconfig:"CORS"`
	Log           LogConfig           `envconfig:"LOG"`
	AWS           AWSConfig           `envconfig:"AWS"`
}

type AWSConfig struct {
	Region     string `envconfig:"REGION" default:"eu-west-1"`
	Profile    string `envconfig:"PROFILE" default:""`
	SecretName string `envconfig:"SECRET_NAME" default:""`
}

type ServerConfig struct {
	Port         string        `envconfig:"PORT" default:"3000"`
	Environment  string        `envconfig:"ENVIRONMENT" default:"development"`
	PublicURL    string        `envconfig:"PUBLIC_URL" default:"http://localhost:3000"`
	BodyLimit    int           `envconfig:"BODY_LIMIT" default:"10240"` // bytes, matches a 10kb JSON body cap
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"30s"`
	IdleTimeout  time.Duration `envconfig:"IDLE_TIMEOUT" default:"120s"`
}

// IsProduction reports whether error responses should hide internals.
func (s ServerConfig) IsProduction() bool {
	return s.Environment == "production"
}

type StoreConfig struct {
	Driver string `envconfig:"DRIVER" default:"dynamodb"` // dynamodb or memory
}

type RedisConfig struct {
	Enabled             bool          `envconfig:"ENABLED" default:"true"`
	Address             string        `envconfig:"ADDRESS" default:"localhost:6379"`
	Password            string        `envconfig:"PASSWORD" default:""`
	Database            int           `envconfig:"DATABASE" default:"0"`
	MaxRetries          int           `envconfig:"MAX_RETRIES" default:"3"`
	PoolSize            int           `envconfig:"POOL_SIZE" default:"100"`
	PoolTimeout         time.Duration `envconfig:"POOL_TIMEOUT" default:"4s"`
	TLSEnabled          bool          `envconfig:"TLS_ENABLED" default:"false"`
	PasswordFromSecrets bool          `envconfig:"PASSWORD_FROM_SECRETS" default:"false"`
}

type JWTConfig struct {
	Secret          string        `envconfig:"SECRET" default:"change-me-in-production"`
	SecretFromAWS   bool          `envconfig:"SECRET_FROM_SECRETS" default:"false"`
	ExpiresIn       time.Duration `envconfig:"EXPIRES_IN" default:"2160h"` // 90 days
	CookieExpiresIn int           `envconfig:"COOKIE_EXPIRES_IN" default:"90"` // days
	BcryptCost      int           `envconfig:"BCRYPT_COST" default:"12"`
}

type DynamoDBConfig struct {
	Region      string `envconfig:"REGION" default:"eu-west-1"`
	Endpoint    string `envconfig:"ENDPOINT" default:""` // dynamodb-local, localstack
	TablePrefix string `envconfig:"TABLE_PREFIX" default:"natours"`
	AutoCreate  bool   `envconfig:"AUTO_CREATE" default:"false"`
}

type PaymentConfig struct {
	SecretKey     string        `envconfig:"SECRET_KEY" default:""`
	WebhookSecret string        `envconfig:"WEBHOOK_SECRET" default:""`
	BaseURL       string        `envconfig:"BASE_URL" default:"https://api.stripe.com"`
	Currency      string        `envconfig:"CURRENCY" default:"usd"`
	Timeout       time.Duration `envconfig:"TIMEOUT" default:"5s"`
	Tolerance     time.Duration `envconfig:"TOLERANCE" default:"5m"`
}

type EmailConfig struct {
	From     string `envconfig:"FROM" default:"Natours <hello@natours.io>"`
	Host     string `envconfig:"HOST" default:""` // empty logs mail instead of sending
	Port     int    `envconfig:"PORT" default:"587"`
	Username string `envconfig:"USERNAME" default:""`
	Password string `envconfig:"PASSWORD" default:""`
}

type RateLimitConfig struct {
	Max         int           `envconfig:"MAX" default:"100"`
	Window      time.Duration `envconfig:"WINDOW" default:"1h"`
	Enabled     bool          `envconfig:"ENABLED" default:"true"`
	ExemptPaths []string      `envconfig:"EXEMPT_PATHS" default:"/healthz,/readyz,/metrics,/webhook-checkout"`
}

type ObservabilityConfig struct {
	MetricsPath    string  `envconfig:"METRICS_PATH" default:"/metrics"`
	OTLPEndpoint   string  `envconfig:"OTLP_ENDPOINT" default:"http://localhost:4318"`
	TracingEnabled bool    `envconfig:"TRACING_ENABLED" default:"false"`
	SampleRate     float64 `envconfig:"SAMPLE_RATE" default:"0.1"`
}

type CORSConfig struct {
	AllowOrigins string `envconfig:"ALLOW_ORIGINS" default:"*"`
}

type LogConfig struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"json"`
}

func Load() (*Config, error) {
	var cfg Config

	// Load from environment variables
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}

	// envconfig keeps surrounding spaces in slice elements
	if exemptPaths := os.Getenv("RATE_LIMIT_EXEMPT_PATHS"); exemptPaths != "" {
		cfg.RateLimit.ExemptPaths = strings.Split(exemptPaths, ",")
		for i := range cfg.RateLimit.ExemptPaths {
			cfg.RateLimit.ExemptPaths[i] = strings.TrimSpace(cfg.RateLimit.ExemptPaths[i])
		}
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func validateConfig(cfg *Config) error {
	if port, err := strconv.Atoi(cfg.Server.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid server port: %s", cfg.Server.Port)
	}

	switch cfg.Server.Environment {
	case "development", "production", "test":
	default:
		return fmt.Errorf("invalid environment: %s", cfg.Server.Environment)
	}

	switch cfg.Store.Driver {
	case "dynamodb", "memory":
	default:
		return fmt.Errorf("invalid store driver: %s", cfg.Store.Driver)
	}

	if cfg.JWT.Secret == "" && !cfg.JWT.SecretFromAWS {
		return fmt.Errorf("jwt secret is required")
	}
	if cfg.Server.IsProduction() && cfg.JWT.Secret == "change-me-in-production" && !cfg.JWT.SecretFromAWS {
		return fmt.Errorf("jwt secret must be changed in production")
	}
	if cfg.JWT.ExpiresIn <= 0 {
		return fmt.Errorf("invalid jwt expiry: %s", cfg.JWT.ExpiresIn)
	}

	if cfg.RateLimit.Enabled && (cfg.RateLimit.Max < 1 || cfg.RateLimit.Window <= 0) {
		return fmt.Errorf("invalid rate limit: %d per %s", cfg.RateLimit.Max, cfg.RateLimit.Window)
	}

	if cfg.Observability.SampleRate < 0 || cfg.Observability.SampleRate > 1 {
		return fmt.Errorf("invalid tracing sample rate: %f", cfg.Observability.SampleRate)
	}

	return nil
}
