package middleware

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/natours/api/internal/config"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// NewRedisClient connects to a standalone Redis. It returns a nil client
// when Redis is disabled.
func NewRedisClient(cfg *config.RedisConfig, awsCfg *config.AWSConfig, logger *logrus.Logger) (*redis.Client, error) {
	if !cfg.Enabled {
		logger.Info("Redis is disabled, using in-process rate limiting")
		return nil, nil
	}

	options := &redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		PoolTimeout:  cfg.PoolTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		DialTimeout:  5 * time.Second,

		MinIdleConns:    5,
		ConnMaxIdleTime: 10 * time.Minute,
		ConnMaxLifetime: 30 * time.Minute,

		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	}

	if cfg.PasswordFromSecrets {
		password, err := GetSecretValue(awsCfg, "redis_password", logger)
		if err != nil {
			return nil, fmt.Errorf("failed to get Redis password from secrets: %w", err)
		}
		options.Password = password
	}

	if cfg.TLSEnabled {
		options.TLSConfig = &tls.Config{
			ServerName: serverName(cfg.Address),
		}
	}

	rdb := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"address": cfg.Address,
		"db":      cfg.Database,
		"tls":     cfg.TLSEnabled,
	}).Info("Connected to Redis")

	return rdb, nil
}

// RedisHealthCheck pings Redis; a nil client is healthy.
func RedisHealthCheck(redisClient *redis.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if redisClient == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis unavailable: %w", err)
		}
		return nil
	}
}

func serverName(address string) string {
	if host, _, err := net.SplitHostPort(address); err == nil {
		return host
	}
	return address
}

// GetSecretValue reads the configured secret from AWS Secrets Manager. A
// secret holding a JSON object yields its field; any other secret is
// returned whole.
func GetSecretValue(awsCfg *config.AWSConfig, field string, logger *logrus.Logger) (string, error) {
	if awsCfg.SecretName == "" {
		return "", fmt.Errorf("AWS_SECRET_NAME is not set")
	}

	sessConfig := &aws.Config{
		Region: aws.String(awsCfg.Region),
	}
	opts := session.Options{Config: *sessConfig}
	if awsCfg.Profile != "" {
		opts.Profile = awsCfg.Profile
		opts.SharedConfigState = session.SharedConfigEnable
	}

	sess, err := session.NewSessionWithOptions(opts)
	if err != nil {
		return "", fmt.Errorf("failed to create AWS session: %w", err)
	}

	svc := secretsmanager.New(sess)
	result, err := svc.GetSecretValue(&secretsmanager.GetSecretValueInput{
		SecretId: aws.String(awsCfg.SecretName),
	})
	if err != nil {
		return "", fmt.Errorf("failed to retrieve secret '%s': %w", awsCfg.SecretName, err)
	}

	if result.SecretString == nil {
		return "", fmt.Errorf("secret '%s' has no string value", awsCfg.SecretName)
	}

	value := *result.SecretString
	var fields map[string]string
	if json.Unmarshal([]byte(value), &fields) == nil {
		v, ok := fields[field]
		if !ok {
			return "", fmt.Errorf("secret '%s' has no field %q", awsCfg.SecretName, field)
		}
		value = v
	}

	logger.WithFields(logrus.Fields{
		"name":  awsCfg.SecretName,
		"field": field,
	}).Info("Retrieved secret from Secrets Manager")
	return value, nil
}
