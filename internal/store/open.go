package store

import (
	"context"
	"fmt"

	"github.com/natours/api/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/sirupsen/logrus"
)

// Open returns the store selected by cfg.Store.Driver.
func Open(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*Store, error) {
	if cfg.Store.Driver == "memory" {
		logger.Warn("Using the in-memory store, data is lost on restart")
		return NewMemory(), nil
	}

	client, err := newDynamoClient(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if cfg.DynamoDB.AutoCreate {
		if err := EnsureTables(ctx, client, cfg.DynamoDB.TablePrefix, logger); err != nil {
			return nil, fmt.Errorf("failed to create tables: %w", err)
		}
	}
	return NewDynamo(client, cfg.DynamoDB.TablePrefix), nil
}

func newDynamoClient(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*dynamodb.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.DynamoDB.Region)}
	if cfg.AWS.Profile != "" {
		// local development
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	creds, credErr := awsCfg.Credentials.Retrieve(ctx)
	if credErr != nil {
		logger.WithError(credErr).Warn("Failed to retrieve credentials (will retry on first API call)")
	} else {
		logger.WithFields(logrus.Fields{
			"provider":  creds.Source,
			"temporary": creds.SessionToken != "",
			"region":    cfg.DynamoDB.Region,
		}).Debug("AWS credentials retrieved")
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.DynamoDB.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.DynamoDB.Endpoint)
		}
	})

	logger.WithFields(logrus.Fields{
		"region":       cfg.DynamoDB.Region,
		"endpoint":     cfg.DynamoDB.Endpoint,
		"table_prefix": cfg.DynamoDB.TablePrefix,
	}).Info("DynamoDB client initialized")
	return client, nil
}
