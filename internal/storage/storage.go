// Package storage archives processor run reports: the full summary as a
// JSON object in S3 and, optionally, a compact index row in DynamoDB so
// recent runs can be listed without scanning the bucket.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jonboulle/clockwork"
)

// S3API is the subset of *s3.Client used by the archive.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// DynamoAPI is the subset of *dynamodb.Client used by the run index.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Config locates the archive.
type Config struct {
	Region  string `yaml:"region"`
	Profile string `yaml:"profile"`
	Bucket  string `yaml:"bucket"`
	Prefix  string `yaml:"prefix"`

	// Table enables the DynamoDB run index when set.
	Table         string `yaml:"table"`
	RetentionDays int    `yaml:"retention_days"`
}

// Load builds an archive from AWS credentials resolved the default way,
// optionally pinned to a shared-config profile.
func Load(ctx context.Context, cfg Config) (*RunArchive, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	var index DynamoAPI
	if cfg.Table != "" {
		index = dynamodb.NewFromConfig(awsCfg)
	}
	return New(s3.NewFromConfig(awsCfg), index, cfg, clockwork.NewRealClock()), nil
}

// New creates an archive over explicit clients. index may be nil.
func New(client S3API, index DynamoAPI, cfg Config, clock clockwork.Clock) *RunArchive {
	if cfg.Prefix == "" {
		cfg.Prefix = "runs"
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 90
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RunArchive{
		s3:     client,
		index:  index,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		table:  cfg.Table,
		ttl:    time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		clock:  clock,
	}
}
