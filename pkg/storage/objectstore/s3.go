// Package objectstore writes PRD markdown snapshots to an S3 compatible bucket.
package objectstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/prdforge/pkg/observability"
	"github.com/platinummonkey/prdforge/pkg/storage"
)

// ChecksumMetadataKey carries the hex sha256 of each uploaded object
const ChecksumMetadataKey = "checksum-sha256"

// S3Client is bound to a single bucket
type S3Client struct {
	api    *s3.Client
	bucket string
}

// NewS3Client builds a client from storage config. Static keys win when both
// are set; otherwise the default AWS credential chain is used. With
// S3CreateBucket the bucket is created if missing.
func NewS3Client(ctx context.Context, cfg storage.Config) (*S3Client, error) {
	if cfg.S3Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.S3Region)}
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		static := credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")
		loadOpts = append(loadOpts, config.WithCredentialsProvider(static))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	c := &S3Client{
		bucket: cfg.S3Bucket,
		api: s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = cfg.S3UsePathStyle
			if cfg.S3Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			}
		}),
	}

	if cfg.S3CreateBucket {
		if err := c.createBucketIfMissing(ctx); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *S3Client) Bucket() string { return c.bucket }

// PutObject uploads content under key, recording its sha256 in metadata
func (c *S3Client) PutObject(ctx context.Context, key string, content []byte, contentType string) (err error) {
	ctx, span := observability.StartSpan(ctx, "objectstore.PutObject",
		attribute.String("s3.bucket", c.bucket),
		attribute.String("s3.key", key),
		attribute.Int("s3.size", len(content)),
	)
	defer func() { observability.EndSpan(span, err) }()

	sum := sha256.Sum256(content)
	_, err = c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(contentType),
		Metadata:    map[string]string{ChecksumMetadataKey: hex.EncodeToString(sum[:])},
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// HealthCheck issues HeadBucket
func (c *S3Client) HealthCheck(ctx context.Context) error {
	if _, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return fmt.Errorf("s3 bucket %s unreachable: %w", c.bucket, err)
	}
	return nil
}

func (c *S3Client) createBucketIfMissing(ctx context.Context) error {
	if c.HealthCheck(ctx) == nil {
		return nil
	}
	_, err := c.api.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(c.bucket)})

	var owned *types.BucketAlreadyOwnedByYou
	var exists *types.BucketAlreadyExists
	switch {
	case err == nil, errors.As(err, &owned), errors.As(err, &exists):
		return nil
	default:
		return fmt.Errorf("failed to create bucket %s: %w", c.bucket, err)
	}
}
