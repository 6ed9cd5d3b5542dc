package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gofiber/fiber/v2/log"

	"github.com/mkessler/streamgate/internal/pkg/config"
)

// Client wraps the S3 client with media-store functionality. The important
// operation is PresignGetObject: the issued URL is redeemed directly against
// the object store, keeping the application off the byte-stream path.
type Client struct {
	s3Client      *s3.Client
	presignClient *s3.PresignClient
	bucket        string
}

// NewClient creates a media store client from config.
func NewClient(cfg config.S3Config) (*Client, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("object store is not configured")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			// MinIO/B2-style endpoints need path-style URLs.
			o.UsePathStyle = true
			o.UseAccelerate = false
		}
	})

	client := &Client{
		s3Client:      s3Client,
		presignClient: s3.NewPresignClient(s3Client),
		bucket:        cfg.Bucket,
	}

	if err := client.testConnection(); err != nil {
		return nil, fmt.Errorf("failed to connect to object store: %w", err)
	}

	log.Infof("[Storage] Successfully initialized S3 client for bucket: %s", cfg.Bucket)
	return client, nil
}

// testConnection checks that the configured bucket is reachable.
func (c *Client) testConnection() error {
	_, err := c.s3Client.HeadBucket(context.Background(), &s3.HeadBucketInput{
		Bucket: aws.String(c.bucket),
	})
	if err != nil {
		return fmt.Errorf("bucket %s not accessible: %w", c.bucket, err)
	}
	return nil
}

// PresignGetObject mints a query-string-signed GET URL for an object key,
// valid for ttl. The object store verifies the signature natively.
func (c *Client) PresignGetObject(ctx context.Context, objectKey string, ttl time.Duration) (string, error) {
	req, err := c.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectKey),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("failed to presign s3://%s/%s: %w", c.bucket, objectKey, err)
	}
	return req.URL, nil
}

// ObjectExists checks if an object exists in the bucket.
func (c *Client) ObjectExists(ctx context.Context, objectKey string) (bool, error) {
	_, err := c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
	return true, nil
}
