package journal

import (
	"context"
	"fmt"
	"io"

	"github.com/aristath/mktcalc/internal/config"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectUploader writes one object to the export bucket
type ObjectUploader interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) error
}

// S3Client uploads export objects with the S3 transfer manager
type S3Client struct {
	bucket   string
	uploader *manager.Uploader
}

// NewS3Client builds a client for cfg. Static credentials are used when both
// keys are configured; otherwise the default AWS credential chain applies.
func NewS3Client(ctx context.Context, cfg config.ExportConfig) (*S3Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	return &S3Client{
		bucket:   cfg.Bucket,
		uploader: manager.NewUploader(client),
	}, nil
}

// Bucket returns the target bucket
func (c *S3Client) Bucket() string {
	return c.bucket
}

// Upload writes body to key
func (c *S3Client) Upload(ctx context.Context, key string, body io.Reader, contentType string) error {
	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload s3://%s/%s: %w", c.bucket, key, err)
	}
	return nil
}
