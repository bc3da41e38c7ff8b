package objstore

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds configuration for the S3 backend.
type S3Config struct {
	// Region is the AWS region; empty uses the default credential chain's region.
	Region string
	// Endpoint is an optional custom endpoint (LocalStack, R2, ...).
	Endpoint string
	// UsePathStyle enables path-style addressing.
	UsePathStyle bool
	// PartSize is the multipart part size for downloads and uploads.
	PartSize int64
	// Concurrency is the number of parts transferred in parallel.
	Concurrency int
}

// DefaultS3Config returns the default S3 configuration.
func DefaultS3Config() S3Config {
	return S3Config{
		PartSize:    16 * 1024 * 1024,
		Concurrency: 8,
	}
}

// S3Backend transfers objects with the SDK transfer managers.
type S3Backend struct {
	client     *s3.Client
	downloader *manager.Downloader
	uploader   *manager.Uploader
}

// NewS3Backend loads AWS configuration from the environment and builds the
// transfer managers.
func NewS3Backend(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return NewS3BackendWithClient(s3.NewFromConfig(awsCfg, s3Opts...), cfg), nil
}

// NewS3BackendWithClient wraps a pre-configured client.
func NewS3BackendWithClient(client *s3.Client, cfg S3Config) *S3Backend {
	return &S3Backend{
		client: client,
		downloader: manager.NewDownloader(client, func(d *manager.Downloader) {
			if cfg.PartSize > 0 {
				d.PartSize = cfg.PartSize
			}
			if cfg.Concurrency > 0 {
				d.Concurrency = cfg.Concurrency
			}
		}),
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			if cfg.PartSize > 0 {
				u.PartSize = cfg.PartSize
			}
			if cfg.Concurrency > 0 {
				u.Concurrency = cfg.Concurrency
			}
		}),
	}
}

func (b *S3Backend) Download(ctx context.Context, bucket, key, dst string) error {
	f, err := os.Create(dst)
	if err != nil {
		return err
	}

	_, err = b.downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func (b *S3Backend) Upload(ctx context.Context, bucket, key, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = b.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	return err
}
