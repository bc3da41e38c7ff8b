package objstore

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig holds connection settings for an S3-compatible MinIO endpoint.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// MinioBackend transfers objects with the MinIO client.
type MinioBackend struct {
	client *minio.Client
}

func NewMinioBackend(cfg MinioConfig) (*MinioBackend, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create object client: %w", err)
	}
	return &MinioBackend{client: client}, nil
}

func (b *MinioBackend) Download(ctx context.Context, bucket, key, dst string) error {
	return b.client.FGetObject(ctx, bucket, key, dst, minio.GetObjectOptions{})
}

func (b *MinioBackend) Upload(ctx context.Context, bucket, key, src string) error {
	_, err := b.client.FPutObject(ctx, bucket, key, src, minio.PutObjectOptions{
		ContentType: "application/vnd.apache.parquet",
	})
	return err
}
