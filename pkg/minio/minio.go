package minio

import (
	"context"
	"fmt"
	"io"

	"rpa-orchestrator/pkg/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Client = fx.Module("minio.client", fx.Provide(registerClient, NewPackageStore))

func registerClient(c *config.Config) *minio.Client {
	// Object storage is optional. Without an endpoint the orchestrator
	// still boots; package uploads report storage as not configured.
	if c.Minio.Endpoint == "" {
		zap.L().Info("MinIO endpoint not configured, package storage disabled")
		return nil
	}

	client, err := minio.New(c.Minio.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.Minio.AccessKey, c.Minio.SecretKey, ""),
		Secure: c.Minio.Secure,
	})
	if err != nil {
		zap.L().Fatal("failed to create MinIO client", zap.Error(err))
	}

	exists, err := client.BucketExists(context.Background(), c.Minio.BucketName)
	if err != nil {
		zap.L().Fatal("failed to check if bucket exists", zap.String("bucket", c.Minio.BucketName), zap.Error(err))
	}
	if !exists {
		if err := client.MakeBucket(context.Background(), c.Minio.BucketName, minio.MakeBucketOptions{}); err != nil {
			zap.L().Fatal("failed to create bucket", zap.String("bucket", c.Minio.BucketName), zap.Error(err))
		}
	}

	zap.L().Info("MinIO client initialized", zap.String("endpoint", c.Minio.Endpoint))
	return client
}

// PackageStore persists automation packages and returns opaque package refs.
type PackageStore interface {
	PutPackage(ctx context.Context, key string, r io.Reader, size int64) (string, error)
}

type packageStore struct {
	client *minio.Client
	bucket string
}

func NewPackageStore(c *config.Config, client *minio.Client) PackageStore {
	if client == nil {
		return nil
	}
	return &packageStore{client: client, bucket: c.Minio.BucketName}
}

func (s *packageStore) PutPackage(ctx context.Context, key string, r io.Reader, size int64) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: "application/zip",
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("minio://%s/%s", s.bucket, key), nil
}
