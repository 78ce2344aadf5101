package source

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config holds connection settings for an S3-compatible endpoint.
type S3Config struct {
	Endpoint  string // e.g. "minio:9000" or "s3.amazonaws.com"
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
}

// S3Client serves s3:// sources through MinIO's client.
type S3Client struct {
	mc *minio.Client
}

// NewS3Client creates a client. It returns (nil, nil) when cfg.Endpoint is
// empty; leave Options.Objects unset in that case.
func NewS3Client(cfg S3Config) (*S3Client, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &S3Client{mc: mc}, nil
}

// GetObject implements ObjectGetter. The object is stat'ed first so that a
// missing key fails here rather than on the first Read.
func (c *S3Client) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := c.mc.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, err
	}
	return obj, nil
}

var _ ObjectGetter = (*S3Client)(nil)
