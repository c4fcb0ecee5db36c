package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	DriverMinio = "minio"
	DriverS3    = "s3"
)

type Config struct {
	Driver   string
	Endpoint string
	Access   string
	Secret   string
	Region   string
	Bucket   string
	UseSSL   bool
}

// ObjectStore is the bucket-scoped API shared by the MinIO and AWS drivers.
type ObjectStore interface {
	Bucket() string
	EnsureBucket(ctx context.Context) error
	UploadFile(ctx context.Context, objectKey, path, contentType string) (int64, error)
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
	RemoveObject(ctx context.Context, objectKey string) error
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	URI(objectKey string) string
}

func New(ctx context.Context, cfg Config) (ObjectStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case DriverMinio:
		return NewClient(cfg)
	case DriverS3, "":
		return NewS3Client(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s (supported: %s, %s)", cfg.Driver, DriverMinio, DriverS3)
	}
}

func objectURI(bucket, objectKey string) string {
	return "s3://" + bucket + "/" + objectKey
}
