package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/dunamismax/swapflow/internal/id"
)

// DefaultURLExpiry is the lifetime of presigned result URLs (604800 seconds).
const DefaultURLExpiry = 7 * 24 * time.Hour

type objectStore interface {
	UploadFile(ctx context.Context, objectKey, path, contentType string) (int64, error)
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	URI(objectKey string) string
}

// ObjectStoreEmitter uploads swap outputs under <KeyPrefix><uuid>.jpeg and
// presigns a read URL for them.
type ObjectStoreEmitter struct {
	Store     objectStore
	KeyPrefix string
	Expiry    time.Duration
	NewKey    func() string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, outputPath string) (Output, error) {
	if e.Store == nil {
		return Output{}, errors.New("object store is required")
	}

	newKey := e.NewKey
	if newKey == nil {
		newKey = id.New
	}
	expiry := e.Expiry
	if expiry <= 0 {
		expiry = DefaultURLExpiry
	}

	objectKey := e.KeyPrefix + newKey() + ".jpeg"
	size, err := e.Store.UploadFile(ctx, objectKey, outputPath, "image/jpeg")
	if err != nil {
		return Output{}, err
	}

	url, err := e.Store.PresignedGetURL(ctx, objectKey, expiry)
	if err != nil {
		return Output{}, err
	}

	return Output{
		ObjectKey: objectKey,
		S3URI:     e.Store.URI(objectKey),
		ImageURL:  url,
		Bytes:     size,
	}, nil
}
