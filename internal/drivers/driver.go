package drivers

import (
	"context"
	"io"
)

// Driver is the common interface all blob storage backends must implement.
// Objects live under a bucket/key namespace; keys may contain slashes.
type Driver interface {
	Name() string
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Put(ctx context.Context, bucket, key string, data io.Reader) error
	Delete(ctx context.Context, bucket, key string) error
	List(ctx context.Context, bucket, prefix string) ([]string, error)
	Exists(ctx context.Context, bucket, key string) (bool, error)
	HealthCheck(ctx context.Context) error
}
