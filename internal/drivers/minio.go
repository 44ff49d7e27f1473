package drivers

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// MinioDriver implements the Driver interface using the native MinIO client.
// Preferred over S3Driver when talking directly to a MinIO deployment.
type MinioDriver struct {
	client *minio.Client
	logger *zap.Logger
}

// NewMinioDriver creates a new MinIO storage driver
func NewMinioDriver(endpoint, accessKey, secretKey string, useSSL bool, logger *zap.Logger) (*MinioDriver, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("minio access key and secret key are required")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &MinioDriver{client: client, logger: logger}, nil
}

// Name returns the driver name
func (d *MinioDriver) Name() string {
	return "minio"
}

// EnsureBucket creates the bucket if it does not exist
func (d *MinioDriver) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := d.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := d.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucket, err)
		}
		d.logger.Info("created bucket", zap.String("bucket", bucket))
	}
	return nil
}

// Get retrieves an object. GetObject defers errors until the first read, so
// the object is stat'ed up front to surface not-found immediately.
func (d *MinioDriver) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := d.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s/%s: %w", bucket, key, err)
	}
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return nil, fmt.Errorf("get object %s/%s: %w", bucket, key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("stat object %s/%s: %w", bucket, key, err)
	}
	return obj, nil
}

// Put stores an object
func (d *MinioDriver) Put(ctx context.Context, bucket, key string, data io.Reader) error {
	_, err := d.client.PutObject(ctx, bucket, key, data, -1, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("put object %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Delete removes an object
func (d *MinioDriver) Delete(ctx context.Context, bucket, key string) error {
	if err := d.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object %s/%s: %w", bucket, key, err)
	}
	return nil
}

// List returns object keys under a prefix
func (d *MinioDriver) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	for obj := range d.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects in %s: %w", bucket, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// Exists reports whether an object is present
func (d *MinioDriver) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := d.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("stat object %s/%s: %w", bucket, key, err)
	}
	return true, nil
}

// HealthCheck verifies the MinIO endpoint is reachable
func (d *MinioDriver) HealthCheck(ctx context.Context) error {
	if _, err := d.client.ListBuckets(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
