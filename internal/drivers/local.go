package drivers

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// LocalDriver implements the Driver interface on the local filesystem.
// Buckets map to directories under basePath.
type LocalDriver struct {
	basePath string
	logger   *zap.Logger
}

// NewLocalDriver creates a new local filesystem driver
func NewLocalDriver(basePath string, logger *zap.Logger) *LocalDriver {
	return &LocalDriver{
		basePath: basePath,
		logger:   logger,
	}
}

// Name returns the driver name
func (d *LocalDriver) Name() string {
	return "local"
}

// Get retrieves an object from a bucket
func (d *LocalDriver) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	fullPath := filepath.Join(d.basePath, bucket, key)

	d.logger.Debug("LocalDriver.Get",
		zap.String("bucket", bucket),
		zap.String("key", key))

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("open %s/%s: %w", bucket, key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("open %s/%s: %w", bucket, key, err)
	}
	return f, nil
}

// Put stores an object in a bucket
func (d *LocalDriver) Put(ctx context.Context, bucket, key string, data io.Reader) error {
	fullPath := filepath.Join(d.basePath, bucket, key)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0750); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	f, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := io.Copy(f, data); err != nil {
		return fmt.Errorf("write %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Delete removes an object from a bucket. Deleting a missing object is not an error.
func (d *LocalDriver) Delete(ctx context.Context, bucket, key string) error {
	fullPath := filepath.Join(d.basePath, bucket, key)
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s/%s: %w", bucket, key, err)
	}
	return nil
}

// List returns object keys under a prefix, sorted ascending
func (d *LocalDriver) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	bucketPath := filepath.Join(d.basePath, bucket)
	var keys []string

	err := filepath.Walk(bucketPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(bucketPath, path)
		if err != nil {
			return nil
		}
		key := filepath.ToSlash(rel)
		if prefix == "" || strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("walk bucket %s: %w", bucket, err)
	}

	sort.Strings(keys)
	return keys, nil
}

// Exists reports whether an object is present
func (d *LocalDriver) Exists(ctx context.Context, bucket, key string) (bool, error) {
	fullPath := filepath.Join(d.basePath, bucket, key)
	if _, err := os.Stat(fullPath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s/%s: %w", bucket, key, err)
	}
	return true, nil
}

// HealthCheck verifies the base path is reachable
func (d *LocalDriver) HealthCheck(ctx context.Context) error {
	if _, err := os.Stat(d.basePath); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
