package drivers

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

// CompressionDriver wraps another driver and gzips payloads at rest.
// Stored keys carry a .gz suffix so compressed and plain objects can coexist.
type CompressionDriver struct {
	backend Driver
	logger  *zap.Logger
}

// NewCompressionDriver creates a compressing wrapper around a backend driver
func NewCompressionDriver(backend Driver, logger *zap.Logger) *CompressionDriver {
	return &CompressionDriver{
		backend: backend,
		logger:  logger,
	}
}

// Name returns the driver name
func (c *CompressionDriver) Name() string {
	return c.backend.Name() + "+gzip"
}

// Put compresses data before storing
func (c *CompressionDriver) Put(ctx context.Context, bucket, key string, data io.Reader) error {
	var compressed bytes.Buffer

	gw := gzip.NewWriter(&compressed)
	if _, err := io.Copy(gw, data); err != nil {
		return fmt.Errorf("compress data: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("close gzip writer: %w", err)
	}

	return c.backend.Put(ctx, bucket, key+".gz", &compressed)
}

// Get retrieves and decompresses an object
func (c *CompressionDriver) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	reader, err := c.backend.Get(ctx, bucket, key+".gz")
	if err != nil {
		return nil, err
	}

	gr, err := gzip.NewReader(reader)
	if err != nil {
		_ = reader.Close()
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}

	return &compressedReader{gz: gr, raw: reader}, nil
}

// Delete removes the compressed object
func (c *CompressionDriver) Delete(ctx context.Context, bucket, key string) error {
	return c.backend.Delete(ctx, bucket, key+".gz")
}

// List returns keys with the .gz suffix stripped
func (c *CompressionDriver) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	keys, err := c.backend.List(ctx, bucket, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if len(k) > 3 && k[len(k)-3:] == ".gz" {
			out = append(out, k[:len(k)-3])
		} else {
			out = append(out, k)
		}
	}
	return out, nil
}

// Exists reports whether the compressed object is present
func (c *CompressionDriver) Exists(ctx context.Context, bucket, key string) (bool, error) {
	return c.backend.Exists(ctx, bucket, key+".gz")
}

// HealthCheck delegates to the backend
func (c *CompressionDriver) HealthCheck(ctx context.Context) error {
	return c.backend.HealthCheck(ctx)
}

// compressedReader closes both the gzip layer and the underlying reader
type compressedReader struct {
	gz  *gzip.Reader
	raw io.ReadCloser
}

func (r *compressedReader) Read(p []byte) (int, error) {
	return r.gz.Read(p)
}

func (r *compressedReader) Close() error {
	gzErr := r.gz.Close()
	rawErr := r.raw.Close()
	if gzErr != nil {
		return gzErr
	}
	return rawErr
}
