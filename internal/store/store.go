package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/greenstack/leafserve/internal/drivers"
	"go.uber.org/zap"
)

const (
	// ModelFileName is the payload object name within a version prefix
	ModelFileName = "model.ckpt"
	// ManifestFileName is the manifest object name within a version prefix
	ManifestFileName = "manifest.json"
)

// Store is a content-verified, versioned artifact store over a blob driver.
// Layout: <model>/<version>/model.ckpt plus <model>/<version>/manifest.json;
// the manifest write is the commit point for a version.
type Store struct {
	driver drivers.Driver
	bucket string
	logger *zap.Logger
}

// New creates an artifact store on top of a driver
func New(driver drivers.Driver, bucket string, logger *zap.Logger) *Store {
	return &Store{
		driver: driver,
		bucket: bucket,
		logger: logger,
	}
}

// Put writes a new immutable version. The payload and sibling files go in
// first; the manifest last, so a crash mid-put leaves no visible version.
func (s *Store) Put(ctx context.Context, modelName, version string, payload []byte, metadata map[string]string, siblings map[string][]byte) (*Manifest, error) {
	if err := validateName(modelName); err != nil {
		return nil, err
	}
	if err := validateName(version); err != nil {
		return nil, err
	}
	for name := range siblings {
		if err := validateName(name); err != nil {
			return nil, err
		}
	}

	manifestKey := objectKey(modelName, version, ManifestFileName)

	exists, err := s.driver.Exists(ctx, s.bucket, manifestKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	if exists {
		return nil, VersionConflictError{ModelName: modelName, Version: version}
	}

	payloadKey := objectKey(modelName, version, ModelFileName)
	if err := s.driver.Put(ctx, s.bucket, payloadKey, bytes.NewReader(payload)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	var siblingNames []string
	for name, data := range siblings {
		if err := s.driver.Put(ctx, s.bucket, objectKey(modelName, version, name), bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		}
		siblingNames = append(siblingNames, name)
	}
	sort.Strings(siblingNames)

	manifest := &Manifest{
		ModelName:    modelName,
		Version:      version,
		ModelFile:    payloadKey,
		Checksum:     Checksum(payload),
		Metadata:     metadata,
		SiblingFiles: siblingNames,
		CreatedAt:    time.Now().UTC(),
	}

	raw, err := json.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := s.driver.Put(ctx, s.bucket, manifestKey, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	s.logger.Info("stored model version",
		zap.String("model", modelName),
		zap.String("version", version),
		zap.String("checksum", manifest.Checksum),
		zap.Int("size", len(payload)))

	return manifest, nil
}

// Get fetches a version's payload and manifest, re-verifying the checksum.
// Corrupted bytes are never returned as success.
func (s *Store) Get(ctx context.Context, modelName, version string) ([]byte, *Manifest, error) {
	rawManifest, err := s.readObject(ctx, objectKey(modelName, version, ManifestFileName))
	if err != nil {
		if errors.Is(err, drivers.ErrObjectNotFound) {
			return nil, nil, VersionNotFoundError{ModelName: modelName, Version: version}
		}
		return nil, nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	manifest, err := parseManifest(rawManifest)
	if err != nil {
		// unparseable manifest is corruption, not absence
		return nil, nil, IntegrityError{ModelName: modelName, Version: version, Want: "valid manifest", Got: err.Error()}
	}

	payload, err := s.readObject(ctx, manifest.ModelFile)
	if err != nil {
		if errors.Is(err, drivers.ErrObjectNotFound) {
			return nil, nil, VersionNotFoundError{ModelName: modelName, Version: version}
		}
		return nil, nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	if got := Checksum(payload); got != manifest.Checksum {
		return nil, nil, IntegrityError{
			ModelName: modelName,
			Version:   version,
			Want:      manifest.Checksum,
			Got:       got,
		}
	}

	return payload, manifest, nil
}

// GetSibling fetches a sibling file (e.g. training history) for a version
func (s *Store) GetSibling(ctx context.Context, modelName, version, name string) ([]byte, error) {
	data, err := s.readObject(ctx, objectKey(modelName, version, name))
	if err != nil {
		if errors.Is(err, drivers.ErrObjectNotFound) {
			return nil, VersionNotFoundError{ModelName: modelName, Version: version}
		}
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return data, nil
}

// ListVersions returns committed versions of a model in descending order.
// Only versions with a manifest count; an unknown model yields an empty list.
func (s *Store) ListVersions(ctx context.Context, modelName string) ([]string, error) {
	keys, err := s.driver.List(ctx, s.bucket, modelName+"/")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	seen := make(map[string]bool)
	var versions []string
	for _, key := range keys {
		parts := strings.Split(key, "/")
		if len(parts) != 3 || parts[2] != ManifestFileName {
			continue
		}
		if !seen[parts[1]] {
			seen[parts[1]] = true
			versions = append(versions, parts[1])
		}
	}

	sort.Sort(sort.Reverse(sort.StringSlice(versions)))
	return versions, nil
}

// Latest returns the most recent committed version of a model
func (s *Store) Latest(ctx context.Context, modelName string) (string, error) {
	versions, err := s.ListVersions(ctx, modelName)
	if err != nil {
		return "", err
	}
	if len(versions) == 0 {
		return "", VersionNotFoundError{ModelName: modelName}
	}
	return versions[0], nil
}

// GetManifest fetches just the manifest for a version
func (s *Store) GetManifest(ctx context.Context, modelName, version string) (*Manifest, error) {
	raw, err := s.readObject(ctx, objectKey(modelName, version, ManifestFileName))
	if err != nil {
		if errors.Is(err, drivers.ErrObjectNotFound) {
			return nil, VersionNotFoundError{ModelName: modelName, Version: version}
		}
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	manifest, err := parseManifest(raw)
	if err != nil {
		return nil, IntegrityError{ModelName: modelName, Version: version, Want: "valid manifest", Got: err.Error()}
	}
	return manifest, nil
}

// Delete removes a version. The manifest goes first so a concurrent reader
// never sees a manifest pointing at missing bytes. Idempotent.
func (s *Store) Delete(ctx context.Context, modelName, version string) error {
	manifest, err := s.GetManifest(ctx, modelName, version)
	if err != nil {
		var notFound VersionNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		var integrity IntegrityError
		if !errors.As(err, &integrity) {
			return err
		}
		// corrupt manifest: still delete the whole prefix below
		manifest = nil
	}

	if err := s.driver.Delete(ctx, s.bucket, objectKey(modelName, version, ManifestFileName)); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	if err := s.driver.Delete(ctx, s.bucket, objectKey(modelName, version, ModelFileName)); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	if manifest != nil {
		for _, name := range manifest.SiblingFiles {
			if err := s.driver.Delete(ctx, s.bucket, objectKey(modelName, version, name)); err != nil {
				return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
			}
		}
	}

	s.logger.Info("deleted model version",
		zap.String("model", modelName),
		zap.String("version", version))
	return nil
}

// HealthCheck delegates to the backing driver
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.driver.HealthCheck(ctx)
}

// Checksum returns the hex sha256 digest of a payload
func Checksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func (s *Store) readObject(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.driver.Get(ctx, s.bucket, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}

func objectKey(modelName, version, file string) string {
	return modelName + "/" + version + "/" + file
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("empty name")
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("invalid name %q: must not contain path separators", name)
	}
	return nil
}
