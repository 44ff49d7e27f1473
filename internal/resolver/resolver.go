// Package resolver chooses which model artifact to load: a registry-promoted
// version first, then the store's latest, then a local checkpoint file. The
// result is tagged with the tier that served it so callers can report the
// source without string-matching errors.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/greenstack/leafserve/internal/registry"
	"github.com/greenstack/leafserve/internal/store"
	"go.uber.org/zap"
)

// ErrNoModelAvailable indicates every resolution tier was exhausted
var ErrNoModelAvailable = errors.New("no model available")

// Source identifies the resolution tier that produced an artifact
type Source int

const (
	SourceUnavailable Source = iota
	SourcePromoted
	SourceLatest
	SourceLocalFallback
)

func (s Source) String() string {
	switch s {
	case SourcePromoted:
		return "registry-promoted"
	case SourceLatest:
		return "store-latest"
	case SourceLocalFallback:
		return "local-fallback"
	default:
		return "unavailable"
	}
}

// Resolution is a resolved artifact reference plus its payload bytes.
// Manifest is nil and Version empty for the local-fallback tier, which
// carries no version token and no checksum.
type Resolution struct {
	Source    Source
	ModelName string
	Version   string
	Payload   []byte
	Manifest  *store.Manifest
	Path      string
}

// Resolver implements the cascading resolution policy
type Resolver struct {
	store        *store.Store
	registry     registry.Registry // nil when no registry is configured
	modelName    string
	fallbackPath string
	tierTimeout  time.Duration
	logger       *zap.Logger
}

// New creates a resolver. registry and fallbackPath are both optional.
func New(st *store.Store, reg registry.Registry, modelName, fallbackPath string, tierTimeout time.Duration, logger *zap.Logger) *Resolver {
	if tierTimeout <= 0 {
		tierTimeout = 10 * time.Second
	}
	return &Resolver{
		store:        st,
		registry:     reg,
		modelName:    modelName,
		fallbackPath: fallbackPath,
		tierTimeout:  tierTimeout,
		logger:       logger,
	}
}

// ModelName returns the model this resolver serves
func (r *Resolver) ModelName() string {
	return r.modelName
}

// Resolve walks the tiers in order and returns the first that succeeds.
// Any tier failure, including a timeout or an integrity failure, falls
// through to the next tier; the same tier is never retried within a call.
func (r *Resolver) Resolve(ctx context.Context) (*Resolution, error) {
	if r.registry != nil {
		res, err := r.resolvePromoted(ctx)
		if err == nil {
			return res, nil
		}
		r.logger.Warn("registry tier failed, falling through",
			zap.String("model", r.modelName),
			zap.Error(err))
	}

	res, err := r.resolveLatest(ctx)
	if err == nil {
		return res, nil
	}
	r.logger.Warn("store-latest tier failed, falling through",
		zap.String("model", r.modelName),
		zap.Error(err))

	if r.fallbackPath != "" {
		res, err := r.resolveLocal()
		if err == nil {
			return res, nil
		}
		r.logger.Warn("local-fallback tier failed",
			zap.String("path", r.fallbackPath),
			zap.Error(err))
	}

	return nil, ErrNoModelAvailable
}

func (r *Resolver) resolvePromoted(ctx context.Context) (*Resolution, error) {
	tctx, cancel := context.WithTimeout(ctx, r.tierTimeout)
	defer cancel()

	version, err := r.registry.GetPromoted(tctx, r.modelName)
	if err != nil {
		return nil, err
	}

	payload, manifest, err := r.store.Get(tctx, r.modelName, version)
	if err != nil {
		return nil, fmt.Errorf("fetch promoted version %s: %w", version, err)
	}

	return &Resolution{
		Source:    SourcePromoted,
		ModelName: r.modelName,
		Version:   version,
		Payload:   payload,
		Manifest:  manifest,
	}, nil
}

func (r *Resolver) resolveLatest(ctx context.Context) (*Resolution, error) {
	tctx, cancel := context.WithTimeout(ctx, r.tierTimeout)
	defer cancel()

	version, err := r.store.Latest(tctx, r.modelName)
	if err != nil {
		return nil, err
	}

	payload, manifest, err := r.store.Get(tctx, r.modelName, version)
	if err != nil {
		return nil, fmt.Errorf("fetch latest version %s: %w", version, err)
	}

	return &Resolution{
		Source:    SourceLatest,
		ModelName: r.modelName,
		Version:   version,
		Payload:   payload,
		Manifest:  manifest,
	}, nil
}

// resolveLocal reads the configured checkpoint file directly. No versioning
// and no checksum; this tier exists for cold-start and offline operation.
func (r *Resolver) resolveLocal() (*Resolution, error) {
	payload, err := os.ReadFile(r.fallbackPath)
	if err != nil {
		return nil, fmt.Errorf("read fallback checkpoint: %w", err)
	}

	return &Resolution{
		Source:    SourceLocalFallback,
		ModelName: r.modelName,
		Payload:   payload,
		Path:      r.fallbackPath,
	}, nil
}
