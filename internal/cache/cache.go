// Package cache holds the one execution-ready model the process serves with
// and swaps it atomically on reload.
package cache

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/greenstack/leafserve/internal/model"
	"github.com/greenstack/leafserve/internal/resolver"
	"go.uber.org/zap"
)

// ErrModelNotLoaded indicates no successful load has ever completed
var ErrModelNotLoaded = errors.New("model not loaded")

// Handle is the deserialized model plus the provenance the serving layer
// reports. Immutable once published; replaced, never mutated, on reload.
type Handle struct {
	Classifier *model.Classifier
	Source     resolver.Source
	Version    string
	Metadata   map[string]string
	LoadedAt   time.Time
}

// Cache publishes the current handle through an atomic pointer: readers
// never block, and a reload installs a fully-built handle in one store.
// In-flight inference keeps the handle it already read.
type Cache struct {
	current atomic.Pointer[Handle]
	mu      sync.Mutex // serializes loaders; readers do not take it
	logger  *zap.Logger
}

// New creates an empty cache
func New(logger *zap.Logger) *Cache {
	return &Cache{logger: logger}
}

// Load deserializes a resolved artifact and installs it as the current
// handle. On any failure the previously installed handle is left untouched.
func (c *Cache) Load(res *resolver.Resolution) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	clf, err := model.Decode(res.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint from %s: %w", res.Source, err)
	}

	if len(clf.ClassNames()) != clf.NumClasses() {
		return nil, model.SchemaMismatchError{
			Classes: len(clf.ClassNames()),
			Rows:    clf.NumClasses(),
		}
	}

	var metadata map[string]string
	if res.Manifest != nil {
		metadata = res.Manifest.Metadata
	}

	handle := &Handle{
		Classifier: clf,
		Source:     res.Source,
		Version:    res.Version,
		Metadata:   metadata,
		LoadedAt:   time.Now().UTC(),
	}
	c.current.Store(handle)

	c.logger.Info("model installed",
		zap.String("model", res.ModelName),
		zap.String("version", res.Version),
		zap.String("source", res.Source.String()),
		zap.Strings("classes", clf.ClassNames()))

	return handle, nil
}

// Current returns the active handle
func (c *Cache) Current() (*Handle, error) {
	h := c.current.Load()
	if h == nil {
		return nil, ErrModelNotLoaded
	}
	return h, nil
}

// Loaded reports whether a model is installed
func (c *Cache) Loaded() bool {
	return c.current.Load() != nil
}

// Drop clears the current handle. Only called on shutdown; there is no
// other path back to the unloaded state.
func (c *Cache) Drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current.Store(nil)
}
