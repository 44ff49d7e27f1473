// Package registry tracks which version of a model an operator has promoted
// for serving. Promotion is an administrative side channel; the serving core
// only reads it.
package registry

import (
	"context"
	"errors"
)

// ErrNotPromoted indicates no version has been explicitly promoted for a model
var ErrNotPromoted = errors.New("no promoted version")

// Registry resolves an operator-pinned "active" version for a model
type Registry interface {
	// GetPromoted returns the promoted version, or ErrNotPromoted
	GetPromoted(ctx context.Context, modelName string) (string, error)
	// Promote pins a version as active for a model, replacing any prior pin
	Promote(ctx context.Context, modelName, version string) error
	// Demote clears the pin. Demoting an unpinned model is not an error.
	Demote(ctx context.Context, modelName string) error
}
