package registry

import (
	"context"
	"sync"
)

// Memory is an in-process Registry, used in tests and single-node deployments
type Memory struct {
	mu       sync.RWMutex
	promoted map[string]string
}

// NewMemory creates an empty in-memory registry
func NewMemory() *Memory {
	return &Memory{promoted: make(map[string]string)}
}

// GetPromoted returns the promoted version for a model
func (m *Memory) GetPromoted(ctx context.Context, modelName string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	version, ok := m.promoted[modelName]
	if !ok {
		return "", ErrNotPromoted
	}
	return version, nil
}

// Promote pins a version as active
func (m *Memory) Promote(ctx context.Context, modelName, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promoted[modelName] = version
	return nil
}

// Demote clears the pin
func (m *Memory) Demote(ctx context.Context, modelName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.promoted, modelName)
	return nil
}
