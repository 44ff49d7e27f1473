package store

import (
	"fmt"
	"sync"
	"time"
)

const versionTimeFormat = "20060102_150405"

// VersionGenerator issues strictly increasing version tokens. Tokens are
// timestamp-derived; a sequence suffix breaks ties when two versions are
// minted within the same clock second, so ordering never depends on
// wall-clock granularity.
type VersionGenerator struct {
	mu       sync.Mutex
	now      func() time.Time
	lastBase string
	seq      int
}

// NewVersionGenerator creates a generator using the wall clock
func NewVersionGenerator() *VersionGenerator {
	return &VersionGenerator{now: time.Now}
}

// NewVersionGeneratorAt creates a generator with a custom clock, for tests
func NewVersionGeneratorAt(now func() time.Time) *VersionGenerator {
	return &VersionGenerator{now: now}
}

// Next returns the next version token
func (g *VersionGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	base := g.now().UTC().Format(versionTimeFormat)
	if base != g.lastBase {
		g.lastBase = base
		g.seq = 0
		return base
	}

	g.seq++
	return fmt.Sprintf("%s_%04d", base, g.seq)
}
