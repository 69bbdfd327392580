package dependency

import (
	"log/slog"
	"sync"
)

// Source supplies the corpus and a revision that changes whenever any term
// list or use case membership may have changed.
type Source interface {
	Revision() uint64
	Terms() []UseCaseTerms
}

// Cache serves an Index built from a Source and rebuilds it whenever the
// source revision differs from the one it was built at.
type Cache struct {
	source Source
	logger *slog.Logger

	mu       sync.Mutex
	index    *Index
	revision uint64
	builds   int
}

// NewCache creates a cache over a source. The first Index call builds.
func NewCache(source Source, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{source: source, logger: logger}
}

// Index returns an index that reflects the source at or after the current
// revision.
func (c *Cache) Index() *Index {
	c.mu.Lock()
	defer c.mu.Unlock()

	rev := c.source.Revision()
	if c.index != nil && rev == c.revision {
		return c.index
	}

	c.index = Build(c.source.Terms())
	c.revision = rev
	c.builds++
	c.logger.Debug("Shared-term index rebuilt", "revision", rev, "terms", c.index.Len())
	return c.index
}

// SharedTerms is shorthand for Index().SharedTerms.
func (c *Cache) SharedTerms(useCaseID string) []SharedTerm {
	return c.Index().SharedTerms(useCaseID)
}

// Builds returns how many times the index has been built.
func (c *Cache) Builds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.builds
}
