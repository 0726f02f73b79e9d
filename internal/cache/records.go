package cache

import (
	"context"

	"github.com/apache/arrow/go/v17/arrow"

	"github.com/qubitlab/runcache/internal/export"
)

// Records loads any new rows and converts the cached data to one Arrow
// record per parameter tree. Returns nil when the cache holds no data.
// The caller owns the returned records and must Release them.
func (c *Cache) Records(ctx context.Context) (map[string]arrow.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.loadLocked(ctx); err != nil {
		return nil, err
	}
	return export.Records(c.desc, c.data)
}
