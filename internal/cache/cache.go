package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/qubitlab/runcache/internal/descriptions"
	"github.com/qubitlab/runcache/internal/ndarray"
)

// RunSource is the slice of the run store the cache needs: new rows since
// a set of per-tree read cursors, and a point-in-time completion check.
// ReadNew must be idempotent against its own output — called again with
// the cursors it returned and an unchanged store, it yields no new rows.
type RunSource interface {
	ReadNew(ctx context.Context, runID int64, desc *descriptions.RunDescriber, readStatus map[string]int) (map[string]map[string]*ndarray.Array, map[string]int, error)
	Completed(ctx context.Context, runID int64) (bool, error)
}

// Cache is the in-memory representation of one run's data. It pulls newly
// written rows from the run store on demand and merges them into its
// arrays. A Cache has a single logical owner; all loads run under one
// mutex covering the whole fetch-merge-commit sequence.
type Cache struct {
	source RunSource
	runID  int64
	desc   *descriptions.RunDescriber
	log    *slog.Logger

	mu          sync.Mutex
	data        ParameterData
	readStatus  map[string]int
	writeStatus map[string]Cursor
	loaded      bool
	// frozen is set once the run was seen completed and one load has
	// happened; after that every Load is a no-op.
	frozen bool
}

// New creates a cache for the given run. The description is validated up
// front so a malformed shape can never abort a merge halfway through.
func New(source RunSource, runID int64, desc *descriptions.RunDescriber, log *slog.Logger) (*Cache, error) {
	if source == nil {
		return nil, fmt.Errorf("run source is required")
	}
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run description: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		source:      source,
		runID:       runID,
		desc:        desc,
		log:         log,
		data:        make(ParameterData),
		readStatus:  make(map[string]int),
		writeStatus: make(map[string]Cursor),
	}, nil
}

// Load fetches rows written since the previous call and merges them into
// the cached arrays. Once the run has been observed completed and its data
// loaded, further calls return immediately without touching the store.
// On error the cached data and cursors are left exactly as they were.
func (c *Cache) Load(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadLocked(ctx)
}

func (c *Cache) loadLocked(ctx context.Context) error {
	if c.frozen {
		return nil
	}

	completed, err := c.source.Completed(ctx, c.runID)
	if err != nil {
		return fmt.Errorf("checking run completion: %w", err)
	}

	newData, updatedRead, err := c.source.ReadNew(ctx, c.runID, c.desc, c.readStatus)
	if err != nil {
		return fmt.Errorf("reading new rows: %w", err)
	}

	updatedWrite, merged, err := appendShaped(c.desc, c.writeStatus, c.data, newData, c.log)
	if err != nil {
		return err
	}

	// Commit all three together; readers never observe a torn update.
	c.data = merged
	c.readStatus = updatedRead
	c.writeStatus = updatedWrite
	c.loaded = true
	if completed {
		c.frozen = true
	}

	c.log.Debug("cache load complete",
		"run_id", c.runID,
		"completed", completed,
		"trees", len(merged))
	return nil
}

// Data loads any new rows and returns a deep copy of the cached data.
// Callers own the returned arrays.
func (c *Cache) Data(ctx context.Context) (ParameterData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.loadLocked(ctx); err != nil {
		return nil, err
	}

	out := make(ParameterData, len(c.data))
	for tree, arrays := range c.data {
		cp := make(map[string]*ndarray.Array, len(arrays))
		for name, arr := range arrays {
			cp[name] = arr.Clone()
		}
		out[tree] = cp
	}
	return out, nil
}

// Progress reports, per tree, the number of values written into the cache.
// Degraded (flattened) trees report the size of their dependent array.
func (c *Cache) Progress(ctx context.Context) (map[string]int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.loadLocked(ctx); err != nil {
		return nil, err
	}

	out := make(map[string]int, len(c.writeStatus))
	for tree, cur := range c.writeStatus {
		if cur.Tracked {
			out[tree] = cur.Count
			continue
		}
		if arr := c.data[tree][tree]; arr != nil {
			out[tree] = arr.Size()
		} else {
			out[tree] = 0
		}
	}
	return out, nil
}

// Completed reports whether the cache has latched on a completed run.
func (c *Cache) Completed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frozen
}

// Describer returns the run description the cache was built from.
func (c *Cache) Describer() *descriptions.RunDescriber {
	return c.desc
}
