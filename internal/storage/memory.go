package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/qubitlab/runcache/internal/descriptions"
	"github.com/qubitlab/runcache/internal/ndarray"
)

// memRun holds one run's state in memory.
type memRun struct {
	info memRunInfo
	desc *descriptions.RunDescriber
	rows []Row
}

type memRunInfo struct {
	name        string
	completed   bool
	startedAt   time.Time
	completedAt time.Time
}

// InMemoryRunStore implements RunStore for testing and for programmatic
// use without a database file.
type InMemoryRunStore struct {
	mu     sync.RWMutex
	runs   map[int64]*memRun
	nextID int64
}

// NewInMemoryRunStore creates a new in-memory store.
func NewInMemoryRunStore() *InMemoryRunStore {
	return &InMemoryRunStore{runs: make(map[int64]*memRun), nextID: 1}
}

// CreateRun registers a run.
func (s *InMemoryRunStore) CreateRun(ctx context.Context, name string, desc *descriptions.RunDescriber) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name == "" {
		return 0, fmt.Errorf("run name is required")
	}
	if err := desc.Validate(); err != nil {
		return 0, fmt.Errorf("invalid run description: %w", err)
	}

	id := s.nextID
	s.nextID++
	s.runs[id] = &memRun{
		info: memRunInfo{name: name, startedAt: time.Now().UTC()},
		desc: desc,
	}
	return id, nil
}

// Append adds result rows to a run.
func (s *InMemoryRunStore) Append(ctx context.Context, runID int64, rows []Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %d: %w", runID, ErrRunNotFound)
	}
	if run.info.completed {
		return fmt.Errorf("run %d is completed, no further rows accepted", runID)
	}

	for i, row := range rows {
		for name, v := range row {
			spec := run.desc.Param(name)
			if spec == nil {
				return fmt.Errorf("row %d: unknown parameter %q", i, name)
			}
			if _, err := encodeValue(spec.Type, v); err != nil {
				return fmt.Errorf("row %d, parameter %q: %w", i, name, err)
			}
		}
	}
	run.rows = append(run.rows, rows...)
	return nil
}

// ReadNew returns per-tree rows appended since the given read cursors.
func (s *InMemoryRunStore) ReadNew(
	ctx context.Context,
	runID int64,
	desc *descriptions.RunDescriber,
	readStatus map[string]int,
) (map[string]map[string]*ndarray.Array, map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, nil, fmt.Errorf("run %d: %w", runID, ErrRunNotFound)
	}
	stored := make(map[string]descriptions.ParamType, len(run.desc.Params))
	for _, p := range run.desc.Params {
		stored[p.Name] = p.Type
	}

	newData := make(map[string]map[string]*ndarray.Array)
	updated := make(map[string]int, len(readStatus))
	for name, n := range readStatus {
		updated[name] = n
	}

	for _, param := range desc.TopLevel() {
		tree := desc.TreeParams(param)
		known := true
		for _, member := range tree {
			if _, ok := stored[member]; !ok {
				known = false
				break
			}
		}
		if !known {
			continue
		}

		// Rows count for a tree only when the dependent itself is present.
		vals := make([][]any, len(tree))
		skip := readStatus[param]
		n := 0
		for _, row := range run.rows {
			if _, ok := row[param]; !ok {
				continue
			}
			if skip > 0 {
				skip--
				continue
			}
			for i, member := range tree {
				vals[i] = append(vals[i], row[member])
			}
			n++
		}
		if n == 0 {
			continue
		}

		arrays := make(map[string]*ndarray.Array, len(tree))
		for i, member := range tree {
			arr, err := columnArray(stored[member], vals[i])
			if err != nil {
				return nil, nil, fmt.Errorf("tree %q, parameter %q: %w", param, member, err)
			}
			arrays[member] = arr
		}
		newData[param] = arrays
		updated[param] = readStatus[param] + n
	}

	return newData, updated, nil
}

// Completed reports whether the run has been marked completed.
func (s *InMemoryRunStore) Completed(ctx context.Context, runID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return false, fmt.Errorf("run %d: %w", runID, ErrRunNotFound)
	}
	return run.info.completed, nil
}

// MarkCompleted marks a run as completed. Idempotent.
func (s *InMemoryRunStore) MarkCompleted(ctx context.Context, runID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %d: %w", runID, ErrRunNotFound)
	}
	if !run.info.completed {
		run.info.completed = true
		run.info.completedAt = time.Now().UTC()
	}
	return nil
}

// Runs lists all stored runs, oldest first.
func (s *InMemoryRunStore) Runs(ctx context.Context) ([]RunInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]RunInfo, 0, len(s.runs))
	for id := int64(1); id < s.nextID; id++ {
		run, ok := s.runs[id]
		if !ok {
			continue
		}
		infos = append(infos, runInfo(id, run))
	}
	return infos, nil
}

// GetRun returns the listing entry for one run.
func (s *InMemoryRunStore) GetRun(ctx context.Context, runID int64) (*RunInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %d: %w", runID, ErrRunNotFound)
	}
	info := runInfo(runID, run)
	return &info, nil
}

// Describe returns the run's description.
func (s *InMemoryRunStore) Describe(ctx context.Context, runID int64) (*descriptions.RunDescriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %d: %w", runID, ErrRunNotFound)
	}
	return run.desc, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryRunStore) Close() error { return nil }

func runInfo(id int64, run *memRun) RunInfo {
	return RunInfo{
		ID:          id,
		Name:        run.info.name,
		Completed:   run.info.completed,
		Rows:        len(run.rows),
		StartedAt:   run.info.startedAt,
		CompletedAt: run.info.completedAt,
	}
}
