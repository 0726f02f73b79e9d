// Package storage provides run storage implementations. A run store holds
// measurement runs: immutable run descriptions plus append-only result
// rows, and serves them back incrementally by per-tree read cursors.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/qubitlab/runcache/internal/descriptions"
	"github.com/qubitlab/runcache/internal/ndarray"
)

// ErrRunNotFound is returned when a run ID does not exist in the store.
var ErrRunNotFound = errors.New("run not found")

// Row is one result row: parameter name to value. Supported value types
// are float64, complex128, int64, bool and string, matching the parameter
// types of the run description. Parameters absent from a row are stored
// as NULL and do not advance any tree they belong to.
type Row map[string]any

// RunInfo summarizes a stored run for listings.
type RunInfo struct {
	ID          int64
	Name        string
	Completed   bool
	Rows        int
	StartedAt   time.Time
	CompletedAt time.Time
}

// RunStore is the interface for storing and incrementally reading runs.
//
// ReadNew returns, per parameter tree, the rows appended since the given
// read cursors, as 1-D arrays keyed by tree member name, together with
// advanced cursors. All arrays of one tree come from the same rows and
// have equal length; callers rely on that invariant. Calling ReadNew again
// with the cursors it returned and an unchanged store yields no new data.
type RunStore interface {
	CreateRun(ctx context.Context, name string, desc *descriptions.RunDescriber) (int64, error)
	Append(ctx context.Context, runID int64, rows []Row) error
	ReadNew(ctx context.Context, runID int64, desc *descriptions.RunDescriber, readStatus map[string]int) (map[string]map[string]*ndarray.Array, map[string]int, error)
	Completed(ctx context.Context, runID int64) (bool, error)
	MarkCompleted(ctx context.Context, runID int64) error
	Runs(ctx context.Context) ([]RunInfo, error)
	GetRun(ctx context.Context, runID int64) (*RunInfo, error)
	Describe(ctx context.Context, runID int64) (*descriptions.RunDescriber, error)
	Close() error
}
