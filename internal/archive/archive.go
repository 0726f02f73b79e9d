// Package archive snapshots stored runs to portable archive files and
// restores them into a run store. Archives are self-contained: the run
// description plus every tree's columnar data, so a restored run serves
// incremental reads exactly like the original.
package archive

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/qubitlab/runcache/internal/descriptions"
	"github.com/qubitlab/runcache/internal/ndarray"
	"github.com/qubitlab/runcache/internal/storage"
)

// Archive is the payload of one archive file: a set of runs with their
// descriptions and flattened per-tree data.
type Archive struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Runs      []Run     `json:"runs"`
}

// Run is one archived run. Trees maps each dependent parameter to its
// member columns; all columns of one tree have equal length.
type Run struct {
	Name        string                       `json:"name"`
	Completed   bool                         `json:"completed"`
	Description *descriptions.RunDescriber   `json:"description"`
	Trees       map[string]map[string]Column `json:"trees,omitempty"`
}

// Column holds one parameter's flattened values. Numeric kinds are raw
// little-endian bytes so that NaN fill values survive the JSON round
// trip; text is kept as plain strings.
type Column struct {
	Type    descriptions.ParamType `json:"type"`
	Data    []byte                 `json:"data,omitempty"`
	Strings []string               `json:"strings,omitempty"`
}

// DefaultDir returns the default archive directory (~/.runcache/archives).
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".runcache", "archives"), nil
}

// FileName builds the timestamped archive file name.
func FileName(at time.Time) string {
	return fmt.Sprintf("runcache-archive-%s.json.gz", at.UTC().Format("20060102-150405"))
}

// Snapshot reads the given runs from the store into an Archive. Passing
// no IDs archives every stored run.
func Snapshot(ctx context.Context, store storage.RunStore, runIDs ...int64) (*Archive, error) {
	if len(runIDs) == 0 {
		infos, err := store.Runs(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing runs: %w", err)
		}
		for _, info := range infos {
			runIDs = append(runIDs, info.ID)
		}
	}

	a := &Archive{Version: FormatVersion, CreatedAt: time.Now().UTC()}
	for _, id := range runIDs {
		run, err := snapshotRun(ctx, store, id)
		if err != nil {
			return nil, fmt.Errorf("run %d: %w", id, err)
		}
		a.Runs = append(a.Runs, *run)
	}
	return a, nil
}

func snapshotRun(ctx context.Context, store storage.RunStore, runID int64) (*Run, error) {
	info, err := store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	desc, err := store.Describe(ctx, runID)
	if err != nil {
		return nil, err
	}

	// Empty cursors read every row the store holds.
	data, _, err := store.ReadNew(ctx, runID, desc, map[string]int{})
	if err != nil {
		return nil, fmt.Errorf("reading run data: %w", err)
	}

	run := &Run{Name: info.Name, Completed: info.Completed, Description: desc}
	if len(data) > 0 {
		run.Trees = make(map[string]map[string]Column, len(data))
	}
	for tree, members := range data {
		cols := make(map[string]Column, len(members))
		for name, arr := range members {
			col, err := encodeColumn(desc, name, arr)
			if err != nil {
				return nil, fmt.Errorf("tree %q, parameter %q: %w", tree, name, err)
			}
			cols[name] = col
		}
		run.Trees[tree] = cols
	}
	return run, nil
}

// Restore writes every archived run into the store as a new run,
// appending each tree's rows and re-marking completed runs. It returns
// the new run IDs in archive order.
func Restore(ctx context.Context, store storage.RunStore, a *Archive) ([]int64, error) {
	var ids []int64
	for i := range a.Runs {
		id, err := restoreRun(ctx, store, &a.Runs[i])
		if err != nil {
			return ids, fmt.Errorf("run %q: %w", a.Runs[i].Name, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func restoreRun(ctx context.Context, store storage.RunStore, run *Run) (int64, error) {
	if run.Description == nil {
		return 0, fmt.Errorf("archive entry has no description")
	}
	id, err := store.CreateRun(ctx, run.Name, run.Description)
	if err != nil {
		return 0, fmt.Errorf("creating run: %w", err)
	}

	for _, tree := range run.Description.TopLevel() {
		cols, ok := run.Trees[tree]
		if !ok {
			continue
		}
		rows, err := treeRows(cols)
		if err != nil {
			return 0, fmt.Errorf("tree %q: %w", tree, err)
		}
		if len(rows) == 0 {
			continue
		}
		if err := store.Append(ctx, id, rows); err != nil {
			return 0, fmt.Errorf("tree %q: appending rows: %w", tree, err)
		}
	}

	if run.Completed {
		if err := store.MarkCompleted(ctx, id); err != nil {
			return 0, fmt.Errorf("marking completed: %w", err)
		}
	}
	return id, nil
}

// treeRows rebuilds one row per flattened index from a tree's columns.
// Row interleaving across trees is not preserved; per-tree read order is.
// A tree with no columns yields no rows.
func treeRows(cols map[string]Column) ([]storage.Row, error) {
	if len(cols) == 0 {
		return nil, nil
	}
	n := -1
	decoded := make(map[string][]any, len(cols))
	for name, col := range cols {
		vals, err := decodeColumn(col)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", name, err)
		}
		if n == -1 {
			n = len(vals)
		} else if len(vals) != n {
			return nil, fmt.Errorf("parameter %q has %d values, expected %d", name, len(vals), n)
		}
		decoded[name] = vals
	}

	rows := make([]storage.Row, n)
	for i := 0; i < n; i++ {
		row := make(storage.Row, len(decoded))
		for name, vals := range decoded {
			row[name] = vals[i]
		}
		rows[i] = row
	}
	return rows, nil
}

func encodeColumn(desc *descriptions.RunDescriber, name string, arr *ndarray.Array) (Column, error) {
	spec := desc.Param(name)
	if spec == nil {
		return Column{}, fmt.Errorf("not in run description")
	}
	col := Column{Type: spec.Type}

	switch arr.DType().Kind {
	case ndarray.Float:
		vals := arr.Float64s()
		col.Data = make([]byte, 0, 8*len(vals))
		for _, v := range vals {
			col.Data = binary.LittleEndian.AppendUint64(col.Data, math.Float64bits(v))
		}
	case ndarray.Complex:
		vals := arr.Complex128s()
		col.Data = make([]byte, 0, 16*len(vals))
		for _, v := range vals {
			col.Data = binary.LittleEndian.AppendUint64(col.Data, math.Float64bits(real(v)))
			col.Data = binary.LittleEndian.AppendUint64(col.Data, math.Float64bits(imag(v)))
		}
	case ndarray.Int:
		vals := arr.Int64s()
		col.Data = make([]byte, 0, 8*len(vals))
		for _, v := range vals {
			col.Data = binary.LittleEndian.AppendUint64(col.Data, uint64(v))
		}
	case ndarray.Bool:
		vals := arr.Bools()
		col.Data = make([]byte, len(vals))
		for i, v := range vals {
			if v {
				col.Data[i] = 1
			}
		}
	case ndarray.Bytes:
		col.Strings = arr.Strings()
	default:
		return Column{}, fmt.Errorf("unsupported dtype %v", arr.DType())
	}
	return col, nil
}

func decodeColumn(col Column) ([]any, error) {
	switch col.Type {
	case descriptions.Numeric:
		if len(col.Data)%8 != 0 {
			return nil, fmt.Errorf("numeric column has %d bytes, not a multiple of 8", len(col.Data))
		}
		vals := make([]any, len(col.Data)/8)
		for i := range vals {
			vals[i] = math.Float64frombits(binary.LittleEndian.Uint64(col.Data[8*i:]))
		}
		return vals, nil
	case descriptions.ComplexNum:
		if len(col.Data)%16 != 0 {
			return nil, fmt.Errorf("complex column has %d bytes, not a multiple of 16", len(col.Data))
		}
		vals := make([]any, len(col.Data)/16)
		for i := range vals {
			re := math.Float64frombits(binary.LittleEndian.Uint64(col.Data[16*i:]))
			im := math.Float64frombits(binary.LittleEndian.Uint64(col.Data[16*i+8:]))
			vals[i] = complex(re, im)
		}
		return vals, nil
	case descriptions.Integer:
		if len(col.Data)%8 != 0 {
			return nil, fmt.Errorf("integer column has %d bytes, not a multiple of 8", len(col.Data))
		}
		vals := make([]any, len(col.Data)/8)
		for i := range vals {
			vals[i] = int64(binary.LittleEndian.Uint64(col.Data[8*i:]))
		}
		return vals, nil
	case descriptions.Boolean:
		vals := make([]any, len(col.Data))
		for i, b := range col.Data {
			vals[i] = b != 0
		}
		return vals, nil
	case descriptions.Text:
		vals := make([]any, len(col.Strings))
		for i, s := range col.Strings {
			vals[i] = s
		}
		return vals, nil
	default:
		return nil, fmt.Errorf("unknown parameter type %q", col.Type)
	}
}
