// Package cache keeps an in-memory, shape-aware copy of a run's data in
// sync with the append-only run store without re-reading rows already
// loaded. Data is held per parameter tree: the dependent (measured)
// parameter plus each setpoint axis it was recorded against, one array per
// parameter. When the run declares an output shape the arrays are
// preallocated to it and filled in place as rows arrive; when actual data
// exceeds the declared capacity the tree irreversibly falls back to a
// growable 1-D representation so no points are ever lost.
package cache

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/qubitlab/runcache/internal/descriptions"
	"github.com/qubitlab/runcache/internal/ndarray"
)

// ParameterData maps dependent-parameter name to its tree of arrays,
// keyed by parameter name within the tree.
type ParameterData map[string]map[string]*ndarray.Array

// Cursor tracks how many values have been written into a tree's
// preallocated arrays. Once a tree has been flattened the cursor becomes
// untracked and never becomes tracked again.
type Cursor struct {
	Tracked bool
	Count   int
}

// appendShaped merges newly fetched data into the existing cached data,
// one tree per top-level parameter of the description. It returns updated
// write cursors and the merged data. Existing arrays may be mutated in
// place; the returned maps are freshly allocated.
func appendShaped(
	desc *descriptions.RunDescriber,
	writeStatus map[string]Cursor,
	existing ParameterData,
	newData ParameterData,
	log *slog.Logger,
) (map[string]Cursor, ParameterData, error) {
	merged := make(ParameterData, len(desc.TopLevel()))
	updated := make(map[string]Cursor, len(writeStatus))
	for name, cur := range writeStatus {
		updated[name] = cur
	}

	for _, param := range desc.TopLevel() {
		existingTree := existing[param]
		newTree := newData[param]
		shape := desc.Shape(param)

		mergedTree, cursor, err := mergeTree(existingTree, newTree, shape, writeStatus[param], param, log)
		if err != nil {
			return nil, nil, fmt.Errorf("merging tree %q: %w", param, err)
		}
		merged[param] = mergedTree
		updated[param] = cursor
	}
	return updated, merged, nil
}

// mergeTree merges one parameter tree. The key set of the result is the
// union of the existing and new key sets. Arrays present in both are
// written into (or concatenated once degraded), arrays only in the new
// data are created, and arrays only in the existing data pass through
// untouched together with the incoming cursor. All arrays in a tree
// originate from the same row batch and therefore advance by the same
// cursor; the store contract guarantees consistent batch sizes, the merge
// does not verify them.
func mergeTree(
	existing, newData map[string]*ndarray.Array,
	shape []int,
	cursor Cursor,
	treeName string,
	log *slog.Logger,
) (map[string]*ndarray.Array, Cursor, error) {
	names := make([]string, 0, len(existing)+len(newData))
	seen := make(map[string]bool, len(existing)+len(newData))
	for name := range existing {
		names = append(names, name)
		seen[name] = true
	}
	for name := range newData {
		if !seen[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	merged := make(map[string]*ndarray.Array, len(names))
	outCursor := cursor
	for _, name := range names {
		existingValues := existing[name]
		newValues := newData[name]
		switch {
		case existingValues != nil && newValues != nil:
			arr, cur, err := insertValues(existingValues, newValues, cursor, shape, treeName, log)
			if err != nil {
				return nil, Cursor{}, fmt.Errorf("parameter %q: %w", name, err)
			}
			merged[name] = arr
			outCursor = cur
		case newValues != nil:
			arr, cur, err := createValues(newValues, shape)
			if err != nil {
				return nil, Cursor{}, fmt.Errorf("parameter %q: %w", name, err)
			}
			merged[name] = arr
			outCursor = cur
		default:
			merged[name] = existingValues
			outCursor = cursor
		}
	}
	return merged, outCursor, nil
}

// createValues builds the initial array for a parameter. Without a
// declared shape the first batch is used as-is. With a shape, an array of
// that shape is preallocated (NaN-filled for float and complex dtypes)
// and the batch is copied row-major into its start.
func createValues(values *ndarray.Array, shape []int) (*ndarray.Array, Cursor, error) {
	n := values.Size()
	if shape == nil {
		return values, Cursor{Tracked: true, Count: n}, nil
	}

	data, err := ndarray.Zeros(values.DType(), shape)
	if err != nil {
		return nil, Cursor{}, err
	}
	if n > data.Size() {
		// First batch already exceeds the declared capacity.
		return values.Flatten(), Cursor{}, nil
	}
	if err := data.SetFlat(0, values.Flatten()); err != nil {
		return nil, Cursor{}, err
	}
	return data, Cursor{Tracked: true, Count: n}, nil
}

// insertValues merges a batch of new values into an existing array.
// Unshaped or already-degraded trees grow by concatenation along the
// leading axis. Shaped trees are written in place at the cursor; a batch
// that would overflow the declared capacity flattens the tree permanently.
func insertValues(
	existing, values *ndarray.Array,
	cursor Cursor,
	shape []int,
	treeName string,
	log *slog.Logger,
) (*ndarray.Array, Cursor, error) {
	if shape == nil || !cursor.Tracked {
		arr, err := ndarray.Concat(existing, values)
		if err != nil {
			return nil, Cursor{}, err
		}
		return arr, Cursor{}, nil
	}

	// Byte-string storage may be narrower than the incoming batch.
	if existing.DType().Kind == ndarray.Bytes && values.DType().Kind == ndarray.Bytes {
		if values.DType().ItemSize > existing.DType().ItemSize {
			if err := existing.WidenTo(values.DType().ItemSize); err != nil {
				return nil, Cursor{}, err
			}
		}
	}

	n := values.Size()
	projected := cursor.Count + n
	if projected > existing.Size() {
		log.Warn("dataset shape mismatch, flattening cached tree to 1-D",
			"tree", treeName,
			"expected_points", existing.Size(),
			"projected_points", projected)
		arr, err := ndarray.Concat(existing.Flatten(), values.Flatten())
		if err != nil {
			return nil, Cursor{}, err
		}
		return arr, Cursor{}, nil
	}

	if err := existing.SetFlat(cursor.Count, values.Flatten()); err != nil {
		return nil, Cursor{}, err
	}
	return existing, Cursor{Tracked: true, Count: projected}, nil
}
