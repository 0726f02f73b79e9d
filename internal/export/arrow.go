// Package export converts cached run data to Apache Arrow records and
// writes them out as CSV or Arrow IPC files. This is purely a formatting
// layer; it never touches merge state.
package export

import (
	"fmt"
	"io"
	"sort"

	"github.com/apache/arrow/go/v17/arrow"
	aarray "github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/csv"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"github.com/qubitlab/runcache/internal/descriptions"
	"github.com/qubitlab/runcache/internal/ndarray"
)

// Records converts cached data into one Arrow record per parameter tree.
// Columns are the tree members flattened to 1-D, setpoint axes first and
// the dependent parameter last. Complex parameters become a pair of
// float64 columns suffixed ".real" and ".imag". Trees with no data are
// omitted; an empty input yields a nil map. The caller owns the returned
// records and must Release them.
func Records(desc *descriptions.RunDescriber, data map[string]map[string]*ndarray.Array) (map[string]arrow.Record, error) {
	mem := memory.NewGoAllocator()

	out := make(map[string]arrow.Record)
	ok := false
	defer func() {
		if !ok {
			for _, rec := range out {
				rec.Release()
			}
		}
	}()

	for _, param := range treeNames(desc, data) {
		arrays := data[param]
		if len(arrays) == 0 {
			continue
		}

		members := memberOrder(desc, param, arrays)
		var fields []arrow.Field
		var cols []arrow.Array
		nrows := -1
		for _, member := range members {
			arr := arrays[member]
			if nrows == -1 {
				nrows = arr.Size()
			} else if arr.Size() != nrows {
				return nil, fmt.Errorf("tree %q: parameter %q has %d values, expected %d",
					param, member, arr.Size(), nrows)
			}

			meta := fieldMetadata(desc.Param(member))
			memberFields, memberCols, err := buildColumns(mem, member, meta, arr)
			if err != nil {
				return nil, fmt.Errorf("tree %q, parameter %q: %w", param, member, err)
			}
			fields = append(fields, memberFields...)
			cols = append(cols, memberCols...)
		}
		if nrows <= 0 {
			continue
		}

		schema := arrow.NewSchema(fields, nil)
		out[param] = aarray.NewRecord(schema, cols, int64(nrows))
		for _, c := range cols {
			c.Release()
		}
	}

	if len(out) == 0 {
		return nil, nil
	}
	ok = true
	return out, nil
}

// treeNames returns the trees to export in a deterministic order: the
// description's top-level order, then any extra trees present in the data.
func treeNames(desc *descriptions.RunDescriber, data map[string]map[string]*ndarray.Array) []string {
	seen := make(map[string]bool)
	var names []string
	for _, param := range desc.TopLevel() {
		if _, ok := data[param]; ok {
			names = append(names, param)
			seen[param] = true
		}
	}
	var extra []string
	for param := range data {
		if !seen[param] {
			extra = append(extra, param)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

// memberOrder returns a tree's member names, setpoint axes first and the
// dependent last, falling back to sorted order for members the
// description does not know.
func memberOrder(desc *descriptions.RunDescriber, param string, arrays map[string]*ndarray.Array) []string {
	var order []string
	seen := make(map[string]bool)
	tree := desc.TreeParams(param)
	for i := 1; i < len(tree); i++ {
		if _, ok := arrays[tree[i]]; ok {
			order = append(order, tree[i])
			seen[tree[i]] = true
		}
	}
	var extra []string
	for name := range arrays {
		if !seen[name] && name != param {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	order = append(order, extra...)
	if _, ok := arrays[param]; ok {
		order = append(order, param)
	}
	return order
}

// fieldMetadata carries a parameter's label and unit into the schema.
func fieldMetadata(spec *descriptions.ParamSpec) arrow.Metadata {
	if spec == nil {
		return arrow.Metadata{}
	}
	var keys, vals []string
	if spec.Label != "" {
		keys = append(keys, "label")
		vals = append(vals, spec.Label)
	}
	if spec.Unit != "" {
		keys = append(keys, "unit")
		vals = append(vals, spec.Unit)
	}
	if keys == nil {
		return arrow.Metadata{}
	}
	return arrow.NewMetadata(keys, vals)
}

// buildColumns converts one flattened ndarray into Arrow fields and
// column arrays. All kinds map to a single column except Complex, which
// splits into real and imaginary float64 columns.
func buildColumns(mem memory.Allocator, name string, meta arrow.Metadata, arr *ndarray.Array) ([]arrow.Field, []arrow.Array, error) {
	switch arr.DType().Kind {
	case ndarray.Float:
		b := aarray.NewFloat64Builder(mem)
		defer b.Release()
		b.AppendValues(arr.Float64s(), nil)
		return []arrow.Field{{Name: name, Type: arrow.PrimitiveTypes.Float64, Metadata: meta}},
			[]arrow.Array{b.NewArray()}, nil
	case ndarray.Complex:
		re := aarray.NewFloat64Builder(mem)
		defer re.Release()
		im := aarray.NewFloat64Builder(mem)
		defer im.Release()
		for _, v := range arr.Complex128s() {
			re.Append(real(v))
			im.Append(imag(v))
		}
		return []arrow.Field{
				{Name: name + ".real", Type: arrow.PrimitiveTypes.Float64, Metadata: meta},
				{Name: name + ".imag", Type: arrow.PrimitiveTypes.Float64, Metadata: meta},
			},
			[]arrow.Array{re.NewArray(), im.NewArray()}, nil
	case ndarray.Int:
		b := aarray.NewInt64Builder(mem)
		defer b.Release()
		b.AppendValues(arr.Int64s(), nil)
		return []arrow.Field{{Name: name, Type: arrow.PrimitiveTypes.Int64, Metadata: meta}},
			[]arrow.Array{b.NewArray()}, nil
	case ndarray.Bool:
		b := aarray.NewBooleanBuilder(mem)
		defer b.Release()
		b.AppendValues(arr.Bools(), nil)
		return []arrow.Field{{Name: name, Type: arrow.FixedWidthTypes.Boolean, Metadata: meta}},
			[]arrow.Array{b.NewArray()}, nil
	case ndarray.Bytes:
		b := aarray.NewStringBuilder(mem)
		defer b.Release()
		b.AppendValues(arr.Strings(), nil)
		return []arrow.Field{{Name: name, Type: arrow.BinaryTypes.String, Metadata: meta}},
			[]arrow.Array{b.NewArray()}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported dtype %v", arr.DType())
	}
}

// WriteCSV writes one record as CSV with a header row.
func WriteCSV(w io.Writer, rec arrow.Record) error {
	cw := csv.NewWriter(w, rec.Schema(), csv.WithHeader(true))
	if err := cw.Write(rec); err != nil {
		return fmt.Errorf("writing csv: %w", err)
	}
	if err := cw.Flush(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}
	return nil
}

// WriteIPC writes one record as an Arrow IPC file.
func WriteIPC(w io.WriteSeeker, rec arrow.Record) error {
	fw, err := ipc.NewFileWriter(w, ipc.WithSchema(rec.Schema()))
	if err != nil {
		return fmt.Errorf("creating ipc writer: %w", err)
	}
	if err := fw.Write(rec); err != nil {
		fw.Close()
		return fmt.Errorf("writing ipc: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("closing ipc writer: %w", err)
	}
	return nil
}
