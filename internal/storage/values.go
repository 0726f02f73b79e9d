package storage

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/qubitlab/runcache/internal/descriptions"
	"github.com/qubitlab/runcache/internal/ndarray"
)

// complexBlobSize is the storage size of one complex value: two 64-bit
// little-endian floats, real part first.
const complexBlobSize = 16

// encodeComplex packs a complex value into its BLOB form.
func encodeComplex(v complex128) []byte {
	buf := make([]byte, complexBlobSize)
	binary.LittleEndian.PutUint64(buf[:8], math.Float64bits(real(v)))
	binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(imag(v)))
	return buf
}

// decodeComplex unpacks a complex value from its BLOB form.
func decodeComplex(buf []byte) (complex128, error) {
	if len(buf) != complexBlobSize {
		return 0, fmt.Errorf("complex blob must be %d bytes, got %d", complexBlobSize, len(buf))
	}
	re := math.Float64frombits(binary.LittleEndian.Uint64(buf[:8]))
	im := math.Float64frombits(binary.LittleEndian.Uint64(buf[8:]))
	return complex(re, im), nil
}

// encodeValue converts a Row value to its SQLite representation, checking
// it against the parameter's declared type.
func encodeValue(pt descriptions.ParamType, v any) (any, error) {
	switch pt {
	case descriptions.Numeric:
		switch x := v.(type) {
		case float64:
			return x, nil
		case int:
			return float64(x), nil
		case int64:
			return float64(x), nil
		}
	case descriptions.ComplexNum:
		if x, ok := v.(complex128); ok {
			return encodeComplex(x), nil
		}
	case descriptions.Integer:
		switch x := v.(type) {
		case int64:
			return x, nil
		case int:
			return int64(x), nil
		}
	case descriptions.Boolean:
		if x, ok := v.(bool); ok {
			if x {
				return int64(1), nil
			}
			return int64(0), nil
		}
	case descriptions.Text:
		if x, ok := v.(string); ok {
			return x, nil
		}
	}
	return nil, fmt.Errorf("value %T is not valid for %s parameter", v, string(pt))
}

// columnArray builds a 1-D array for one tree member from the raw values
// of a row batch. Values may come from the SQLite driver (float64, int64,
// string, []byte) or directly from Row literals (additionally complex128
// and bool). NULLs in setpoint columns become NaN or the type's zero.
func columnArray(pt descriptions.ParamType, vals []any) (*ndarray.Array, error) {
	n := len(vals)
	shape := []int{n}
	switch pt {
	case descriptions.Numeric:
		out := make([]float64, n)
		for i, v := range vals {
			switch x := v.(type) {
			case float64:
				out[i] = x
			case int64:
				out[i] = float64(x)
			case nil:
				out[i] = math.NaN()
			default:
				return nil, fmt.Errorf("row %d: %T is not numeric", i, v)
			}
		}
		return ndarray.FromFloat64(shape, out)
	case descriptions.ComplexNum:
		out := make([]complex128, n)
		for i, v := range vals {
			switch x := v.(type) {
			case complex128:
				out[i] = x
			case []byte:
				c, err := decodeComplex(x)
				if err != nil {
					return nil, fmt.Errorf("row %d: %w", i, err)
				}
				out[i] = c
			case nil:
				out[i] = complex(math.NaN(), math.NaN())
			default:
				return nil, fmt.Errorf("row %d: %T is not complex", i, v)
			}
		}
		return ndarray.FromComplex128(shape, out)
	case descriptions.Integer:
		out := make([]int64, n)
		for i, v := range vals {
			switch x := v.(type) {
			case int64:
				out[i] = x
			case int:
				out[i] = int64(x)
			case nil:
			default:
				return nil, fmt.Errorf("row %d: %T is not an integer", i, v)
			}
		}
		return ndarray.FromInt64(shape, out)
	case descriptions.Boolean:
		out := make([]bool, n)
		for i, v := range vals {
			switch x := v.(type) {
			case bool:
				out[i] = x
			case int64:
				out[i] = x != 0
			case nil:
			default:
				return nil, fmt.Errorf("row %d: %T is not a boolean", i, v)
			}
		}
		return ndarray.FromBool(shape, out)
	case descriptions.Text:
		out := make([]string, n)
		for i, v := range vals {
			switch x := v.(type) {
			case string:
				out[i] = x
			case []byte:
				out[i] = string(x)
			case nil:
			default:
				return nil, fmt.Errorf("row %d: %T is not text", i, v)
			}
		}
		return ndarray.FromStrings(shape, out)
	default:
		return nil, fmt.Errorf("unknown parameter type %q", string(pt))
	}
}

// columnType returns the SQLite column type for a parameter type.
func columnType(pt descriptions.ParamType) string {
	switch pt {
	case descriptions.Numeric:
		return "REAL"
	case descriptions.ComplexNum:
		return "BLOB"
	case descriptions.Integer, descriptions.Boolean:
		return "INTEGER"
	case descriptions.Text:
		return "TEXT"
	default:
		return "BLOB"
	}
}
