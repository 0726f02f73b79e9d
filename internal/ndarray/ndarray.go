// Package ndarray provides a small dtype-aware N-dimensional array value
// used as the storage substrate for cached run data. Arrays are dense,
// row-major, and support the handful of operations the cache merge engine
// needs: sentinel-filled allocation, flat range writes, leading-axis
// concatenation, flattening, and element-width growth for byte-string data.
package ndarray

import (
	"bytes"
	"fmt"
	"math"
	"math/cmplx"
)

// Kind identifies the element type family of an array.
type Kind int

const (
	// Float is a 64-bit floating point element.
	Float Kind = iota
	// Complex is a 128-bit complex element.
	Complex
	// Int is a 64-bit signed integer element.
	Int
	// Bool is a boolean element.
	Bool
	// Bytes is a fixed-width byte-string element. The width is carried in
	// DType.ItemSize and may grow over the array's lifetime.
	Bytes
)

// String returns a short name for the kind.
func (k Kind) String() string {
	switch k {
	case Float:
		return "float"
	case Complex:
		return "complex"
	case Int:
		return "int"
	case Bool:
		return "bool"
	case Bytes:
		return "bytes"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// DType describes the element type of an array.
// ItemSize is the element width in bytes and is meaningful only for Bytes.
type DType struct {
	Kind     Kind
	ItemSize int
}

// String returns a numpy-style dtype name, e.g. "float64" or "bytes8".
func (d DType) String() string {
	if d.Kind == Bytes {
		return fmt.Sprintf("bytes%d", d.ItemSize)
	}
	switch d.Kind {
	case Float:
		return "float64"
	case Complex:
		return "complex128"
	case Int:
		return "int64"
	case Bool:
		return "bool"
	default:
		return d.Kind.String()
	}
}

// Array is a dense row-major N-dimensional array. Exactly one of the
// backing slices is non-nil, selected by the dtype kind. For Bytes arrays
// the backing slice holds Size()*ItemSize bytes, each element right-padded
// with zero bytes.
type Array struct {
	dtype DType
	shape []int

	floats    []float64
	complexes []complex128
	ints      []int64
	bools     []bool
	bytes     []byte
}

// DType returns the array's element type.
func (a *Array) DType() DType { return a.dtype }

// Shape returns the array's dimensions. The caller must not mutate it.
func (a *Array) Shape() []int { return a.shape }

// Size returns the total number of elements.
func (a *Array) Size() int {
	n := 1
	for _, d := range a.shape {
		n *= d
	}
	return n
}

// validShape reports an error for empty shapes or non-positive dimensions.
func validShape(shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("shape must have at least one dimension")
	}
	for i, d := range shape {
		if d < 1 {
			return fmt.Errorf("shape dimension %d must be positive, got %d", i, d)
		}
	}
	return nil
}

// Zeros allocates an array of the given dtype and shape. Float and Complex
// arrays are prefilled with NaN so unwritten cells are visibly absent;
// all other kinds are zero-filled.
func Zeros(dtype DType, shape []int) (*Array, error) {
	if err := validShape(shape); err != nil {
		return nil, err
	}
	if dtype.Kind == Bytes && dtype.ItemSize < 1 {
		return nil, fmt.Errorf("bytes dtype requires a positive item size, got %d", dtype.ItemSize)
	}

	a := &Array{dtype: dtype, shape: append([]int(nil), shape...)}
	n := a.Size()
	switch dtype.Kind {
	case Float:
		a.floats = make([]float64, n)
		for i := range a.floats {
			a.floats[i] = math.NaN()
		}
	case Complex:
		a.complexes = make([]complex128, n)
		nan := complex(math.NaN(), math.NaN())
		for i := range a.complexes {
			a.complexes[i] = nan
		}
	case Int:
		a.ints = make([]int64, n)
	case Bool:
		a.bools = make([]bool, n)
	case Bytes:
		a.bytes = make([]byte, n*dtype.ItemSize)
	default:
		return nil, fmt.Errorf("unknown dtype kind %v", dtype.Kind)
	}
	return a, nil
}

// FromFloat64 builds a Float array over vals. The backing slice is not
// copied. The product of shape must equal len(vals).
func FromFloat64(shape []int, vals []float64) (*Array, error) {
	a := &Array{dtype: DType{Kind: Float}, shape: append([]int(nil), shape...), floats: vals}
	if err := a.checkBacking(len(vals)); err != nil {
		return nil, err
	}
	return a, nil
}

// FromComplex128 builds a Complex array over vals without copying.
func FromComplex128(shape []int, vals []complex128) (*Array, error) {
	a := &Array{dtype: DType{Kind: Complex}, shape: append([]int(nil), shape...), complexes: vals}
	if err := a.checkBacking(len(vals)); err != nil {
		return nil, err
	}
	return a, nil
}

// FromInt64 builds an Int array over vals without copying.
func FromInt64(shape []int, vals []int64) (*Array, error) {
	a := &Array{dtype: DType{Kind: Int}, shape: append([]int(nil), shape...), ints: vals}
	if err := a.checkBacking(len(vals)); err != nil {
		return nil, err
	}
	return a, nil
}

// FromBool builds a Bool array over vals without copying.
func FromBool(shape []int, vals []bool) (*Array, error) {
	a := &Array{dtype: DType{Kind: Bool}, shape: append([]int(nil), shape...), bools: vals}
	if err := a.checkBacking(len(vals)); err != nil {
		return nil, err
	}
	return a, nil
}

// FromStrings builds a Bytes array from vals. The element width is the
// length of the longest value; shorter values are zero-padded.
func FromStrings(shape []int, vals []string) (*Array, error) {
	if err := validShape(shape); err != nil {
		return nil, err
	}
	width := 1
	for _, v := range vals {
		if len(v) > width {
			width = len(v)
		}
	}
	a := &Array{
		dtype: DType{Kind: Bytes, ItemSize: width},
		shape: append([]int(nil), shape...),
		bytes: make([]byte, len(vals)*width),
	}
	if a.Size() != len(vals) {
		return nil, fmt.Errorf("shape %v holds %d elements, got %d values", shape, a.Size(), len(vals))
	}
	for i, v := range vals {
		copy(a.bytes[i*width:(i+1)*width], v)
	}
	return a, nil
}

func (a *Array) checkBacking(n int) error {
	if err := validShape(a.shape); err != nil {
		return err
	}
	if a.Size() != n {
		return fmt.Errorf("shape %v holds %d elements, got %d values", a.shape, a.Size(), n)
	}
	return nil
}

// Float64s returns the flat backing slice of a Float array.
func (a *Array) Float64s() []float64 { return a.floats }

// Complex128s returns the flat backing slice of a Complex array.
func (a *Array) Complex128s() []complex128 { return a.complexes }

// Int64s returns the flat backing slice of an Int array.
func (a *Array) Int64s() []int64 { return a.ints }

// Bools returns the flat backing slice of a Bool array.
func (a *Array) Bools() []bool { return a.bools }

// Strings returns the elements of a Bytes array with zero padding trimmed.
func (a *Array) Strings() []string {
	if a.dtype.Kind != Bytes {
		return nil
	}
	out := make([]string, a.Size())
	w := a.dtype.ItemSize
	for i := range out {
		out[i] = string(bytes.TrimRight(a.bytes[i*w:(i+1)*w], "\x00"))
	}
	return out
}

// Flatten returns a 1-D view sharing the array's backing storage.
func (a *Array) Flatten() *Array {
	return &Array{
		dtype:     a.dtype,
		shape:     []int{a.Size()},
		floats:    a.floats,
		complexes: a.complexes,
		ints:      a.ints,
		bools:     a.bools,
		bytes:     a.bytes,
	}
}

// Clone returns a deep copy.
func (a *Array) Clone() *Array {
	c := &Array{dtype: a.dtype, shape: append([]int(nil), a.shape...)}
	switch a.dtype.Kind {
	case Float:
		c.floats = append([]float64(nil), a.floats...)
	case Complex:
		c.complexes = append([]complex128(nil), a.complexes...)
	case Int:
		c.ints = append([]int64(nil), a.ints...)
	case Bool:
		c.bools = append([]bool(nil), a.bools...)
	case Bytes:
		c.bytes = append([]byte(nil), a.bytes...)
	}
	return c
}

// SetFlat writes src's elements into the flattened view of a at positions
// [offset, offset+src.Size()). The dtype kinds must match and the range
// must fit; for Bytes arrays the destination width must be at least the
// source width (see WidenTo).
func (a *Array) SetFlat(offset int, src *Array) error {
	if a.dtype.Kind != src.dtype.Kind {
		return fmt.Errorf("cannot write %v values into %v array", src.dtype, a.dtype)
	}
	n := src.Size()
	if offset < 0 || offset+n > a.Size() {
		return fmt.Errorf("write of %d elements at offset %d exceeds capacity %d", n, offset, a.Size())
	}
	switch a.dtype.Kind {
	case Float:
		copy(a.floats[offset:], src.floats)
	case Complex:
		copy(a.complexes[offset:], src.complexes)
	case Int:
		copy(a.ints[offset:], src.ints)
	case Bool:
		copy(a.bools[offset:], src.bools)
	case Bytes:
		if src.dtype.ItemSize > a.dtype.ItemSize {
			return fmt.Errorf("cannot write width-%d values into width-%d array", src.dtype.ItemSize, a.dtype.ItemSize)
		}
		dw, sw := a.dtype.ItemSize, src.dtype.ItemSize
		for i := 0; i < n; i++ {
			dst := a.bytes[(offset+i)*dw : (offset+i+1)*dw]
			for j := range dst {
				dst[j] = 0
			}
			copy(dst, src.bytes[i*sw:(i+1)*sw])
		}
	}
	return nil
}

// WidenTo grows the element width of a Bytes array to itemSize, preserving
// existing content. No-op when the array is already at least that wide.
func (a *Array) WidenTo(itemSize int) error {
	if a.dtype.Kind != Bytes {
		return fmt.Errorf("cannot widen %v array", a.dtype)
	}
	if itemSize <= a.dtype.ItemSize {
		return nil
	}
	old := a.bytes
	ow := a.dtype.ItemSize
	a.bytes = make([]byte, a.Size()*itemSize)
	for i := 0; i < a.Size(); i++ {
		copy(a.bytes[i*itemSize:(i+1)*itemSize], old[i*ow:(i+1)*ow])
	}
	a.dtype.ItemSize = itemSize
	return nil
}

// Concat appends b to a along the leading axis and returns a new array.
// Trailing dimensions must agree. Bytes inputs of different widths are
// widened to the larger width.
func Concat(a, b *Array) (*Array, error) {
	if a.dtype.Kind != b.dtype.Kind {
		return nil, fmt.Errorf("cannot concatenate %v and %v arrays", a.dtype, b.dtype)
	}
	as, bs := a.shape, b.shape
	if len(as) != len(bs) {
		return nil, fmt.Errorf("cannot concatenate rank-%d and rank-%d arrays", len(as), len(bs))
	}
	for i := 1; i < len(as); i++ {
		if as[i] != bs[i] {
			return nil, fmt.Errorf("trailing dimensions differ: %v vs %v", as, bs)
		}
	}

	shape := append([]int(nil), as...)
	shape[0] = as[0] + bs[0]
	out := &Array{dtype: a.dtype, shape: shape}
	switch a.dtype.Kind {
	case Float:
		out.floats = append(append([]float64(nil), a.floats...), b.floats...)
	case Complex:
		out.complexes = append(append([]complex128(nil), a.complexes...), b.complexes...)
	case Int:
		out.ints = append(append([]int64(nil), a.ints...), b.ints...)
	case Bool:
		out.bools = append(append([]bool(nil), a.bools...), b.bools...)
	case Bytes:
		w := a.dtype.ItemSize
		if b.dtype.ItemSize > w {
			w = b.dtype.ItemSize
		}
		out.dtype.ItemSize = w
		out.bytes = make([]byte, out.Size()*w)
		aw, bw := a.dtype.ItemSize, b.dtype.ItemSize
		for i := 0; i < a.Size(); i++ {
			copy(out.bytes[i*w:(i+1)*w], a.bytes[i*aw:(i+1)*aw])
		}
		off := a.Size()
		for i := 0; i < b.Size(); i++ {
			copy(out.bytes[(off+i)*w:(off+i+1)*w], b.bytes[i*bw:(i+1)*bw])
		}
	}
	return out, nil
}

// Equal reports whether two arrays have the same dtype kind, shape and
// element values. NaN elements compare equal to NaN so sentinel-filled
// arrays can be compared in tests.
func Equal(a, b *Array) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.dtype.Kind != b.dtype.Kind || len(a.shape) != len(b.shape) {
		return false
	}
	for i := range a.shape {
		if a.shape[i] != b.shape[i] {
			return false
		}
	}
	switch a.dtype.Kind {
	case Float:
		for i := range a.floats {
			if a.floats[i] != b.floats[i] && !(math.IsNaN(a.floats[i]) && math.IsNaN(b.floats[i])) {
				return false
			}
		}
	case Complex:
		for i := range a.complexes {
			if a.complexes[i] != b.complexes[i] && !(cmplx.IsNaN(a.complexes[i]) && cmplx.IsNaN(b.complexes[i])) {
				return false
			}
		}
	case Int:
		for i := range a.ints {
			if a.ints[i] != b.ints[i] {
				return false
			}
		}
	case Bool:
		for i := range a.bools {
			if a.bools[i] != b.bools[i] {
				return false
			}
		}
	case Bytes:
		as, bs := a.Strings(), b.Strings()
		for i := range as {
			if as[i] != bs[i] {
				return false
			}
		}
	}
	return true
}
