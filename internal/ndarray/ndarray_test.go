package ndarray

import (
	"math"
	"testing"
)

func TestZeros(t *testing.T) {
	tests := []struct {
		name    string
		dtype   DType
		shape   []int
		wantErr bool
		check   func(t *testing.T, a *Array)
	}{
		{
			name:  "float prefilled with NaN",
			dtype: DType{Kind: Float},
			shape: []int{2, 3},
			check: func(t *testing.T, a *Array) {
				if a.Size() != 6 {
					t.Errorf("Size() = %d, want 6", a.Size())
				}
				for i, v := range a.Float64s() {
					if !math.IsNaN(v) {
						t.Errorf("element %d = %v, want NaN", i, v)
					}
				}
			},
		},
		{
			name:  "complex prefilled with NaN",
			dtype: DType{Kind: Complex},
			shape: []int{4},
			check: func(t *testing.T, a *Array) {
				for i, v := range a.Complex128s() {
					if !math.IsNaN(real(v)) || !math.IsNaN(imag(v)) {
						t.Errorf("element %d = %v, want NaN+NaNi", i, v)
					}
				}
			},
		},
		{
			name:  "int zero filled",
			dtype: DType{Kind: Int},
			shape: []int{3},
			check: func(t *testing.T, a *Array) {
				for i, v := range a.Int64s() {
					if v != 0 {
						t.Errorf("element %d = %d, want 0", i, v)
					}
				}
			},
		},
		{
			name:    "negative dimension",
			dtype:   DType{Kind: Float},
			shape:   []int{2, -1},
			wantErr: true,
		},
		{
			name:    "empty shape",
			dtype:   DType{Kind: Float},
			shape:   nil,
			wantErr: true,
		},
		{
			name:    "bytes without item size",
			dtype:   DType{Kind: Bytes},
			shape:   []int{2},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Zeros(tt.dtype, tt.shape)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Zeros() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, a)
			}
		})
	}
}

func TestSetFlat(t *testing.T) {
	dst, err := Zeros(DType{Kind: Float}, []int{3, 3})
	if err != nil {
		t.Fatal(err)
	}
	src, err := FromFloat64([]int{4}, []float64{1, 2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}

	if err := dst.SetFlat(2, src); err != nil {
		t.Fatalf("SetFlat() error = %v", err)
	}

	got := dst.Float64s()
	want := []float64{math.NaN(), math.NaN(), 1, 2, 3, 4, math.NaN(), math.NaN(), math.NaN()}
	for i := range want {
		if got[i] != want[i] && !(math.IsNaN(got[i]) && math.IsNaN(want[i])) {
			t.Errorf("element %d = %v, want %v", i, got[i], want[i])
		}
	}

	// Out of range write must fail without touching the array.
	if err := dst.SetFlat(7, src); err == nil {
		t.Error("SetFlat() expected error for overflowing write")
	}
}

func TestConcat(t *testing.T) {
	a, _ := FromFloat64([]int{2, 2}, []float64{1, 2, 3, 4})
	b, _ := FromFloat64([]int{1, 2}, []float64{5, 6})

	got, err := Concat(a, b)
	if err != nil {
		t.Fatalf("Concat() error = %v", err)
	}
	if got.Shape()[0] != 3 || got.Shape()[1] != 2 {
		t.Errorf("Concat() shape = %v, want [3 2]", got.Shape())
	}
	want := []float64{1, 2, 3, 4, 5, 6}
	for i, v := range got.Float64s() {
		if v != want[i] {
			t.Errorf("element %d = %v, want %v", i, v, want[i])
		}
	}

	// Trailing dimension mismatch is an error.
	c, _ := FromFloat64([]int{1, 3}, []float64{7, 8, 9})
	if _, err := Concat(a, c); err == nil {
		t.Error("Concat() expected error for trailing dimension mismatch")
	}
}

func TestWidenTo(t *testing.T) {
	a, err := FromStrings([]int{2}, []string{"abcd", "ef"})
	if err != nil {
		t.Fatal(err)
	}
	if a.DType().ItemSize != 4 {
		t.Fatalf("ItemSize = %d, want 4", a.DType().ItemSize)
	}

	if err := a.WidenTo(8); err != nil {
		t.Fatalf("WidenTo() error = %v", err)
	}
	if a.DType().ItemSize != 8 {
		t.Errorf("ItemSize = %d, want 8", a.DType().ItemSize)
	}
	got := a.Strings()
	if got[0] != "abcd" || got[1] != "ef" {
		t.Errorf("Strings() = %v, want [abcd ef] (no truncation)", got)
	}

	// Widening to a smaller width is a no-op.
	if err := a.WidenTo(2); err != nil {
		t.Fatalf("WidenTo() error = %v", err)
	}
	if a.DType().ItemSize != 8 {
		t.Errorf("ItemSize = %d after shrink attempt, want 8", a.DType().ItemSize)
	}
}

func TestConcatBytesWidths(t *testing.T) {
	a, _ := FromStrings([]int{2}, []string{"ab", "cd"})
	b, _ := FromStrings([]int{1}, []string{"longtext"})

	got, err := Concat(a, b)
	if err != nil {
		t.Fatalf("Concat() error = %v", err)
	}
	if got.DType().ItemSize != 8 {
		t.Errorf("ItemSize = %d, want 8", got.DType().ItemSize)
	}
	want := []string{"ab", "cd", "longtext"}
	for i, s := range got.Strings() {
		if s != want[i] {
			t.Errorf("element %d = %q, want %q", i, s, want[i])
		}
	}
}

func TestFlattenSharesStorage(t *testing.T) {
	a, _ := FromFloat64([]int{2, 2}, []float64{1, 2, 3, 4})
	f := a.Flatten()
	if len(f.Shape()) != 1 || f.Shape()[0] != 4 {
		t.Fatalf("Flatten() shape = %v, want [4]", f.Shape())
	}
	f.Float64s()[0] = 99
	if a.Float64s()[0] != 99 {
		t.Error("Flatten() must share backing storage")
	}
}

func TestEqual(t *testing.T) {
	nan := math.NaN()
	a, _ := FromFloat64([]int{3}, []float64{1, nan, 3})
	b, _ := FromFloat64([]int{3}, []float64{1, nan, 3})
	c, _ := FromFloat64([]int{3}, []float64{1, 2, 3})

	if !Equal(a, b) {
		t.Error("Equal() = false for identical arrays with NaN")
	}
	if Equal(a, c) {
		t.Error("Equal() = true for differing arrays")
	}
}
