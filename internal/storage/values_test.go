package storage

import (
	"math"
	"testing"

	"github.com/qubitlab/runcache/internal/descriptions"
)

func TestComplexBlobRoundTrip(t *testing.T) {
	vals := []complex128{
		complex(0, 0),
		complex(1.5, -2.5),
		complex(math.Inf(1), math.Pi),
	}
	for _, v := range vals {
		got, err := decodeComplex(encodeComplex(v))
		if err != nil {
			t.Fatalf("decodeComplex() error = %v", err)
		}
		if got != v {
			t.Errorf("round trip = %v, want %v", got, v)
		}
	}

	if _, err := decodeComplex([]byte{1, 2, 3}); err == nil {
		t.Error("decodeComplex() expected error for short blob")
	}
}

func TestEncodeValueTypeChecks(t *testing.T) {
	tests := []struct {
		name    string
		pt      descriptions.ParamType
		value   any
		wantErr bool
	}{
		{"float for numeric", descriptions.Numeric, 1.5, false},
		{"int for numeric", descriptions.Numeric, 3, false},
		{"string for numeric", descriptions.Numeric, "x", true},
		{"complex for complex", descriptions.ComplexNum, complex(1, 2), false},
		{"bool for bool", descriptions.Boolean, true, false},
		{"int for text", descriptions.Text, 7, true},
		{"string for text", descriptions.Text, "ok", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := encodeValue(tt.pt, tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("encodeValue() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestColumnArrayNullHandling(t *testing.T) {
	arr, err := columnArray(descriptions.Numeric, []any{1.0, nil, int64(3)})
	if err != nil {
		t.Fatalf("columnArray() error = %v", err)
	}
	got := arr.Float64s()
	if got[0] != 1.0 || !math.IsNaN(got[1]) || got[2] != 3.0 {
		t.Errorf("columnArray() = %v, want [1 NaN 3]", got)
	}

	if _, err := columnArray(descriptions.Integer, []any{"nope"}); err == nil {
		t.Error("columnArray() expected error for mistyped value")
	}
}
