package onnx

import (
	"reflect"
	"strings"
	"testing"
)

func TestNewTensor(t *testing.T) {
	t.Run("float32 ok", func(t *testing.T) {
		tt, err := NewTensor([]float32{1, 2, 3, 4}, []int64{2, 2})
		if err != nil {
			t.Fatalf("NewTensor failed: %v", err)
		}

		if tt.DType() != DTypeFloat32 {
			t.Fatalf("expected dtype float32, got %s", tt.DType())
		}

		if !reflect.DeepEqual(tt.Shape(), []int64{2, 2}) {
			t.Fatalf("unexpected shape: %v", tt.Shape())
		}

		got, err := ExtractFloat32(tt)
		if err != nil {
			t.Fatalf("ExtractFloat32 failed: %v", err)
		}

		if !reflect.DeepEqual(got, []float32{1, 2, 3, 4}) {
			t.Fatalf("unexpected data: %v", got)
		}
	})

	t.Run("named int64 type converts", func(t *testing.T) {
		type phonemeID int64
		tt, err := NewTensor([]phonemeID{3, 7}, []int64{2})
		if err != nil {
			t.Fatalf("NewTensor failed: %v", err)
		}
		if tt.DType() != DTypeInt64 {
			t.Fatalf("expected dtype int64, got %s", tt.DType())
		}
		got, err := ExtractInt64(tt)
		if err != nil {
			t.Fatalf("ExtractInt64 failed: %v", err)
		}
		if !reflect.DeepEqual(got, []int64{3, 7}) {
			t.Fatalf("unexpected data: %v", got)
		}
	})

	t.Run("shape mismatch", func(t *testing.T) {
		_, err := NewTensor([]float32{1, 2, 3}, []int64{2, 2})
		if err == nil {
			t.Fatal("expected shape mismatch error")
		}

		if !strings.Contains(err.Error(), "expects 4 elements, got 3") {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("negative dim", func(t *testing.T) {
		_, err := NewTensor([]float32{}, []int64{-1})
		if err == nil || !strings.Contains(err.Error(), "negative") {
			t.Fatalf("expected negative dim error, got %v", err)
		}
	})

	t.Run("zero dim holds no data", func(t *testing.T) {
		tt, err := NewTensor([]float32{}, []int64{0, 80})
		if err != nil {
			t.Fatalf("NewTensor failed: %v", err)
		}
		if tt.Len() != 0 || tt.Rank() != 2 {
			t.Fatalf("Len=%d Rank=%d; want 0, 2", tt.Len(), tt.Rank())
		}
	})
}

func TestConstructors(t *testing.T) {
	s := Scalar(int64(5))
	if s.Rank() != 0 || s.Len() != 1 {
		t.Errorf("Scalar: Rank=%d Len=%d; want 0, 1", s.Rank(), s.Len())
	}

	v, err := Vector([]float32{1, 2, 3})
	if err != nil {
		t.Fatalf("Vector: %v", err)
	}
	if !reflect.DeepEqual(v.Shape(), []int64{3}) {
		t.Errorf("Vector shape = %v; want [3]", v.Shape())
	}

	m, err := Matrix([]float32{1, 2, 3, 4, 5, 6}, 3)
	if err != nil {
		t.Fatalf("Matrix: %v", err)
	}
	if !reflect.DeepEqual(m.Shape(), []int64{3, 2}) {
		t.Errorf("Matrix shape = %v; want [3 2]", m.Shape())
	}

	for _, rows := range []int{0, 4} {
		if _, err := Matrix([]float32{1, 2, 3, 4, 5, 6}, rows); err == nil {
			t.Errorf("Matrix(rows=%d) should fail", rows)
		}
	}
}

func TestTensorAccessorsCopy(t *testing.T) {
	tt, err := NewTensor([]int64{1, 2}, []int64{2})
	if err != nil {
		t.Fatal(err)
	}

	shape := tt.Shape()
	shape[0] = 99
	data := tt.Data().([]int64)
	data[0] = 99

	if tt.Shape()[0] != 2 {
		t.Error("Shape() must return a copy")
	}
	if got, _ := ExtractInt64(tt); got[0] != 1 {
		t.Error("Data() must return a copy")
	}
}

func TestExtractors(t *testing.T) {
	f, _ := Vector([]float32{1, 2})
	i, _ := Vector([]int64{3})

	if _, err := ExtractFloat32(i); err == nil || !strings.Contains(err.Error(), "got int64") {
		t.Errorf("ExtractFloat32(int64) error = %v", err)
	}
	if _, err := ExtractInt64(f); err == nil || !strings.Contains(err.Error(), "got float32") {
		t.Errorf("ExtractInt64(float32) error = %v", err)
	}
	if _, err := ExtractFloat32(nil); err == nil {
		t.Error("ExtractFloat32(nil) should fail")
	}
	if _, err := ExtractInt64(nil); err == nil {
		t.Error("ExtractInt64(nil) should fail")
	}
}

func TestParseDType(t *testing.T) {
	tests := []struct {
		raw     string
		want    TensorDType
		wantErr bool
	}{
		{"float", DTypeFloat32, false},
		{"float32", DTypeFloat32, false},
		{"tensor(float)", DTypeFloat32, false},
		{" Int64 ", DTypeInt64, false},
		{"long", DTypeInt64, false},
		{"tensor(int64)", DTypeInt64, false},
		{"bool", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseDType(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDType(%q) error = %v; wantErr %v", tt.raw, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseDType(%q) = %q; want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestElementCount(t *testing.T) {
	tests := []struct {
		name    string
		shape   []int64
		want    int
		wantErr bool
	}{
		{"scalar", nil, 1, false},
		{"vector", []int64{7}, 7, false},
		{"matrix", []int64{3, 4}, 12, false},
		{"zero dim", []int64{3, 0}, 0, false},
		{"negative", []int64{2, -1}, 0, true},
		{"overflow", []int64{1 << 40, 1 << 40}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := elementCount(tt.shape)
			if (err != nil) != tt.wantErr {
				t.Fatalf("elementCount(%v) error = %v; wantErr %v", tt.shape, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("elementCount(%v) = %d; want %d", tt.shape, got, tt.want)
			}
		})
	}
}
