package onnx

import (
	"strings"
	"testing"
)

func vec(t *testing.T, data []float32) *Tensor {
	t.Helper()
	v, err := Vector(data)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestTensorInfoAccepts(t *testing.T) {
	declared := TensorInfo{Name: "f0", DType: DTypeFloat32, Rank: 2}

	tests := []struct {
		name   string
		info   TensorInfo
		actual TensorInfo
		want   bool
	}{
		{"exact", declared, declared, true},
		{"rank differs", declared, TensorInfo{Name: "f0", DType: DTypeFloat32, Rank: 1}, false},
		{"dtype differs", declared, TensorInfo{Name: "f0", DType: DTypeInt64, Rank: 2}, false},
		{"name differs", declared, TensorInfo{Name: "phoneme", DType: DTypeFloat32, Rank: 2}, false},
		{"any rank", TensorInfo{Name: "f0", DType: DTypeFloat32, Rank: AnyRank}, TensorInfo{Name: "f0", DType: DTypeFloat32, Rank: 3}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.info.Accepts(tt.actual); got != tt.want {
				t.Errorf("Accepts = %v; want %v", got, tt.want)
			}
		})
	}
}

func TestTensorInfoString(t *testing.T) {
	if got := (TensorInfo{Name: "spec", DType: DTypeFloat32, Rank: 2}).String(); got != "spec: float32[][]" {
		t.Errorf("String = %q", got)
	}
	if got := (TensorInfo{Name: "x", DType: DTypeInt64, Rank: AnyRank}).String(); got != "x: int64[]..." {
		t.Errorf("String = %q", got)
	}
}

func TestSignatureCheckAccepts(t *testing.T) {
	want := Signature{
		Inputs:  []TensorInfo{{Name: "phoneme_list", DType: DTypeInt64, Rank: 1}, {Name: "speaker_id", DType: DTypeInt64, Rank: 1}},
		Outputs: []TensorInfo{{Name: "phoneme_length", DType: DTypeFloat32, Rank: 1}},
	}

	if err := want.CheckAccepts(want); err != nil {
		t.Fatalf("identical signature rejected: %v", err)
	}

	swapped := Signature{Inputs: []TensorInfo{want.Inputs[1], want.Inputs[0]}, Outputs: want.Outputs}
	err := want.CheckAccepts(swapped)
	if err == nil || !strings.HasPrefix(err.Error(), "inputs:") {
		t.Errorf("swapped inputs error = %v; want inputs mismatch", err)
	}

	extraOut := Signature{Inputs: want.Inputs, Outputs: append(append([]TensorInfo(nil), want.Outputs...), want.Outputs[0])}
	err = want.CheckAccepts(extraOut)
	if err == nil || !strings.HasPrefix(err.Error(), "outputs:") {
		t.Errorf("extra output error = %v; want outputs mismatch", err)
	}
}

func TestCheckInputs(t *testing.T) {
	declared := []TensorInfo{
		{Name: "f0", DType: DTypeFloat32, Rank: 1},
		{Name: "speaker_id", DType: DTypeInt64, Rank: 1},
	}
	ids, _ := Vector([]int64{0})

	tests := []struct {
		name    string
		inputs  []*Tensor
		wantErr string
	}{
		{"ok", []*Tensor{vec(t, []float32{1}), ids}, ""},
		{"count", []*Tensor{vec(t, []float32{1})}, "expected 2 inputs"},
		{"nil", []*Tensor{nil, ids}, "is nil"},
		{"dtype", []*Tensor{ids, ids}, "expected float32"},
		{"rank", []*Tensor{Scalar(float32(1)), ids}, "expected rank 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckInputs(declared, tt.inputs)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v; want containing %q", err, tt.wantErr)
			}
		})
	}
}
