package onnx

import (
	"fmt"
	"strings"
)

// AnyRank in a declared TensorInfo accepts an actual tensor of any rank.
const AnyRank = -1

// TensorInfo describes one named input or output of a session.
type TensorInfo struct {
	Name  string
	DType TensorDType
	Rank  int
}

// Accepts reports whether actual satisfies the declared info i.
func (i TensorInfo) Accepts(actual TensorInfo) bool {
	if i.Name != actual.Name || i.DType != actual.DType {
		return false
	}
	return i.Rank == AnyRank || i.Rank == actual.Rank
}

func (i TensorInfo) String() string {
	brackets := "[]..."
	if i.Rank != AnyRank {
		brackets = strings.Repeat("[]", i.Rank)
	}
	return fmt.Sprintf("%s: %s%s", i.Name, i.DType, brackets)
}

// Signature is the ordered input and output list of an operation or of a
// compiled session.
type Signature struct {
	Inputs  []TensorInfo
	Outputs []TensorInfo
}

// CheckAccepts verifies that actual satisfies the declared signature:
// same input and output counts and pairwise Accepts, in order.
func (s Signature) CheckAccepts(actual Signature) error {
	if err := checkInfos(s.Inputs, actual.Inputs); err != nil {
		return fmt.Errorf("inputs: %w", err)
	}
	if err := checkInfos(s.Outputs, actual.Outputs); err != nil {
		return fmt.Errorf("outputs: %w", err)
	}
	return nil
}

func checkInfos(expected, actual []TensorInfo) error {
	ok := len(expected) == len(actual)
	for i := 0; ok && i < len(expected); i++ {
		ok = expected[i].Accepts(actual[i])
	}
	if !ok {
		return fmt.Errorf("expected {%s}, got {%s}", joinInfos(expected), joinInfos(actual))
	}
	return nil
}

func joinInfos(infos []TensorInfo) string {
	parts := make([]string, 0, len(infos))
	for _, info := range infos {
		parts = append(parts, info.String())
	}
	return strings.Join(parts, ", ")
}

// CheckInputs validates a call's tensors against the declared inputs before
// they reach a session.
func CheckInputs(declared []TensorInfo, inputs []*Tensor) error {
	if len(declared) != len(inputs) {
		return fmt.Errorf("expected %d inputs, got %d", len(declared), len(inputs))
	}
	for i, info := range declared {
		t := inputs[i]
		if t == nil {
			return fmt.Errorf("input %q is nil", info.Name)
		}
		if t.DType() != info.DType {
			return fmt.Errorf("input %q: expected %s, got %s", info.Name, info.DType, t.DType())
		}
		if info.Rank != AnyRank && t.Rank() != info.Rank {
			return fmt.Errorf("input %q: expected rank %d, got %d", info.Name, info.Rank, t.Rank())
		}
	}
	return nil
}
