package voicemodel

import (
	"github.com/example/go-voicevox-core/internal/infer"
	"github.com/example/go-voicevox-core/internal/onnx"
)

// Width of the one-hot phoneme rows the vocoders take.
const probePhonemes = 45

// probeInputs builds a tiny valid input set for op in declared order, or nil
// when the operation's input width depends on the model.
func probeInputs(op infer.Operation) []*onnx.Tensor {
	speaker := must(onnx.Vector([]int64{0}))
	row := func(v []int64) *onnx.Tensor { return must(onnx.Matrix(v, 1)) }
	rowF := func(v []float32) *onnx.Tensor { return must(onnx.Matrix(v, 1)) }

	switch op {
	case infer.OpPredictDuration:
		return []*onnx.Tensor{must(onnx.Vector([]int64{0, 37, 14, 0})), speaker}
	case infer.OpPredictIntonation:
		marks := []int64{0, 1, 0}
		return []*onnx.Tensor{
			onnx.Scalar(int64(3)),
			must(onnx.Vector([]int64{0, 14, 0})),
			must(onnx.Vector([]int64{-1, 37, -1})),
			must(onnx.Vector(marks)),
			must(onnx.Vector(marks)),
			must(onnx.Vector(marks)),
			must(onnx.Vector(marks)),
			speaker,
		}
	case infer.OpDecode, infer.OpGenerateFullIntermediate:
		const frames = 4
		f0 := make([]float32, frames)
		phoneme := make([]float32, frames*probePhonemes)
		for i := range frames {
			f0[i] = 5.5
			phoneme[i*probePhonemes] = 1
		}
		return []*onnx.Tensor{must(onnx.Matrix(f0, frames)), must(onnx.Matrix(phoneme, frames)), speaker}
	case infer.OpPredictSingConsonantLength:
		return []*onnx.Tensor{row([]int64{-1, 37, -1}), row([]int64{0, 14, 0}), row([]int64{10, 20, 10}), speaker}
	case infer.OpPredictSingF0:
		return []*onnx.Tensor{row(singPhonemes()), row(singNotes()), speaker}
	case infer.OpPredictSingVolume:
		return []*onnx.Tensor{row(singPhonemes()), row(singNotes()), rowF(singF0s()), speaker}
	case infer.OpSfDecode:
		volumes := make([]float32, 8)
		for i := range volumes {
			volumes[i] = 0.5
		}
		return []*onnx.Tensor{row(singPhonemes()), rowF(singF0s()), rowF(volumes), speaker}
	default:
		return nil
	}
}

func singPhonemes() []int64 { return []int64{0, 0, 37, 14, 14, 14, 0, 0} }
func singNotes() []int64    { return []int64{0, 0, 60, 60, 60, 60, 0, 0} }
func singF0s() []float32    { return []float32{0, 0, 261.6, 261.6, 261.6, 261.6, 0, 0} }

func must(t *onnx.Tensor, err error) *onnx.Tensor {
	if err != nil {
		panic(err)
	}
	return t
}
