// Package infer declares the inference domains, their operations and the
// tensor signature every operation's session must expose, and builds the
// per-model session sets that execute them.
package infer

import (
	"fmt"

	"github.com/example/go-voicevox-core/internal/onnx"
)

// Domain is a family of operations served by one part of a voice model.
type Domain int

const (
	DomainTalk Domain = iota
	DomainExperimentalTalk
	DomainSingingTeacher
	DomainFrameDecode
)

// Domains lists every domain in declaration order.
func Domains() []Domain {
	return []Domain{DomainTalk, DomainExperimentalTalk, DomainSingingTeacher, DomainFrameDecode}
}

func (d Domain) String() string {
	switch d {
	case DomainTalk:
		return "talk"
	case DomainExperimentalTalk:
		return "experimental_talk"
	case DomainSingingTeacher:
		return "singing_teacher"
	case DomainFrameDecode:
		return "frame_decode"
	default:
		return fmt.Sprintf("domain(%d)", int(d))
	}
}

// Operations returns the domain's operations in declaration order.
func (d Domain) Operations() []Operation {
	switch d {
	case DomainTalk:
		return []Operation{OpPredictDuration, OpPredictIntonation, OpDecode}
	case DomainExperimentalTalk:
		return []Operation{OpPredictDuration, OpPredictIntonation, OpGenerateFullIntermediate, OpRenderAudioSegment}
	case DomainSingingTeacher:
		return []Operation{OpPredictSingConsonantLength, OpPredictSingF0, OpPredictSingVolume}
	case DomainFrameDecode:
		return []Operation{OpSfDecode}
	default:
		return nil
	}
}

// Has reports whether op belongs to d.
func (d Domain) Has(op Operation) bool {
	for _, o := range d.Operations() {
		if o == op {
			return true
		}
	}
	return false
}

// Operation is one neural-network computation.
type Operation int

const (
	OpPredictDuration Operation = iota
	OpPredictIntonation
	OpDecode
	OpGenerateFullIntermediate
	OpRenderAudioSegment
	OpPredictSingConsonantLength
	OpPredictSingF0
	OpPredictSingVolume
	OpSfDecode
)

var opNames = map[Operation]string{
	OpPredictDuration:            "predict_duration",
	OpPredictIntonation:          "predict_intonation",
	OpDecode:                     "decode",
	OpGenerateFullIntermediate:   "generate_full_intermediate",
	OpRenderAudioSegment:         "render_audio_segment",
	OpPredictSingConsonantLength: "predict_sing_consonant_length",
	OpPredictSingF0:              "predict_sing_f0",
	OpPredictSingVolume:          "predict_sing_volume",
	OpSfDecode:                   "sf_decode",
}

func (o Operation) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return fmt.Sprintf("operation(%d)", int(o))
}

// ParseOperation maps a snake_case operation name back to its Operation.
func ParseOperation(name string) (Operation, bool) {
	for op, s := range opNames {
		if s == name {
			return op, true
		}
	}
	return 0, false
}

// IsHeavy marks vocoder-class operations that are placed on the GPU when
// one is in use. The predictors always run on the CPU.
func (o Operation) IsHeavy() bool {
	switch o {
	case OpDecode, OpGenerateFullIntermediate, OpRenderAudioSegment, OpSfDecode:
		return true
	default:
		return false
	}
}

func i64(name string, rank int) onnx.TensorInfo {
	return onnx.TensorInfo{Name: name, DType: onnx.DTypeInt64, Rank: rank}
}

func f32(name string, rank int) onnx.TensorInfo {
	return onnx.TensorInfo{Name: name, DType: onnx.DTypeFloat32, Rank: rank}
}

var speakerID = i64("speaker_id", 1)

var signatures = map[Operation]onnx.Signature{
	OpPredictDuration: {
		Inputs:  []onnx.TensorInfo{i64("phoneme_list", 1), speakerID},
		Outputs: []onnx.TensorInfo{f32("phoneme_length", 1)},
	},
	OpPredictIntonation: {
		Inputs: []onnx.TensorInfo{
			i64("length", 0),
			i64("vowel_phoneme_list", 1),
			i64("consonant_phoneme_list", 1),
			i64("start_accent_list", 1),
			i64("end_accent_list", 1),
			i64("start_accent_phrase_list", 1),
			i64("end_accent_phrase_list", 1),
			speakerID,
		},
		Outputs: []onnx.TensorInfo{f32("f0_list", 1)},
	},
	OpDecode: {
		Inputs:  []onnx.TensorInfo{f32("f0", 2), f32("phoneme", 2), speakerID},
		Outputs: []onnx.TensorInfo{f32("wave", 1)},
	},
	OpGenerateFullIntermediate: {
		Inputs:  []onnx.TensorInfo{f32("f0", 2), f32("phoneme", 2), speakerID},
		Outputs: []onnx.TensorInfo{f32("spec", 2)},
	},
	OpRenderAudioSegment: {
		Inputs:  []onnx.TensorInfo{f32("spec", 2)},
		Outputs: []onnx.TensorInfo{f32("wave", 1)},
	},
	OpPredictSingConsonantLength: {
		Inputs:  []onnx.TensorInfo{i64("consonants", 2), i64("vowels", 2), i64("note_durations", 2), speakerID},
		Outputs: []onnx.TensorInfo{i64("consonant_lengths", 2)},
	},
	OpPredictSingF0: {
		Inputs:  []onnx.TensorInfo{i64("phonemes", 2), i64("notes", 2), speakerID},
		Outputs: []onnx.TensorInfo{f32("f0s", 2)},
	},
	OpPredictSingVolume: {
		Inputs:  []onnx.TensorInfo{i64("phonemes", 2), i64("notes", 2), f32("frame_f0s", 2), speakerID},
		Outputs: []onnx.TensorInfo{f32("volumes", 2)},
	},
	OpSfDecode: {
		Inputs: []onnx.TensorInfo{
			i64("frame_phonemes", 2),
			f32("frame_f0s", 2),
			f32("frame_volumes", 2),
			speakerID,
		},
		Outputs: []onnx.TensorInfo{f32("wav", 2)},
	},
}

// Signature returns the declared signature of o. The returned slices are
// copies.
func (o Operation) Signature() onnx.Signature {
	sig := signatures[o]
	return onnx.Signature{
		Inputs:  append([]onnx.TensorInfo(nil), sig.Inputs...),
		Outputs: append([]onnx.TensorInfo(nil), sig.Outputs...),
	}
}
