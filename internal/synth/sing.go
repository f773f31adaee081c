package synth

import (
	"context"

	"github.com/example/go-voicevox-core/internal/infer"
	"github.com/example/go-voicevox-core/internal/onnx"
	"github.com/example/go-voicevox-core/internal/voicemodel"
	"github.com/example/go-voicevox-core/internal/vverror"
)

// runRows resolves style for domain, runs op on the given single-row
// tensors plus the speaker, and returns the first output.
func (s *Synthesizer) runRows(ctx context.Context, domain infer.Domain, op infer.Operation, style voicemodel.StyleID, rows ...*onnx.Tensor) (*onnx.Tensor, error) {
	h, err := s.resolve(style, domain)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	speaker, err := speakerTensor(op, h)
	if err != nil {
		return nil, err
	}
	out, err := h.Set.Get(op).Run(ctx, append(rows, speaker)...)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func int64Rows(op infer.Operation, lists ...[]int64) ([]*onnx.Tensor, error) {
	out := make([]*onnx.Tensor, 0, len(lists))
	for _, l := range lists {
		t, err := row(op, l)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// PredictSingConsonantLength predicts, per note, how many frames its
// consonant takes. Consonants without a sound are -1.
func (s *Synthesizer) PredictSingConsonantLength(ctx context.Context, consonants, vowels, noteDurations []int64, style voicemodel.StyleID) ([]int64, error) {
	op := infer.OpPredictSingConsonantLength
	if len(vowels) != len(consonants) || len(noteDurations) != len(consonants) {
		return nil, lengthMismatch(op, "consonants", "vowels", "note_durations")
	}
	rows, err := int64Rows(op, consonants, vowels, noteDurations)
	if err != nil {
		return nil, err
	}
	out, err := s.runRows(ctx, infer.DomainSingingTeacher, op, style, rows...)
	if err != nil {
		return nil, err
	}
	v, err := onnx.ExtractInt64(out)
	if err != nil {
		return nil, vverror.Wrap(vverror.KindInferenceFailed, op.String(), err)
	}
	return v, nil
}

// PredictSingF0 predicts one f0 in Hz per frame.
func (s *Synthesizer) PredictSingF0(ctx context.Context, phonemes, notes []int64, style voicemodel.StyleID) ([]float32, error) {
	op := infer.OpPredictSingF0
	if len(notes) != len(phonemes) {
		return nil, lengthMismatch(op, "phonemes", "notes")
	}
	rows, err := int64Rows(op, phonemes, notes)
	if err != nil {
		return nil, err
	}
	out, err := s.runRows(ctx, infer.DomainSingingTeacher, op, style, rows...)
	if err != nil {
		return nil, err
	}
	return firstFloat32(op, []*onnx.Tensor{out})
}

// PredictSingVolume predicts one volume per frame.
func (s *Synthesizer) PredictSingVolume(ctx context.Context, phonemes, notes []int64, f0s []float32, style voicemodel.StyleID) ([]float32, error) {
	op := infer.OpPredictSingVolume
	if len(notes) != len(phonemes) || len(f0s) != len(phonemes) {
		return nil, lengthMismatch(op, "phonemes", "notes", "frame_f0s")
	}
	rows, err := int64Rows(op, phonemes, notes)
	if err != nil {
		return nil, err
	}
	f0Row, err := row(op, f0s)
	if err != nil {
		return nil, err
	}
	out, err := s.runRows(ctx, infer.DomainSingingTeacher, op, style, append(rows, f0Row)...)
	if err != nil {
		return nil, err
	}
	return firstFloat32(op, []*onnx.Tensor{out})
}

// SfDecode renders per-frame phonemes, f0s and volumes to a waveform.
func (s *Synthesizer) SfDecode(ctx context.Context, phonemes []int64, f0s, volumes []float32, style voicemodel.StyleID) ([]float32, error) {
	op := infer.OpSfDecode
	if len(f0s) != len(phonemes) || len(volumes) != len(phonemes) {
		return nil, lengthMismatch(op, "frame_phonemes", "frame_f0s", "frame_volumes")
	}
	p, err := row(op, phonemes)
	if err != nil {
		return nil, err
	}
	f, err := row(op, f0s)
	if err != nil {
		return nil, err
	}
	v, err := row(op, volumes)
	if err != nil {
		return nil, err
	}
	out, err := s.runRows(ctx, infer.DomainFrameDecode, op, style, p, f, v)
	if err != nil {
		return nil, err
	}
	wave, err := firstFloat32(op, []*onnx.Tensor{out})
	if err != nil {
		return nil, err
	}
	if err := checkFinite(op.String(), wave); err != nil {
		return nil, err
	}
	return wave, nil
}
