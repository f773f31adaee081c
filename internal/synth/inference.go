package synth

import (
	"context"
	"fmt"
	"math"

	"github.com/example/go-voicevox-core/internal/engine"
	"github.com/example/go-voicevox-core/internal/infer"
	"github.com/example/go-voicevox-core/internal/onnx"
	"github.com/example/go-voicevox-core/internal/status"
	"github.com/example/go-voicevox-core/internal/voicemodel"
	"github.com/example/go-voicevox-core/internal/vverror"
)

func speakerTensor(op infer.Operation, h *status.Resolved) (*onnx.Tensor, error) {
	t, err := onnx.Vector([]int64{int64(h.Inner)})
	if err != nil {
		return nil, tensorErr(op, err)
	}
	return t, nil
}

func invalid(op, format string, args ...any) error {
	return vverror.New(vverror.KindInvalidQuery, op, format, args...)
}

// tensorErr classifies a failure building an input tensor.
func tensorErr(op infer.Operation, err error) error {
	return vverror.Wrap(vverror.KindInvalidQuery, op.String(), err)
}

func firstFloat32(op infer.Operation, out []*onnx.Tensor) ([]float32, error) {
	v, err := onnx.ExtractFloat32(out[0])
	if err != nil {
		return nil, vverror.Wrap(vverror.KindInferenceFailed, op.String(), err)
	}
	return v, nil
}

// PredictDuration returns one length in seconds per phoneme id, floored at
// engine.MinPhonemeLength.
func (s *Synthesizer) PredictDuration(ctx context.Context, phonemes []int64, style voicemodel.StyleID) ([]float32, error) {
	h, err := s.resolve(style, talkDomains...)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	list, err := onnx.Vector(phonemes)
	if err != nil {
		return nil, tensorErr(infer.OpPredictDuration, err)
	}
	speaker, err := speakerTensor(infer.OpPredictDuration, h)
	if err != nil {
		return nil, err
	}
	out, err := h.Set.Get(infer.OpPredictDuration).Run(ctx, list, speaker)
	if err != nil {
		return nil, err
	}
	lengths, err := firstFloat32(infer.OpPredictDuration, out)
	if err != nil {
		return nil, err
	}
	if len(lengths) != len(phonemes) {
		return nil, vverror.New(vverror.KindInferenceFailed, infer.OpPredictDuration.String(),
			"got %d lengths for %d phonemes", len(lengths), len(phonemes))
	}
	return engine.EnsureMinimumPhonemeLength(lengths), nil
}

// IntonationInput holds the per-mora lists PredictIntonation takes. Every
// list has one entry per mora including the surrounding pauses.
type IntonationInput struct {
	Vowels            []int64
	Consonants        []int64
	StartAccent       []int64
	EndAccent         []int64
	StartAccentPhrase []int64
	EndAccentPhrase   []int64
}

func (in IntonationInput) validate() error {
	n := len(in.Vowels)
	for name, l := range map[string][]int64{
		"consonants":          in.Consonants,
		"start_accent":        in.StartAccent,
		"end_accent":          in.EndAccent,
		"start_accent_phrase": in.StartAccentPhrase,
		"end_accent_phrase":   in.EndAccentPhrase,
	} {
		if len(l) != n {
			return invalid(infer.OpPredictIntonation.String(), "%s has %d entries, want %d", name, len(l), n)
		}
	}
	return nil
}

// PredictIntonation returns one f0 per mora.
func (s *Synthesizer) PredictIntonation(ctx context.Context, in IntonationInput, style voicemodel.StyleID) ([]float32, error) {
	h, err := s.resolve(style, talkDomains...)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	if err := in.validate(); err != nil {
		return nil, err
	}
	inputs := []*onnx.Tensor{onnx.Scalar(int64(len(in.Vowels)))}
	for _, l := range [][]int64{in.Vowels, in.Consonants, in.StartAccent, in.EndAccent, in.StartAccentPhrase, in.EndAccentPhrase} {
		t, err := onnx.Vector(l)
		if err != nil {
			return nil, tensorErr(infer.OpPredictIntonation, err)
		}
		inputs = append(inputs, t)
	}
	speaker, err := speakerTensor(infer.OpPredictIntonation, h)
	if err != nil {
		return nil, err
	}
	inputs = append(inputs, speaker)

	out, err := h.Set.Get(infer.OpPredictIntonation).Run(ctx, inputs...)
	if err != nil {
		return nil, err
	}
	return firstFloat32(infer.OpPredictIntonation, out)
}

// Decode renders frame features to a waveform of frames*HopLength samples.
// phoneme holds NumPhonemes one-hot values per frame. Styles whose model
// only has the experimental talk domain decode through the intermediate
// spectrogram.
func (s *Synthesizer) Decode(ctx context.Context, f0, phoneme []float32, style voicemodel.StyleID) ([]float32, error) {
	h, err := s.resolve(style, infer.DomainTalk, infer.DomainExperimentalTalk)
	if err != nil {
		return nil, err
	}
	defer h.Release()
	return s.decode(ctx, h, engine.DecoderFeature{F0: f0, Phoneme: phoneme})
}

func (s *Synthesizer) decode(ctx context.Context, h *status.Resolved, feature engine.DecoderFeature) ([]float32, error) {
	if len(feature.Phoneme) != feature.Frames()*engine.NumPhonemes {
		return nil, invalid(infer.OpDecode.String(), "phoneme has %d values for %d frames", len(feature.Phoneme), feature.Frames())
	}
	padded := engine.PadDecoderFeature(feature, engine.PaddingFrames)

	var wave []float32
	var err error
	if h.Set.Domain() == infer.DomainExperimentalTalk {
		var spec *onnx.Tensor
		spec, err = s.generateFullIntermediate(ctx, h, padded)
		if err != nil {
			return nil, err
		}
		wave, err = s.renderAudioSegment(ctx, h, spec)
	} else {
		wave, err = s.runDecode(ctx, h, padded)
	}
	if err != nil {
		return nil, err
	}

	if want := padded.Frames() * engine.HopLength; len(wave) != want {
		return nil, vverror.New(vverror.KindInferenceFailed, infer.OpDecode.String(),
			"got %d samples for %d frames", len(wave), padded.Frames())
	}
	return engine.TrimPadding(wave, engine.PaddingFrames), nil
}

func featureTensors(op infer.Operation, f engine.DecoderFeature) (*onnx.Tensor, *onnx.Tensor, error) {
	f0, err := onnx.Matrix(f.F0, f.Frames())
	if err != nil {
		return nil, nil, tensorErr(op, err)
	}
	phoneme, err := onnx.Matrix(f.Phoneme, f.Frames())
	if err != nil {
		return nil, nil, tensorErr(op, err)
	}
	return f0, phoneme, nil
}

func (s *Synthesizer) runDecode(ctx context.Context, h *status.Resolved, f engine.DecoderFeature) ([]float32, error) {
	f0, phoneme, err := featureTensors(infer.OpDecode, f)
	if err != nil {
		return nil, err
	}
	speaker, err := speakerTensor(infer.OpDecode, h)
	if err != nil {
		return nil, err
	}
	out, err := h.Set.Get(infer.OpDecode).Run(ctx, f0, phoneme, speaker)
	if err != nil {
		return nil, err
	}
	return firstFloat32(infer.OpDecode, out)
}

func (s *Synthesizer) generateFullIntermediate(ctx context.Context, h *status.Resolved, f engine.DecoderFeature) (*onnx.Tensor, error) {
	f0, phoneme, err := featureTensors(infer.OpGenerateFullIntermediate, f)
	if err != nil {
		return nil, err
	}
	speaker, err := speakerTensor(infer.OpGenerateFullIntermediate, h)
	if err != nil {
		return nil, err
	}
	out, err := h.Set.Get(infer.OpGenerateFullIntermediate).Run(ctx, f0, phoneme, speaker)
	if err != nil {
		return nil, err
	}
	if shape := out[0].Shape(); len(shape) != 2 || int(shape[0]) != f.Frames() {
		return nil, vverror.New(vverror.KindInferenceFailed, infer.OpGenerateFullIntermediate.String(),
			"spec shape %v does not have %d rows", shape, f.Frames())
	}
	return out[0], nil
}

func (s *Synthesizer) renderAudioSegment(ctx context.Context, h *status.Resolved, spec *onnx.Tensor) ([]float32, error) {
	out, err := h.Set.Get(infer.OpRenderAudioSegment).Run(ctx, spec)
	if err != nil {
		return nil, err
	}
	return firstFloat32(infer.OpRenderAudioSegment, out)
}

// checkFinite rejects a waveform holding NaN or infinite samples.
func checkFinite(op string, wave []float32) error {
	for i, v := range wave {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return vverror.New(vverror.KindInferenceFailed, op, "sample %d is %v", i, v)
		}
	}
	return nil
}

func lengthMismatch(op infer.Operation, names ...string) error {
	return invalid(op.String(), "%v must have equal lengths", names)
}

func row[T int64 | float32](op infer.Operation, v []T) (*onnx.Tensor, error) {
	t, err := onnx.NewTensor(v, []int64{1, int64(len(v))})
	if err != nil {
		return nil, tensorErr(op, fmt.Errorf("build row tensor: %w", err))
	}
	return t, nil
}
