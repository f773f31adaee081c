package synth

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/example/go-voicevox-core/internal/audio"
	"github.com/example/go-voicevox-core/internal/engine"
	"github.com/example/go-voicevox-core/internal/morph"
	"github.com/example/go-voicevox-core/internal/voicemodel"
	"github.com/example/go-voicevox-core/internal/vverror"
)

// morphPermitted applies the characters' morphing policies. Two ALL
// characters always morph; SELF_ONLY on either side needs the same
// character on both; NOTHING never morphs.
func morphPermitted(base, target voicemodel.CharacterMeta) bool {
	bp, tp := base.MorphingPolicy(), target.MorphingPolicy()
	switch {
	case bp == voicemodel.MorphingNothing || tp == voicemodel.MorphingNothing:
		return false
	case bp == voicemodel.MorphingAll && tp == voicemodel.MorphingAll:
		return true
	default:
		return base.SpeakerUUID == target.SpeakerUUID
	}
}

// IsSynthesisMorphingPermitted reports whether base may be morphed toward
// target. Unknown styles are StyleNotFound.
func (s *Synthesizer) IsSynthesisMorphingPermitted(base, target voicemodel.StyleID) (bool, error) {
	bc, _, err := s.registry.Character(base)
	if err != nil {
		return false, err
	}
	tc, _, err := s.registry.Character(target)
	if err != nil {
		return false, err
	}
	return morphPermitted(bc, tc), nil
}

// MorphableTargets lists, for every loaded style, whether base may be
// morphed toward it.
func (s *Synthesizer) MorphableTargets(base voicemodel.StyleID) (map[voicemodel.StyleID]bool, error) {
	bc, _, err := s.registry.Character(base)
	if err != nil {
		return nil, err
	}
	out := make(map[voicemodel.StyleID]bool)
	for _, c := range s.registry.Metas() {
		ok := morphPermitted(bc, c)
		for _, st := range c.Styles {
			out[st.ID] = ok
		}
	}
	return out, nil
}

// Morph synthesizes query for base and target and blends the target's
// spectral envelope into the base at rate in [0, 1]. Pitch and
// aperiodicity always come from base. Only 24 kHz mono output is
// supported.
func (s *Synthesizer) Morph(ctx context.Context, query engine.AudioQuery, base, target voicemodel.StyleID, rate float32) ([]byte, error) {
	permitted, err := s.IsSynthesisMorphingPermitted(base, target)
	if err != nil {
		return nil, err
	}
	if !permitted {
		return nil, vverror.New(vverror.KindSpeakerFeature, "morph", "styles %d and %d may not be morphed together", base, target)
	}
	if math.IsNaN(float64(rate)) || rate < 0 || rate > 1 {
		return nil, invalid("morph", "morph rate %v is outside [0, 1]", rate)
	}
	if query.OutputSamplingRate != engine.DefaultSamplingRate || query.OutputStereo {
		return nil, invalid("morph", "morphing needs %d Hz mono output", engine.DefaultSamplingRate)
	}

	opts := s.DefaultSynthesisOptions()
	var baseWave, targetWave []float32
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		baseWave, err = s.SynthesizeWaveform(gctx, query, base, opts)
		return err
	})
	g.Go(func() error {
		var err error
		targetWave, err = s.SynthesizeWaveform(gctx, query, target, opts)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	morphed, err := morph.Morph(toFloat64(baseWave), toFloat64(targetWave), engine.DefaultSamplingRate, float64(rate))
	if err != nil {
		return nil, vverror.Wrap(vverror.KindInferenceFailed, "morph", err)
	}

	wave := make([]float32, len(morphed))
	for i, v := range morphed {
		wave[i] = float32(v)
	}
	wav, err := audio.EncodeWAV(wave, outputFormat(query))
	if err != nil {
		return nil, vverror.Wrap(vverror.KindInvalidQuery, "audio query", err)
	}
	return wav, nil
}

func toFloat64(x []float32) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = float64(v)
	}
	return out
}
