package morph

import (
	"errors"
	"fmt"
	"math"
)

var ErrIncompatible = errors.New("analyses are not compatible")

// Blend interpolates the spectrogram of base toward target:
// morphed = base*(1-rate) + target*rate. F0 and aperiodicity stay the
// base's, so rate 1 is the target's envelope over the base's pitch. The
// result has base's frame count; a shorter target repeats its last frame.
// It keeps base's source spectra, so Synthesize reshapes the base waveform.
func Blend(base, target *Analysis, rate float64) (*Analysis, error) {
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return nil, fmt.Errorf("morph rate %v is not finite", rate)
	}
	if base.FFTSize != target.FFTSize {
		return nil, fmt.Errorf("%w: fft size %d vs %d", ErrIncompatible, base.FFTSize, target.FFTSize)
	}
	if base.SampleRate != target.SampleRate || base.FramePeriod != target.FramePeriod {
		return nil, fmt.Errorf("%w: %d Hz/%gms vs %d Hz/%gms", ErrIncompatible,
			base.SampleRate, base.FramePeriod, target.SampleRate, target.FramePeriod)
	}
	if target.Frames() == 0 {
		return nil, fmt.Errorf("%w: target has no frames", ErrIncompatible)
	}

	spec := make([][]float64, base.Frames())
	for t, b := range base.Spectrogram {
		tg := target.Spectrogram[min(t, target.Frames()-1)]
		row := make([]float64, len(b))
		for k := range row {
			row[k] = b[k]*(1-rate) + tg[k]*rate
		}
		spec[t] = row
	}

	return &Analysis{
		F0:           base.F0,
		Spectrogram:  spec,
		Aperiodicity: base.Aperiodicity,
		FramePeriod:  base.FramePeriod,
		FFTSize:      base.FFTSize,
		SampleRate:   base.SampleRate,
		stft:         base.stft,
		stftEnv:      base.stftEnv,
	}, nil
}
