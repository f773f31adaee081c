package morph

// Morph analyzes both waveforms, blends their spectrograms at rate and
// resynthesizes a waveform as long as base. At rate 0 the result is base.
func Morph(base, target []float64, fs int, rate float64) ([]float64, error) {
	a := Analyze(base, fs)
	b := Analyze(target, fs)
	m, err := Blend(a, b, rate)
	if err != nil {
		return nil, err
	}
	return Synthesize(m, len(base)), nil
}
