package audio

import "encoding/binary"

// Sample converts one float sample to 16-bit PCM: scale by volume, clamp to
// [-1, 1], then truncate toward zero. NaN becomes silence.
func Sample(x, volume float32) int16 {
	v := x * volume
	switch {
	case v != v:
		return 0
	case v > 1:
		v = 1
	case v < -1:
		v = -1
	}
	return int16(v * 0x7fff)
}

// PCM16LE renders wave as interleaved little-endian 16-bit PCM in format f.
// The wave is resampled first when f asks for a rate other than the model's.
func PCM16LE(wave []float32, f Format) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if f.SampleRate != ModelSampleRate {
		var err error
		wave, err = Resample(wave, ModelSampleRate, f.SampleRate)
		if err != nil {
			return nil, err
		}
	}

	channels := f.Channels()
	out := make([]byte, len(wave)*channels*2)
	for i, x := range wave {
		s := uint16(Sample(x, f.Volume))
		for c := range channels {
			binary.LittleEndian.PutUint16(out[(i*channels+c)*2:], s)
		}
	}
	return out, nil
}
