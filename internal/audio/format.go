// Package audio turns decoder waveforms into 16-bit PCM and WAV files.
package audio

import "fmt"

// Waveforms come out of the vocoder at this rate, mono.
const (
	ModelSampleRate = 24000
	BitDepth        = 16
)

// Format is the requested output shape of a waveform.
type Format struct {
	SampleRate int
	Stereo     bool
	Volume     float32
}

// DefaultFormat is 24 kHz mono at unit volume.
func DefaultFormat() Format {
	return Format{SampleRate: ModelSampleRate, Volume: 1}
}

func (f Format) Channels() int {
	if f.Stereo {
		return 2
	}
	return 1
}

// BlockAlign is the byte size of one frame across all channels.
func (f Format) BlockAlign() int {
	return f.Channels() * BitDepth / 8
}

func (f Format) Validate() error {
	if f.SampleRate < 1 {
		return fmt.Errorf("invalid sample rate: %d", f.SampleRate)
	}
	return nil
}
