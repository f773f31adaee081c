package audio

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/cwbudde/wav"
	goaudio "github.com/go-audio/audio"
)

// ErrFormatMismatch is returned when a decoded WAV does not have the format
// the caller asked for.
var ErrFormatMismatch = errors.New("WAV format mismatch")

// DecodeWAV decodes 16-bit PCM WAV bytes. Samples are interleaved floats in
// [-1, 1]; the buffer's Format carries rate and channel count.
func DecodeWAV(data []byte) (*goaudio.Float32Buffer, error) {
	if len(data) == 0 {
		return nil, errors.New("empty WAV input")
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, errors.New("invalid WAV file")
	}
	if dec.BitDepth != BitDepth {
		return nil, fmt.Errorf("%w: bit depth %d, want %d", ErrFormatMismatch, dec.BitDepth, BitDepth)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("reading PCM data: %w", err)
	}

	return &goaudio.Float32Buffer{
		Data: buf.Data,
		Format: &goaudio.Format{
			SampleRate:  int(dec.SampleRate),
			NumChannels: int(dec.NumChans),
		},
		SourceBitDepth: int(dec.BitDepth),
	}, nil
}
