package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cwbudde/wav"
	goaudio "github.com/go-audio/audio"
)

// HeaderSize is the size of the RIFF/WAVE header the encoder writes for
// 16-bit PCM.
const HeaderSize = 44

// pcmScale maps an int16 sample onto the float range the encoder rounds
// back from without loss.
const pcmScale = 32768

var errOddPCM = errors.New("PCM length is not a whole number of frames")

// EncodeWAV renders wave in format f and frames it as a WAV file.
func EncodeWAV(wave []float32, f Format) ([]byte, error) {
	pcm, err := PCM16LE(wave, f)
	if err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	return WAVFromPCM16LE(pcm, f)
}

// WAVFromPCM16LE wraps interleaved 16-bit little-endian PCM, as produced by
// PCM16LE for f, in a WAV container.
func WAVFromPCM16LE(pcm []byte, f Format) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if len(pcm)%f.BlockAlign() != 0 {
		return nil, fmt.Errorf("encode wav: %w: %d bytes, block align %d", errOddPCM, len(pcm), f.BlockAlign())
	}

	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(pcm[2*i:]))) / pcmScale
	}

	var buf bytes.Buffer
	buf.Grow(HeaderSize + len(pcm))

	// wav.NewEncoder requires an io.WriteSeeker.
	sw := &seekBuffer{buf: &buf}
	enc := wav.NewEncoder(sw, f.SampleRate, BitDepth, f.Channels(), 1) // 1 = PCM

	if err := enc.Write(&goaudio.Float32Buffer{
		Data:           samples,
		Format:         &goaudio.Format{SampleRate: f.SampleRate, NumChannels: f.Channels()},
		SourceBitDepth: BitDepth,
	}); err != nil {
		return nil, fmt.Errorf("writing PCM: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("closing encoder: %w", err)
	}
	return buf.Bytes(), nil
}

// seekBuffer wraps a bytes.Buffer to satisfy io.WriteSeeker.
type seekBuffer struct {
	buf *bytes.Buffer
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	if s.pos == s.buf.Len() {
		n, err := s.buf.Write(p)
		s.pos += n
		return n, err
	}
	// Overwrite in place, appending whatever runs past the end.
	data := s.buf.Bytes()
	n := copy(data[s.pos:], p)
	if n < len(p) {
		s.buf.Write(p[n:])
		n = len(p)
	}
	s.pos += n
	return n, nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var pos int
	switch whence {
	case io.SeekStart:
		pos = int(offset)
	case io.SeekCurrent:
		pos = s.pos + int(offset)
	case io.SeekEnd:
		pos = s.buf.Len() + int(offset)
	default:
		return 0, fmt.Errorf("seek: invalid whence %d", whence)
	}
	if pos < 0 || pos > s.buf.Len() {
		return 0, fmt.Errorf("seek: position %d out of range", pos)
	}
	s.pos = pos
	return int64(pos), nil
}
