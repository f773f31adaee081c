package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"testing"
)

// makeWAV builds a minimal WAV file of silent frames.
func makeWAV(sampleRate uint32, numChannels uint16, bitDepth uint16, numFrames int) []byte {
	blockAlign := numChannels * bitDepth / 8
	byteRate := sampleRate * uint32(blockAlign)
	dataSize := uint32(numFrames) * uint32(blockAlign)
	riffSize := 4 + (8 + 16) + (8 + dataSize)

	buf := &bytes.Buffer{}
	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, riffSize)
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(buf, binary.LittleEndian, numChannels)
	_ = binary.Write(buf, binary.LittleEndian, sampleRate)
	_ = binary.Write(buf, binary.LittleEndian, byteRate)
	_ = binary.Write(buf, binary.LittleEndian, blockAlign)
	_ = binary.Write(buf, binary.LittleEndian, bitDepth)

	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, dataSize)
	buf.Write(make([]byte, dataSize))

	return buf.Bytes()
}

// --- Decode ---

func TestDecodeWAV(t *testing.T) {
	t.Run("decodes 24kHz mono", func(t *testing.T) {
		buf, err := DecodeWAV(makeWAV(24000, 1, 16, 100))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(buf.Data) != 100 {
			t.Errorf("got %d samples, want 100", len(buf.Data))
		}
		if buf.Format.SampleRate != 24000 || buf.Format.NumChannels != 1 {
			t.Errorf("format = %+v; want 24000 Hz mono", *buf.Format)
		}
	})

	t.Run("reports stereo layout", func(t *testing.T) {
		buf, err := DecodeWAV(makeWAV(48000, 2, 16, 10))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if buf.Format.NumChannels != 2 {
			t.Errorf("channels = %d; want 2", buf.Format.NumChannels)
		}
		if len(buf.Data) != 20 {
			t.Errorf("got %d samples, want 20", len(buf.Data))
		}
	})

	t.Run("rejects 8-bit data", func(t *testing.T) {
		_, err := DecodeWAV(makeWAV(24000, 1, 8, 10))
		if !errors.Is(err, ErrFormatMismatch) {
			t.Errorf("expected ErrFormatMismatch, got %v", err)
		}
	})

	t.Run("rejects invalid WAV data", func(t *testing.T) {
		if _, err := DecodeWAV([]byte("not a wav file")); err == nil {
			t.Fatal("expected error for invalid WAV")
		}
	})

	t.Run("rejects empty input", func(t *testing.T) {
		if _, err := DecodeWAV(nil); err == nil {
			t.Fatal("expected error for nil input")
		}
	})
}

// --- Encode ---

func TestEncodeWAV(t *testing.T) {
	t.Run("canonical header", func(t *testing.T) {
		data, err := EncodeWAV(make([]float32, 100), DefaultFormat())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(data) != HeaderSize+200 {
			t.Fatalf("len = %d; want %d", len(data), HeaderSize+200)
		}
		if string(data[0:4]) != "RIFF" || string(data[8:16]) != "WAVEfmt " || string(data[36:40]) != "data" {
			t.Errorf("unexpected chunk markers: %q", data[:40])
		}
		if got := binary.LittleEndian.Uint32(data[4:8]); got != uint32(len(data)-8) {
			t.Errorf("riff size = %d; want %d", got, len(data)-8)
		}
		if got := binary.LittleEndian.Uint32(data[40:44]); got != 200 {
			t.Errorf("data size = %d; want 200", got)
		}
	})

	t.Run("stereo header fields", func(t *testing.T) {
		data, err := EncodeWAV(make([]float32, 10), Format{SampleRate: 24000, Stereo: true, Volume: 1})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := binary.LittleEndian.Uint16(data[22:24]); got != 2 {
			t.Errorf("channels = %d; want 2", got)
		}
		if got := binary.LittleEndian.Uint32(data[28:32]); got != 24000*4 {
			t.Errorf("byte rate = %d; want %d", got, 24000*4)
		}
		if got := binary.LittleEndian.Uint16(data[32:34]); got != 4 {
			t.Errorf("block align = %d; want 4", got)
		}
		if got := binary.LittleEndian.Uint32(data[40:44]); got != 40 {
			t.Errorf("data size = %d; want 40", got)
		}
	})

	t.Run("invalid rate", func(t *testing.T) {
		if _, err := EncodeWAV(make([]float32, 10), Format{SampleRate: 0, Volume: 1}); err == nil {
			t.Fatal("expected error for zero sample rate")
		}
	})
}

func TestDecodeEncodeRoundtrip(t *testing.T) {
	original := []float32{0.0, 0.5, -0.5, 1.0, -1.0}
	encoded, err := EncodeWAV(original, DefaultFormat())
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}

	buf, err := DecodeWAV(encoded)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	decoded := buf.Data
	if len(decoded) != len(original) {
		t.Fatalf("roundtrip: got %d samples, want %d", len(decoded), len(original))
	}

	const tolerance = 1.0 / 32768.0 * 2
	for i, want := range original {
		if math.Abs(float64(decoded[i]-want)) > tolerance {
			t.Errorf("sample[%d] = %f, want %f", i, decoded[i], want)
		}
	}
}

// --- Container ---

func TestWAVFromPCM16LE(t *testing.T) {
	t.Run("data chunk carries the PCM bytes unchanged", func(t *testing.T) {
		f := Format{SampleRate: 24000, Stereo: true, Volume: 1}
		wave := []float32{0, 0.5, -0.5, 0.99999, -1, 0.1234, 1.5, float32(math.NaN())}
		pcm, err := PCM16LE(wave, f)
		if err != nil {
			t.Fatalf("PCM16LE: %v", err)
		}
		data, err := WAVFromPCM16LE(pcm, f)
		if err != nil {
			t.Fatalf("WAVFromPCM16LE: %v", err)
		}
		if len(data) != HeaderSize+len(pcm) {
			t.Fatalf("len = %d; want %d", len(data), HeaderSize+len(pcm))
		}
		if !bytes.Equal(data[HeaderSize:], pcm) {
			t.Errorf("data chunk = %v; want %v", data[HeaderSize:], pcm)
		}
	})

	t.Run("rejects a partial frame", func(t *testing.T) {
		f := Format{SampleRate: 24000, Stereo: true, Volume: 1}
		if _, err := WAVFromPCM16LE(make([]byte, 6), f); err == nil {
			t.Error("expected error for 6 bytes of stereo PCM")
		}
	})

	t.Run("empty PCM", func(t *testing.T) {
		data, err := WAVFromPCM16LE(nil, DefaultFormat())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(data) != HeaderSize {
			t.Fatalf("len = %d; want %d", len(data), HeaderSize)
		}
		if got := binary.LittleEndian.Uint32(data[40:44]); got != 0 {
			t.Errorf("data size = %d; want 0", got)
		}
	})
}

func TestSeekBuffer(t *testing.T) {
	var buf bytes.Buffer
	sw := &seekBuffer{buf: &buf}

	_, _ = sw.Write([]byte("abcdef"))
	if _, err := sw.Seek(2, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	_, _ = sw.Write([]byte("XY"))
	if _, err := sw.Seek(-1, io.SeekEnd); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	_, _ = sw.Write([]byte("123"))

	if got, want := buf.String(), "abXYe123"; got != want {
		t.Errorf("buffer = %q; want %q", got, want)
	}
	if _, err := sw.Seek(-1, io.SeekStart); err == nil {
		t.Error("expected error seeking before start")
	}
}
