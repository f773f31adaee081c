package testutil

import (
	"encoding/binary"
	"errors"
	"testing"
)

// AssertValidWAV checks that data is a valid PCM WAV file in the default
// output format: 24000 Hz, mono, 16-bit, at least one sample.
func AssertValidWAV(tb testing.TB, data []byte) {
	tb.Helper()
	AssertWAVFormat(tb, data, 24000, 1)
}

// AssertWAVFormat checks the RIFF framing, a 16-bit PCM fmt chunk with the
// given rate and channel count, and a non-empty data chunk.
func AssertWAVFormat(tb testing.TB, data []byte, sampleRate uint32, channels uint16) {
	tb.Helper()

	if len(data) < 44 {
		tb.Fatalf("WAV data too short: %d bytes", len(data))
	}
	if string(data[0:4]) != "RIFF" {
		tb.Fatalf("WAV: missing RIFF header (got %q)", string(data[0:4]))
	}
	if string(data[8:12]) != "WAVE" {
		tb.Fatalf("WAV: missing WAVE marker (got %q)", string(data[8:12]))
	}
	if string(data[12:16]) != "fmt " {
		tb.Fatalf("WAV: missing fmt chunk (got %q)", string(data[12:16]))
	}

	if got := binary.LittleEndian.Uint16(data[20:22]); got != 1 {
		tb.Fatalf("WAV: expected PCM format (1), got %d", got)
	}
	if got := binary.LittleEndian.Uint16(data[22:24]); got != channels {
		tb.Fatalf("WAV: expected %d channel(s), got %d", channels, got)
	}
	if got := binary.LittleEndian.Uint32(data[24:28]); got != sampleRate {
		tb.Fatalf("WAV: expected sample rate %d, got %d", sampleRate, got)
	}
	if got := binary.LittleEndian.Uint16(data[34:36]); got != 16 {
		tb.Fatalf("WAV: expected 16-bit depth, got %d", got)
	}

	dataSize, err := findDataChunkSize(data)
	if err != nil {
		tb.Fatalf("WAV: %v", err)
	}
	if dataSize/2 == 0 {
		tb.Fatal("WAV: data chunk contains zero samples")
	}
}

// WAVFrameCount returns the number of sample frames in a 16-bit WAV.
func WAVFrameCount(tb testing.TB, data []byte) int {
	tb.Helper()

	dataSize, err := findDataChunkSize(data)
	if err != nil {
		tb.Fatalf("WAV frame count: %v", err)
	}
	channels := binary.LittleEndian.Uint16(data[22:24])
	if channels == 0 {
		tb.Fatal("WAV frame count: zero channels")
	}
	return int(dataSize) / 2 / int(channels)
}

// AssertWAVDurationApprox asserts that the WAV audio duration falls within
// [minSec, maxSec] using the rate from the fmt chunk.
func AssertWAVDurationApprox(tb testing.TB, data []byte, minSec, maxSec float64) {
	tb.Helper()

	if len(data) < 44 {
		tb.Fatalf("WAV data too short: %d bytes", len(data))
	}
	rate := binary.LittleEndian.Uint32(data[24:28])
	durationSec := float64(WAVFrameCount(tb, data)) / float64(rate)
	if durationSec < minSec || durationSec > maxSec {
		tb.Fatalf("WAV duration %.3fs out of expected range [%.3fs, %.3fs]", durationSec, minSec, maxSec)
	}
}

// findDataChunkSize walks the WAV chunk list to locate the "data" sub-chunk
// and returns its size in bytes.
func findDataChunkSize(data []byte) (uint32, error) {
	// Start after the 12-byte RIFF/WAVE header.
	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])

		size := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		if id == "data" {
			return size, nil
		}

		offset += 8 + int(size)
		// Pad to even boundary.
		if size%2 != 0 {
			offset++
		}
	}

	return 0, errors.New("data chunk not found in WAV")
}
