package bench_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/example/go-voicevox-core/internal/audio"
	"github.com/example/go-voicevox-core/internal/bench"
)

func runsOf(durations ...time.Duration) []bench.RunResult {
	out := make([]bench.RunResult, len(durations))
	for i, d := range durations {
		out[i] = bench.RunResult{Index: i, Cold: i == 0, Duration: d}
	}
	return out
}

func silentWAV(t *testing.T, f audio.Format, frames int) []byte {
	t.Helper()
	wav, err := audio.EncodeWAV(make([]float32, frames), f)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	return wav
}

// ---------------------------------------------------------------------------
// Aggregation
// ---------------------------------------------------------------------------

func TestStats_MinMaxMean(t *testing.T) {
	s := bench.ComputeStats(runsOf(300*time.Millisecond, 100*time.Millisecond, 200*time.Millisecond))

	if s.Min != 100*time.Millisecond {
		t.Errorf("want min=100ms, got %v", s.Min)
	}

	if s.Max != 300*time.Millisecond {
		t.Errorf("want max=300ms, got %v", s.Max)
	}

	if s.Mean != 200*time.Millisecond {
		t.Errorf("want mean=200ms, got %v", s.Mean)
	}

	if s.P50 != 200*time.Millisecond {
		t.Errorf("want p50=200ms, got %v", s.P50)
	}

	if s.StdDev != 100*time.Millisecond {
		t.Errorf("want stddev=100ms, got %v", s.StdDev)
	}
}

func TestStats_SingleRun(t *testing.T) {
	s := bench.ComputeStats(runsOf(150 * time.Millisecond))
	if s.Min != s.Max || s.Min != s.Mean || s.Min != s.P95 {
		t.Errorf("single run: all statistics should be equal, got %+v", s)
	}
	if s.StdDev != 0 {
		t.Errorf("single run: stddev = %v; want 0", s.StdDev)
	}
}

func TestStats_Empty(t *testing.T) {
	if s := bench.ComputeStats(nil); s != (bench.Stats{}) {
		t.Errorf("empty: got %+v; want zero", s)
	}
}

func TestStats_MeanRTFSkipsUnknownAudio(t *testing.T) {
	runs := []bench.RunResult{
		{Duration: time.Second, WAVDuration: 2 * time.Second, RTF: 0.5},
		{Duration: time.Second, WAVDuration: 4 * time.Second, RTF: 0.25},
		{Duration: time.Second},
	}
	if got := bench.ComputeStats(runs).MeanRTF; got != 0.375 {
		t.Errorf("MeanRTF = %v; want 0.375", got)
	}
}

// ---------------------------------------------------------------------------
// RTF calculation
// ---------------------------------------------------------------------------

func TestRTF_Calculation(t *testing.T) {
	// 1 second of audio synthesised in 500ms → RTF = 0.5
	rtf := bench.CalcRTF(500*time.Millisecond, time.Second)
	if rtf < 0.499 || rtf > 0.501 {
		t.Errorf("want RTF≈0.5, got %.4f", rtf)
	}
}

func TestRTF_ZeroAudioDuration(t *testing.T) {
	rtf := bench.CalcRTF(500*time.Millisecond, 0)
	if rtf != 0 {
		t.Errorf("want RTF=0 for zero audio duration, got %.4f", rtf)
	}
}

func TestAudioDurationFromWAV(t *testing.T) {
	tests := []struct {
		name   string
		format audio.Format
		frames int
		want   time.Duration
	}{
		{"24k mono", audio.Format{SampleRate: 24000, Volume: 1}, 24000, time.Second},
		{"48k stereo", audio.Format{SampleRate: 48000, Stereo: true, Volume: 1}, 24000, 500 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dur, err := bench.WAVDuration(silentWAV(t, tt.format, tt.frames))
			if err != nil {
				t.Fatalf("WAVDuration: %v", err)
			}

			diff := dur - tt.want
			if diff < 0 {
				diff = -diff
			}
			if diff > time.Millisecond {
				t.Errorf("want %v audio duration, got %v", tt.want, dur)
			}
		})
	}
}

func TestAudioDurationFromGarbage(t *testing.T) {
	if _, err := bench.WAVDuration([]byte("not a wav")); err == nil {
		t.Error("want error for non-WAV input")
	}
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

func TestRun_TimesEveryCall(t *testing.T) {
	wav := silentWAV(t, audio.DefaultFormat(), 12000)
	calls := 0

	results, err := bench.Run(context.Background(), 3, func(context.Context) ([]byte, error) {
		calls++
		return wav, nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if calls != 3 || len(results) != 3 {
		t.Fatalf("calls=%d results=%d; want 3, 3", calls, len(results))
	}
	if !results[0].Cold || results[1].Cold {
		t.Error("only the first run should be cold")
	}
	for _, r := range results {
		if r.WAVDuration != 500*time.Millisecond {
			t.Errorf("run %d: audio = %v; want 500ms", r.Index, r.WAVDuration)
		}
	}
}

func TestRun_StopsOnError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0

	_, err := bench.Run(context.Background(), 5, func(context.Context) ([]byte, error) {
		calls++
		if calls == 2 {
			return nil, boom
		}
		return nil, nil
	})
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "run 2") {
		t.Errorf("err = %v; want run 2 failure wrapping boom", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d; want 2", calls)
	}
}

func TestRun_RejectsZeroRuns(t *testing.T) {
	if _, err := bench.Run(context.Background(), 0, nil); err == nil {
		t.Error("want error for zero runs")
	}
}

// ---------------------------------------------------------------------------
// RTF threshold gate
// ---------------------------------------------------------------------------

func TestRTFThreshold(t *testing.T) {
	tests := []struct {
		name      string
		meanRTF   float64
		threshold float64
		wantErr   bool
	}{
		{"exceeds", 1.5, 1.0, true},
		{"below", 0.8, 1.0, false},
		{"exactly at", 1.0, 1.0, false},
		{"disabled", 9999, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := bench.CheckRTFThreshold(tt.meanRTF, tt.threshold)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckRTFThreshold(%v, %v) = %v; wantErr %v", tt.meanRTF, tt.threshold, err, tt.wantErr)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Output formatting
// ---------------------------------------------------------------------------

func TestFormatTable_ContainsHeaders(t *testing.T) {
	runs := []bench.RunResult{
		{Index: 0, Cold: true, Duration: 800 * time.Millisecond, RTF: 0.8, WAVDuration: time.Second},
		{Index: 1, Cold: false, Duration: 500 * time.Millisecond, RTF: 0.5, WAVDuration: time.Second},
	}

	var buf strings.Builder
	bench.FormatTable(runs, bench.ComputeStats(runs), &buf)
	out := buf.String()

	for _, want := range []string{"run", "cold", "ms", "rtf", "(p95)", "mean rtf 0.650"} {
		if !strings.Contains(strings.ToLower(out), want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatJSON_IsValidJSON(t *testing.T) {
	runs := []bench.RunResult{
		{Index: 0, Cold: true, Duration: 800 * time.Millisecond, RTF: 0.8, WAVDuration: time.Second},
	}

	var buf bytes.Buffer
	if err := bench.FormatJSON(runs, bench.ComputeStats(runs), &buf); err != nil {
		t.Fatalf("FormatJSON: %v", err)
	}

	var out struct {
		Runs  []map[string]any `json:"runs"`
		Stats map[string]any   `json:"stats"`
	}
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("FormatJSON produced invalid JSON: %v\n%s", err, buf.String())
	}
	if len(out.Runs) != 1 || out.Stats["mean_ms"] != 800.0 {
		t.Errorf("unexpected report: %s", buf.String())
	}
}
