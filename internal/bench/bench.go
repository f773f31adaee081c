// Package bench measures synthesis latency and realtime factor for the
// vvcore bench command.
package bench

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/example/go-voicevox-core/internal/audio"
)

// ---------------------------------------------------------------------------
// Run result and stats
// ---------------------------------------------------------------------------

// RunResult holds the timing and audio metadata for a single synthesis run.
type RunResult struct {
	Index       int
	Cold        bool // true for the first run (cold-start)
	Duration    time.Duration
	WAVDuration time.Duration
	RTF         float64
}

// Stats holds aggregate timing statistics across all runs.
type Stats struct {
	Min    time.Duration
	Max    time.Duration
	Mean   time.Duration
	P50    time.Duration
	P95    time.Duration
	StdDev time.Duration
	// MeanRTF is the mean realtime factor over runs with a known audio
	// duration.
	MeanRTF float64
}

// ComputeStats aggregates runs. An empty slice yields zero stats.
func ComputeStats(runs []RunResult) Stats {
	if len(runs) == 0 {
		return Stats{}
	}

	xs := make([]float64, len(runs))
	var rtfs []float64
	for i, r := range runs {
		xs[i] = float64(r.Duration)
		if r.WAVDuration > 0 {
			rtfs = append(rtfs, r.RTF)
		}
	}
	slices.Sort(xs)

	s := Stats{
		Min:  time.Duration(xs[0]),
		Max:  time.Duration(xs[len(xs)-1]),
		Mean: time.Duration(stat.Mean(xs, nil)),
		P50:  time.Duration(stat.Quantile(0.5, stat.Empirical, xs, nil)),
		P95:  time.Duration(stat.Quantile(0.95, stat.Empirical, xs, nil)),
	}
	if len(xs) > 1 {
		s.StdDev = time.Duration(stat.StdDev(xs, nil))
	}
	if len(rtfs) > 0 {
		s.MeanRTF = stat.Mean(rtfs, nil)
	}
	return s
}

// ---------------------------------------------------------------------------
// Running
// ---------------------------------------------------------------------------

// SynthFunc produces one WAV per call.
type SynthFunc func(ctx context.Context) ([]byte, error)

// Run calls fn n times in sequence and times each call. The first run is
// marked cold. A WAV whose duration cannot be read is logged and counted
// with zero audio duration.
func Run(ctx context.Context, n int, fn SynthFunc) ([]RunResult, error) {
	if n < 1 {
		return nil, fmt.Errorf("runs must be at least 1, got %d", n)
	}

	results := make([]RunResult, 0, n)
	for i := range n {
		start := time.Now()
		wav, err := fn(ctx)
		if err != nil {
			return nil, fmt.Errorf("run %d failed: %w", i+1, err)
		}
		dur := time.Since(start)

		audioDur, err := WAVDuration(wav)
		if err != nil {
			slog.Warn("could not read WAV duration", "run", i+1, "error", err)
		}

		results = append(results, RunResult{
			Index:       i,
			Cold:        i == 0,
			Duration:    dur,
			WAVDuration: audioDur,
			RTF:         CalcRTF(dur, audioDur),
		})
	}
	return results, nil
}

// ---------------------------------------------------------------------------
// RTF helpers
// ---------------------------------------------------------------------------

// CalcRTF returns synthesis_duration / audio_duration.
// Returns 0 if audioDur is zero to avoid division by zero.
func CalcRTF(synthDur, audioDur time.Duration) float64 {
	if audioDur <= 0 {
		return 0
	}
	return float64(synthDur) / float64(audioDur)
}

// WAVDuration returns the playback duration of a 16-bit PCM WAV.
func WAVDuration(wav []byte) (time.Duration, error) {
	buf, err := audio.DecodeWAV(wav)
	if err != nil {
		return 0, err
	}
	rate, channels := buf.Format.SampleRate, buf.Format.NumChannels
	if rate == 0 || channels == 0 {
		return 0, fmt.Errorf("invalid fmt chunk: sampleRate=%d channels=%d", rate, channels)
	}
	frames := int64(len(buf.Data) / channels)
	return time.Duration(frames * int64(time.Second) / int64(rate)), nil
}

// CheckRTFThreshold returns an error if meanRTF > threshold.
// A threshold of 0 disables the gate.
func CheckRTFThreshold(meanRTF, threshold float64) error {
	if threshold <= 0 {
		return nil
	}
	if meanRTF > threshold {
		return fmt.Errorf("mean RTF %.3f exceeds threshold %.3f", meanRTF, threshold)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Output formatters
// ---------------------------------------------------------------------------

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// FormatTable writes a human-readable ASCII table of bench results to w.
func FormatTable(runs []RunResult, stats Stats, w io.Writer) {
	sb := &strings.Builder{}

	fmt.Fprintf(sb, "%-5s  %-5s  %10s  %12s  %8s\n", "Run", "Cold", "MS", "Audio(ms)", "RTF")
	fmt.Fprintln(sb, strings.Repeat("-", 48))

	for _, r := range runs {
		cold := ""
		if r.Cold {
			cold = "yes"
		}
		fmt.Fprintf(sb, "%-5d  %-5s  %10.1f  %12.1f  %8.3f\n",
			r.Index+1, cold, ms(r.Duration), ms(r.WAVDuration), r.RTF)
	}

	fmt.Fprintln(sb, strings.Repeat("-", 48))
	for _, row := range []struct {
		label string
		d     time.Duration
	}{
		{"min", stats.Min},
		{"p50", stats.P50},
		{"mean", stats.Mean},
		{"p95", stats.P95},
		{"max", stats.Max},
		{"stddev", stats.StdDev},
	} {
		fmt.Fprintf(sb, "%-5s  %-5s  %10.1f  %12s  %8s  (%s)\n", "", "", ms(row.d), "", "", row.label)
	}
	fmt.Fprintf(sb, "mean RTF %.3f\n", stats.MeanRTF)

	fmt.Fprint(w, sb.String())
}

// jsonReport is the top-level JSON structure emitted by FormatJSON.
type jsonReport struct {
	Runs  []jsonRun `json:"runs"`
	Stats jsonStats `json:"stats"`
}

type jsonRun struct {
	Index      int     `json:"index"`
	Cold       bool    `json:"cold"`
	DurationMS float64 `json:"duration_ms"`
	AudioMS    float64 `json:"audio_ms"`
	RTF        float64 `json:"rtf"`
}

type jsonStats struct {
	MinMS    float64 `json:"min_ms"`
	P50MS    float64 `json:"p50_ms"`
	MeanMS   float64 `json:"mean_ms"`
	P95MS    float64 `json:"p95_ms"`
	MaxMS    float64 `json:"max_ms"`
	StdDevMS float64 `json:"stddev_ms"`
	MeanRTF  float64 `json:"mean_rtf"`
}

// FormatJSON writes a JSON report of bench results to w.
func FormatJSON(runs []RunResult, stats Stats, w io.Writer) error {
	jr := jsonReport{
		Runs: make([]jsonRun, len(runs)),
		Stats: jsonStats{
			MinMS:    ms(stats.Min),
			P50MS:    ms(stats.P50),
			MeanMS:   ms(stats.Mean),
			P95MS:    ms(stats.P95),
			MaxMS:    ms(stats.Max),
			StdDevMS: ms(stats.StdDev),
			MeanRTF:  stats.MeanRTF,
		},
	}
	for i, r := range runs {
		jr.Runs[i] = jsonRun{
			Index:      r.Index,
			Cold:       r.Cold,
			DurationMS: ms(r.Duration),
			AudioMS:    ms(r.WAVDuration),
			RTF:        r.RTF,
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jr)
}
