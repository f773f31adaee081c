// Package morph analyzes waveforms into a harmonic-plus-noise parameter set
// and resynthesizes audio from blended parameters.
//
// Frames are DefaultFramePeriod (5 ms) apart, not the 1 ms period WORLD
// analyzes at, so parameter sets from the two are not interchangeable.
package morph

import (
	"math"
	"slices"

	"github.com/cwbudde/algo-dsp/dsp/conv"
	"github.com/cwbudde/algo-dsp/dsp/spectrum"
	"github.com/cwbudde/algo-dsp/dsp/window"
	"gonum.org/v1/gonum/dsp/fourier"
)

// DefaultFramePeriod is the analysis hop in milliseconds.
const DefaultFramePeriod = 5.0

const (
	f0Floor = 71.0
	f0Ceil  = 800.0

	// voicingThreshold is the normalized autocorrelation a frame needs to
	// count as voiced.
	voicingThreshold = 0.5
	silenceRMS       = 1e-4

	minAperiodicity = 0.001
	minPower        = 1e-12
)

// Analysis is the per-frame parameter set of one waveform. Spectrogram and
// Aperiodicity rows have FFTSize/2+1 bins.
type Analysis struct {
	F0           []float64
	Spectrogram  [][]float64
	Aperiodicity [][]float64
	FramePeriod  float64
	FFTSize      int
	SampleRate   int

	// stft holds the windowed spectrum of each source frame and stftEnv the
	// envelope measured from it. Both are nil for a parameter set built by
	// hand.
	stft    [][]complex128
	stftEnv [][]float64
}

func (a *Analysis) Frames() int {
	return len(a.F0)
}

// FFTSizeFor returns the analysis window length for sampling rate fs: the
// power of two holding three periods of the lowest tracked pitch.
func FFTSizeFor(fs int) int {
	return 1 << (1 + int(math.Log2(3*float64(fs)/f0Floor)))
}

func hopSize(fs int, framePeriod float64) int {
	return max(1, int(math.Round(float64(fs)*framePeriod/1000)))
}

// Analyze estimates f0, the smoothed power spectrogram and the aperiodicity
// of x sampled at fs, one frame every DefaultFramePeriod.
func Analyze(x []float64, fs int) *Analysis {
	n := FFTSizeFor(fs)
	hop := hopSize(fs, DefaultFramePeriod)
	frames := len(x)/hop + 1
	bins := n/2 + 1

	a := &Analysis{
		F0:           make([]float64, frames),
		Spectrogram:  make([][]float64, frames),
		Aperiodicity: make([][]float64, frames),
		FramePeriod:  DefaultFramePeriod,
		FFTSize:      n,
		SampleRate:   fs,
		stft:         make([][]complex128, frames),
		stftEnv:      make([][]float64, frames),
	}

	win := hann(n)
	fft := fourier.NewFFT(n)
	seg := make([]float64, n)
	windowed := make([]float64, n)

	for t := range frames {
		center := t * hop
		frameSegment(seg, x, center)

		f0, strength := trackF0(seg, fs)
		a.F0[t] = f0

		for i := range windowed {
			windowed[i] = seg[i] * win[i]
		}
		coeff := fft.Coefficients(nil, windowed)
		env := envelope(spectrum.Power(coeff), f0, n, fs)
		a.stft[t] = coeff
		a.stftEnv[t] = env
		a.Spectrogram[t] = slices.Clone(env)

		ap := make([]float64, bins)
		for k := range ap {
			rel := float64(k) / float64(bins-1)
			ap[k] = clamp((1-strength)+strength*rel*rel, minAperiodicity, 1)
		}
		a.Aperiodicity[t] = ap
	}
	return a
}

// frameSegment copies the len(dst) samples of x centered at center into dst,
// zero outside x.
func frameSegment(dst, x []float64, center int) {
	start := center - len(dst)/2
	for i := range dst {
		j := start + i
		if j < 0 || j >= len(x) {
			dst[i] = 0
			continue
		}
		dst[i] = x[j]
	}
}

// trackF0 picks the autocorrelation peak of seg in the pitch range. It
// returns 0 and no strength for unvoiced segments.
func trackF0(seg []float64, fs int) (f0, strength float64) {
	n := len(seg)
	var mean float64
	for _, v := range seg {
		mean += v
	}
	mean /= float64(n)

	centered := make([]float64, n)
	var energy float64
	for i, v := range seg {
		centered[i] = v - mean
		energy += centered[i] * centered[i]
	}
	if math.Sqrt(energy/float64(n)) < silenceRMS {
		return 0, 0
	}

	// r[n-1+lag] is the autocorrelation at lag, scaled to 1 at lag 0.
	r, err := conv.AutoCorrelateNormalized(centered)
	if err != nil || r[n-1] <= 0 {
		return 0, 0
	}

	minLag := int(float64(fs) / f0Ceil)
	maxLag := min(int(float64(fs)/f0Floor), n-2)
	norm := func(lag int) float64 {
		// Unbiased estimate.
		return r[n-1+lag] * float64(n) / float64(n-lag)
	}

	best, bestLag := 0.0, 0
	for lag := minLag; lag <= maxLag; lag++ {
		if v := norm(lag); v > best {
			best, bestLag = v, lag
		}
	}
	if best < voicingThreshold || bestLag == 0 {
		return 0, 0
	}
	// Prefer the first local peak close to the maximum over its multiples.
	for lag := minLag + 1; lag < bestLag; lag++ {
		v := norm(lag)
		if v >= 0.85*best && v >= norm(lag-1) && v >= norm(lag+1) {
			bestLag = lag
			break
		}
	}

	lag := float64(bestLag)
	if bestLag > minLag && bestLag < maxLag {
		y0, y1, y2 := norm(bestLag-1), norm(bestLag), norm(bestLag+1)
		if d := y0 - 2*y1 + y2; d < 0 {
			lag += 0.5 * (y0 - y2) / d
		}
	}
	return float64(fs) / lag, math.Min(best, 1)
}

// envelope smooths a power spectrum over one harmonic spacing so voiced
// frames carry the vocal tract envelope rather than individual harmonics.
func envelope(power []float64, f0 float64, n, fs int) []float64 {
	width := 3
	if f0 > 0 {
		width = max(width, int(math.Round(f0*float64(n)/float64(fs))))
	}
	half := width / 2

	prefix := make([]float64, len(power)+1)
	for k, p := range power {
		prefix[k+1] = prefix[k] + p
	}
	out := make([]float64, len(power))
	for k := range power {
		lo := max(0, k-half)
		hi := min(len(power), k+half+1)
		out[k] = math.Max((prefix[hi]-prefix[lo])/float64(hi-lo), minPower)
	}
	return out
}

func hann(n int) []float64 {
	return window.Generate(window.TypeHann, n, window.WithPeriodic())
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
