package morph

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/dsp/fourier"
)

const noiseSeed = 0x766f696365

// maxGain caps the envelope ratio applied to one bin of a source frame.
const maxGain = 100

// Synthesize renders n samples from a.
//
// When a carries the spectra it was analyzed from, every source frame is
// scaled bin by bin by sqrt(Spectrogram/envelope at analysis) and the frames
// are overlap-added with phase intact. An untouched spectrogram therefore
// reconstructs the source waveform. Parameter sets without source spectra
// are rendered from a pulse train and seeded noise instead.
func Synthesize(a *Analysis, n int) []float64 {
	if a == nil || a.Frames() == 0 || len(a.Spectrogram) == 0 || n <= 0 {
		return make([]float64, max(n, 0))
	}
	if hasSource(a) {
		return reshape(a, n)
	}
	return synthesizeParametric(a.F0, a.Spectrogram, a.Aperiodicity, a.SampleRate, a.FramePeriod, n)
}

func hasSource(a *Analysis) bool {
	if len(a.stft) < len(a.Spectrogram) || len(a.stftEnv) < len(a.Spectrogram) {
		return false
	}
	for t, row := range a.Spectrogram {
		if len(row) != len(a.stft[t]) || len(row) != len(a.stftEnv[t]) {
			return false
		}
	}
	return true
}

// reshape applies a's spectrogram to the stored source spectra and
// overlap-adds the frames under the analysis window, normalized by the
// summed squared window.
func reshape(a *Analysis, n int) []float64 {
	size := a.FFTSize
	hop := hopSize(a.SampleRate, a.FramePeriod)
	win := hann(size)
	fft := fourier.NewFFT(size)

	out := make([]float64, n)
	norm := make([]float64, n)
	spec := make([]complex128, size/2+1)
	seg := make([]float64, size)

	for t, target := range a.Spectrogram {
		start := t*hop - size/2
		if start >= n {
			break
		}
		src, env := a.stft[t], a.stftEnv[t]
		for k := range spec {
			g := 1.0
			if target[k] != env[k] {
				g = math.Min(math.Sqrt(target[k]/env[k]), maxGain)
			}
			spec[k] = src[k] * complex(g, 0)
		}

		y := fft.Sequence(seg, spec)
		for i, v := range y {
			j := start + i
			if j < 0 || j >= n {
				continue
			}
			out[j] += v / float64(size) * win[i]
			norm[j] += win[i] * win[i]
		}
	}

	for i := range out {
		if norm[i] > 1e-9 {
			out[i] /= norm[i]
		}
	}
	return out
}

// synthesizeParametric mixes a pulse train and noise shaped by each frame's
// envelope, scales the mix to the frame's energy and overlap-adds it. The
// noise is seeded, so equal inputs give equal output.
func synthesizeParametric(f0 []float64, spectrogram, aperiodicity [][]float64, fs int, framePeriod float64, n int) []float64 {
	out := make([]float64, n)
	if len(aperiodicity) == 0 {
		return out
	}

	size := (len(spectrogram[0]) - 1) * 2
	hop := hopSize(fs, framePeriod)
	win := hann(size)
	fft := fourier.NewFFT(size)

	pulses := pulseTrain(f0, hop, fs, n+size)
	noise := whiteNoise(n + size)

	norm := make([]float64, n)
	seg := make([]float64, size)
	var pc, nc []complex128

	frames := min(len(f0), len(spectrogram), len(aperiodicity))
	for t := range frames {
		center := t * hop
		start := center - size/2
		if start >= n {
			break
		}

		env := spectrogram[t]
		ap := aperiodicity[t]

		pc = windowedSpectrum(fft, pc, seg, pulses, start, win)
		nc = windowedSpectrum(fft, nc, seg, noise, start, win)
		pScale := unitPower(pc)
		nScale := unitPower(nc)
		if f0[t] <= 0 {
			pScale = 0
		}

		var target, got float64
		mixed := make([]complex128, len(env))
		for k := range mixed {
			amp := math.Sqrt(env[k])
			a := ap[k]
			if pScale == 0 {
				a = 1
			}
			p := pc[k] * complex(pScale*amp*math.Sqrt(1-a), 0)
			q := nc[k] * complex(nScale*amp*math.Sqrt(a), 0)
			mixed[k] = p + q
			target += env[k]
			got += real(mixed[k])*real(mixed[k]) + imag(mixed[k])*imag(mixed[k])
		}
		if got <= 0 {
			continue
		}
		gain := math.Sqrt(target / got)
		for k := range mixed {
			mixed[k] *= complex(gain, 0)
		}

		y := fft.Sequence(seg, mixed)
		for i, v := range y {
			j := start + i
			if j < 0 || j >= n {
				continue
			}
			out[j] += v / float64(size)
			norm[j] += win[i]
		}
	}

	for i := range out {
		out[i] /= math.Max(norm[i], 0.1)
	}
	return out
}

// windowedSpectrum returns the spectrum of src[start:start+len(seg)] under
// window, zero outside src.
func windowedSpectrum(fft *fourier.FFT, dst []complex128, seg, src []float64, start int, window []float64) []complex128 {
	for i := range seg {
		j := start + i
		if j < 0 || j >= len(src) {
			seg[i] = 0
			continue
		}
		seg[i] = src[j] * window[i]
	}
	return fft.Coefficients(dst, seg)
}

// unitPower returns the factor normalizing c to unit mean power per bin, or
// 0 when c is silent.
func unitPower(c []complex128) float64 {
	var p float64
	for _, v := range c {
		p += real(v)*real(v) + imag(v)*imag(v)
	}
	if p <= 0 {
		return 0
	}
	return math.Sqrt(float64(len(c)) / p)
}

// pulseTrain places a unit impulse at every period of the frame-wise f0
// track. Unvoiced stretches reset the phase.
func pulseTrain(f0 []float64, hop, fs, n int) []float64 {
	out := make([]float64, n)
	var phase float64
	for i := range out {
		f := f0[min((i+hop/2)/hop, len(f0)-1)]
		if f <= 0 {
			phase = 0
			continue
		}
		phase += f / float64(fs)
		if phase >= 1 {
			phase -= math.Floor(phase)
			out[i] = 1
		}
	}
	return out
}

func whiteNoise(n int) []float64 {
	rng := rand.New(rand.NewPCG(noiseSeed, noiseSeed))
	out := make([]float64, n)
	for i := range out {
		out[i] = rng.NormFloat64()
	}
	return out
}
