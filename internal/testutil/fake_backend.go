package testutil

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/example/go-voicevox-core/internal/infer"
	"github.com/example/go-voicevox-core/internal/onnx"
)

const fakeModelPrefix = "fake-onnx:"

// FakeModel returns model bytes the FakeBackend compiles into a
// deterministic stand-in for op.
func FakeModel(op infer.Operation) []byte {
	return []byte(fakeModelPrefix + op.String())
}

// FakeBackend is an onnx.Backend whose sessions compute cheap deterministic
// functions of their inputs with the declared output shapes. The decoders
// emit a sine at exp(f0) Hz, which keeps waveforms finite and pitched.
type FakeBackend struct {
	// Devices is returned by SupportedDevices. Zero value means CPU only.
	Devices onnx.Devices
	// Signatures overrides the signature a compiled operation reports.
	Signatures map[infer.Operation]onnx.Signature
	// CompileErr fails compilation of the listed operations.
	CompileErr map[infer.Operation]error
	// RunErr fails runs of the listed operations.
	RunErr map[infer.Operation]error
	// Gate, when set, blocks every Run until a value is received.
	Gate chan struct{}

	mu      sync.Mutex
	opened  int
	closed  int
	runs    map[infer.Operation]int
	devices []onnx.Device

	active    atomic.Int32
	maxActive atomic.Int32
}

func (b *FakeBackend) NewSession(model []byte, opts onnx.SessionOptions) (onnx.Session, onnx.Signature, error) {
	name, ok := strings.CutPrefix(string(model), fakeModelPrefix)
	if !ok {
		return nil, onnx.Signature{}, errors.New("not a fake model")
	}
	op, ok := infer.ParseOperation(name)
	if !ok {
		return nil, onnx.Signature{}, fmt.Errorf("unknown fake operation %q", name)
	}
	if err := b.CompileErr[op]; err != nil {
		return nil, onnx.Signature{}, err
	}

	sig := op.Signature()
	if override, ok := b.Signatures[op]; ok {
		sig = override
	}

	b.mu.Lock()
	b.opened++
	b.devices = append(b.devices, opts.Device)
	b.mu.Unlock()

	return &fakeSession{backend: b, op: op}, sig, nil
}

func (b *FakeBackend) SupportedDevices() onnx.Devices {
	d := b.Devices
	d.CPU = true
	return d
}

// OpenSessions returns the number of sessions compiled and not yet closed.
func (b *FakeBackend) OpenSessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened - b.closed
}

// Runs returns how many times op was executed.
func (b *FakeBackend) Runs(op infer.Operation) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runs[op]
}

// CompiledDevices returns the device of every session compiled so far.
func (b *FakeBackend) CompiledDevices() []onnx.Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]onnx.Device(nil), b.devices...)
}

// MaxConcurrentRuns returns the highest number of Run calls observed in
// flight at once.
func (b *FakeBackend) MaxConcurrentRuns() int {
	return int(b.maxActive.Load())
}

type fakeSession struct {
	backend *FakeBackend
	op      infer.Operation
	closed  bool
}

func (s *fakeSession) Run(ctx context.Context, inputs []*onnx.Tensor) ([]*onnx.Tensor, error) {
	b := s.backend
	n := b.active.Add(1)
	defer b.active.Add(-1)
	for {
		m := b.maxActive.Load()
		if n <= m || b.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	if b.Gate != nil {
		<-b.Gate
	}

	b.mu.Lock()
	if b.runs == nil {
		b.runs = make(map[infer.Operation]int)
	}
	b.runs[s.op]++
	b.mu.Unlock()

	if err := b.RunErr[s.op]; err != nil {
		return nil, err
	}

	switch s.op {
	case infer.OpPredictDuration:
		return fakePredictDuration(inputs)
	case infer.OpPredictIntonation:
		return fakePredictIntonation(inputs)
	case infer.OpDecode:
		return fakeDecode(inputs)
	case infer.OpGenerateFullIntermediate:
		return fakeGenerateFullIntermediate(inputs)
	case infer.OpRenderAudioSegment:
		return fakeRenderAudioSegment(inputs)
	case infer.OpPredictSingConsonantLength:
		return fakeSingConsonantLength(inputs)
	case infer.OpPredictSingF0:
		return fakeSingF0(inputs)
	case infer.OpPredictSingVolume:
		return fakeSingVolume(inputs)
	case infer.OpSfDecode:
		return fakeSfDecode(inputs)
	default:
		return nil, fmt.Errorf("fake backend cannot run %s", s.op)
	}
}

func (s *fakeSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.backend.mu.Lock()
	s.backend.closed++
	s.backend.mu.Unlock()
	return nil
}

// FakeDuration is the per-phoneme length the fake duration predictor emits
// for a non-pause phoneme id.
func FakeDuration(phoneme int64) float32 {
	if phoneme == 0 {
		return -0.5
	}
	return 0.05 + 0.002*float32(phoneme%10)
}

// FakeF0 is the fake intonation predictor's output for a voiced vowel.
func FakeF0(vowel int64, speaker int64) float32 {
	return 5.5 + 0.05*float32(vowel%4) + 0.1*float32(speaker%3)
}

func speaker(t *onnx.Tensor) int64 {
	v, _ := onnx.ExtractInt64(t)
	if len(v) == 0 {
		return 0
	}
	return v[0]
}

func fakePredictDuration(in []*onnx.Tensor) ([]*onnx.Tensor, error) {
	phonemes, err := onnx.ExtractInt64(in[0])
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(phonemes))
	for i, p := range phonemes {
		out[i] = FakeDuration(p)
	}
	t, err := onnx.Vector(out)
	return []*onnx.Tensor{t}, err
}

func fakePredictIntonation(in []*onnx.Tensor) ([]*onnx.Tensor, error) {
	vowels, err := onnx.ExtractInt64(in[1])
	if err != nil {
		return nil, err
	}
	spk := speaker(in[7])
	out := make([]float32, len(vowels))
	for i, v := range vowels {
		if v == 0 {
			continue
		}
		out[i] = FakeF0(v, spk)
	}
	t, err := onnx.Vector(out)
	return []*onnx.Tensor{t}, err
}

// renderFrames synthesizes 256 samples per frame from per-frame f0 values.
// The speaker shifts the harmonic balance so different styles have
// different spectral envelopes.
func renderFrames(f0 []float32, spk int64) []float32 {
	const hop = 256
	const rate = 24000.0
	wave := make([]float32, len(f0)*hop)
	second := 0.1 + 0.3*float64(spk%3)
	phase := 0.0
	for i, lf0 := range f0 {
		if lf0 <= 0 {
			continue
		}
		freq := math.Exp(float64(lf0))
		for j := 0; j < hop; j++ {
			phase += 2 * math.Pi * freq / rate
			v := 0.3*math.Sin(phase) + 0.3*second*math.Sin(2*phase)
			wave[i*hop+j] = float32(v)
		}
	}
	return wave
}

func fakeDecode(in []*onnx.Tensor) ([]*onnx.Tensor, error) {
	f0, err := onnx.ExtractFloat32(in[0])
	if err != nil {
		return nil, err
	}
	t, err := onnx.Vector(renderFrames(f0, speaker(in[2])))
	return []*onnx.Tensor{t}, err
}

// The fake intermediate spectrogram has two columns: f0 and speaker id.
func fakeGenerateFullIntermediate(in []*onnx.Tensor) ([]*onnx.Tensor, error) {
	f0, err := onnx.ExtractFloat32(in[0])
	if err != nil {
		return nil, err
	}
	spk := float32(speaker(in[2]))
	spec := make([]float32, 0, 2*len(f0))
	for _, v := range f0 {
		spec = append(spec, v, spk)
	}
	t, err := onnx.Matrix(spec, len(f0))
	return []*onnx.Tensor{t}, err
}

func fakeRenderAudioSegment(in []*onnx.Tensor) ([]*onnx.Tensor, error) {
	spec, err := onnx.ExtractFloat32(in[0])
	if err != nil {
		return nil, err
	}
	shape := in[0].Shape()
	frames := int(shape[0])
	f0 := make([]float32, frames)
	var spk int64
	for i := 0; i < frames; i++ {
		f0[i] = spec[i*2]
		spk = int64(spec[i*2+1])
	}
	t, err := onnx.Vector(renderFrames(f0, spk))
	return []*onnx.Tensor{t}, err
}

func fakeSingConsonantLength(in []*onnx.Tensor) ([]*onnx.Tensor, error) {
	consonants, err := onnx.ExtractInt64(in[0])
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(consonants))
	for i, c := range consonants {
		if c >= 0 {
			out[i] = 3
		}
	}
	t, err := onnx.NewTensor(out, in[0].Shape())
	return []*onnx.Tensor{t}, err
}

func fakeSingF0(in []*onnx.Tensor) ([]*onnx.Tensor, error) {
	notes, err := onnx.ExtractInt64(in[1])
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(notes))
	for i, n := range notes {
		if n > 0 {
			out[i] = float32(440 * math.Pow(2, float64(n-69)/12))
		}
	}
	t, err := onnx.NewTensor(out, in[1].Shape())
	return []*onnx.Tensor{t}, err
}

func fakeSingVolume(in []*onnx.Tensor) ([]*onnx.Tensor, error) {
	f0s, err := onnx.ExtractFloat32(in[2])
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(f0s))
	for i, f := range f0s {
		if f > 0 {
			out[i] = 0.5
		}
	}
	t, err := onnx.NewTensor(out, in[2].Shape())
	return []*onnx.Tensor{t}, err
}

func fakeSfDecode(in []*onnx.Tensor) ([]*onnx.Tensor, error) {
	f0s, err := onnx.ExtractFloat32(in[1])
	if err != nil {
		return nil, err
	}
	logF0 := make([]float32, len(f0s))
	for i, f := range f0s {
		if f > 0 {
			logF0[i] = float32(math.Log(float64(f)))
		}
	}
	wave := renderFrames(logF0, speaker(in[3]))
	t, err := onnx.Matrix(wave, 1)
	return []*onnx.Tensor{t}, err
}
