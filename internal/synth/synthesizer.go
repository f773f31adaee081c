// Package synth is the synthesis pipeline: it loads voice models, runs the
// inference operations for a style and turns AudioQuery documents into
// audio.
package synth

import (
	"context"
	"log/slog"

	"github.com/example/go-voicevox-core/internal/infer"
	"github.com/example/go-voicevox-core/internal/onnx"
	"github.com/example/go-voicevox-core/internal/status"
	"github.com/example/go-voicevox-core/internal/voicemodel"
	"github.com/example/go-voicevox-core/internal/vverror"
)

// Synthesizer is safe for concurrent use. Calls for different operations
// run in parallel; calls hitting the same session are serialized by it.
type Synthesizer struct {
	registry *status.Registry
	backend  onnx.Backend
	devices  onnx.Devices
	heavy    onnx.Device
	opts     Options
	logger   *slog.Logger
}

// New probes the backend's devices and picks the one heavy operations
// compile for. GPU mode without a usable GPU is a GPU support error.
func New(backend onnx.Backend, opts Options) (*Synthesizer, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.GPUPoolSize < 1 {
		opts.GPUPoolSize = 1
	}

	devices := backend.SupportedDevices()
	logger.Debug("probed devices", "cpu", devices.CPU, "cuda", devices.CUDA, "dml", devices.DirectML)

	heavy := onnx.DeviceCPU
	switch opts.AccelerationMode {
	case AccelerationAuto:
		if gpu, ok := devices.PreferredGPU(); ok {
			heavy = gpu
		}
	case AccelerationGPU:
		gpu, ok := devices.PreferredGPU()
		if !ok {
			return nil, vverror.New(vverror.KindGPUSupport, "", "no usable GPU execution provider")
		}
		heavy = gpu
	}
	logger.Info("selected device for heavy operations", "device", heavy.String(), "mode", opts.AccelerationMode.String())

	s := &Synthesizer{
		backend: backend,
		devices: devices,
		heavy:   heavy,
		opts:    opts,
		logger:  logger,
	}
	s.registry = status.New(backend, s.sessionOptions, logger)
	return s, nil
}

func (s *Synthesizer) sessionOptions(op infer.Operation) infer.OperationOptions {
	o := infer.OperationOptions{
		SessionOptions: onnx.SessionOptions{
			CPUThreads:     s.opts.CPUNumThreads,
			InterOpThreads: s.opts.InterOpThreads,
			Device:         onnx.DeviceCPU,
		},
		PoolSize: 1,
	}
	if op.IsHeavy() && s.heavy.IsGPU() {
		o.Device = s.heavy
		o.PoolSize = s.opts.GPUPoolSize
	}
	return o
}

// IsGPUMode reports whether heavy operations run on a GPU.
func (s *Synthesizer) IsGPUMode() bool {
	return s.heavy.IsGPU()
}

func (s *Synthesizer) SupportedDevices() onnx.Devices {
	return s.devices
}

// DefaultSynthesisOptions carries the synthesizer's configured defaults.
func (s *Synthesizer) DefaultSynthesisOptions() SynthesisOptions {
	return SynthesisOptions{EnableInterrogativeUpspeak: s.opts.EnableInterrogativeUpspeak}
}

func (s *Synthesizer) LoadModel(ctx context.Context, pkg *voicemodel.Package) error {
	return s.registry.Insert(ctx, pkg)
}

// LoadModelFromPath opens the package at path, loads it and closes it.
func (s *Synthesizer) LoadModelFromPath(ctx context.Context, path string) (voicemodel.ID, error) {
	pkg, err := voicemodel.Open(path)
	if err != nil {
		return voicemodel.ID{}, vverror.Wrap(vverror.KindInvalidModelData, path, err)
	}
	defer func() { _ = pkg.Close() }()

	if err := s.registry.Insert(ctx, pkg); err != nil {
		return voicemodel.ID{}, err
	}
	return pkg.ID(), nil
}

func (s *Synthesizer) UnloadModel(id voicemodel.ID) error {
	return s.registry.Unload(id)
}

func (s *Synthesizer) IsLoadedModel(id voicemodel.ID) bool {
	return s.registry.IsLoaded(id)
}

func (s *Synthesizer) IsLoadedModelByStyle(style voicemodel.StyleID) bool {
	return s.registry.IsLoadedByStyle(style)
}

// Metas returns the merged character metas of every loaded model.
func (s *Synthesizer) Metas() []voicemodel.CharacterMeta {
	return s.registry.Metas()
}

// LoadedModels lists loaded model ids in load order.
func (s *Synthesizer) LoadedModels() []voicemodel.ID {
	return s.registry.Models()
}

// Close unloads every model.
func (s *Synthesizer) Close() error {
	return s.registry.Close()
}

// resolve tries domains in order and returns the first that serves style.
func (s *Synthesizer) resolve(style voicemodel.StyleID, domains ...infer.Domain) (*status.Resolved, error) {
	var err error
	for _, d := range domains {
		h, rerr := s.registry.Resolve(style, d)
		if rerr == nil {
			return h, nil
		}
		err = rerr
	}
	return nil, err
}

// talkDomains serve the duration and intonation predictors.
var talkDomains = []infer.Domain{infer.DomainTalk, infer.DomainExperimentalTalk}
