package onnx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/example/go-voicevox-core/internal/config"
	ort "github.com/yalue/onnxruntime_go"
)

// ORTBackend compiles sessions with ONNX Runtime.
type ORTBackend struct {
	info RuntimeInfo

	devicesOnce sync.Once
	devices     Devices
}

// NewORTBackend bootstraps the runtime library described by cfg.
func NewORTBackend(cfg config.RuntimeConfig) (*ORTBackend, error) {
	info, err := Bootstrap(cfg)
	if err != nil {
		return nil, err
	}
	return &ORTBackend{info: info}, nil
}

func (b *ORTBackend) Info() RuntimeInfo {
	return b.info
}

func (b *ORTBackend) NewSession(model []byte, opts SessionOptions) (Session, Signature, error) {
	if len(model) == 0 {
		return nil, Signature{}, errors.New("empty model data")
	}

	ins, outs, err := ort.GetInputOutputInfoWithONNXData(model)
	if err != nil {
		return nil, Signature{}, fmt.Errorf("inspect model: %w", err)
	}

	sig := Signature{
		Inputs:  make([]TensorInfo, 0, len(ins)),
		Outputs: make([]TensorInfo, 0, len(outs)),
	}
	for _, in := range ins {
		info, err := tensorInfoFromORT(in)
		if err != nil {
			return nil, Signature{}, fmt.Errorf("unsupported input datatype %v for %s", in.DataType, in.Name)
		}
		sig.Inputs = append(sig.Inputs, info)
	}
	for _, out := range outs {
		info, err := tensorInfoFromORT(out)
		if err != nil {
			return nil, Signature{}, fmt.Errorf("unsupported output datatype %v for %s", out.DataType, out.Name)
		}
		sig.Outputs = append(sig.Outputs, info)
	}

	so, err := buildSessionOptions(opts)
	if err != nil {
		return nil, Signature{}, err
	}
	defer func() { _ = so.Destroy() }()

	session, err := ort.NewDynamicAdvancedSessionWithONNXData(model, names(sig.Inputs), names(sig.Outputs), so)
	if err != nil {
		return nil, Signature{}, fmt.Errorf("create session: %w", err)
	}

	slog.Debug("compiled onnx session",
		"inputs", joinInfos(sig.Inputs),
		"outputs", joinInfos(sig.Outputs),
		"device", opts.Device.String(),
	)

	return &ortSession{session: session, sig: sig}, sig, nil
}

// SupportedDevices appends each execution provider to a scratch options
// object; a provider the library cannot initialize is reported unavailable.
func (b *ORTBackend) SupportedDevices() Devices {
	b.devicesOnce.Do(func() {
		b.devices = Devices{
			CPU:      true,
			CUDA:     probeProvider(DeviceCUDA),
			DirectML: probeProvider(DeviceDirectML),
		}
	})
	return b.devices
}

func probeProvider(d Device) bool {
	so, err := ort.NewSessionOptions()
	if err != nil {
		return false
	}
	defer func() { _ = so.Destroy() }()

	if err := appendProvider(so, d); err != nil {
		slog.Debug("execution provider unavailable", "device", d.String(), "error", err)
		return false
	}
	return true
}

func buildSessionOptions(opts SessionOptions) (*ort.SessionOptions, error) {
	so, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	if opts.CPUThreads > 0 {
		if err := so.SetIntraOpNumThreads(opts.CPUThreads); err != nil {
			_ = so.Destroy()
			return nil, fmt.Errorf("set intra-op threads: %w", err)
		}
	}
	if opts.InterOpThreads > 0 {
		if err := so.SetInterOpNumThreads(opts.InterOpThreads); err != nil {
			_ = so.Destroy()
			return nil, fmt.Errorf("set inter-op threads: %w", err)
		}
	}
	if opts.Device.IsGPU() {
		if err := appendProvider(so, opts.Device); err != nil {
			_ = so.Destroy()
			return nil, fmt.Errorf("enable %s provider: %w", opts.Device, err)
		}
	}
	return so, nil
}

func appendProvider(so *ort.SessionOptions, d Device) error {
	switch d {
	case DeviceCUDA:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return err
		}
		defer func() { _ = cuda.Destroy() }()
		return so.AppendExecutionProviderCUDA(cuda)
	case DeviceDirectML:
		return so.AppendExecutionProviderDirectML(0)
	default:
		return nil
	}
}

func tensorInfoFromORT(info ort.InputOutputInfo) (TensorInfo, error) {
	var dt TensorDType
	switch info.DataType {
	case ort.TensorElementDataTypeFloat:
		dt = DTypeFloat32
	case ort.TensorElementDataTypeInt64:
		dt = DTypeInt64
	default:
		return TensorInfo{}, fmt.Errorf("unsupported datatype %v", info.DataType)
	}
	return TensorInfo{Name: info.Name, DType: dt, Rank: len(info.Dimensions)}, nil
}

func names(infos []TensorInfo) []string {
	out := make([]string, len(infos))
	for i, info := range infos {
		out[i] = info.Name
	}
	return out
}

type ortSession struct {
	session *ort.DynamicAdvancedSession
	sig     Signature
}

func (s *ortSession) Run(ctx context.Context, inputs []*Tensor) ([]*Tensor, error) {
	// A native call cannot be interrupted once started; only check before.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(inputs) != len(s.sig.Inputs) {
		return nil, fmt.Errorf("expected %d inputs, got %d", len(s.sig.Inputs), len(inputs))
	}

	ortInputs := make([]ort.Value, 0, len(inputs))
	defer func() { destroyValues(ortInputs) }()
	for i, t := range inputs {
		v, err := tensorToORT(t)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", s.sig.Inputs[i].Name, err)
		}
		ortInputs = append(ortInputs, v)
	}

	// nil outputs are allocated by the runtime.
	ortOutputs := make([]ort.Value, len(s.sig.Outputs))
	defer func() { destroyValues(ortOutputs) }()

	if err := s.session.Run(ortInputs, ortOutputs); err != nil {
		return nil, err
	}

	results := make([]*Tensor, len(ortOutputs))
	for i, v := range ortOutputs {
		t, err := ortToTensor(v)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", s.sig.Outputs[i].Name, err)
		}
		results[i] = t
	}
	return results, nil
}

func (s *ortSession) Close() error {
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	return err
}

func tensorToORT(t *Tensor) (ort.Value, error) {
	switch data := t.data.(type) {
	case []float32:
		if t.Rank() == 0 {
			return ort.NewScalar(data[0])
		}
		return ort.NewTensor(ort.NewShape(t.shape...), data)
	case []int64:
		if t.Rank() == 0 {
			return ort.NewScalar(data[0])
		}
		return ort.NewTensor(ort.NewShape(t.shape...), data)
	default:
		return nil, fmt.Errorf("unsupported tensor dtype %q", t.dtype)
	}
}

func ortToTensor(v ort.Value) (*Tensor, error) {
	switch out := v.(type) {
	case *ort.Tensor[float32]:
		return NewTensor(out.GetData(), out.GetShape())
	case *ort.Tensor[int64]:
		return NewTensor(out.GetData(), out.GetShape())
	case nil:
		return nil, errors.New("runtime returned no value")
	default:
		return nil, fmt.Errorf("unsupported output value %T", v)
	}
}

func destroyValues(vals []ort.Value) {
	for _, v := range vals {
		if v != nil {
			_ = v.Destroy()
		}
	}
}
