package onnx

import (
	"context"
	"fmt"
)

// Device selects the execution provider a session is compiled for.
type Device int

const (
	DeviceCPU Device = iota
	DeviceCUDA
	DeviceDirectML
)

func (d Device) String() string {
	switch d {
	case DeviceCPU:
		return "cpu"
	case DeviceCUDA:
		return "cuda"
	case DeviceDirectML:
		return "dml"
	default:
		return fmt.Sprintf("device(%d)", int(d))
	}
}

// IsGPU reports whether d is a GPU provider.
func (d Device) IsGPU() bool {
	return d == DeviceCUDA || d == DeviceDirectML
}

// SessionOptions configures compilation of one session. CPUThreads == 0 keeps
// the runtime default.
type SessionOptions struct {
	CPUThreads     int
	InterOpThreads int
	Device         Device
}

// Devices reports which execution providers are usable on this machine.
type Devices struct {
	CPU      bool `json:"cpu"`
	CUDA     bool `json:"cuda"`
	DirectML bool `json:"dml"`
}

// Has reports whether d is usable.
func (s Devices) Has(d Device) bool {
	switch d {
	case DeviceCPU:
		return s.CPU
	case DeviceCUDA:
		return s.CUDA
	case DeviceDirectML:
		return s.DirectML
	default:
		return false
	}
}

// PreferredGPU returns the first usable GPU provider, CUDA before DirectML.
func (s Devices) PreferredGPU() (Device, bool) {
	switch {
	case s.CUDA:
		return DeviceCUDA, true
	case s.DirectML:
		return DeviceDirectML, true
	default:
		return DeviceCPU, false
	}
}

// Session is one compiled graph. Implementations are not safe for concurrent
// Run calls; callers serialize access.
type Session interface {
	// Run executes the graph. inputs follow the session's input order and the
	// returned outputs follow its output order.
	Run(ctx context.Context, inputs []*Tensor) ([]*Tensor, error)
	Close() error
}

// Backend compiles model bytes into sessions.
type Backend interface {
	// NewSession compiles model and returns the session with the signature
	// it actually exposes.
	NewSession(model []byte, opts SessionOptions) (Session, Signature, error)
	// SupportedDevices probes execution providers. It never fails; a provider
	// that cannot be initialized is reported as unavailable.
	SupportedDevices() Devices
}
