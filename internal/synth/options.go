package synth

import (
	"fmt"
	"log/slog"

	"github.com/example/go-voicevox-core/internal/config"
	"github.com/example/go-voicevox-core/internal/engine"
)

// AccelerationMode selects where vocoder-class operations run.
type AccelerationMode int

const (
	AccelerationAuto AccelerationMode = iota
	AccelerationCPU
	AccelerationGPU
)

func (m AccelerationMode) String() string {
	switch m {
	case AccelerationAuto:
		return config.AccelerationAuto
	case AccelerationCPU:
		return config.AccelerationCPU
	case AccelerationGPU:
		return config.AccelerationGPU
	default:
		return fmt.Sprintf("acceleration(%d)", int(m))
	}
}

// ParseAccelerationMode accepts the spellings config.NormalizeAcceleration
// does.
func ParseAccelerationMode(raw string) (AccelerationMode, error) {
	mode, err := config.NormalizeAcceleration(raw)
	if err != nil {
		return 0, err
	}
	switch mode {
	case config.AccelerationCPU:
		return AccelerationCPU, nil
	case config.AccelerationGPU:
		return AccelerationGPU, nil
	default:
		return AccelerationAuto, nil
	}
}

type Options struct {
	AccelerationMode AccelerationMode
	// CPUNumThreads is the intra-op thread count; 0 keeps the runtime
	// default.
	CPUNumThreads  int
	InterOpThreads int
	// GPUPoolSize is the number of sessions compiled per heavy operation in
	// GPU mode.
	GPUPoolSize int
	// EnableInterrogativeUpspeak is the default for DefaultSynthesisOptions.
	EnableInterrogativeUpspeak bool
	TextAnalyzer               engine.TextAnalyzer
	Logger                     *slog.Logger
}

func DefaultOptions() Options {
	return Options{GPUPoolSize: 1, EnableInterrogativeUpspeak: true}
}

// OptionsFromConfig maps the runtime and synthesis sections of cfg.
func OptionsFromConfig(cfg config.Config) (Options, error) {
	mode, err := ParseAccelerationMode(cfg.Runtime.Acceleration)
	if err != nil {
		return Options{}, err
	}
	return Options{
		AccelerationMode:           mode,
		CPUNumThreads:              cfg.Runtime.Threads,
		InterOpThreads:             cfg.Runtime.InterOpThreads,
		GPUPoolSize:                cfg.Runtime.GPUPoolSize,
		EnableInterrogativeUpspeak: cfg.Synthesis.InterrogativeUpspeak,
	}, nil
}

// SynthesisOptions tunes one synthesis call.
type SynthesisOptions struct {
	EnableInterrogativeUpspeak bool
}

// TTSOptions tunes text-to-speech calls.
type TTSOptions struct {
	EnableInterrogativeUpspeak bool
}

func (o TTSOptions) synthesis() SynthesisOptions {
	return SynthesisOptions(o)
}
