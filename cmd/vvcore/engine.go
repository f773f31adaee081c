package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/example/go-voicevox-core/internal/config"
	"github.com/example/go-voicevox-core/internal/onnx"
	"github.com/example/go-voicevox-core/internal/synth"
	"github.com/example/go-voicevox-core/internal/voicemodel"
)

// newBackend is replaced in tests with a fake backend.
var newBackend = func(cfg config.RuntimeConfig) (onnx.Backend, error) {
	return onnx.NewORTBackend(cfg)
}

// openSynthesizer builds a synthesizer from cfg and loads every package
// found in the model directory. The caller closes it.
func openSynthesizer(ctx context.Context, cfg config.Config) (*synth.Synthesizer, error) {
	opts, err := synth.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	opts.Logger = slog.Default()

	backend, err := newBackend(cfg.Runtime)
	if err != nil {
		return nil, err
	}

	s, err := synth.New(backend, opts)
	if err != nil {
		return nil, err
	}

	paths, err := voicemodel.Discover(cfg.Paths.ModelDir)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if len(paths) == 0 {
		slog.Warn("no voice model packages found", "dir", cfg.Paths.ModelDir)
	}
	for _, p := range paths {
		id, err := s.LoadModelFromPath(ctx, p)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("load %s: %w", p, err)
		}
		slog.Info("voice model loaded", "path", p, "id", id.String())
	}
	return s, nil
}
