//go:build !windows

package voicemodel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/example/go-voicevox-core/internal/infer"
	"github.com/example/go-voicevox-core/internal/onnx"
	ort "github.com/shota3506/onnxruntime-purego/onnxruntime"
)

type VerifyOptions struct {
	PackagePath   string
	ORTLibrary    string
	ORTAPIVersion uint32
	Stdout        io.Writer
	Stderr        io.Writer
}

var runNativeVerify = runNativeVerifyImpl

// Verify opens the package at opts.PackagePath, then loads every model file
// in a fresh ONNX Runtime and runs each operation once on a small probe
// input. Operations without a fixed probe shape are only loaded.
func Verify(opts VerifyOptions) error {
	if opts.PackagePath == "" {
		return errors.New("package path is required")
	}
	if opts.ORTAPIVersion == 0 {
		opts.ORTAPIVersion = 23
	}
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}

	pkg, err := Open(opts.PackagePath)
	if err != nil {
		return err
	}
	defer func() { _ = pkg.Close() }()

	var models []verifyModel
	for _, d := range pkg.Manifest.Domains() {
		data, err := pkg.ModelData(d)
		if err != nil {
			return err
		}
		for _, op := range d.Operations() {
			models = append(models, verifyModel{name: d.String() + "/" + op.String(), op: op, data: data[op]})
		}
	}

	return runNativeVerify(models, opts)
}

type verifyModel struct {
	name string
	op   infer.Operation
	data []byte
}

func runNativeVerifyImpl(models []verifyModel, opts VerifyOptions) error {
	runtime, err := ort.NewRuntime(opts.ORTLibrary, opts.ORTAPIVersion)
	if err != nil {
		return fmt.Errorf("initialize ONNX Runtime (lib=%q api=%d): %w", opts.ORTLibrary, opts.ORTAPIVersion, err)
	}
	defer func() { _ = runtime.Close() }()

	env, err := runtime.NewEnv("vvcore-model-verify", ort.LoggingLevelWarning)
	if err != nil {
		return fmt.Errorf("create ONNX Runtime env: %w", err)
	}
	defer env.Close()

	var failures []string
	for _, m := range models {
		if err := runModelSmoke(context.Background(), runtime, env, m); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "FAIL %s: %v\n", m.name, err)
			failures = append(failures, m.name)
			continue
		}
		_, _ = fmt.Fprintf(opts.Stdout, "PASS %s\n", m.name)
	}

	if len(failures) > 0 {
		return fmt.Errorf("verify failed for %d model(s): %s", len(failures), strings.Join(failures, ", "))
	}
	return nil
}

func runModelSmoke(ctx context.Context, runtime *ort.Runtime, env *ort.Env, m verifyModel) error {
	s, err := runtime.NewSessionFromReader(env, bytes.NewReader(m.data), nil)
	if err != nil {
		return fmt.Errorf("load session model: %w", err)
	}
	defer s.Close()

	probe := probeInputs(m.op)
	if probe == nil {
		return nil
	}

	sig := m.op.Signature()
	inputs := make(map[string]*ort.Value, len(probe))
	defer func() {
		for _, v := range inputs {
			v.Close()
		}
	}()
	for i, t := range probe {
		name := sig.Inputs[i].Name
		v, err := tensorToORTValue(runtime, t)
		if err != nil {
			return fmt.Errorf("convert input %q to runtime tensor: %w", name, err)
		}
		inputs[name] = v
	}

	outputs, err := s.Run(ctx, inputs)
	if err != nil {
		return fmt.Errorf("run inference: %w", err)
	}
	for _, out := range outputs {
		out.Close()
	}
	return nil
}

func tensorToORTValue(runtime *ort.Runtime, t *onnx.Tensor) (*ort.Value, error) {
	switch data := t.Data().(type) {
	case []float32:
		return ort.NewTensorValue(runtime, data, t.Shape())
	case []int64:
		return ort.NewTensorValue(runtime, data, t.Shape())
	default:
		return nil, fmt.Errorf("unsupported tensor backing type %T", data)
	}
}
