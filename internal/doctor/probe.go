//go:build !windows

package doctor

import (
	"fmt"

	ort "github.com/shota3506/onnxruntime-purego/onnxruntime"
)

// DefaultAPIVersion is the ONNX Runtime C API version ProbeRuntime asks for.
const DefaultAPIVersion = 23

// ProbeRuntime loads the ONNX Runtime library at path in isolation and
// creates an environment with it.
func ProbeRuntime(path string, apiVersion uint32) error {
	if apiVersion == 0 {
		apiVersion = DefaultAPIVersion
	}
	runtime, err := ort.NewRuntime(path, apiVersion)
	if err != nil {
		return fmt.Errorf("load %s (api %d): %w", path, apiVersion, err)
	}
	defer func() { _ = runtime.Close() }()

	env, err := runtime.NewEnv("vvcore-doctor", ort.LoggingLevelWarning)
	if err != nil {
		return fmt.Errorf("create environment: %w", err)
	}
	env.Close()
	return nil
}
