// Package testutil provides shared helpers for tests: skip helpers for
// integration prerequisites, a deterministic fake inference backend, voice
// model package builders and WAV assertions.
//
// Skip helpers call t.Skip with a readable reason when the named
// prerequisite is absent, so integration tests stay runnable in partial
// environments without failing noisily.
//
// Typical usage:
//
//	func TestMyIntegration(t *testing.T) {
//	    lib := testutil.RequireONNXRuntime(t)
//	    vvm := testutil.RequireVoiceModel(t)
//	    ...
//	}
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// RequireONNXRuntime skips the test if no ONNX Runtime shared library can be
// located and otherwise returns its path. It checks (in order): the
// VVCORE_ORT_LIB env var, then ORT_LIBRARY_PATH, then common system paths.
func RequireONNXRuntime(tb testing.TB) string {
	tb.Helper()

	for _, env := range []string{"VVCORE_ORT_LIB", "ORT_LIBRARY_PATH"} {
		if p := os.Getenv(env); p != "" {
			// #nosec G703 -- Integration tests intentionally accept explicit env-provided local library paths.
			if _, err := os.Stat(p); err == nil {
				return p
			}
			tb.Skipf("ONNX Runtime library not found at %s=%q", env, p)
			return ""
		}
	}

	candidates := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
		"/opt/homebrew/lib/libonnxruntime.dylib",
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	tb.Skip("ONNX Runtime shared library not found; set VVCORE_ORT_LIB or ORT_LIBRARY_PATH")
	return ""
}

// RequireVoiceModel skips the test unless a real voice model package is
// available, and returns its path. VVCORE_TEST_VVM overrides the default
// location models/sample.vvm relative to the repository root.
func RequireVoiceModel(tb testing.TB) string {
	tb.Helper()

	p := os.Getenv("VVCORE_TEST_VVM")
	if p == "" {
		p = filepath.Join(repoRoot(), "models", "sample.vvm")
	}
	if _, err := os.Stat(p); err != nil {
		tb.Skipf("voice model not available at %q; set VVCORE_TEST_VVM", p)
	}
	return p
}

// repoRoot walks up from the working directory to the directory holding
// go.mod. Tests run from their package directory.
func repoRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "."
		}
		dir = parent
	}
}
