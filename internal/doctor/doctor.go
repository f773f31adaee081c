// Package doctor provides environment preflight checks for vvcore.
package doctor

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/example/go-voicevox-core/internal/onnx"
	"github.com/example/go-voicevox-core/internal/voicemodel"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// MinRuntimeMinor is the oldest supported ONNX Runtime 1.x minor version.
const MinRuntimeMinor = 17

// VersionFunc returns a version string or an error if the component is unavailable.
type VersionFunc func() (string, error)

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// RuntimeVersion returns the detected ONNX Runtime version, or
	// "unknown" when the library was found but its version was not.
	RuntimeVersion VersionFunc
	// SkipRuntime skips every runtime check.
	SkipRuntime bool
	// RuntimeSmoke loads the runtime library and creates an environment.
	RuntimeSmoke func() error
	// Devices reports the execution providers the runtime offers.
	Devices func() onnx.Devices
	// ModelDir is scanned for voice model packages when set.
	ModelDir string
	// OpenPackage validates one package. Nil skips per-package checks.
	OpenPackage func(path string) error
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	// ---- onnx runtime -----------------------------------------------------
	if cfg.SkipRuntime {
		fmt.Fprintf(w, "%s onnx runtime: skipped\n", PassMark)
	} else {
		runtimeChecks(cfg, w, &res)
	}

	// ---- voice models -----------------------------------------------------
	if cfg.ModelDir != "" {
		modelChecks(cfg, w, &res)
	}

	return res
}

func runtimeChecks(cfg Config, w io.Writer, res *Result) {
	ver, err := cfg.RuntimeVersion()
	switch {
	case err != nil:
		res.fail(fmt.Sprintf("onnx runtime: %v", err))
		fmt.Fprintf(w, "%s onnx runtime: not found (%v)\n", FailMark, err)
		return
	case ver == "" || ver == "unknown":
		fmt.Fprintf(w, "%s onnx runtime: found (version unknown)\n", PassMark)
	default:
		if verErr := checkRuntimeVersion(ver); verErr != nil {
			res.fail(fmt.Sprintf("onnx runtime version: %v", verErr))
			fmt.Fprintf(w, "%s onnx runtime %s: %v\n", FailMark, ver, verErr)
		} else {
			fmt.Fprintf(w, "%s onnx runtime: %s\n", PassMark, ver)
		}
	}

	if cfg.RuntimeSmoke != nil {
		if err := cfg.RuntimeSmoke(); err != nil {
			res.fail(fmt.Sprintf("onnx runtime load: %v", err))
			fmt.Fprintf(w, "%s onnx runtime load: %v\n", FailMark, err)
		} else {
			fmt.Fprintf(w, "%s onnx runtime load: ok\n", PassMark)
		}
	}

	if cfg.Devices != nil {
		fmt.Fprintf(w, "%s devices: %s\n", PassMark, deviceList(cfg.Devices()))
	}
}

func modelChecks(cfg Config, w io.Writer, res *Result) {
	paths, err := voicemodel.Discover(cfg.ModelDir)
	if err != nil {
		res.fail(fmt.Sprintf("model dir %q: %v", cfg.ModelDir, err))
		fmt.Fprintf(w, "%s model dir %s: %v\n", FailMark, cfg.ModelDir, err)
		return
	}
	if len(paths) == 0 {
		res.fail(fmt.Sprintf("model dir %q: no voice model packages", cfg.ModelDir))
		fmt.Fprintf(w, "%s model dir %s: no voice model packages\n", FailMark, cfg.ModelDir)
		return
	}
	fmt.Fprintf(w, "%s model dir: %s (%d packages)\n", PassMark, cfg.ModelDir, len(paths))

	if cfg.OpenPackage == nil {
		return
	}
	for _, p := range paths {
		if err := cfg.OpenPackage(p); err != nil {
			res.fail(fmt.Sprintf("voice model %q: %v", p, err))
			fmt.Fprintf(w, "%s voice model %s: %v\n", FailMark, p, err)
		} else {
			fmt.Fprintf(w, "%s voice model: %s\n", PassMark, p)
		}
	}
}

func deviceList(d onnx.Devices) string {
	names := []string{"cpu"}
	if d.CUDA {
		names = append(names, "cuda")
	}
	if d.DirectML {
		names = append(names, "dml")
	}
	return strings.Join(names, ", ")
}

// checkRuntimeVersion returns an error unless ver is 1.x with x at least
// MinRuntimeMinor. ver is expected to be a string like "1.23.2".
func checkRuntimeVersion(ver string) error {
	major, minor, err := parseMajorMinor(ver)
	if err != nil {
		return fmt.Errorf("cannot parse %q: %w", ver, err)
	}
	if major != 1 {
		return fmt.Errorf("requires ONNX Runtime 1.x, got %d", major)
	}
	if minor < MinRuntimeMinor {
		return fmt.Errorf("requires ONNX Runtime >=1.%d, got 1.%d", MinRuntimeMinor, minor)
	}
	return nil
}

func parseMajorMinor(ver string) (major, minor int, err error) {
	parts := strings.SplitN(ver, ".", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("unexpected version format %q", ver)
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad major in %q: %w", ver, err)
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("bad minor in %q: %w", ver, err)
	}
	return major, minor, nil
}
