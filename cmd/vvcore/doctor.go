package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/go-voicevox-core/internal/config"
	"github.com/example/go-voicevox-core/internal/doctor"
	"github.com/example/go-voicevox-core/internal/onnx"
	"github.com/example/go-voicevox-core/internal/voicemodel"
)

// runtimeProbe is replaced in tests.
var runtimeProbe = doctor.ProbeRuntime

func newDoctorCmd() *cobra.Command {
	var skipRuntime bool
	var verifyModels bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run local runtime and model checks",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			dcfg := doctorConfig(cfg, skipRuntime)
			if verifyModels && !skipRuntime {
				dcfg.OpenPackage = func(path string) error {
					return runVerify(voicemodel.VerifyOptions{
						PackagePath: path,
						ORTLibrary:  cfg.Runtime.ORTLibraryPath,
						Stdout:      io.Discard,
						Stderr:      os.Stderr,
					})
				}
			}

			result := doctor.Run(dcfg, os.Stdout)
			if result.Failed() {
				for _, f := range result.Failures() {
					fmt.Fprintf(os.Stderr, "FAIL: %s\n", f)
				}

				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(os.Stdout, "doctor checks passed")

			return nil
		},
	}

	cmd.Flags().BoolVar(&skipRuntime, "skip-runtime", false, "Skip ONNX Runtime checks")
	cmd.Flags().BoolVar(&verifyModels, "verify-models", false, "Run a smoke inference on every package")

	return cmd
}

func doctorConfig(cfg config.Config, skipRuntime bool) doctor.Config {
	var info onnx.RuntimeInfo
	return doctor.Config{
		SkipRuntime: skipRuntime,
		RuntimeVersion: func() (string, error) {
			var err error
			info, err = onnx.DetectRuntime(cfg.Runtime)
			if err != nil {
				return "", err
			}
			if info.Version == "" {
				return "unknown", nil
			}
			return info.Version, nil
		},
		RuntimeSmoke: func() error {
			return runtimeProbe(info.LibraryPath, doctor.DefaultAPIVersion)
		},
		Devices: func() onnx.Devices {
			backend, err := newBackend(cfg.Runtime)
			if err != nil {
				return onnx.Devices{CPU: true}
			}
			return backend.SupportedDevices()
		},
		ModelDir: cfg.Paths.ModelDir,
		OpenPackage: func(path string) error {
			pkg, err := voicemodel.Open(path)
			if err != nil {
				return err
			}
			return pkg.Close()
		},
	}
}
