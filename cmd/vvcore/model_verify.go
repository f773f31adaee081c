package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/go-voicevox-core/internal/voicemodel"
)

// runVerify is replaced in tests.
var runVerify = voicemodel.Verify

func newModelVerifyCmd() *cobra.Command {
	var ortAPIVersion uint32

	cmd := &cobra.Command{
		Use:   "verify <package>",
		Short: "Load every model of a package in ONNX Runtime and run a smoke inference",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			err = runVerify(voicemodel.VerifyOptions{
				PackagePath:   args[0],
				ORTLibrary:    cfg.Runtime.ORTLibraryPath,
				ORTAPIVersion: ortAPIVersion,
				Stdout:        os.Stdout,
				Stderr:        os.Stderr,
			})
			if err != nil {
				return fmt.Errorf("model verify failed: %w", err)
			}

			return nil
		},
	}

	cmd.Flags().Uint32Var(&ortAPIVersion, "ort-api-version", 23, "ONNX Runtime C API version expected by the purego binding")

	return cmd
}
