package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/go-voicevox-core/internal/voicemodel"
)

func newMorphCmd() *cobra.Command {
	var queryPath string
	var out string
	var base uint32
	var target uint32
	var rate float32

	cmd := &cobra.Command{
		Use:   "morph",
		Short: "Synthesize an AudioQuery blending two styles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			query, err := readQuery(queryPath, os.Stdin)
			if err != nil {
				return err
			}

			s, err := openSynthesizer(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			wav, err := s.Morph(cmd.Context(), query, voicemodel.StyleID(base), voicemodel.StyleID(target), rate)
			if err != nil {
				return fmt.Errorf("morph failed: %w", err)
			}

			return writeSynthOutput(out, wav, os.Stdout)
		},
	}

	cmd.Flags().StringVar(&queryPath, "query", "-", "AudioQuery JSON path ('-' for stdin)")
	cmd.Flags().StringVar(&out, "out", "out.wav", "Output WAV path ('-' for stdout)")
	cmd.Flags().Uint32Var(&base, "base", 0, "Base style ID")
	cmd.Flags().Uint32Var(&target, "target", 0, "Target style ID")
	cmd.Flags().Float32Var(&rate, "rate", 0.5, "Morph rate in [0, 1]; 0 keeps the base voice")

	return cmd
}
