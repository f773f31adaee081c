package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/go-voicevox-core/internal/audio"
	"github.com/example/go-voicevox-core/internal/engine"
	"github.com/example/go-voicevox-core/internal/synth"
	"github.com/example/go-voicevox-core/internal/voicemodel"
)

func newSynthCmd() *cobra.Command {
	var queryPath string
	var out string
	var style uint32
	var upspeak bool
	var fillMoraData bool
	var startFrame int
	var endFrame int

	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Synthesize an AudioQuery JSON document to WAV",
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

			id := voicemodel.StyleID(style)
			opts := s.DefaultSynthesisOptions()
			if cmd.Flags().Changed("upspeak") {
				opts.EnableInterrogativeUpspeak = upspeak
			}

			if fillMoraData {
				query.AccentPhrases, err = s.ReplaceMoraData(cmd.Context(), query.AccentPhrases, id)
				if err != nil {
					return fmt.Errorf("synth failed: %w", err)
				}
			}

			var wav []byte
			if cmd.Flags().Changed("end-frame") {
				wav, err = renderRange(cmd, s, query, id, opts, startFrame, endFrame)
			} else {
				wav, err = s.Synthesize(cmd.Context(), query, id, opts)
			}
			if err != nil {
				return fmt.Errorf("synth failed: %w", err)
			}

			return writeSynthOutput(out, wav, os.Stdout)
		},
	}

	cmd.Flags().StringVar(&queryPath, "query", "-", "AudioQuery JSON path ('-' for stdin)")
	cmd.Flags().StringVar(&out, "out", "out.wav", "Output WAV path ('-' for stdout)")
	cmd.Flags().Uint32Var(&style, "style", 0, "Style ID to synthesize with")
	cmd.Flags().BoolVar(&upspeak, "upspeak", true, "Raise pitch at the end of interrogative phrases (default from config)")
	cmd.Flags().BoolVar(&fillMoraData, "fill-mora-data", false, "Predict lengths and pitches before synthesis")
	cmd.Flags().IntVar(&startFrame, "start-frame", 0, "First frame to render (requires --end-frame)")
	cmd.Flags().IntVar(&endFrame, "end-frame", 0, "Render frames [start, end) through the incremental path")

	return cmd
}

// renderRange synthesizes a frame range through PrecomputeRender and Render
// and wraps the PCM in a WAV header.
func renderRange(cmd *cobra.Command, s *synth.Synthesizer, q engine.AudioQuery, style voicemodel.StyleID,
	opts synth.SynthesisOptions, start, end int,
) ([]byte, error) {
	feature, err := s.PrecomputeRender(cmd.Context(), q, style, opts)
	if err != nil {
		return nil, err
	}
	pcm, err := s.Render(cmd.Context(), feature, start, end)
	if err != nil {
		return nil, err
	}
	return audio.WAVFromPCM16LE(pcm, audio.Format{SampleRate: int(q.OutputSamplingRate), Stereo: q.OutputStereo, Volume: q.VolumeScale})
}

func readQuery(path string, stdin io.Reader) (engine.AudioQuery, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" || path == "" {
		data, err = io.ReadAll(stdin)
		if err != nil {
			return engine.AudioQuery{}, fmt.Errorf("read stdin: %w", err)
		}
	} else {
		data, err = os.ReadFile(path)
		if err != nil {
			return engine.AudioQuery{}, fmt.Errorf("read query: %w", err)
		}
	}
	if len(data) == 0 {
		return engine.AudioQuery{}, fmt.Errorf("either provide --query or pipe a query on stdin")
	}
	return engine.DecodeAudioQuery(data)
}

func writeSynthOutput(outPath string, wavData []byte, stdout io.Writer) error {
	if outPath == "-" {
		if stdout == nil {
			return fmt.Errorf("stdout writer is nil")
		}
		_, err := stdout.Write(wavData)
		return err
	}
	return os.WriteFile(outPath, wavData, 0o644)
}
