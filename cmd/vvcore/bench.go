package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/go-voicevox-core/internal/bench"
	"github.com/example/go-voicevox-core/internal/voicemodel"
)

func newBenchCmd() *cobra.Command {
	var (
		queryPath    string
		style        uint32
		runs         int
		format       string
		rtfThreshold float64
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark synthesis latency and realtime factor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if runs < 1 {
				return fmt.Errorf("--runs must be at least 1")
			}
			if format != "table" && format != "json" {
				return fmt.Errorf("--format must be 'table' or 'json'")
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
			results, err := bench.Run(cmd.Context(), runs, func(ctx context.Context) ([]byte, error) {
				aps, err := s.ReplaceMoraData(ctx, query.AccentPhrases, id)
				if err != nil {
					return nil, err
				}
				q := query
				q.AccentPhrases = aps
				return s.Synthesize(ctx, q, id, opts)
			})
			if err != nil {
				return err
			}

			stats := bench.ComputeStats(results)
			switch format {
			case "json":
				if err := bench.FormatJSON(results, stats, os.Stdout); err != nil {
					return err
				}
			default:
				bench.FormatTable(results, stats, os.Stdout)
			}

			return bench.CheckRTFThreshold(stats.MeanRTF, rtfThreshold)
		},
	}

	cmd.Flags().StringVar(&queryPath, "query", "-", "AudioQuery JSON path ('-' for stdin)")
	cmd.Flags().Uint32Var(&style, "style", 0, "Style ID to synthesize with")
	cmd.Flags().IntVar(&runs, "runs", 5, "Number of synthesis runs")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table|json")
	cmd.Flags().Float64Var(&rtfThreshold, "rtf-threshold", 0, "Exit non-zero if mean RTF exceeds this value (0 = disabled)")

	return cmd
}
