package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/go-voicevox-core/internal/server"
	"github.com/example/go-voicevox-core/internal/synth"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the synthesis HTTP server",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			s, err := openSynthesizer(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			async := synth.NewAsync(s, cfg.Synthesis.Workers)
			srv := server.New(cfg, async).WithLogger(slog.Default())

			return srv.Start(ctx)
		},
	}

	return cmd
}
