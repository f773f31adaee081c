package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/go-voicevox-core/internal/voicemodel"
)

func newModelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Voice model package inspection and verification commands",
	}

	cmd.AddCommand(newModelListCmd())
	cmd.AddCommand(newModelVerifyCmd())
	return cmd
}

func newModelListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List voice model packages in the model dir",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			paths, err := voicemodel.Discover(cfg.Paths.ModelDir)
			if err != nil {
				return err
			}
			for _, p := range paths {
				pkg, err := voicemodel.Open(p)
				if err != nil {
					fmt.Fprintf(os.Stdout, "%s\tinvalid: %v\n", p, err)
					continue
				}
				fmt.Fprintf(os.Stdout, "%s\t%s\t%d characters\n", pkg.ID(), p, len(pkg.Metas))
				_ = pkg.Close()
			}
			return nil
		},
	}
}
