package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hivemark/hivesync/metrics"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			engine, err := buildEngine(cfg, metrics.Noop{})
			if err != nil {
				return err
			}
			defer engine.Close()

			result, err := engine.Synchronize(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("pulled %d, pushed %d, watermark %s (%s)\n",
				result.Pulled, result.Pushed, result.Watermark, result.Duration.Round(timePrecision))
			return nil
		},
	}
}
