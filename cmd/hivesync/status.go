package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

const timePrecision = time.Millisecond

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the local database's sync state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			pending, err := store.PendingCount(ctx)
			if err != nil {
				return err
			}
			watermark, err := store.Watermark(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("database:        %s\n", cfg.DatabasePath)
			fmt.Printf("server:          %s\n", cfg.ServerURL)
			fmt.Printf("pending records: %d\n", pending)
			if watermark.IsZero() {
				fmt.Println("last pull:       never")
			} else {
				fmt.Printf("last pull:       %s\n", watermark.Time().Format(time.RFC3339))
			}
			return nil
		},
	}
}
