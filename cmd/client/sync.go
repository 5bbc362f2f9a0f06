package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/openshelf/openshelf/internal/client"
)

func init() {
	rootCmd.AddCommand(newSyncCmd())
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle for every configured library and exit",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromViper()
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			c, err := client.New(cfg)
			if err != nil {
				return err
			}

			// live progress on the terminal while the cycle runs
			for _, libraryID := range cfg.Libraries {
				progress := c.Engine().Progress(libraryID)
				ch := progress.Subscribe()
				go func() {
					for ev := range ch {
						if ev.TotalBytes > 0 {
							fmt.Printf("\r%s  eta %s    ", ev, ev.ETA.Round(1e9))
						}
					}
				}()
			}

			results, err := c.SyncOnce(cmd.Context())
			fmt.Println()
			var abandoned int
			for _, result := range results {
				abandoned += len(result.AbandonedPaths)
				slog.Info("sync result",
					"library", result.LibraryID,
					"succeeded", result.Succeeded,
					"skipped", result.Skipped,
					"committed", result.Committed,
					"removed", result.Removed,
					"failed", result.FailedPaths,
					"abandoned", result.AbandonedPaths)
			}
			if err != nil {
				return err
			}
			if abandoned > 0 {
				return fmt.Errorf("%d file(s) abandoned, see log for details", abandoned)
			}
			return nil
		},
	}
}
