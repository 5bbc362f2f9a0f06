package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/openshelf/openshelf/internal/client"
)

func init() {
	rootCmd.AddCommand(newVerifyCmd())
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Re-hash every synced file and demote mismatches for repair",
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

			demoted, err := c.VerifyOnce(cmd.Context())
			for libraryID, paths := range demoted {
				if len(paths) == 0 {
					slog.Info("library verified clean", "library", libraryID)
					continue
				}
				slog.Warn("library has corrupt files, run sync to repair",
					"library", libraryID, "paths", paths)
			}
			return err
		},
	}
}
