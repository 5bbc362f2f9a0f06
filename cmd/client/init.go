package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openshelf/openshelf/internal/client/config"
)

func init() {
	rootCmd.AddCommand(newInitCmd())
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a config file from the given flags",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromViper()
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			if cfg.SyncInterval == 0 {
				cfg.SyncInterval = config.Duration(30 * time.Second)
			}

			path, _ := cmd.Flags().GetString("config")
			if err := cfg.Save(path); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Printf("config written to %s\n", path)
			return nil
		},
	}
}
