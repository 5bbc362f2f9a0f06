package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/openshelf/openshelf/internal/server"
	"github.com/openshelf/openshelf/internal/version"
)

func main() {
	var configFile string
	var addr string
	var librariesDir string

	handler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	slog.SetDefault(slog.New(handler))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:     "openshelf-server",
		Short:   "OpenShelf library server",
		Version: version.Detailed(),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			// .env is optional, env vars override the yaml config
			_ = godotenv.Load()

			config, err := server.LoadConfig(configFile)
			if err != nil {
				return err
			}
			if cmd.Flag("bind").Changed {
				config.HTTP.Addr = addr
			}
			if cmd.Flag("libraries").Changed {
				config.LibrariesDir = librariesDir
			}
			if err := config.Validate(); err != nil {
				return err
			}

			slog.Info("openshelf-server", "version", version.Version, "revision", version.Revision, "build", version.BuildDate)

			s, err := server.New(config)
			if err != nil {
				return err
			}

			defer slog.Info("Bye!")
			if err := s.Start(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("server start", "error", err)
				return err
			}
			return nil
		},
	}

	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to the yaml config file")
	rootCmd.Flags().StringVarP(&addr, "bind", "b", server.DefaultAddr, "Address to bind the server")
	rootCmd.Flags().StringVarP(&librariesDir, "libraries", "L", "", "Directory holding one subdirectory per library")

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
