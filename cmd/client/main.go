package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openshelf/openshelf/internal/client"
	"github.com/openshelf/openshelf/internal/client/config"
	"github.com/openshelf/openshelf/internal/utils"
	"github.com/openshelf/openshelf/internal/version"
)

const configFileName = "config"

var (
	home, _          = os.UserHomeDir()
	defaultServerURL = "http://localhost:8090"
)

var rootCmd = &cobra.Command{
	Use:     "openshelf",
	Short:   "OpenShelf library sync client",
	Version: version.Detailed(),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := configFromViper()
		if err != nil {
			return err
		}

		cmd.SilenceUsage = true
		slog.Info("openshelf", "version", version.Version, "revision", version.Revision, "build", version.BuildDate)

		c, err := client.New(cfg)
		if err != nil {
			return err
		}

		defer slog.Info("Bye!")
		if err := c.Start(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "OpenShelf config file")
	rootCmd.PersistentFlags().StringP("datadir", "d", config.DefaultDataDir, "OpenShelf data directory")
	rootCmd.PersistentFlags().StringP("server", "s", defaultServerURL, "OpenShelf server URL")
	rootCmd.PersistentFlags().StringSliceP("library", "l", nil, "Library id to sync (repeatable)")
	rootCmd.PersistentFlags().DurationP("interval", "i", 30*time.Second, "Sync interval for the watch loop")
}

func loadConfig(cmd *cobra.Command) error {
	if cmd.Flag("config").Changed {
		configFilePath, _ := cmd.Flags().GetString("config")
		viper.SetConfigFile(configFilePath)
	} else {
		viper.AddConfigPath(filepath.Join(home, ".openshelf"))
		viper.AddConfigPath(filepath.Join(home, ".config/openshelf"))
		viper.SetConfigName(configFileName)
		viper.SetConfigType("json")
	}

	if err := viper.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !enoent && !notFound {
			return fmt.Errorf("config read '%s': %w", viper.ConfigFileUsed(), err)
		}
	}

	viper.BindPFlag("data_dir", cmd.Flags().Lookup("datadir"))
	viper.BindPFlag("server_url", cmd.Flags().Lookup("server"))
	viper.BindPFlag("libraries", cmd.Flags().Lookup("library"))
	viper.BindPFlag("sync_interval", cmd.Flags().Lookup("interval"))

	viper.SetEnvPrefix("OPENSHELF")
	viper.AutomaticEnv()

	return nil
}

func configFromViper() (*config.Config, error) {
	cfg := &config.Config{
		Path:         viper.ConfigFileUsed(),
		DataDir:      viper.GetString("data_dir"),
		ServerURL:    viper.GetString("server_url"),
		Libraries:    viper.GetStringSlice("libraries"),
		SyncInterval: config.Duration(viper.GetDuration("sync_interval")),
		Workers:      viper.GetInt("workers"),
		MaxAttempts:  viper.GetInt("max_attempts"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	logFile := config.DefaultLogFilePath

	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create log directory: %v\n", err)
		os.Exit(1)
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	stdoutHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})

	logger := slog.New(utils.NewMultiLogHandler(stdoutHandler, fileHandler))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
