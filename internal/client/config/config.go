package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/openshelf/openshelf/internal/utils"
)

var (
	home, _            = os.UserHomeDir()
	DefaultConfigPath  = filepath.Join(home, ".openshelf", "config.json")
	DefaultDataDir     = filepath.Join(home, "OpenShelf")
	DefaultLogFilePath = filepath.Join(home, ".openshelf", "logs", "client.log")
)

type Config struct {
	DataDir      string   `json:"data_dir"`
	ServerURL    string   `json:"server_url"`
	Libraries    []string `json:"libraries"`
	SyncInterval Duration `json:"sync_interval"`
	Workers      int      `json:"workers"`
	MaxAttempts  int      `json:"max_attempts"`

	Path string `json:"-"`
}

// Duration marshals as a human-readable string ("30s", "5m").
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if c.ServerURL == "" {
		return errors.New("server_url is required")
	}
	if len(c.Libraries) == 0 {
		return errors.New("at least one library id is required")
	}
	return nil
}

func (c *Config) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir
	}
	cfg.Path = path

	return &cfg, nil
}
