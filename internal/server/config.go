package server

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultAddr      = "127.0.0.1:8090"
	DefaultDBPath    = "openshelf.db"
	DefaultRateLimit = "600-M" // manifest polling is chatty but cheap
)

type Config struct {
	HTTP         HttpServerConfig `yaml:"http"`
	LibrariesDir string           `yaml:"libraries_dir"`
	DBPath       string           `yaml:"db_path"`
	RateLimit    string           `yaml:"rate_limit"`
}

type HttpServerConfig struct {
	Addr     string `yaml:"addr"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LoadConfig reads a YAML config and applies environment overrides, so a
// containerized deployment can run without a config file at all.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		HTTP:      HttpServerConfig{Addr: DefaultAddr},
		DBPath:    DefaultDBPath,
		RateLimit: DefaultRateLimit,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg.HTTP.Addr, "OPENSHELF_HTTP_ADDR")
	applyEnv(&cfg.LibrariesDir, "OPENSHELF_LIBRARIES_DIR")
	applyEnv(&cfg.DBPath, "OPENSHELF_DB_PATH")
	applyEnv(&cfg.RateLimit, "OPENSHELF_RATE_LIMIT")

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.LibrariesDir == "" {
		return fmt.Errorf("libraries_dir is required")
	}
	return nil
}

func applyEnv(target *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*target = v
	}
}
