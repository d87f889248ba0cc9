// Package config loads the TOML configuration of the loan ledger runtime.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the on-disk TOML configuration. Section defaults are applied by
// Load, so a minimal file only needs the values it overrides.
type Config struct {
	Ledger    Ledger    `toml:"ledger"`
	Oracle    Oracle    `toml:"oracle"`
	Pauses    Pauses    `toml:"pauses"`
	Reporting Reporting `toml:"reporting"`
}

// Load reads the configuration from the given path, creating a default file
// when none exists, and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults(path)

	if err := ValidateConfig(cfg.Global()); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Global converts the file sections into the validated runtime bundle.
func (c *Config) Global() Global {
	return Global{
		Ledger:    c.Ledger,
		Oracle:    c.Oracle,
		Pauses:    c.Pauses,
		Reporting: c.Reporting,
	}
}

func (c *Config) applyDefaults(path string) {
	base := filepath.Dir(path)
	if strings.TrimSpace(c.Ledger.DataDir) == "" {
		c.Ledger.DataDir = filepath.Join(base, "data")
	}
	if c.Ledger.CurrencyDecimals == 0 {
		c.Ledger.CurrencyDecimals = 6
	}
	if c.Oracle.MaxAgeSeconds == 0 {
		c.Oracle.MaxAgeSeconds = 600
	}
	if len(c.Oracle.Priority) == 0 {
		c.Oracle.Priority = []string{"manual"}
	}
	if strings.TrimSpace(c.Reporting.DSN) == "" {
		c.Reporting.DSN = filepath.Join(base, "reporting.db")
	}
	if strings.TrimSpace(c.Reporting.ExportDir) == "" {
		c.Reporting.ExportDir = filepath.Join(base, "exports")
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults(path)

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
