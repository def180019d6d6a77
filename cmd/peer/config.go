package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ZentaChain/zentalk-peer/pkg/crypto"
	"github.com/ZentaChain/zentalk-peer/pkg/peers"
	"github.com/ZentaChain/zentalk-peer/pkg/storage"
)

// Config is the process configuration read from YAML. Runtime preferences
// live in the vault; Preferences here only seeds a new vault.
type Config struct {
	Vault       VaultConfig        `yaml:"vault"`
	Log         LogConfig          `yaml:"log"`
	API         APIConfig          `yaml:"api"`
	KeyBits     int                `yaml:"key_bits"`
	Endpoints   []string           `yaml:"endpoints"`
	Peers       []string           `yaml:"peers"`
	Preferences *peers.Preferences `yaml:"preferences"`
}

type VaultConfig struct {
	Kind       string `yaml:"kind"` // file or sqlite
	Path       string `yaml:"path"`
	Iterations int    `yaml:"iterations"`
}

type LogConfig struct {
	Verbose    bool   `yaml:"verbose"`
	JSON       bool   `yaml:"json"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type APIConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Addr      string  `yaml:"addr"`
	RateLimit float64 `yaml:"rate_limit"`
	CORS      bool    `yaml:"cors"`
}

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() Config {
	return Config{
		Vault: VaultConfig{
			Kind:       "file",
			Path:       "./data/peer.vault",
			Iterations: storage.VaultIterations,
		},
		API: APIConfig{
			Addr:      "127.0.0.1:8080",
			RateLimit: 20,
		},
		KeyBits: crypto.DefaultKeyBits,
	}
}

// LoadConfig reads path over the defaults. An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks values that have no usable fallback
func (c Config) Validate() error {
	switch strings.ToLower(c.Vault.Kind) {
	case "file", "sqlite":
	default:
		return fmt.Errorf("vault kind %q: want file or sqlite", c.Vault.Kind)
	}
	if c.Vault.Path == "" {
		return fmt.Errorf("vault path is empty")
	}
	if c.KeyBits != 0 && c.KeyBits < crypto.MinKeyBits {
		return fmt.Errorf("key_bits %d is below %d", c.KeyBits, crypto.MinKeyBits)
	}
	return nil
}
