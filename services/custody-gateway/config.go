package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// APIKeyConfig maps one API key + secret pair to the on-ledger caller
// identity requests authenticated with it act as.
type APIKeyConfig struct {
	Key    string `toml:"Key"`
	Secret string `toml:"Secret"`
	Caller string `toml:"Caller"`
}

// Config captures runtime configuration for the custody gateway service.
type Config struct {
	ListenAddress        string         `toml:"ListenAddress"`
	DataDir              string         `toml:"DataDir"`
	Environment          string         `toml:"Environment"`
	Custodian            string         `toml:"Custodian"`
	Governors            []string       `toml:"Governors"`
	BasketLifespan       uint64         `toml:"BasketLifespan"`
	GenesisUnix          int64          `toml:"GenesisUnix"`
	HeightIntervalSecs   int64          `toml:"HeightIntervalSecs"`
	AllowedTimestampSkew duration       `toml:"AllowedTimestampSkew"`
	NonceTTL             duration       `toml:"NonceTTL"`
	APIKeys              []APIKeyConfig `toml:"APIKeys"`
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// LoadConfig reads the TOML configuration at path, applying defaults for
// unset fields.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ListenAddress:        ":8082",
		DataDir:              "custody-gateway.db",
		Environment:          "local",
		BasketLifespan:       0,
		HeightIntervalSecs:   10,
		AllowedTimestampSkew: duration{2 * time.Minute},
		NonceTTL:             duration{10 * time.Minute},
	}
	if strings.TrimSpace(path) != "" {
		if _, err := os.Stat(path); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config %s: %w", path, err)
		}
	}
	if strings.TrimSpace(cfg.Custodian) == "" {
		return Config{}, fmt.Errorf("config: Custodian address is required")
	}
	if len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("config: at least one API key is required")
	}
	if cfg.GenesisUnix == 0 {
		cfg.GenesisUnix = time.Now().Unix()
	}
	if cfg.HeightIntervalSecs <= 0 {
		cfg.HeightIntervalSecs = 10
	}
	return cfg, nil
}
