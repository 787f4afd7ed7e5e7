package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "custody-gateway.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
Custodian = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

[[APIKeys]]
Key = "ops-key"
Secret = "ops-secret"
Caller = "0x0101010101010101010101010101010101010101"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, ":8082", cfg.ListenAddress)
	require.Equal(t, "local", cfg.Environment)
	require.Equal(t, int64(10), cfg.HeightIntervalSecs)
	require.Equal(t, 2*time.Minute, cfg.AllowedTimestampSkew.Duration)
	require.Equal(t, 10*time.Minute, cfg.NonceTTL.Duration)
	require.NotZero(t, cfg.GenesisUnix)
	require.Len(t, cfg.APIKeys, 1)
	require.Equal(t, "ops-key", cfg.APIKeys[0].Key)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfigFile(t, `
ListenAddress = ":9090"
Environment = "production"
Custodian = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
Governors = ["0x0303030303030303030303030303030303030303"]
BasketLifespan = 2000
GenesisUnix = 1700000000
HeightIntervalSecs = 5
AllowedTimestampSkew = "30s"
NonceTTL = "1m"

[[APIKeys]]
Key = "ops-key"
Secret = "ops-secret"
Caller = "0x0101010101010101010101010101010101010101"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.ListenAddress)
	require.Equal(t, "production", cfg.Environment)
	require.Equal(t, uint64(2000), cfg.BasketLifespan)
	require.Equal(t, int64(1700000000), cfg.GenesisUnix)
	require.Equal(t, int64(5), cfg.HeightIntervalSecs)
	require.Equal(t, 30*time.Second, cfg.AllowedTimestampSkew.Duration)
	require.Equal(t, time.Minute, cfg.NonceTTL.Duration)
	require.Equal(t, []string{"0x0303030303030303030303030303030303030303"}, cfg.Governors)
}

func TestLoadConfigValidation(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)

	noCustodian := writeConfigFile(t, `
[[APIKeys]]
Key = "ops-key"
Secret = "ops-secret"
Caller = "0x0101010101010101010101010101010101010101"
`)
	_, err = LoadConfig(noCustodian)
	require.ErrorContains(t, err, "Custodian")

	noKeys := writeConfigFile(t, `Custodian = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"`)
	_, err = LoadConfig(noKeys)
	require.ErrorContains(t, err, "API key")
}
