package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	require.Equal(t, "mainnet", cfg.Network)
	require.Equal(t, int64(43114), cfg.ActiveNetwork().ChainID)
	require.Len(t, cfg.Venues, 2)
	require.Equal(t, "mev:", cfg.MEV.CacheKeyPrefix)
	require.Equal(t, 300*time.Second, cfg.MEV.MempoolTTL)
	require.True(t, cfg.MEV.FastSimulation)
	require.Equal(t, 8545, cfg.Sandbox.BasePort)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
network: testnet
mev:
  cache_key_prefix: "arb:"
  mempool_ttl: 120s
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "testnet", cfg.Network)
	require.Equal(t, int64(43113), cfg.ActiveNetwork().ChainID)
	require.Equal(t, "arb:", cfg.MEV.CacheKeyPrefix)
	require.Equal(t, 120*time.Second, cfg.MEV.MempoolTTL)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MEVPIPE_NETWORK", "testnet")
	t.Setenv("MEV_CACHE_KEY_PREFIX", "env:")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	require.Equal(t, "testnet", cfg.Network)
	require.Equal(t, "env:", cfg.MEV.CacheKeyPrefix)
}

func TestValidateUnknownNetwork(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("network: devnet\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "devnet")
}

func TestValidateUnknownProtocolFamily(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
venues:
  - name: mystery
    factory: "0x0000000000000000000000000000000000000001"
    router: "0x0000000000000000000000000000000000000002"
    family: concentrated-v3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "protocol family")
}

func TestValidatePairTokenMissingFromTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
pairs:
  - ["0xB31f66AA3C1e785363F0875A1B74E27b85FD66c7", "0x9999999999999999999999999999999999999999"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing from token table")
}

func TestTokenLookupIsCaseInsensitive(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	upper, ok := cfg.Token("0xB31F66AA3C1E785363F0875A1B74E27B85FD66C7")
	require.True(t, ok)
	require.Equal(t, "WAVAX", upper.Symbol)
	require.Equal(t, uint8(18), upper.Decimals)

	require.True(t, cfg.IsWrappedNative("0xb31f66aa3c1e785363f0875a1b74e27b85fd66c7"))
}

func TestRoutersKeyedByLowercase(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	routers := cfg.Routers()
	require.Len(t, routers, 2)
	v, ok := routers["0x60ae616a2155ee3d9a68541ba4544862310933d4"]
	require.True(t, ok)
	require.Equal(t, "traderjoe", v.Name)
}
