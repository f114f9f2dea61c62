package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"mevpipe/pkg/models"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration. The same file drives all three
// pipeline stages; each binary reads the sections it needs.
type Config struct {
	Network       string                   `yaml:"network"`
	Networks      map[string]NetworkConfig `yaml:"networks"`
	Venues        []models.Venue           `yaml:"venues"`
	Tokens        map[string]TokenConfig   `yaml:"tokens"`
	Pairs         [][2]string              `yaml:"pairs"`
	WrappedNative string                   `yaml:"wrapped_native"`
	MEV           MEVConfig                `yaml:"mev"`
	Cache         CacheConfig              `yaml:"cache"`
	Sandbox       SandboxConfig            `yaml:"sandbox"`
	Metrics       MetricsConfig            `yaml:"metrics"`
	Logging       LoggingConfig            `yaml:"logging"`
	Persistence   PersistenceConfig        `yaml:"persistence"`
}

// NetworkConfig holds chain connection settings for one network.
type NetworkConfig struct {
	RPCURL  string `yaml:"rpc_url"`
	WSURL   string `yaml:"ws_url"`
	ChainID int64  `yaml:"chain_id"`
}

// TokenConfig holds token metadata, keyed by lowercased address in the table.
type TokenConfig struct {
	Symbol   string `yaml:"symbol"`
	Decimals uint8  `yaml:"decimals"`
}

// MEVConfig holds detection and simulation parameters.
type MEVConfig struct {
	MinProfitThreshold    float64       `yaml:"min_profit_threshold"`
	MaxSlippage           float64       `yaml:"max_slippage"`
	DefaultGasLimit       uint64        `yaml:"default_gas_limit"`
	PriorityFeeMultiplier float64       `yaml:"priority_fee_multiplier"`
	CacheKeyPrefix        string        `yaml:"cache_key_prefix"`
	MempoolTTL            time.Duration `yaml:"mempool_ttl"`
	SimulationTimeoutMs   int64         `yaml:"simulation_timeout_ms"`
	FastSimulation        bool          `yaml:"fast_simulation"`
}

// CacheConfig holds Redis connection settings.
type CacheConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SandboxConfig holds forked-EVM sandbox settings.
type SandboxConfig struct {
	Binary      string `yaml:"binary"`
	Host        string `yaml:"host"`
	BasePort    int    `yaml:"base_port"`
	Accounts    int    `yaml:"accounts"`
	BalanceAVAX int64  `yaml:"balance_avax"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// PersistenceConfig holds database settings.
type PersistenceConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	cfg.setDefaults()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if len(data) > 0 {
		// Expand environment variables in YAML content
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// ActiveNetwork returns the selected network's connection settings.
func (c *Config) ActiveNetwork() NetworkConfig {
	return c.Networks[c.Network]
}

// Token looks up token metadata by address, case-insensitively.
func (c *Config) Token(address string) (TokenConfig, bool) {
	t, ok := c.Tokens[models.NormalizeAddress(address)]
	return t, ok
}

// TokenDecimals returns the decimal exponent for an address. Unknown tokens
// default to 18; configured pair tokens are checked at startup, so this path
// only serves lazily encountered addresses such as decoded swap paths.
func (c *Config) TokenDecimals(address string) uint8 {
	if t, ok := c.Token(address); ok {
		return t.Decimals
	}
	return 18
}

// IsWrappedNative reports whether the address is the wrapped native token.
func (c *Config) IsWrappedNative(address string) bool {
	return models.SameAddress(address, c.WrappedNative)
}

// Routers returns the router address set, lowercased, for recipient matching.
func (c *Config) Routers() map[string]models.Venue {
	routers := make(map[string]models.Venue, len(c.Venues))
	for _, v := range c.Venues {
		routers[models.NormalizeAddress(v.Router)] = v
	}
	return routers
}

// setDefaults sets default values for all configuration options.
func (c *Config) setDefaults() {
	c.Network = "mainnet"
	c.Networks = map[string]NetworkConfig{
		"mainnet": {
			RPCURL:  "http://127.0.0.1:9650/ext/bc/C/rpc",
			WSURL:   "ws://127.0.0.1:9650/ext/bc/C/ws",
			ChainID: 43114,
		},
		"testnet": {
			RPCURL:  "https://api.avax-test.network/ext/bc/C/rpc",
			WSURL:   "wss://api.avax-test.network/ext/bc/C/ws",
			ChainID: 43113,
		},
	}
	c.Venues = []models.Venue{
		{
			Name:    "traderjoe",
			Factory: "0x9Ad6C38BE94206cA50bb0d90783181662f0Cfa10",
			Router:  "0x60aE616a2155Ee3d9A68541Ba4544862310933d4",
			Family:  models.FamilyConstantProductV2,
		},
		{
			Name:    "pangolin",
			Factory: "0xefa94DE7a4656D787667C749f7E1223D71E9FD88",
			Router:  "0xE54Ca86531e17Ef3616d22Ca28b0D458b6C89106",
			Family:  models.FamilyConstantProductV2,
		},
	}
	c.WrappedNative = "0xB31f66AA3C1e785363F0875A1B74E27b85FD66c7"
	c.Tokens = map[string]TokenConfig{
		"0xb31f66aa3c1e785363f0875a1b74e27b85fd66c7": {Symbol: "WAVAX", Decimals: 18},
		"0xb97ef9ef8734c71904d8002f8b6bc66dd9c48a6e": {Symbol: "USDC", Decimals: 6},
	}
	c.Pairs = [][2]string{
		{"0xB31f66AA3C1e785363F0875A1B74E27b85FD66c7", "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E"},
	}
	c.MEV = MEVConfig{
		MinProfitThreshold:    0.10,
		MaxSlippage:           0.005,
		DefaultGasLimit:       300000,
		PriorityFeeMultiplier: 1.1,
		CacheKeyPrefix:        "mev:",
		MempoolTTL:            300 * time.Second,
		SimulationTimeoutMs:   150,
		FastSimulation:        true,
	}
	c.Cache = CacheConfig{
		Addr: "127.0.0.1:6379",
	}
	c.Sandbox = SandboxConfig{
		Binary:      "anvil",
		Host:        "127.0.0.1",
		BasePort:    8545,
		Accounts:    10,
		BalanceAVAX: 1000,
	}
	c.Metrics = MetricsConfig{
		Enabled: true,
		Port:    8080,
		Path:    "/metrics",
	}
	c.Logging = LoggingConfig{
		Level:  "info",
		Format: "json",
	}
	c.Persistence = PersistenceConfig{
		SQLitePath: "./data/mevpipe.db",
	}
}

// applyEnvOverrides applies environment variable overrides to configuration.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MEVPIPE_NETWORK"); v != "" {
		c.Network = strings.ToLower(v)
	}
	if v := os.Getenv("AVAX_RPC_URL"); v != "" {
		n := c.Networks[c.Network]
		n.RPCURL = v
		c.Networks[c.Network] = n
	}
	if v := os.Getenv("AVAX_WS_URL"); v != "" {
		n := c.Networks[c.Network]
		n.WSURL = v
		c.Networks[c.Network] = n
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Cache.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Cache.Password = v
	}
	if v := os.Getenv("MEV_MIN_PROFIT_THRESHOLD"); v != "" {
		var f float64
		if _, err := fmt.Sscanf(v, "%f", &f); err == nil && f > 0 {
			c.MEV.MinProfitThreshold = f
		}
	}
	if v := os.Getenv("MEV_CACHE_KEY_PREFIX"); v != "" {
		c.MEV.CacheKeyPrefix = v
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil && port > 0 {
			c.Metrics.Port = port
		}
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.Persistence.SQLitePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

// normalize lowercases the token table keys so lookups never depend on the
// casing used in the YAML file.
func (c *Config) normalize() {
	tokens := make(map[string]TokenConfig, len(c.Tokens))
	for addr, t := range c.Tokens {
		tokens[models.NormalizeAddress(addr)] = t
	}
	c.Tokens = tokens
}

// validate checks that all required configuration values are present and
// valid. Configuration errors refuse startup; nothing here is recoverable.
func (c *Config) validate() error {
	n, ok := c.Networks[c.Network]
	if !ok {
		return fmt.Errorf("network %q is not defined in networks", c.Network)
	}
	if n.RPCURL == "" {
		return fmt.Errorf("networks.%s.rpc_url is required (set AVAX_RPC_URL env var)", c.Network)
	}
	if n.WSURL == "" {
		return fmt.Errorf("networks.%s.ws_url is required (set AVAX_WS_URL env var)", c.Network)
	}
	if len(c.Venues) == 0 {
		return fmt.Errorf("at least one venue is required")
	}
	for _, v := range c.Venues {
		if v.Name == "" || v.Factory == "" || v.Router == "" {
			return fmt.Errorf("venue %q must have name, factory and router", v.Name)
		}
		if v.Family != models.FamilyConstantProductV2 {
			return fmt.Errorf("venue %q: unknown protocol family %q", v.Name, v.Family)
		}
	}
	if c.WrappedNative == "" {
		return fmt.Errorf("wrapped_native is required")
	}
	for _, pair := range c.Pairs {
		for _, addr := range pair {
			t, ok := c.Token(addr)
			if !ok {
				return fmt.Errorf("pair token %s missing from token table", addr)
			}
			if t.Decimals > 36 {
				return fmt.Errorf("token %s: decimals %d outside [0,36]", addr, t.Decimals)
			}
		}
	}
	if c.MEV.CacheKeyPrefix == "" {
		return fmt.Errorf("mev.cache_key_prefix must not be empty")
	}
	if c.MEV.MempoolTTL <= 0 {
		return fmt.Errorf("mev.mempool_ttl must be positive")
	}
	if c.Sandbox.BasePort <= 0 || c.Sandbox.BasePort > 65535 {
		return fmt.Errorf("sandbox.base_port must be a valid port number")
	}
	if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be a valid port number")
	}
	return nil
}
