package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// ============================================================
// MAIN CONFIG
// ============================================================

type Config struct {
	Chain    ChainConfig    `yaml:"chain"`
	Refresh  RefreshConfig  `yaml:"refresh"`
	Names    NamesConfig    `yaml:"names"`
	API      APIConfig      `yaml:"api"`
	Advanced AdvancedConfig `yaml:"advanced"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ============================================================
// CHAIN CONFIG
// ============================================================

type ChainConfig struct {
	ChainID   string          `yaml:"chain_id" envconfig:"CHAIN_ID"`
	Nodes     []NodeConfig    `yaml:"nodes"`
	Contracts ContractsConfig `yaml:"contracts"`
	StatusAPI StatusAPIConfig `yaml:"status_api"`
}

type NodeConfig struct {
	Label string `yaml:"label"`
	RPC   string `yaml:"rpc"`
	WS    string `yaml:"ws"`
}

type ContractsConfig struct {
	Validator      string `yaml:"validator" envconfig:"CONTRACT_VALIDATOR"`
	RewardToken    string `yaml:"reward_token" envconfig:"CONTRACT_REWARD_TOKEN"`
	BlockchainInfo string `yaml:"blockchain_info" envconfig:"CONTRACT_BLOCKCHAIN_INFO"`
}

// StatusAPIConfig points at the block-explorer style API. The validator
// address is appended to each URL as-is.
type StatusAPIConfig struct {
	StatusURL  string  `yaml:"status_url" envconfig:"STATUS_URL"`
	CounterURL string  `yaml:"counter_url" envconfig:"COUNTER_URL"`
	Timeout    string  `yaml:"timeout" envconfig:"STATUS_TIMEOUT"`
	RateLimit  float64 `yaml:"rate_limit" envconfig:"STATUS_RATE_LIMIT"`
	Burst      int     `yaml:"burst" envconfig:"STATUS_BURST"`
}

// ============================================================
// REFRESH CONFIG
// ============================================================

type RefreshConfig struct {
	Concurrency         int    `yaml:"concurrency" envconfig:"REFRESH_CONCURRENCY"`
	FetchTimeout        string `yaml:"fetch_timeout" envconfig:"REFRESH_FETCH_TIMEOUT"`
	CycleTimeout        string `yaml:"cycle_timeout" envconfig:"REFRESH_CYCLE_TIMEOUT"`
	AbortOnFetchFailure bool   `yaml:"abort_on_fetch_failure" envconfig:"REFRESH_ABORT_ON_FETCH_FAILURE"`
	Window              string `yaml:"window" envconfig:"REFRESH_WINDOW"`
}

// ============================================================
// NAMES / API / ADVANCED / LOGGING
// ============================================================

// NamesConfig locates the LevelDB name store. An empty path resolves to
// <data-dir>/names at startup.
type NamesConfig struct {
	Path string `yaml:"path" envconfig:"NAMES_PATH"`
	Sync bool   `yaml:"sync" envconfig:"NAMES_SYNC"`
}

type APIConfig struct {
	Port         int    `yaml:"port" envconfig:"API_PORT"`
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
	IdleTimeout  string `yaml:"idle_timeout"`
	MetricsOnAPI bool   `yaml:"metrics_on_api" envconfig:"API_METRICS"`
}

type AdvancedConfig struct {
	RPCTimeout     string           `yaml:"rpc_timeout" envconfig:"RPC_TIMEOUT"`
	HealthInterval string           `yaml:"health_interval" envconfig:"HEALTH_INTERVAL"`
	Prometheus     PrometheusConfig `yaml:"prometheus"`
}

type PrometheusConfig struct {
	MetricsPrefix string `yaml:"metrics_prefix" envconfig:"METRICS_PREFIX"`
	Port          int    `yaml:"port" envconfig:"METRICS_PORT"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format string `yaml:"format" envconfig:"LOG_FORMAT"`
	Stderr bool   `yaml:"stderr" envconfig:"LOG_STDERR"`
}

// ============================================================
// HELPER FUNCTIONS
// ============================================================

// ParseDuration parses duration strings like "1m", "5m", "30s"
func ParseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// EnvPrefix is the prefix for environment overrides, e.g. MWT_API_PORT.
const EnvPrefix = "MWT"

// ============================================================
// LOAD FUNCTION
// ============================================================

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML, overlays MWT_* environment variables and fills defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	for _, section := range []interface{}{
		&cfg.Chain, &cfg.Chain.Contracts, &cfg.Chain.StatusAPI,
		&cfg.Refresh, &cfg.Names, &cfg.API, &cfg.Advanced,
		&cfg.Advanced.Prometheus, &cfg.Logging,
	} {
		if err := envconfig.Process(EnvPrefix, section); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Chain.StatusAPI.CounterURL == "" {
		cfg.Chain.StatusAPI.CounterURL = cfg.Chain.StatusAPI.StatusURL
	}
	if cfg.Chain.StatusAPI.Timeout == "" {
		cfg.Chain.StatusAPI.Timeout = "10s"
	}
	if cfg.Chain.StatusAPI.Burst == 0 {
		cfg.Chain.StatusAPI.Burst = 1
	}

	if cfg.Refresh.Concurrency <= 0 {
		cfg.Refresh.Concurrency = 16
	}
	if cfg.Refresh.FetchTimeout == "" {
		cfg.Refresh.FetchTimeout = "15s"
	}
	if cfg.Refresh.CycleTimeout == "" {
		cfg.Refresh.CycleTimeout = "60s"
	}
	if cfg.Refresh.Window == "" {
		cfg.Refresh.Window = "60m"
	}

	if cfg.API.Port == 0 {
		cfg.API.Port = 8000
	}
	if cfg.API.ReadTimeout == "" {
		cfg.API.ReadTimeout = "15s"
	}
	if cfg.API.WriteTimeout == "" {
		cfg.API.WriteTimeout = "15s"
	}
	if cfg.API.IdleTimeout == "" {
		cfg.API.IdleTimeout = "60s"
	}

	if cfg.Advanced.RPCTimeout == "" {
		cfg.Advanced.RPCTimeout = "5s"
	}
	if cfg.Advanced.HealthInterval == "" {
		cfg.Advanced.HealthInterval = "10s"
	}
	if cfg.Advanced.Prometheus.MetricsPrefix == "" {
		cfg.Advanced.Prometheus.MetricsPrefix = "mind"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate checks the fields the service cannot start without.
func (c *Config) Validate() error {
	if len(c.Chain.Nodes) == 0 {
		return fmt.Errorf("chain.nodes: at least one node is required")
	}
	for i, n := range c.Chain.Nodes {
		if n.RPC == "" {
			return fmt.Errorf("chain.nodes[%d]: rpc url is required", i)
		}
	}
	if c.Chain.Contracts.Validator == "" {
		return fmt.Errorf("chain.contracts.validator is required")
	}
	if c.Chain.Contracts.RewardToken == "" {
		return fmt.Errorf("chain.contracts.reward_token is required")
	}
	if c.Chain.Contracts.BlockchainInfo == "" {
		return fmt.Errorf("chain.contracts.blockchain_info is required")
	}
	if c.Chain.StatusAPI.StatusURL == "" {
		return fmt.Errorf("chain.status_api.status_url is required")
	}
	return nil
}
