package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const minimal = `
chain:
  chain_id: "1"
  nodes:
    - label: a
      rpc: http://localhost:8545
  contracts:
    validator: "0x0000000000000000000000000000000000000001"
    reward_token: "0x0000000000000000000000000000000000000002"
    blockchain_info: "0x0000000000000000000000000000000000000003"
  status_api:
    status_url: http://explorer/status/
`

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)

	require.Equal(t, "http://explorer/status/", cfg.Chain.StatusAPI.CounterURL)
	require.Equal(t, 16, cfg.Refresh.Concurrency)
	require.Equal(t, 15*time.Second, ParseDuration(cfg.Refresh.FetchTimeout))
	require.False(t, cfg.Refresh.AbortOnFetchFailure)
	require.Equal(t, 8000, cfg.API.Port)
	require.Equal(t, "mind", cfg.Advanced.Prometheus.MetricsPrefix)
	require.Equal(t, "info", cfg.Logging.Level)
	require.Empty(t, cfg.Names.Path)
}

func TestParseEnvOverrides(t *testing.T) {
	t.Setenv("MWT_API_PORT", "9100")
	t.Setenv("MWT_REFRESH_CONCURRENCY", "4")
	t.Setenv("MWT_REFRESH_ABORT_ON_FETCH_FAILURE", "true")
	t.Setenv("MWT_COUNTER_URL", "http://explorer/counter/")

	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)
	require.Equal(t, 9100, cfg.API.Port)
	require.Equal(t, 4, cfg.Refresh.Concurrency)
	require.True(t, cfg.Refresh.AbortOnFetchFailure)
	require.Equal(t, "http://explorer/counter/", cfg.Chain.StatusAPI.CounterURL)
}

func TestParseBadEnv(t *testing.T) {
	t.Setenv("MWT_API_PORT", "not-a-port")
	_, err := Parse([]byte(minimal))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	for name, body := range map[string]string{
		"no nodes":     `chain: {contracts: {validator: a, reward_token: b, blockchain_info: c}, status_api: {status_url: u}}`,
		"no rpc":       `chain: {nodes: [{label: a}], contracts: {validator: a, reward_token: b, blockchain_info: c}, status_api: {status_url: u}}`,
		"no validator": `chain: {nodes: [{rpc: x}], contracts: {reward_token: b, blockchain_info: c}, status_api: {status_url: u}}`,
		"no status":    `chain: {nodes: [{rpc: x}], contracts: {validator: a, reward_token: b, blockchain_info: c}}`,
	} {
		_, err := Parse([]byte(body))
		require.Error(t, err, name)
	}
}

func TestParseDuration(t *testing.T) {
	require.Equal(t, time.Minute, ParseDuration("1m"))
	require.Zero(t, ParseDuration(""))
	require.Zero(t, ParseDuration("soon"))
}
