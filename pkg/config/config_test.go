package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Verify())
	require.False(t, MustDefaultConfig().Metrics.Enabled)
}

func TestVerify(t *testing.T) {
	for _, tc := range []struct {
		name   string
		modify func(*Config)
		err    string
	}{
		{
			name:   "log_format",
			modify: func(c *Config) { c.Log.Format = "xml" },
			err:    "log.format",
		},
		{
			name:   "log_level",
			modify: func(c *Config) { c.Log.Level = "verbose" },
			err:    "log.level",
		},
		{
			name:   "datastore_engine",
			modify: func(c *Config) { c.Datastore.Engine = "cassandra" },
			err:    "datastore.engine",
		},
		{
			name:   "datastore_uri",
			modify: func(c *Config) { c.Datastore.Engine = "postgres" },
			err:    "datastore.uri",
		},
		{
			name: "redis_addrs",
			modify: func(c *Config) {
				c.Cache.Engine = "redis"
				c.Queue.Engine = "redis"
			},
			err: "redis.addrs",
		},
		{
			name: "memory_queue_with_redis_cache",
			modify: func(c *Config) {
				c.Cache.Engine = "redis"
				c.Redis.Addrs = "localhost:6379"
			},
			err: "memory queue",
		},
		{
			name:   "workers",
			modify: func(c *Config) { c.Execution.Workers = 0 },
			err:    "execution.workers",
		},
		{
			name:   "negative_sweep",
			modify: func(c *Config) { c.Execution.Sweeps.AsyncTasks = -time.Second },
			err:    "execution.sweeps.asyncTasks",
		},
		{
			name:   "sample_ratio",
			modify: func(c *Config) { c.Trace.SampleRatio = 2 },
			err:    "sampleRatio",
		},
		{
			name: "duplicate_connector",
			modify: func(c *Config) {
				c.Connectors = []ConnectorConfig{{Key: "a", Type: "manual"}, {Key: "a", Type: "manual"}}
			},
			err: "declared twice",
		},
		{
			name: "connector_type",
			modify: func(c *Config) {
				c.Connectors = []ConnectorConfig{{Key: "a", Type: "oracle"}}
			},
			err: "type must be one of",
		},
		{
			name: "connector_uri",
			modify: func(c *Config) {
				c.Connectors = []ConnectorConfig{{Key: "a", Type: "postgres"}}
			},
			err: "'uri' is required",
		},
		{
			name: "http_connector_base_url",
			modify: func(c *Config) {
				c.Connectors = []ConnectorConfig{{Key: "a", Type: "http"}}
			},
			err: "base_url",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(cfg)
			require.ErrorContains(t, cfg.Verify(), tc.err)
		})
	}

	t.Run("disabled_sweep_is_valid", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Execution.Sweeps.ExpiredRequestData = 0
		cfg.Connectors = []ConnectorConfig{{Key: "warehouse", Type: "sqlite", URI: "file::memory:"}}
		require.NoError(t, cfg.Verify())
	})
}
