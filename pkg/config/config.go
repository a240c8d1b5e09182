// Package config contains all knobs and defaults used to configure the engine
// when it runs as a standalone worker.
package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dsrkit/dsrkit/pkg/connector/httpconn"
)

const (
	DefaultWorkers             = 8
	DefaultMaxRetries          = 3
	DefaultTaskIDTTL           = 30 * 24 * time.Hour
	DefaultAsyncPollingTimeout = 3 * 24 * time.Hour
	DefaultRetentionPeriod     = 90 * 24 * time.Hour

	DefaultExitedRequestsInterval     = 30 * time.Second
	DefaultInterruptedTasksInterval   = 5 * time.Minute
	DefaultAsyncTasksInterval         = time.Minute
	DefaultExpiredRequestDataInterval = time.Hour

	DefaultConnectorTimeout = 30 * time.Second
)

var (
	datastoreEngines = []string{"memory", "postgres", "mysql", "sqlite"}
	backendEngines   = []string{"memory", "redis"}
	connectorTypes   = []string{"postgres", "mysql", "sqlite", "mssql", "mongodb", "manual", "http"}
	logLevels        = []string{"none", "debug", "info", "warn", "error", "panic", "fatal"}
)

type DatastoreMetricsConfig struct {
	// Enabled enables export of the Datastore metrics.
	Enabled bool
}

// DatastoreConfig configures where privacy requests and their tasks are persisted.
type DatastoreConfig struct {
	// Engine is the datastore engine to use (e.g. 'memory', 'postgres', 'mysql', 'sqlite')
	Engine   string
	URI      string
	Username string
	Password string

	// MaxOpenConns is the maximum number of open connections to the database.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of connections to the datastore in the idle connection
	// pool.
	MaxIdleConns int

	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	Metrics DatastoreMetricsConfig
}

// RedisConfig is shared by the redis cache and the redis queue.
type RedisConfig struct {
	// Addrs is a comma separated list of host:port addresses.
	Addrs    string
	Username string
	Password string
	DB       int
}

type CacheConfig struct {
	// Engine is 'memory' for a single process or 'redis' to share task ids, locks and counters.
	Engine string
	// TTL is the lifetime of tracked job ids and retry counters.
	TTL time.Duration
}

type QueueConfig struct {
	Engine string
	// Name prefixes the redis keys of the queue.
	Name string
	// PollTimeout bounds how long a redis dequeue blocks before checking for cancellation.
	PollTimeout time.Duration
}

// LogConfig defines log specific settings. For production we recommend using the 'json' log format.
type LogConfig struct {
	// Format is the log format to use in the log output (e.g. 'text' or 'json')
	Format string

	// Level is the log level to use in the log output (e.g. 'none', 'debug', or 'info')
	Level string

	// Format of the timestamp in the log output (e.g. 'Unix'(default) or 'ISO8601')
	TimestampFormat string
}

type TraceConfig struct {
	Enabled     bool
	OTLP        OTLPTraceConfig `mapstructure:"otlp"`
	SampleRatio float64
	ServiceName string
	// SlowTraceThreshold drops traces whose root span is faster. Zero keeps all.
	SlowTraceThreshold time.Duration
}

type OTLPTraceConfig struct {
	Endpoint string
}

// MetricConfig defines where prometheus metrics are served.
type MetricConfig struct {
	Enabled bool
	Addr    string
}

// SweepConfig holds the sweep intervals. A zero interval disables the sweep.
type SweepConfig struct {
	ExitedRequests     time.Duration
	InterruptedTasks   time.Duration
	AsyncTasks         time.Duration
	ExpiredRequestData time.Duration
}

type ExecutionConfig struct {
	// Workers is the number of jobs run concurrently by this process.
	Workers int
	// MaxRetries bounds how often an interrupted privacy request is requeued.
	MaxRetries          int
	AsyncPollingTimeout time.Duration
	RetentionPeriod     time.Duration
	Sweeps              SweepConfig
}

// ConnectorConfig declares one connector. Key is referenced by datasets.
type ConnectorConfig struct {
	Key  string
	Type string
	// URI is the database connection string of SQL and MongoDB connectors.
	URI string
	// Database is the MongoDB database used when a collection names none.
	Database   string
	Timeout    time.Duration
	MaxRetries uint64
	HTTP       httpconn.Config `mapstructure:"http"`
}

type Config struct {
	// Datasets lists dataset YAML files or directories holding them.
	Datasets   []string
	Connectors []ConnectorConfig

	Datastore DatastoreConfig
	Redis     RedisConfig
	Cache     CacheConfig
	Queue     QueueConfig
	Execution ExecutionConfig
	Log       LogConfig
	Trace     TraceConfig
	Metrics   MetricConfig
}

func (cfg *Config) Verify() error {
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		return fmt.Errorf("config 'log.format' must be one of ['text', 'json']")
	}
	if !slices.Contains(logLevels, cfg.Log.Level) {
		return fmt.Errorf("config 'log.level' must be one of %q", logLevels)
	}
	if cfg.Log.TimestampFormat != "Unix" && cfg.Log.TimestampFormat != "ISO8601" {
		return fmt.Errorf("config 'log.TimestampFormat' must be one of ['Unix', 'ISO8601']")
	}

	if !slices.Contains(datastoreEngines, cfg.Datastore.Engine) {
		return fmt.Errorf("config 'datastore.engine' must be one of %q", datastoreEngines)
	}
	if cfg.Datastore.Engine != "memory" && cfg.Datastore.URI == "" {
		return fmt.Errorf("config 'datastore.uri' is required for the %s engine", cfg.Datastore.Engine)
	}
	if !slices.Contains(backendEngines, cfg.Cache.Engine) {
		return fmt.Errorf("config 'cache.engine' must be one of %q", backendEngines)
	}
	if !slices.Contains(backendEngines, cfg.Queue.Engine) {
		return fmt.Errorf("config 'queue.engine' must be one of %q", backendEngines)
	}
	if (cfg.Cache.Engine == "redis" || cfg.Queue.Engine == "redis") && cfg.Redis.Addrs == "" {
		return errors.New("config 'redis.addrs' is required when the cache or queue engine is redis")
	}
	if cfg.Queue.Engine == "memory" && cfg.Cache.Engine == "redis" {
		return errors.New("a memory queue cannot be shared, use the memory cache with it")
	}
	if cfg.Cache.TTL <= 0 {
		return errors.New("config 'cache.ttl' must be a positive duration")
	}

	if cfg.Execution.Workers <= 0 {
		return errors.New("config 'execution.workers' must be a positive integer")
	}
	if cfg.Execution.MaxRetries < 0 {
		return errors.New("config 'execution.maxRetries' must be a non-negative integer")
	}
	if cfg.Execution.AsyncPollingTimeout <= 0 {
		return errors.New("config 'execution.asyncPollingTimeout' must be a positive duration")
	}
	sweeps := cfg.Execution.Sweeps
	for name, d := range map[string]time.Duration{
		"exitedRequests":     sweeps.ExitedRequests,
		"interruptedTasks":   sweeps.InterruptedTasks,
		"asyncTasks":         sweeps.AsyncTasks,
		"expiredRequestData": sweeps.ExpiredRequestData,
	} {
		if d < 0 {
			return fmt.Errorf("config 'execution.sweeps.%s' must not be negative", name)
		}
	}

	if cfg.Trace.SampleRatio < 0 || cfg.Trace.SampleRatio > 1 {
		return errors.New("config 'trace.sampleRatio' must be between 0 and 1")
	}

	seen := make(map[string]struct{}, len(cfg.Connectors))
	for _, c := range cfg.Connectors {
		if c.Key == "" {
			return errors.New("every connector needs a key")
		}
		if _, dup := seen[c.Key]; dup {
			return fmt.Errorf("connector key %q is declared twice", c.Key)
		}
		seen[c.Key] = struct{}{}
		if !slices.Contains(connectorTypes, c.Type) {
			return fmt.Errorf("connector %q: type must be one of %q", c.Key, connectorTypes)
		}
		switch c.Type {
		case "manual":
		case "http":
			if c.HTTP.BaseURL == "" {
				return fmt.Errorf("connector %q: 'http.base_url' is required", c.Key)
			}
		default:
			if c.URI == "" {
				return fmt.Errorf("connector %q: 'uri' is required", c.Key)
			}
		}
	}

	return nil
}

// DefaultConfig is the default configuration of a single in-memory process.
func DefaultConfig() *Config {
	return &Config{
		Datasets:   []string{},
		Connectors: []ConnectorConfig{},
		Datastore: DatastoreConfig{
			Engine:       "memory",
			MaxIdleConns: 10,
			MaxOpenConns: 30,
		},
		Redis: RedisConfig{},
		Cache: CacheConfig{
			Engine: "memory",
			TTL:    DefaultTaskIDTTL,
		},
		Queue: QueueConfig{
			Engine:      "memory",
			Name:        "dsrkit",
			PollTimeout: time.Second,
		},
		Execution: ExecutionConfig{
			Workers:             DefaultWorkers,
			MaxRetries:          DefaultMaxRetries,
			AsyncPollingTimeout: DefaultAsyncPollingTimeout,
			RetentionPeriod:     DefaultRetentionPeriod,
			Sweeps: SweepConfig{
				ExitedRequests:     DefaultExitedRequestsInterval,
				InterruptedTasks:   DefaultInterruptedTasksInterval,
				AsyncTasks:         DefaultAsyncTasksInterval,
				ExpiredRequestData: DefaultExpiredRequestDataInterval,
			},
		},
		Log: LogConfig{
			Format:          "text",
			Level:           "info",
			TimestampFormat: "Unix",
		},
		Trace: TraceConfig{
			Enabled: false,
			OTLP: OTLPTraceConfig{
				Endpoint: "0.0.0.0:4317",
			},
			SampleRatio: 0.2,
			ServiceName: "dsrkit",
		},
		Metrics: MetricConfig{
			Enabled: true,
			Addr:    "0.0.0.0:2112",
		},
	}
}

// MustDefaultConfig returns the default config with metrics turned off.
func MustDefaultConfig() *Config {
	config := DefaultConfig()
	config.Metrics.Enabled = false
	return config
}
