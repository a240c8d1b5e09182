package run

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dsrkit/dsrkit/cmd/util"
)

// bindRunFlagsFunc binds the cobra cmd flags to the equivalent config value being managed
// by viper. This bridges the config between cobra flags and viper flags.
func bindRunFlagsFunc(flags *pflag.FlagSet) func(*cobra.Command, []string) {
	return func(_ *cobra.Command, _ []string) {
		util.MustBindPFlag("datasets", flags.Lookup("datasets"))
		util.MustBindEnv("datasets", "DSRKIT_DATASETS")

		util.MustBindPFlag("datastore.engine", flags.Lookup("datastore-engine"))
		util.MustBindEnv("datastore.engine", "DSRKIT_DATASTORE_ENGINE")

		util.MustBindPFlag("datastore.uri", flags.Lookup("datastore-uri"))
		util.MustBindEnv("datastore.uri", "DSRKIT_DATASTORE_URI")

		util.MustBindPFlag("datastore.username", flags.Lookup("datastore-username"))
		util.MustBindEnv("datastore.username", "DSRKIT_DATASTORE_USERNAME")

		util.MustBindPFlag("datastore.password", flags.Lookup("datastore-password"))
		util.MustBindEnv("datastore.password", "DSRKIT_DATASTORE_PASSWORD")

		util.MustBindPFlag("datastore.maxOpenConns", flags.Lookup("datastore-max-open-conns"))
		util.MustBindEnv("datastore.maxOpenConns", "DSRKIT_DATASTORE_MAX_OPEN_CONNS")

		util.MustBindPFlag("datastore.maxIdleConns", flags.Lookup("datastore-max-idle-conns"))
		util.MustBindEnv("datastore.maxIdleConns", "DSRKIT_DATASTORE_MAX_IDLE_CONNS")

		util.MustBindPFlag("datastore.connMaxIdleTime", flags.Lookup("datastore-conn-max-idle-time"))
		util.MustBindEnv("datastore.connMaxIdleTime", "DSRKIT_DATASTORE_CONN_MAX_IDLE_TIME")

		util.MustBindPFlag("datastore.connMaxLifetime", flags.Lookup("datastore-conn-max-lifetime"))
		util.MustBindEnv("datastore.connMaxLifetime", "DSRKIT_DATASTORE_CONN_MAX_LIFETIME")

		util.MustBindPFlag("datastore.metrics.enabled", flags.Lookup("datastore-metrics-enabled"))
		util.MustBindEnv("datastore.metrics.enabled", "DSRKIT_DATASTORE_METRICS_ENABLED")

		util.MustBindPFlag("redis.addrs", flags.Lookup("redis-addrs"))
		util.MustBindEnv("redis.addrs", "DSRKIT_REDIS_ADDRS")

		util.MustBindPFlag("redis.username", flags.Lookup("redis-username"))
		util.MustBindEnv("redis.username", "DSRKIT_REDIS_USERNAME")

		util.MustBindPFlag("redis.password", flags.Lookup("redis-password"))
		util.MustBindEnv("redis.password", "DSRKIT_REDIS_PASSWORD")

		util.MustBindPFlag("redis.db", flags.Lookup("redis-db"))
		util.MustBindEnv("redis.db", "DSRKIT_REDIS_DB")

		util.MustBindPFlag("cache.engine", flags.Lookup("cache-engine"))
		util.MustBindEnv("cache.engine", "DSRKIT_CACHE_ENGINE")

		util.MustBindPFlag("cache.ttl", flags.Lookup("cache-ttl"))
		util.MustBindEnv("cache.ttl", "DSRKIT_CACHE_TTL")

		util.MustBindPFlag("queue.engine", flags.Lookup("queue-engine"))
		util.MustBindEnv("queue.engine", "DSRKIT_QUEUE_ENGINE")

		util.MustBindPFlag("queue.name", flags.Lookup("queue-name"))
		util.MustBindEnv("queue.name", "DSRKIT_QUEUE_NAME")

		util.MustBindPFlag("queue.pollTimeout", flags.Lookup("queue-poll-timeout"))
		util.MustBindEnv("queue.pollTimeout", "DSRKIT_QUEUE_POLL_TIMEOUT")

		util.MustBindPFlag("execution.workers", flags.Lookup("execution-workers"))
		util.MustBindEnv("execution.workers", "DSRKIT_EXECUTION_WORKERS")

		util.MustBindPFlag("execution.maxRetries", flags.Lookup("execution-max-retries"))
		util.MustBindEnv("execution.maxRetries", "DSRKIT_EXECUTION_MAX_RETRIES")

		util.MustBindPFlag("execution.asyncPollingTimeout", flags.Lookup("execution-async-polling-timeout"))
		util.MustBindEnv("execution.asyncPollingTimeout", "DSRKIT_EXECUTION_ASYNC_POLLING_TIMEOUT")

		util.MustBindPFlag("execution.retentionPeriod", flags.Lookup("execution-retention-period"))
		util.MustBindEnv("execution.retentionPeriod", "DSRKIT_EXECUTION_RETENTION_PERIOD")

		util.MustBindPFlag("execution.sweeps.exitedRequests", flags.Lookup("sweep-exited-requests"))
		util.MustBindEnv("execution.sweeps.exitedRequests", "DSRKIT_SWEEP_EXITED_REQUESTS")

		util.MustBindPFlag("execution.sweeps.interruptedTasks", flags.Lookup("sweep-interrupted-tasks"))
		util.MustBindEnv("execution.sweeps.interruptedTasks", "DSRKIT_SWEEP_INTERRUPTED_TASKS")

		util.MustBindPFlag("execution.sweeps.asyncTasks", flags.Lookup("sweep-async-tasks"))
		util.MustBindEnv("execution.sweeps.asyncTasks", "DSRKIT_SWEEP_ASYNC_TASKS")

		util.MustBindPFlag("execution.sweeps.expiredRequestData", flags.Lookup("sweep-expired-request-data"))
		util.MustBindEnv("execution.sweeps.expiredRequestData", "DSRKIT_SWEEP_EXPIRED_REQUEST_DATA")

		util.MustBindPFlag("log.format", flags.Lookup("log-format"))
		util.MustBindEnv("log.format", "DSRKIT_LOG_FORMAT")

		util.MustBindPFlag("log.level", flags.Lookup("log-level"))
		util.MustBindEnv("log.level", "DSRKIT_LOG_LEVEL")

		util.MustBindPFlag("log.timestampFormat", flags.Lookup("log-timestamp-format"))
		util.MustBindEnv("log.timestampFormat", "DSRKIT_LOG_TIMESTAMP_FORMAT")

		util.MustBindPFlag("trace.enabled", flags.Lookup("trace-enabled"))
		util.MustBindEnv("trace.enabled", "DSRKIT_TRACE_ENABLED")

		util.MustBindPFlag("trace.otlp.endpoint", flags.Lookup("trace-otlp-endpoint"))
		util.MustBindEnv("trace.otlp.endpoint", "DSRKIT_TRACE_OTLP_ENDPOINT")

		util.MustBindPFlag("trace.sampleRatio", flags.Lookup("trace-sample-ratio"))
		util.MustBindEnv("trace.sampleRatio", "DSRKIT_TRACE_SAMPLE_RATIO")

		util.MustBindPFlag("trace.serviceName", flags.Lookup("trace-service-name"))
		util.MustBindEnv("trace.serviceName", "DSRKIT_TRACE_SERVICE_NAME")

		util.MustBindPFlag("trace.slowTraceThreshold", flags.Lookup("trace-slow-threshold"))
		util.MustBindEnv("trace.slowTraceThreshold", "DSRKIT_TRACE_SLOW_THRESHOLD")

		util.MustBindPFlag("metrics.enabled", flags.Lookup("metrics-enabled"))
		util.MustBindEnv("metrics.enabled", "DSRKIT_METRICS_ENABLED")

		util.MustBindPFlag("metrics.addr", flags.Lookup("metrics-addr"))
		util.MustBindEnv("metrics.addr", "DSRKIT_METRICS_ADDR")
	}
}
