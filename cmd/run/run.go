// Package run contains the command to run a dsrkit worker: it consumes queued
// privacy requests and tasks and runs the periodic sweeps.
package run

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dsrkit/dsrkit/pkg/config"
	"github.com/dsrkit/dsrkit/pkg/logger"
	"github.com/dsrkit/dsrkit/pkg/telemetry"
	"github.com/dsrkit/dsrkit/pkg/worker"
)

func NewRunCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "run",
		Short: "Run the dsrkit worker",
		Long:  "Run the dsrkit worker: execute queued privacy requests and their tasks and run the periodic sweeps.",
		RunE:  run,
		Args:  cobra.NoArgs,
	}

	defaultConfig := config.DefaultConfig()
	flags := command.Flags()

	flags.StringSlice("datasets", defaultConfig.Datasets, "dataset YAML files, or directories of them, that make up the dataset graph")

	flags.String("datastore-engine", defaultConfig.Datastore.Engine, "the datastore engine that will be used for persistence")

	flags.String("datastore-uri", defaultConfig.Datastore.URI, "the connection uri to use to connect to the datastore (for any engine other than 'memory')")

	flags.String("datastore-username", "", "the connection username to use to connect to the datastore (overwrites any username provided in the connection uri)")

	flags.String("datastore-password", "", "the connection password to use to connect to the datastore (overwrites any password provided in the connection uri)")

	flags.Int("datastore-max-open-conns", defaultConfig.Datastore.MaxOpenConns, "the maximum number of open connections to the datastore")

	flags.Int("datastore-max-idle-conns", defaultConfig.Datastore.MaxIdleConns, "the maximum number of connections to the datastore in the idle connection pool")

	flags.Duration("datastore-conn-max-idle-time", defaultConfig.Datastore.ConnMaxIdleTime, "the maximum amount of time a connection to the datastore may be idle")

	flags.Duration("datastore-conn-max-lifetime", defaultConfig.Datastore.ConnMaxLifetime, "the maximum amount of time a connection to the datastore may be reused")

	flags.Bool("datastore-metrics-enabled", defaultConfig.Datastore.Metrics.Enabled, "enable/disable sql metrics")

	flags.String("redis-addrs", defaultConfig.Redis.Addrs, "comma separated host:port addresses of the redis server or cluster")

	flags.String("redis-username", "", "the redis username")

	flags.String("redis-password", "", "the redis password")

	flags.Int("redis-db", defaultConfig.Redis.DB, "the redis database number")

	flags.String("cache-engine", defaultConfig.Cache.Engine, "where job ids, locks and retry counters are kept ('memory' or 'redis')")

	flags.Duration("cache-ttl", defaultConfig.Cache.TTL, "the lifetime of tracked job ids and retry counters")

	flags.String("queue-engine", defaultConfig.Queue.Engine, "the job queue to consume ('memory' or 'redis')")

	flags.String("queue-name", defaultConfig.Queue.Name, "the name prefixing the redis keys of the queue")

	flags.Duration("queue-poll-timeout", defaultConfig.Queue.PollTimeout, "how long a redis dequeue blocks before checking for shutdown")

	flags.Int("execution-workers", defaultConfig.Execution.Workers, "the number of jobs run concurrently")

	flags.Int("execution-max-retries", defaultConfig.Execution.MaxRetries, "how often an interrupted privacy request is requeued before it fails")

	flags.Duration("execution-async-polling-timeout", defaultConfig.Execution.AsyncPollingTimeout, "how long an asynchronous call may stay unanswered before its task fails")

	flags.Duration("execution-retention-period", defaultConfig.Execution.RetentionPeriod, "how long finished privacy requests are kept")

	flags.Duration("sweep-exited-requests", defaultConfig.Execution.Sweeps.ExitedRequests, "the interval of the sweep failing requests with failed tasks (0 disables it)")

	flags.Duration("sweep-interrupted-tasks", defaultConfig.Execution.Sweeps.InterruptedTasks, "the interval of the sweep requeueing interrupted requests (0 disables it)")

	flags.Duration("sweep-async-tasks", defaultConfig.Execution.Sweeps.AsyncTasks, "the interval of the sweep polling asynchronous tasks (0 disables it)")

	flags.Duration("sweep-expired-request-data", defaultConfig.Execution.Sweeps.ExpiredRequestData, "the interval of the sweep purging expired requests (0 disables it)")

	flags.String("log-format", defaultConfig.Log.Format, "the log format to output logs in")

	flags.String("log-level", defaultConfig.Log.Level, "the log level to use")

	flags.String("log-timestamp-format", defaultConfig.Log.TimestampFormat, "the timestamp format to use for log messages")

	flags.Bool("trace-enabled", defaultConfig.Trace.Enabled, "enable tracing")

	flags.String("trace-otlp-endpoint", defaultConfig.Trace.OTLP.Endpoint, "the endpoint of the trace collector")

	flags.Float64("trace-sample-ratio", defaultConfig.Trace.SampleRatio, "the fraction of traces to sample. 1 means all, 0 means none.")

	flags.String("trace-service-name", defaultConfig.Trace.ServiceName, "the service name included in sampled traces.")

	flags.Duration("trace-slow-threshold", defaultConfig.Trace.SlowTraceThreshold, "only export traces whose root span took at least this long (0 exports all)")

	flags.Bool("metrics-enabled", defaultConfig.Metrics.Enabled, "enable/disable prometheus metrics on the '/metrics' endpoint")

	flags.String("metrics-addr", defaultConfig.Metrics.Addr, "the host:port address to serve the prometheus metrics server on")

	// NOTE: if you add a new flag here, update the function below, too

	command.PreRun = bindRunFlagsFunc(flags)

	return command
}

// ReadConfig returns the dsrkit configuration based on the values provided in the 'config.yaml' file.
// The 'config.yaml' file is loaded from '/etc/dsrkit', '$HOME/.dsrkit', or the current working directory. If no configuration
// file is present, the default values are returned.
func ReadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()

	viper.SetTypeByDefaultValue(true)
	err := viper.ReadInConfig()
	if err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := ReadConfig()
	if err != nil {
		return err
	}

	if err := cfg.Verify(); err != nil {
		return err
	}

	log := logger.MustNewLogger(cfg.Log.Format, cfg.Log.Level, cfg.Log.TimestampFormat)
	w := &WorkerContext{Logger: log}
	return w.Run(cmd.Context(), cfg)
}

type WorkerContext struct {
	Logger logger.Logger
}

// telemetryConfig returns the tracer provider to use. Closing it flushes pending spans.
func (w *WorkerContext) telemetryConfig(ctx context.Context, cfg *config.Config) (telemetry.TracerProvider, error) {
	if !cfg.Trace.Enabled {
		return telemetry.Noop(), nil
	}
	w.Logger.Info(fmt.Sprintf("🕵 tracing enabled: sampling ratio is %v and sending traces to '%s'", cfg.Trace.SampleRatio, cfg.Trace.OTLP.Endpoint))

	opts := []telemetry.TracerOption{
		telemetry.WithOTLPEndpoint(cfg.Trace.OTLP.Endpoint),
		telemetry.WithServiceName(cfg.Trace.ServiceName),
		telemetry.WithSamplingRatio(cfg.Trace.SampleRatio),
	}
	if cfg.Trace.SlowTraceThreshold > 0 {
		opts = append(opts, telemetry.WithSlowTraceThreshold(cfg.Trace.SlowTraceThreshold))
	}
	return telemetry.NewTracerProvider(ctx, opts...)
}

// Run returns an error if the worker was unable to start successfully.
// If it started and terminated successfully, it returns a nil error.
func (w *WorkerContext) Run(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := w.telemetryConfig(ctx, cfg)
	if err != nil {
		return err
	}

	stack, err := NewStack(cfg, w.Logger)
	if err != nil {
		_ = tp.Close(context.Background())
		return err
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		go func() {
			w.Logger.Info(fmt.Sprintf("📈 starting prometheus metrics server on '%s'", cfg.Metrics.Addr))
			if err := metricsServer.ListenAndServe(); err != nil {
				if !errors.Is(err, http.ErrServerClosed) {
					w.Logger.Fatal("failed to start prometheus metrics server", zap.Error(err))
				}
			}
			w.Logger.Info("metrics server shut down.")
		}()
	}

	pool := worker.NewPool(stack.Queue, worker.WithSize(cfg.Execution.Workers), worker.WithLogger(w.Logger))
	stack.Scheduler.Register(pool)
	sweeper := stack.Sweeper(cfg.Execution.Sweeps)

	w.Logger.Info("🚀 worker started",
		zap.Int("workers", cfg.Execution.Workers),
		zap.Strings("connectors", stack.Connectors.Keys()),
		zap.String("queue", cfg.Queue.Engine),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })
	runErr := g.Wait()

	w.Logger.Info("attempting to shutdown gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			w.Logger.Info("failed to shutdown the prometheus metrics server", zap.Error(err))
		}
	}

	stack.Close()

	if err := tp.Close(shutdownCtx); err != nil {
		w.Logger.Error("failed to shutdown tracing", zap.Error(err))
	}

	w.Logger.Info("worker exited. goodbye 👋")

	return runErr
}
