package run

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/dsrkit/dsrkit/cmd/util"
	"github.com/dsrkit/dsrkit/pkg/cache"
	rediscache "github.com/dsrkit/dsrkit/pkg/cache/redis"
	"github.com/dsrkit/dsrkit/pkg/config"
	"github.com/dsrkit/dsrkit/pkg/connector"
	"github.com/dsrkit/dsrkit/pkg/connector/httpconn"
	"github.com/dsrkit/dsrkit/pkg/connector/manual"
	"github.com/dsrkit/dsrkit/pkg/connector/mongoconn"
	"github.com/dsrkit/dsrkit/pkg/connector/sqlconn"
	"github.com/dsrkit/dsrkit/pkg/logger"
	"github.com/dsrkit/dsrkit/pkg/queryconfig"
	"github.com/dsrkit/dsrkit/pkg/queue"
	redisqueue "github.com/dsrkit/dsrkit/pkg/queue/redis"
	"github.com/dsrkit/dsrkit/pkg/scheduler"
	"github.com/dsrkit/dsrkit/pkg/storage"
	"github.com/dsrkit/dsrkit/pkg/storage/memory"
	"github.com/dsrkit/dsrkit/pkg/storage/mysql"
	"github.com/dsrkit/dsrkit/pkg/storage/postgres"
	"github.com/dsrkit/dsrkit/pkg/storage/sqlcommon"
	"github.com/dsrkit/dsrkit/pkg/storage/sqlite"
)

// Stack holds everything a scheduler needs, built from one Config.
type Stack struct {
	Datastore  storage.Datastore
	Cache      cache.Cache
	Queue      queue.Queue
	Connectors *connector.Registry
	Scheduler  *scheduler.Scheduler

	redis  *rediscache.Handle
	logger logger.Logger
}

// NewStack opens the datastore, cache, queue and connectors and loads the dataset graph.
// Whatever was opened is closed again when a later step fails.
func NewStack(cfg *config.Config, log logger.Logger) (_ *Stack, err error) {
	s := &Stack{logger: log}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	if s.Datastore, err = newDatastore(cfg, log); err != nil {
		return nil, err
	}
	log.Info(fmt.Sprintf("using '%v' storage engine", cfg.Datastore.Engine))

	if cfg.Cache.Engine == "redis" || cfg.Queue.Engine == "redis" {
		s.redis, err = rediscache.New(
			rediscache.WithAddr(cfg.Redis.Addrs),
			rediscache.WithUserCredential(cfg.Redis.Username),
			rediscache.WithPassCredential(cfg.Redis.Password),
			rediscache.WithDatabase(cfg.Redis.DB),
			rediscache.WithTTL(cfg.Cache.TTL),
		)
		if err != nil {
			return nil, fmt.Errorf("initialize redis: %w", err)
		}
	}

	switch cfg.Cache.Engine {
	case "redis":
		s.Cache = s.redis
	default:
		if s.Cache, err = cache.NewInMemoryCache(cache.WithDefaultTTL(cfg.Cache.TTL)); err != nil {
			return nil, fmt.Errorf("initialize cache: %w", err)
		}
	}

	switch cfg.Queue.Engine {
	case "redis":
		s.Queue = redisqueue.New(s.redis.Client(), cfg.Queue.Name, redisqueue.WithPollTimeout(cfg.Queue.PollTimeout))
	default:
		s.Queue = queue.NewMemoryQueue()
	}
	if s.Connectors, err = newConnectors(cfg.Connectors, log); err != nil {
		return nil, err
	}

	g, err := util.LoadGraph(cfg.Datasets)
	if err != nil {
		return nil, err
	}
	for _, addr := range g.Addresses() {
		if _, err := s.Connectors.Get(g.ConnectorKey(addr)); err != nil {
			return nil, fmt.Errorf("collection %s: %w", addr, err)
		}
	}

	s.Scheduler = scheduler.New(s.Datastore, s.Cache, s.Queue, s.Connectors, g,
		scheduler.WithLogger(log),
		scheduler.WithMaxRetries(cfg.Execution.MaxRetries),
		scheduler.WithCacheTTL(cfg.Cache.TTL),
		scheduler.WithAsyncPollingTimeout(cfg.Execution.AsyncPollingTimeout),
		scheduler.WithRetentionPeriod(cfg.Execution.RetentionPeriod),
	)
	return s, nil
}

// Sweeper returns the sweeper of the stack's scheduler using the configured intervals.
func (s *Stack) Sweeper(cfg config.SweepConfig) *scheduler.Sweeper {
	return scheduler.NewSweeper(s.Scheduler,
		scheduler.WithSweeperLogger(s.logger),
		scheduler.WithInterval(scheduler.SweepExitedRequests, cfg.ExitedRequests),
		scheduler.WithInterval(scheduler.SweepInterruptedTasks, cfg.InterruptedTasks),
		scheduler.WithInterval(scheduler.SweepAsyncTasks, cfg.AsyncTasks),
		scheduler.WithInterval(scheduler.SweepExpiredRequestData, cfg.ExpiredRequestData),
	)
}

func (s *Stack) Close() {
	if s.Connectors != nil {
		if err := s.Connectors.Close(); err != nil {
			s.logger.Warn("failed to close connectors", zap.Error(err))
		}
	}
	if s.Queue != nil {
		if err := s.Queue.Close(); err != nil {
			s.logger.Warn("failed to close queue", zap.Error(err))
		}
	}
	if s.Cache != nil {
		if err := s.Cache.Close(); err != nil {
			s.logger.Warn("failed to close cache", zap.Error(err))
		}
	}
	// the redis queue borrows the client of the handle
	if s.redis != nil && cache.Cache(s.redis) != s.Cache {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if s.Datastore != nil {
		s.Datastore.Close()
	}
}

func newDatastore(cfg *config.Config, log logger.Logger) (storage.Datastore, error) {
	opts := []sqlcommon.DatastoreOption{
		sqlcommon.WithUsername(cfg.Datastore.Username),
		sqlcommon.WithPassword(cfg.Datastore.Password),
		sqlcommon.WithLogger(log),
		sqlcommon.WithMaxOpenConns(cfg.Datastore.MaxOpenConns),
		sqlcommon.WithMaxIdleConns(cfg.Datastore.MaxIdleConns),
		sqlcommon.WithConnMaxIdleTime(cfg.Datastore.ConnMaxIdleTime),
		sqlcommon.WithConnMaxLifetime(cfg.Datastore.ConnMaxLifetime),
	}
	if cfg.Datastore.Metrics.Enabled {
		opts = append(opts, sqlcommon.WithMetrics())
	}
	dsCfg := sqlcommon.NewConfig(opts...)

	switch cfg.Datastore.Engine {
	case "memory":
		return memory.New(), nil
	case "mysql":
		ds, err := mysql.New(cfg.Datastore.URI, dsCfg)
		if err != nil {
			return nil, fmt.Errorf("initialize mysql datastore: %w", err)
		}
		return ds, nil
	case "postgres":
		ds, err := postgres.New(cfg.Datastore.URI, dsCfg)
		if err != nil {
			return nil, fmt.Errorf("initialize postgres datastore: %w", err)
		}
		return ds, nil
	case "sqlite":
		ds, err := sqlite.New(cfg.Datastore.URI, dsCfg)
		if err != nil {
			return nil, fmt.Errorf("initialize sqlite datastore: %w", err)
		}
		return ds, nil
	default:
		return nil, fmt.Errorf("storage engine '%s' is unsupported", cfg.Datastore.Engine)
	}
}

func newConnectors(cfgs []config.ConnectorConfig, log logger.Logger) (*connector.Registry, error) {
	registry, err := connector.NewRegistry()
	if err != nil {
		return nil, err
	}
	for _, c := range cfgs {
		conn, err := newConnector(c, log)
		if err != nil {
			_ = registry.Close()
			return nil, fmt.Errorf("connector %q: %w", c.Key, err)
		}
		if err := registry.Register(conn); err != nil {
			_ = conn.Close()
			_ = registry.Close()
			return nil, err
		}
		log.Info("connector ready", zap.String("key", c.Key), zap.String("type", c.Type))
	}
	return registry, nil
}

func newConnector(c config.ConnectorConfig, log logger.Logger) (connector.Connector, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = config.DefaultConnectorTimeout
	}
	switch ct := queryconfig.ConnectionType(c.Type); ct {
	case queryconfig.Postgres, queryconfig.MySQL, queryconfig.SQLite, queryconfig.MSSQL:
		opts := []sqlconn.Option{sqlconn.WithLogger(log)}
		if c.MaxRetries > 0 {
			opts = append(opts, sqlconn.WithMaxRetries(c.MaxRetries))
		}
		return sqlconn.Open(c.Key, ct, c.URI, opts...)
	case queryconfig.MongoDB:
		return mongoconn.Dial(c.Key, c.URI, c.Database, timeout)
	case queryconfig.HTTP:
		httpCfg := c.HTTP
		if httpCfg.Timeout <= 0 {
			httpCfg.Timeout = timeout
		}
		return httpconn.New(c.Key, httpCfg)
	case queryconfig.Manual:
		return manual.New(c.Key), nil
	default:
		return nil, fmt.Errorf("unsupported connector type %q", c.Type)
	}
}
