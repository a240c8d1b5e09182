// Package migrate applies the embedded goose migrations to a SQL datastore.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/dsrkit/dsrkit/assets"
	"github.com/dsrkit/dsrkit/pkg/logger"
	"github.com/dsrkit/dsrkit/pkg/storage/mysql"
	"github.com/dsrkit/dsrkit/pkg/storage/postgres"
	"github.com/dsrkit/dsrkit/pkg/storage/sqlcommon"
	"github.com/dsrkit/dsrkit/pkg/storage/sqlite"
)

// MigrationConfig contains the configuration needed for running migrations.
type MigrationConfig struct {
	Engine        string
	URI           string
	TargetVersion uint
	Timeout       time.Duration
	Verbose       bool
	Username      string
	Password      string
	Logger        logger.Logger
}

type engine struct {
	driver  string
	dialect string
	dir     string
	dsn     func(uri string, cfg *sqlcommon.Config) (string, error)
}

var engines = map[string]engine{
	"postgres": {driver: "pgx", dialect: "postgres", dir: assets.PostgresMigrationDir, dsn: postgres.PrepareDSN},
	"mysql":    {driver: "mysql", dialect: "mysql", dir: assets.MySQLMigrationDir, dsn: mysql.PrepareDSN},
	"sqlite": {driver: "sqlite", dialect: "sqlite", dir: assets.SqliteMigrationDir, dsn: func(uri string, _ *sqlcommon.Config) (string, error) {
		return sqlite.PrepareDSN(uri)
	}},
}

func (cfg MigrationConfig) open(ctx context.Context) (*sql.DB, engine, error) {
	e, ok := engines[cfg.Engine]
	if !ok {
		return nil, engine{}, fmt.Errorf("unknown datastore engine type: %s", cfg.Engine)
	}

	uri, err := e.dsn(cfg.URI, sqlcommon.NewConfig(sqlcommon.WithUsername(cfg.Username), sqlcommon.WithPassword(cfg.Password)))
	if err != nil {
		return nil, engine{}, err
	}

	if err := goose.SetDialect(e.dialect); err != nil {
		return nil, engine{}, fmt.Errorf("failed to set %s dialect: %w", cfg.Engine, err)
	}

	db, err := goose.OpenDBWithDriver(e.driver, uri)
	if err != nil {
		return nil, engine{}, fmt.Errorf("failed to open %s connection: %w", cfg.Engine, err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = cfg.Timeout
	err = backoff.Retry(func() error {
		return db.PingContext(ctx)
	}, policy)
	if err != nil {
		db.Close()
		return nil, engine{}, fmt.Errorf("failed to initialize %s connection: %w", cfg.Engine, err)
	}

	goose.SetBaseFS(assets.EmbedMigrations)
	return db, e, nil
}

// RunMigrations migrates the datastore up to the latest revision, or up or down
// to TargetVersion when it is set.
func RunMigrations(ctx context.Context, cfg MigrationConfig) error {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNoopLogger()
	}
	if cfg.Engine == "memory" {
		log.Info("no migrations to run for `memory` datastore")
		return nil
	}

	goose.SetLogger(goose.NopLogger())
	goose.SetVerbose(cfg.Verbose)

	db, e, err := cfg.open(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	currentVersion, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to get %s db version: %w", cfg.Engine, err)
	}
	log.Info("current datastore revision", zap.String("engine", cfg.Engine), zap.Int64("version", currentVersion))

	if cfg.TargetVersion == 0 {
		if err := goose.UpContext(ctx, db, e.dir); err != nil {
			return fmt.Errorf("failed to run %s migrations: %w", cfg.Engine, err)
		}
		log.Info("migration done", zap.String("engine", cfg.Engine))
		return nil
	}

	target := int64(cfg.TargetVersion)
	switch {
	case target < currentVersion:
		if err := goose.DownToContext(ctx, db, e.dir, target); err != nil {
			return fmt.Errorf("failed to run %s migrations down to %v: %w", cfg.Engine, target, err)
		}
	case target > currentVersion:
		if err := goose.UpToContext(ctx, db, e.dir, target); err != nil {
			return fmt.Errorf("failed to run %s migrations up to %v: %w", cfg.Engine, target, err)
		}
	default:
		log.Info("nothing to do", zap.String("engine", cfg.Engine))
		return nil
	}

	log.Info("migration done", zap.String("engine", cfg.Engine), zap.Int64("version", target))
	return nil
}

// CurrentVersion returns the revision the datastore is migrated to.
func CurrentVersion(ctx context.Context, cfg MigrationConfig) (int64, error) {
	db, _, err := cfg.open(ctx)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	return goose.GetDBVersionContext(ctx, db)
}
