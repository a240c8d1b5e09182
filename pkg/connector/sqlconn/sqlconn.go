// Package sqlconn executes SQL statements against Postgres, MySQL, SQLite and
// SQL Server through database/sql.
package sqlconn

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/go-sql-driver/mysql"  // register "mysql"
	_ "github.com/jackc/pgx/v5/stdlib"  // register "pgx"
	_ "github.com/microsoft/go-mssqldb" // register "sqlserver"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // register "sqlite"

	"github.com/dsrkit/dsrkit/pkg/connector"
	"github.com/dsrkit/dsrkit/pkg/logger"
	"github.com/dsrkit/dsrkit/pkg/queryconfig"
)

var tracer = otel.Tracer("dsrkit/pkg/connector/sqlconn")

var drivers = map[queryconfig.ConnectionType]string{
	queryconfig.Postgres: "pgx",
	queryconfig.MySQL:    "mysql",
	queryconfig.SQLite:   "sqlite",
	queryconfig.MSSQL:    "sqlserver",
}

type Connector struct {
	key        string
	ct         queryconfig.ConnectionType
	db         *sql.DB
	maxRetries uint64
	logger     logger.Logger
}

var _ connector.Connector = (*Connector)(nil)

type Option func(*Connector)

// WithMaxRetries bounds how often a failing statement is retried.
func WithMaxRetries(n uint64) Option {
	return func(c *Connector) {
		c.maxRetries = n
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *Connector) {
		c.logger = l
	}
}

// Open connects to the store behind dsn with the driver for ct.
func Open(key string, ct queryconfig.ConnectionType, dsn string, opts ...Option) (*Connector, error) {
	driver, ok := drivers[ct]
	if !ok {
		return nil, fmt.Errorf("connector %s: %q is not a SQL connection type", key, ct)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connector %s: %w", key, err)
	}
	return New(key, ct, db, opts...), nil
}

// New wraps an open database. The connector owns db and closes it.
func New(key string, ct queryconfig.ConnectionType, db *sql.DB, opts ...Option) *Connector {
	c := &Connector{
		key:        key,
		ct:         ct,
		db:         db,
		maxRetries: 3,
		logger:     logger.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Connector) Key() string { return c.key }

func (c *Connector) ConnectionType() queryconfig.ConnectionType { return c.ct }

func (c *Connector) retry(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	return backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx),
		func(err error, d time.Duration) {
			c.logger.WarnWithContext(ctx, "retrying statement", zap.String("connector", c.key), zap.Duration("after", d), zap.Error(err))
		})
}

// Retrieve runs every partition window of the statement and concatenates the rows.
func (c *Connector) Retrieve(ctx context.Context, stmt queryconfig.Statement) connector.Result {
	ctx, span := tracer.Start(ctx, "sqlconn.Retrieve")
	span.SetAttributes(attribute.String("connector", c.key))
	defer span.End()

	s, ok := stmt.(*queryconfig.SQLStatement)
	if !ok {
		return connector.Failed(fmt.Errorf("connector %s cannot run %T", c.key, stmt))
	}

	var rows []map[string]any
	for _, window := range s.Windows() {
		var batch []map[string]any
		err := c.retry(ctx, func() error {
			var err error
			batch, err = c.query(ctx, window)
			return err
		})
		if err != nil {
			span.RecordError(err)
			return connector.Failed(fmt.Errorf("connector %s: %w", c.key, err))
		}
		rows = append(rows, batch...)
	}
	return connector.Ready(rows)
}

func (c *Connector) query(ctx context.Context, stmt queryconfig.SQLStatement) ([]map[string]any, error) {
	rows, err := c.db.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Mask runs the update statements in one transaction and counts the changed rows.
func (c *Connector) Mask(ctx context.Context, stmts []queryconfig.Statement) connector.Result {
	ctx, span := tracer.Start(ctx, "sqlconn.Mask")
	span.SetAttributes(attribute.String("connector", c.key), attribute.Int("statements", len(stmts)))
	defer span.End()

	updates := make([]*queryconfig.SQLStatement, 0, len(stmts))
	for _, stmt := range stmts {
		s, ok := stmt.(*queryconfig.SQLStatement)
		if !ok {
			return connector.Failed(fmt.Errorf("connector %s cannot run %T", c.key, stmt))
		}
		updates = append(updates, s)
	}

	var masked int
	err := c.retry(ctx, func() error {
		n, err := c.exec(ctx, updates)
		masked = n
		return err
	})
	if err != nil {
		span.RecordError(err)
		return connector.Failed(fmt.Errorf("connector %s: %w", c.key, err))
	}
	return connector.Masked(masked)
}

func (c *Connector) exec(ctx context.Context, updates []*queryconfig.SQLStatement) (int, error) {
	txn, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = txn.Rollback()
	}()

	var total int64
	for _, u := range updates {
		res, err := txn.ExecContext(ctx, u.SQL, u.Args...)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		total += n
	}
	if err := txn.Commit(); err != nil {
		return 0, err
	}
	return int(total), nil
}

func (c *Connector) Test(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Connector) Close() error {
	return c.db.Close()
}
