package mysql

import (
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-sql-driver/mysql"

	"github.com/dsrkit/dsrkit/pkg/storage"
	"github.com/dsrkit/dsrkit/pkg/storage/sqlcommon"
)

// duplicateEntry is the MySQL error number for a unique key violation.
const duplicateEntry = 1062

// Datastore provides a MySQL based implementation of [storage.Datastore].
type Datastore struct {
	*sqlcommon.Datastore
}

var _ storage.Datastore = (*Datastore)(nil)

// PrepareDSN applies configured credentials and forces parseTime so timestamps
// scan into time.Time.
func PrepareDSN(uri string, cfg *sqlcommon.Config) (string, error) {
	dsnCfg, err := mysql.ParseDSN(uri)
	if err != nil {
		return "", fmt.Errorf("failed to parse mysql connection dsn: %w", err)
	}

	if cfg.Username != "" {
		dsnCfg.User = cfg.Username
	}
	if cfg.Password != "" {
		dsnCfg.Passwd = cfg.Password
	}
	dsnCfg.ParseTime = true

	return dsnCfg.FormatDSN(), nil
}

// New creates a new [Datastore] storage.
func New(uri string, cfg *sqlcommon.Config) (*Datastore, error) {
	uri, err := PrepareDSN(uri, cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", uri)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mysql connection: %w", err)
	}

	collector, err := sqlcommon.ConfigureDB(db, cfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("configure db: %w", err)
	}

	ds, err := sqlcommon.NewDatastore(db, sq.Question, HandleSQLError, "mysql", collector, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Datastore{Datastore: ds}, nil
}

// HandleSQLError processes an SQL error and converts it into a
// more specific error type based on the nature of the SQL error.
func HandleSQLError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}

	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == duplicateEntry {
		return storage.ErrCollision
	}

	return fmt.Errorf("sql error: %w", err)
}
