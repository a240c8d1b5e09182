package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver.

	"github.com/dsrkit/dsrkit/pkg/storage"
	"github.com/dsrkit/dsrkit/pkg/storage/sqlcommon"
)

// Datastore provides a PostgreSQL based implementation of [storage.Datastore].
type Datastore struct {
	*sqlcommon.Datastore
}

var _ storage.Datastore = (*Datastore)(nil)

// PrepareDSN replaces the user info of uri with the configured credentials.
func PrepareDSN(uri string, cfg *sqlcommon.Config) (string, error) {
	if cfg.Username == "" && cfg.Password == "" {
		return uri, nil
	}

	parsed, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse postgres connection uri: %w", err)
	}

	username := ""
	if cfg.Username != "" {
		username = cfg.Username
	} else if parsed.User != nil {
		username = parsed.User.Username()
	}

	switch {
	case cfg.Password != "":
		parsed.User = url.UserPassword(username, cfg.Password)
	case parsed.User != nil:
		if password, ok := parsed.User.Password(); ok {
			parsed.User = url.UserPassword(username, password)
		} else {
			parsed.User = url.User(username)
		}
	default:
		parsed.User = url.User(username)
	}

	return parsed.String(), nil
}

// New creates a new [Datastore] storage.
func New(uri string, cfg *sqlcommon.Config) (*Datastore, error) {
	uri, err := PrepareDSN(uri, cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", uri)
	if err != nil {
		return nil, fmt.Errorf("initialize postgres connection: %w", err)
	}

	return NewWithDB(db, cfg)
}

// NewWithDB creates a new [Datastore] storage with the provided database connection.
func NewWithDB(db *sql.DB, cfg *sqlcommon.Config) (*Datastore, error) {
	collector, err := sqlcommon.ConfigureDB(db, cfg)
	if err != nil {
		return nil, fmt.Errorf("configure db: %w", err)
	}

	ds, err := sqlcommon.NewDatastore(db, sq.Dollar, HandleSQLError, "postgres", collector, cfg)
	if err != nil {
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

	if strings.Contains(err.Error(), "duplicate key value") {
		return storage.ErrCollision
	}

	return fmt.Errorf("sql error: %w", err)
}
