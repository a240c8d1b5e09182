package sqlite_test

import (
	"context"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dsrkit/dsrkit/pkg/storage"
	"github.com/dsrkit/dsrkit/pkg/storage/migrate"
	"github.com/dsrkit/dsrkit/pkg/storage/sqlcommon"
	"github.com/dsrkit/dsrkit/pkg/storage/sqlite"
	"github.com/dsrkit/dsrkit/pkg/storage/test"
)

func newTestDatastore(t *testing.T, migrated bool) *sqlite.Datastore {
	t.Helper()
	uri := "file:" + filepath.Join(t.TempDir(), "dsrkit.db")
	if migrated {
		require.NoError(t, migrate.RunMigrations(context.Background(), migrate.MigrationConfig{
			Engine:  "sqlite",
			URI:     uri,
			Timeout: 5 * time.Second,
		}))
	}

	ds, err := sqlite.New(uri, sqlcommon.NewConfig())
	require.NoError(t, err)
	t.Cleanup(ds.Close)
	return ds
}

func TestSQLiteDatastore(t *testing.T) {
	ds := newTestDatastore(t, true)
	test.RunAllTests(t, ds)
}

func TestSQLiteDatastoreNotMigrated(t *testing.T) {
	ds := newTestDatastore(t, false)

	status, err := ds.IsReady(context.Background())
	require.NoError(t, err)
	require.False(t, status.IsReady)
	require.Contains(t, status.Message, "dsrkit migrate")
}

func TestPrepareDSN(t *testing.T) {
	dsn, err := sqlite.PrepareDSN("file:dsrkit.db?_pragma=journal_mode(DELETE)")
	require.NoError(t, err)

	path, rawQuery, ok := strings.Cut(dsn, "?")
	require.True(t, ok)
	require.Equal(t, "file:dsrkit.db", path)
	query, err := url.ParseQuery(rawQuery)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"journal_mode(DELETE)", "busy_timeout(5000)"}, query["_pragma"])
	require.Equal(t, "immediate", query.Get("_txlock"))
}

func TestHandleSQLError(t *testing.T) {
	require.ErrorIs(t, sqlite.HandleSQLError(context.DeadlineExceeded), context.DeadlineExceeded)
	require.NotErrorIs(t, sqlite.HandleSQLError(context.DeadlineExceeded), storage.ErrNotFound)
}
