package sqlconn

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dsrkit/dsrkit/pkg/connector"
	"github.com/dsrkit/dsrkit/pkg/graph"
	"github.com/dsrkit/dsrkit/pkg/masking"
	"github.com/dsrkit/dsrkit/pkg/policy"
	"github.com/dsrkit/dsrkit/pkg/queryconfig"
)

func newCustomerStore(t *testing.T) *Connector {
	t.Helper()
	ctx := context.Background()

	c, err := Open("sqlite_connector", queryconfig.SQLite, "file:"+filepath.Join(t.TempDir(), "store.db"), WithMaxRetries(0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Test(ctx))

	_, err = c.db.ExecContext(ctx, `CREATE TABLE customer (id INTEGER PRIMARY KEY, email TEXT, name TEXT, created_at TEXT)`)
	require.NoError(t, err)
	_, err = c.db.ExecContext(ctx, `INSERT INTO customer (id, email, name, created_at) VALUES
		(1, 'customer-1@example.com', 'Jane', '2024-01-03'),
		(2, 'customer-1@example.com', 'Jane Doe', '2024-01-10'),
		(3, 'customer-2@example.com', 'John', '2024-01-04')`)
	require.NoError(t, err)
	return c
}

func customerNode() queryconfig.Node {
	return queryconfig.Node{
		Address: graph.NewCollectionAddress("sqlite_db", "customer"),
		Collection: &graph.Collection{
			Name: "customer",
			Fields: []*graph.Field{
				{Name: "id", PrimaryKey: true, DataType: graph.IntegerType},
				{Name: "email", Identity: "email", DataType: graph.StringType, DataCategories: []string{"user.contact.email"}},
				{Name: "name", DataType: graph.StringType, DataCategories: []string{"user.name"}},
				{Name: "created_at", DataType: graph.StringType},
			},
		},
		QueryFieldPaths: []graph.FieldPath{graph.NewFieldPath("email")},
	}
}

func TestRetrieve(t *testing.T) {
	ctx := context.Background()
	c := newCustomerStore(t)

	qc, err := queryconfig.New(queryconfig.SQLite, customerNode())
	require.NoError(t, err)
	stmt, err := qc.GenerateQuery(queryconfig.Inputs{graph.NewFieldPath("email"): {"customer-1@example.com"}})
	require.NoError(t, err)

	res := c.Retrieve(ctx, stmt)
	require.Equal(t, connector.ResultReady, res.Kind, "%v", res.Err)
	require.Len(t, res.Rows, 2)
	names := []any{res.Rows[0]["name"], res.Rows[1]["name"]}
	require.ElementsMatch(t, []any{"Jane", "Jane Doe"}, names)

	res = c.Retrieve(ctx, &queryconfig.MongoStatement{})
	require.Equal(t, connector.ResultFailed, res.Kind)

	res = c.Retrieve(ctx, &queryconfig.SQLStatement{SQL: "SELECT * FROM missing_table"})
	require.Equal(t, connector.ResultFailed, res.Kind)
	require.ErrorContains(t, res.Err, "sqlite_connector")
}

func TestRetrievePartitionWindows(t *testing.T) {
	ctx := context.Background()
	c := newCustomerStore(t)

	stmt := &queryconfig.SQLStatement{
		Partitions: []queryconfig.SQLStatement{
			{SQL: `SELECT "id" FROM "customer" WHERE "email" = ? AND created_at >= '2024-01-01' AND created_at <= '2024-01-07'`, Args: []any{"customer-1@example.com"}},
			{SQL: `SELECT "id" FROM "customer" WHERE "email" = ? AND created_at > '2024-01-07' AND created_at <= '2024-01-14'`, Args: []any{"customer-1@example.com"}},
		},
	}
	res := c.Retrieve(ctx, stmt)
	require.Equal(t, connector.ResultReady, res.Kind, "%v", res.Err)
	require.Len(t, res.Rows, 2)
}

func TestMask(t *testing.T) {
	ctx := context.Background()
	c := newCustomerStore(t)

	p := &policy.Policy{Key: "erase", Rules: []policy.Rule{{
		Name:             "erase names",
		ActionType:       policy.ActionErasure,
		TargetCategories: []string{"user.name"},
		MaskingStrategy:  &masking.Config{Strategy: masking.NullRewriteName},
	}}}
	qc, err := queryconfig.New(queryconfig.SQLite, customerNode())
	require.NoError(t, err)

	var stmts []queryconfig.Statement
	for _, row := range []map[string]any{{"id": int64(1), "name": "Jane"}, {"id": int64(2), "name": "Jane Doe"}} {
		stmt, err := qc.GenerateUpdate(row, p, "pri_1")
		require.NoError(t, err)
		require.NotNil(t, stmt)
		stmts = append(stmts, stmt)
	}

	res := c.Mask(ctx, stmts)
	require.Equal(t, connector.ResultReady, res.Kind, "%v", res.Err)
	require.Equal(t, 2, res.Masked)

	var nulls int
	require.NoError(t, c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM customer WHERE name IS NULL`).Scan(&nulls))
	require.Equal(t, 2, nulls)
}

func TestOpenRejectsNonSQLTypes(t *testing.T) {
	_, err := Open("mongo", queryconfig.MongoDB, "mongodb://localhost")
	require.ErrorContains(t, err, "not a SQL connection type")
}
