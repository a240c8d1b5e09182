package queryconfig

import (
	"testing"
	"time"

	"github.com/juju/mgo/v3/bson"
	"github.com/stretchr/testify/require"

	"github.com/dsrkit/dsrkit/pkg/graph"
	"github.com/dsrkit/dsrkit/pkg/masking"
	"github.com/dsrkit/dsrkit/pkg/partition"
	"github.com/dsrkit/dsrkit/pkg/policy"
)

var (
	emailPath = graph.NewFieldPath("email")
	idPath    = graph.NewFieldPath("id")
)

func customerCollection() *graph.Collection {
	return &graph.Collection{
		Name: "customer",
		Fields: []*graph.Field{
			{Name: "id", PrimaryKey: true, DataType: graph.IntegerType},
			{Name: "email", Identity: "email", DataType: graph.StringType, Length: 6, DataCategories: []string{"user.contact.email"}},
			{Name: "name", DataCategories: []string{"user.name"}},
			{Name: "address", Kind: graph.ObjectField, Fields: []*graph.Field{
				{Name: "city", DataCategories: []string{"user.contact.address.city"}},
			}},
		},
	}
}

func customerNode(paths ...graph.FieldPath) Node {
	return Node{
		Address:         graph.NewCollectionAddress("postgres_db", "customer"),
		Collection:      customerCollection(),
		QueryFieldPaths: paths,
	}
}

func mustNew(t *testing.T, ct ConnectionType, n Node, opts ...Option) QueryConfig {
	t.Helper()
	qc, err := New(ct, n, opts...)
	require.NoError(t, err)
	return qc
}

func erasurePolicy(categories ...string) *policy.Policy {
	return &policy.Policy{
		Key: "erasure",
		Rules: []policy.Rule{{
			Name:             "mask",
			ActionType:       policy.ActionErasure,
			TargetCategories: categories,
			MaskingStrategy:  &masking.Config{Strategy: masking.NullRewriteName},
		}},
	}
}

const selectCustomer = `SELECT "id", "email", "name", "address" FROM "customer"`

func TestNew(t *testing.T) {
	_, err := New("oracle", customerNode(emailPath))
	require.Error(t, err)

	_, err = New(Postgres, Node{Address: graph.NewCollectionAddress("a", "b")})
	require.Error(t, err)
}

func TestSQLGenerateQuery(t *testing.T) {
	t.Run("single_value_uses_equality", func(t *testing.T) {
		qc := mustNew(t, Postgres, customerNode(emailPath))
		stmt, err := qc.GenerateQuery(Inputs{emailPath: {"jane@example.com", "jane@example.com", "", nil}})
		require.NoError(t, err)

		s := stmt.(*SQLStatement)
		require.Equal(t, selectCustomer+` WHERE "email" = $1`, s.SQL)
		require.Equal(t, []any{"jane@example.com"}, s.Args)
		require.Equal(t, selectCustomer+` WHERE "email" = 'jane@example.com'`, qc.QueryToString(stmt))
	})

	t.Run("postgres_binds_one_array", func(t *testing.T) {
		qc := mustNew(t, Postgres, customerNode(emailPath))
		stmt, err := qc.GenerateQuery(Inputs{emailPath: {"a@example.com", "b@example.com", "a@example.com"}})
		require.NoError(t, err)

		s := stmt.(*SQLStatement)
		require.Equal(t, selectCustomer+` WHERE "email" = ANY($1)`, s.SQL)
		require.Equal(t, []any{[]string{"a@example.com", "b@example.com"}}, s.Args)
		require.Equal(t, selectCustomer+` WHERE "email" = ANY(ARRAY['a@example.com', 'b@example.com'])`, qc.QueryToString(stmt))
	})

	t.Run("mysql_expands_parameters", func(t *testing.T) {
		qc := mustNew(t, MySQL, customerNode(emailPath))
		stmt, err := qc.GenerateQuery(Inputs{emailPath: {"a@example.com", "b@example.com"}})
		require.NoError(t, err)

		s := stmt.(*SQLStatement)
		require.Equal(t, "SELECT `id`, `email`, `name`, `address` FROM `customer` WHERE `email` IN (?,?)", s.SQL)
		require.Equal(t, []any{"a@example.com", "b@example.com"}, s.Args)
	})

	t.Run("mssql_named_parameters", func(t *testing.T) {
		qc := mustNew(t, MSSQL, customerNode(emailPath))
		stmt, err := qc.GenerateQuery(Inputs{emailPath: {"a@example.com", "b@example.com"}})
		require.NoError(t, err)
		require.Equal(t, "SELECT [id], [email], [name], [address] FROM [customer] WHERE [email] IN (@p1,@p2)", stmt.(*SQLStatement).SQL)
	})

	t.Run("distinct_fields_are_ored", func(t *testing.T) {
		qc := mustNew(t, Postgres, customerNode(emailPath, idPath))
		stmt, err := qc.GenerateQuery(Inputs{emailPath: {"jane@example.com"}, idPath: {"1", 2.0, "not-a-number"}})
		require.NoError(t, err)

		s := stmt.(*SQLStatement)
		require.Equal(t, selectCustomer+` WHERE ("email" = $1 OR "id" = ANY($2))`, s.SQL)
		require.Equal(t, []any{"jane@example.com", []int64{1, 2}}, s.Args)
	})

	t.Run("no_usable_values", func(t *testing.T) {
		qc := mustNew(t, SQLite, customerNode(emailPath, idPath))
		stmt, err := qc.GenerateQuery(Inputs{emailPath: {"", nil}, idPath: {"x"}})
		require.NoError(t, err)
		require.Nil(t, stmt)

		stmt, err = qc.GenerateQuery(nil)
		require.NoError(t, err)
		require.Nil(t, stmt)
	})

	t.Run("nested_query_field", func(t *testing.T) {
		city := graph.NewFieldPath("address", "city")
		qc := mustNew(t, SQLite, customerNode(city))
		_, err := qc.GenerateQuery(Inputs{city: {"Paris"}})
		require.ErrorIs(t, err, ErrSQLTranslation)
	})
}

func TestSQLPartitionedQuery(t *testing.T) {
	c := &graph.Collection{
		Name:   "orders",
		Fields: []*graph.Field{{Name: "id", PrimaryKey: true}, {Name: "customer_id"}, {Name: "created_at"}},
		Partitioning: []partition.Spec{
			{Field: "created_at", Start: "2024-01-01", End: "2024-01-08", Interval: "7 days"},
			{Field: "created_at", Start: "2024-01-08", End: "2024-01-10", Interval: "7 days"},
		},
	}
	customerID := graph.NewFieldPath("customer_id")
	n := Node{Address: graph.NewCollectionAddress("db", "orders"), Collection: c, QueryFieldPaths: []graph.FieldPath{customerID}}
	now := func() time.Time { return time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC) }

	qc := mustNew(t, SQLite, n, WithNow(now))
	stmt, err := qc.GenerateQuery(Inputs{customerID: {1}})
	require.NoError(t, err)

	windows := stmt.(*SQLStatement).Windows()
	require.Len(t, windows, 2)
	const selectOrders = `SELECT "id", "customer_id", "created_at" FROM "orders" WHERE "customer_id" = ?`
	require.Equal(t, selectOrders+` AND "created_at" >= '2024-01-01' AND "created_at" <= '2024-01-08'`, windows[0].SQL)
	require.Equal(t, selectOrders+` AND "created_at" > '2024-01-08' AND "created_at" <= '2024-01-10'`, windows[1].SQL)
	require.Equal(t, []any{1}, windows[1].Args)

	dry, err := qc.DryRunQuery()
	require.NoError(t, err)
	require.Contains(t, dry, "\n")
}

func TestSQLGenerateUpdate(t *testing.T) {
	row := Row{"id": 1, "email": "jane@example.com", "name": "Jane", "address": map[string]any{"city": "Paris"}}

	t.Run("masks_targeted_top_level_fields", func(t *testing.T) {
		qc := mustNew(t, Postgres, customerNode(emailPath))
		stmt, err := qc.GenerateUpdate(row, erasurePolicy("user.contact"), "pri_1")
		require.NoError(t, err)

		s := stmt.(*SQLStatement)
		require.Equal(t, `UPDATE "customer" SET "email" = $1 WHERE "id" = $2`, s.SQL)
		require.Equal(t, []any{nil, 1}, s.Args)
		require.Equal(t, `UPDATE "customer" SET "email" = NULL WHERE "id" = 1`, qc.QueryToString(stmt))
	})

	t.Run("override_precedence_and_truncation", func(t *testing.T) {
		n := customerNode(emailPath)
		n.Collection.MaskingStrategyOverride = &masking.Config{Strategy: masking.StringRewriteName, Configuration: map[string]any{"rewrite_value": "collection-level"}}
		n.Collection.Fields[2].MaskingStrategyOverride = &masking.Config{Strategy: masking.StringRewriteName, Configuration: map[string]any{"rewrite_value": "field"}}

		qc := mustNew(t, MySQL, n)
		stmt, err := qc.GenerateUpdate(row, erasurePolicy("user"), "pri_1")
		require.NoError(t, err)

		s := stmt.(*SQLStatement)
		require.Equal(t, "UPDATE `customer` SET `email` = ?, `name` = ? WHERE `id` = ?", s.SQL)
		require.Equal(t, []any{"collec", "field", 1}, s.Args)
	})

	t.Run("nothing_to_do", func(t *testing.T) {
		qc := mustNew(t, Postgres, customerNode(emailPath))

		stmt, err := qc.GenerateUpdate(Row{"email": "jane@example.com"}, erasurePolicy("user"), "pri_1")
		require.NoError(t, err)
		require.Nil(t, stmt)

		stmt, err = qc.GenerateUpdate(row, erasurePolicy("system"), "pri_1")
		require.NoError(t, err)
		require.Nil(t, stmt)

		stmt, err = qc.GenerateUpdate(row, nil, "pri_1")
		require.NoError(t, err)
		require.Nil(t, stmt)
	})
}

func TestSQLDryRunQuery(t *testing.T) {
	qc := mustNew(t, Postgres, customerNode(emailPath, idPath))
	dry, err := qc.DryRunQuery()
	require.NoError(t, err)
	require.Equal(t, selectCustomer+` WHERE ("email" = $1 OR "id" = $2)`, dry)

	_, err = mustNew(t, Postgres, customerNode()).DryRunQuery()
	require.ErrorIs(t, err, ErrSQLTranslation)
}

func TestMongoGenerateQuery(t *testing.T) {
	qc := mustNew(t, MongoDB, customerNode(emailPath, idPath))
	projection := bson.M{"id": 1, "email": 1, "name": 1, "address": 1}

	stmt, err := qc.GenerateQuery(Inputs{emailPath: {"jane@example.com"}})
	require.NoError(t, err)
	require.Equal(t, &MongoStatement{
		Collection: "customer",
		Filter:     bson.M{"email": "jane@example.com"},
		Projection: projection,
	}, stmt)

	stmt, err = qc.GenerateQuery(Inputs{emailPath: {"a@example.com", "b@example.com"}, idPath: {1}})
	require.NoError(t, err)
	require.Equal(t, bson.M{"$or": []bson.M{
		{"email": bson.M{"$in": []any{"a@example.com", "b@example.com"}}},
		{"id": int64(1)},
	}}, stmt.(*MongoStatement).Filter)

	stmt, err = qc.GenerateQuery(Inputs{})
	require.NoError(t, err)
	require.Nil(t, stmt)
}

func TestMongoObjectIDs(t *testing.T) {
	oid := graph.NewFieldPath("_id")
	c := &graph.Collection{Name: "profile", Fields: []*graph.Field{{Name: "_id", DataType: graph.ObjectIDType, PrimaryKey: true}}}
	qc := mustNew(t, MongoDB, Node{Address: graph.NewCollectionAddress("mongo", "profile"), Collection: c, QueryFieldPaths: []graph.FieldPath{oid}})

	stmt, err := qc.GenerateQuery(Inputs{oid: {"507f1f77bcf86cd799439011"}})
	require.NoError(t, err)
	require.Equal(t, bson.M{"_id": bson.ObjectIdHex("507f1f77bcf86cd799439011")}, stmt.(*MongoStatement).Filter)
}

func TestMongoGenerateUpdate(t *testing.T) {
	qc := mustNew(t, MongoDB, customerNode(emailPath))
	row := Row{"id": 1, "email": "jane@example.com", "address": map[string]any{"city": "Paris"}}

	stmt, err := qc.GenerateUpdate(row, erasurePolicy("user.contact"), "pri_1")
	require.NoError(t, err)
	require.Equal(t, &MongoStatement{
		Collection: "customer",
		Filter:     bson.M{"id": 1},
		Update:     bson.M{"$set": bson.M{"address.city": nil, "email": nil}},
	}, stmt)
	require.Equal(t, `db.customer.update({"id":1}, {"$set":{"address.city":null,"email":null}})`, qc.QueryToString(stmt))

	dry, err := qc.DryRunQuery()
	require.NoError(t, err)
	require.Equal(t, `db.customer.find({"email":"?"}, {"address":1,"email":1,"id":1,"name":1})`, dry)
}

func TestManual(t *testing.T) {
	qc := mustNew(t, Manual, customerNode(emailPath))

	stmt, err := qc.GenerateQuery(Inputs{emailPath: {"jane@example.com"}})
	require.NoError(t, err)
	require.Equal(t, &ManualAction{
		Locators: map[string][]any{"email": {"jane@example.com"}},
		Get:      []string{"id", "email", "name", "address.city"},
	}, stmt)

	stmt, err = qc.GenerateUpdate(Row{"id": 7, "name": "Jane"}, erasurePolicy("user.name"), "pri_1")
	require.NoError(t, err)
	require.Equal(t, &ManualAction{
		Locators: map[string][]any{"id": {7}},
		Update:   map[string]any{"name": nil},
	}, stmt)

	dry, err := qc.DryRunQuery()
	require.NoError(t, err)
	require.JSONEq(t, `{"locators": {"email": ["?"]}, "get": ["id", "email", "name", "address.city"]}`, dry)
}
