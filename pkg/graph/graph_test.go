package graph

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dsrkit/dsrkit/pkg/masking"
	"github.com/dsrkit/dsrkit/pkg/partition"
)

func ref(dataset, collection, field string, direction Direction) []Reference {
	return []Reference{{Target: NewFieldAddress(dataset, collection, field), Direction: direction}}
}

func customerDataset() *GraphDataset {
	return &GraphDataset{
		Name:         "postgres_db",
		ConnectorKey: "postgres_connector",
		Collections: []*Collection{
			{
				Name: "customer",
				Fields: []*Field{
					{Name: "id", PrimaryKey: true, DataType: IntegerType},
					{Name: "email", Identity: "email", DataType: StringType, DataCategories: []string{"user.contact.email"}},
					{Name: "address", Kind: ObjectField, Fields: []*Field{
						{Name: "city", DataCategories: []string{"user.contact.address.city"}},
						{Name: "zip", DataCategories: []string{"user.contact.address.postal_code"}, Length: 5},
					}},
				},
			},
			{
				Name: "orders",
				Fields: []*Field{
					{Name: "id", PrimaryKey: true},
					{Name: "customer_id", References: ref("postgres_db", "customer", "id", DirectionFrom)},
				},
				After: []CollectionAddress{NewCollectionAddress("postgres_db", "customer")},
			},
		},
	}
}

func TestAddressRoundTrip(t *testing.T) {
	for _, s := range []string{"postgres_db:customer", "__ROOT__:__ROOT__", "a:b"} {
		addr, err := ParseCollectionAddress(s)
		require.NoError(t, err)
		require.Equal(t, s, addr.String())
	}
	for _, s := range []string{"", "nocolon", ":b", "a:", "a:b:c"} {
		_, err := ParseCollectionAddress(s)
		require.Error(t, err, s)
	}

	for _, s := range []string{"postgres_db:customer:email", "mongo:profile:address.city.name"} {
		addr, err := ParseFieldAddress(s)
		require.NoError(t, err)
		require.Equal(t, s, addr.String())
	}
	for _, s := range []string{"a:b", "a:b:", "::c"} {
		_, err := ParseFieldAddress(s)
		require.Error(t, err, s)
	}

	fa, err := ParseFieldAddress("ds:coll:a.b.c")
	require.NoError(t, err)
	require.Equal(t, NewFieldAddress("ds", "coll", "a", "b", "c"), fa)
	require.Equal(t, []string{"a", "b", "c"}, fa.Path.Levels())
}

func TestAddressOrderingAndJSON(t *testing.T) {
	a := NewCollectionAddress("a", "z")
	b := NewCollectionAddress("b", "a")
	require.True(t, a.Less(b))
	require.False(t, b.Less(a))
	require.Equal(t, 0, a.Compare(a))
	require.True(t, RootAddress.IsRoot())
	require.True(t, TerminatorAddress.IsTerminator())

	data, err := json.Marshal(map[CollectionAddress][]FieldAddress{a: {b.Field("x", "y")}})
	require.NoError(t, err)
	require.JSONEq(t, `{"a:z": ["b:a:x.y"]}`, string(data))

	var decoded map[CollectionAddress][]FieldAddress
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, b.Field("x", "y"), decoded[a][0])
}

func TestRetrieveFrom(t *testing.T) {
	row := map[string]any{
		"email": "jane@example.com",
		"address": map[string]any{
			"city": "Paris",
		},
		"orders": []any{
			map[string]any{"id": 1},
			map[string]any{"id": 2},
			map[string]any{"other": 3},
		},
		"tags": []any{"a", "b"},
	}

	require.Equal(t, []any{"jane@example.com"}, NewFieldPath("email").RetrieveFrom(row))
	require.Equal(t, []any{"Paris"}, NewFieldPath("address", "city").RetrieveFrom(row))
	require.Equal(t, []any{1, 2}, NewFieldPath("orders", "id").RetrieveFrom(row))
	require.Equal(t, []any{"a", "b"}, NewFieldPath("tags").RetrieveFrom(row))
	require.Empty(t, NewFieldPath("missing").RetrieveFrom(row))
	require.Empty(t, NewFieldPath("email", "nested").RetrieveFrom(row))
}

func TestCollectionViews(t *testing.T) {
	c := customerDataset().Collections[0]

	var paths []string
	for _, ff := range c.FieldPaths() {
		paths = append(paths, ff.Path.String())
	}
	require.Equal(t, []string{"id", "email", "address", "address.city", "address.zip"}, paths)

	require.Equal(t, map[string][]FieldPath{
		"user.contact.email":               {NewFieldPath("email")},
		"user.contact.address.city":        {NewFieldPath("address", "city")},
		"user.contact.address.postal_code": {NewFieldPath("address", "zip")},
	}, c.FieldsByCategory())

	identities := c.IdentityFields()
	require.Len(t, identities, 1)
	require.Equal(t, "email", identities[0].Field.Identity)

	require.Equal(t, []FieldPath{NewFieldPath("id")}, c.PrimaryKeyPaths())
	require.Equal(t, []string{"id", "email", "address"}, c.TopLevelFieldNames())

	f, ok := c.FieldByPath(NewFieldPath("address", "zip"))
	require.True(t, ok)
	require.Equal(t, 5, f.Length)
	_, ok = c.FieldByPath(NewFieldPath("address", "street"))
	require.False(t, ok)
	require.Len(t, c.FieldDict(), 5)
}

func TestCollectionValidate(t *testing.T) {
	duplicate := &Collection{Name: "c", Fields: []*Field{{Name: "a"}, {Name: "a"}}}
	require.ErrorIs(t, duplicate.Validate(), ErrInvalidGraph)

	nestedDuplicate := &Collection{Name: "c", Fields: []*Field{
		{Name: "a", Kind: ObjectField, Fields: []*Field{{Name: "b"}, {Name: "b"}}},
	}}
	require.ErrorIs(t, nestedDuplicate.Validate(), ErrInvalidGraph)

	sameNameDifferentLevels := &Collection{Name: "c", Fields: []*Field{
		{Name: "a", Kind: ObjectField, Fields: []*Field{{Name: "a"}}},
	}}
	require.NoError(t, sameNameDifferentLevels.Validate())

	emptyObject := &Collection{Name: "c", Fields: []*Field{{Name: "a", Kind: ObjectField}}}
	require.ErrorIs(t, emptyObject.Validate(), ErrInvalidGraph)

	dotted := &Collection{Name: "c", Fields: []*Field{{Name: "a.b"}}}
	require.ErrorIs(t, dotted.Validate(), ErrInvalidGraph)

	badPartition := &Collection{Name: "c", Fields: []*Field{{Name: "a"}}, Partitioning: []partition.Spec{{Field: "a"}}}
	require.ErrorIs(t, badPartition.Validate(), partition.ErrInvalidSpec)
}

func TestCollectionSnapshotRoundTrip(t *testing.T) {
	c := customerDataset().Collections[1]
	c.Partitioning = []partition.Spec{{Field: "created_at", Start: "NOW() - 30 DAYS"}}
	c.MaskingStrategyOverride = &masking.Config{Strategy: masking.NullRewriteName}

	data, err := json.Marshal(c)
	require.NoError(t, err)

	parsed, err := ParseCollection(data)
	require.NoError(t, err)
	require.Equal(t, c, parsed)

	_, err = ParseCollection([]byte(`{"name": "x", "fields": [{"name": "a"}, {"name": "a"}]}`))
	require.ErrorIs(t, err, ErrInvalidGraph)
}

func TestNewGraph(t *testing.T) {
	g, err := NewGraph(customerDataset())
	require.NoError(t, err)

	customer := NewCollectionAddress("postgres_db", "customer")
	orders := NewCollectionAddress("postgres_db", "orders")

	require.Equal(t, []CollectionAddress{customer, orders}, g.Addresses())
	require.Equal(t, []CollectionAddress{customer}, g.After(orders))
	require.Empty(t, g.After(customer))
	require.Equal(t, "postgres_connector", g.ConnectorKey(orders))
	require.Equal(t, []Edge{{From: customer.Field("id"), To: orders.Field("customer_id"), Directed: true}}, g.Edges())
	require.Equal(t, []IdentityField{{Address: customer.Field("email"), Identity: "email"}}, g.IdentityFields())
}

func TestNewGraphDatasetAfter(t *testing.T) {
	mongo := &GraphDataset{
		Name:  "mongo",
		After: []string{"postgres_db"},
		Collections: []*Collection{{
			Name:   "profile",
			Fields: []*Field{{Name: "email", References: ref("postgres_db", "customer", "email", DirectionNone)}},
		}},
	}

	g, err := NewGraph(customerDataset(), mongo)
	require.NoError(t, err)
	require.Equal(t, []CollectionAddress{
		NewCollectionAddress("postgres_db", "customer"),
		NewCollectionAddress("postgres_db", "orders"),
	}, g.After(NewCollectionAddress("mongo", "profile")))

	edges := g.Edges()
	require.Len(t, edges, 2)
	require.False(t, edges[1].Directed)
	require.True(t, edges[1].Touches(NewCollectionAddress("mongo", "profile")))

	mongo.After = []string{"nope"}
	_, err = NewGraph(customerDataset(), mongo)
	require.ErrorIs(t, err, ErrInvalidReference)
}

func TestNewGraphRejectsReferences(t *testing.T) {
	t.Run("self_reference", func(t *testing.T) {
		ds := customerDataset()
		ds.Collections[0].Fields[0].References = ref("postgres_db", "customer", "email", DirectionNone)

		_, err := NewGraph(ds)
		require.ErrorIs(t, err, ErrSelfReference)

		var refErr *ReferenceError
		require.ErrorAs(t, err, &refErr)
		require.Equal(t, "postgres_db:customer:id", refErr.Field.String())
	})

	t.Run("missing_collection", func(t *testing.T) {
		ds := customerDataset()
		ds.Collections[1].Fields[1].References = ref("postgres_db", "nope", "id", DirectionFrom)

		_, err := NewGraph(ds)
		require.ErrorIs(t, err, ErrInvalidReference)
	})

	t.Run("missing_field", func(t *testing.T) {
		ds := customerDataset()
		ds.Collections[1].Fields[1].References = ref("postgres_db", "customer", "nope", DirectionFrom)

		_, err := NewGraph(ds)
		require.ErrorIs(t, err, ErrInvalidReference)
	})

	t.Run("missing_after", func(t *testing.T) {
		ds := customerDataset()
		ds.Collections[1].After = []CollectionAddress{NewCollectionAddress("x", "y")}

		_, err := NewGraph(ds)
		require.ErrorIs(t, err, ErrInvalidReference)
	})

	t.Run("duplicate_dataset", func(t *testing.T) {
		_, err := NewGraph(customerDataset(), customerDataset())
		require.ErrorIs(t, err, ErrInvalidGraph)
	})
}

func TestNewGraphRejectsUnaddressableNames(t *testing.T) {
	tests := map[string]func(ds *GraphDataset){
		"dataset_with_colon":      func(ds *GraphDataset) { ds.Name = "postgres:db" },
		"dataset_with_dot":        func(ds *GraphDataset) { ds.Name = "postgres.db" },
		"collection_with_colon":   func(ds *GraphDataset) { ds.Collections[0].Name = "a:b" },
		"collection_with_dot":     func(ds *GraphDataset) { ds.Collections[0].Name = "a.b" },
		"collection_without_name": func(ds *GraphDataset) { ds.Collections[0].Name = "" },
		"dataset_without_name":    func(ds *GraphDataset) { ds.Name = "" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			ds := customerDataset()
			mutate(ds)
			_, err := NewGraph(ds)
			require.ErrorIs(t, err, ErrInvalidGraph)
		})
	}

	g, err := NewGraph(customerDataset())
	require.NoError(t, err)
	for _, addr := range g.Addresses() {
		parsed, err := ParseCollectionAddress(addr.String())
		require.NoError(t, err)
		require.Equal(t, addr, parsed)
	}
}

func TestDataTypeConvert(t *testing.T) {
	tests := []struct {
		dataType DataType
		in       any
		out      any
		ok       bool
	}{
		{StringType, "a", "a", true},
		{StringType, 12, "12", true},
		{StringType, map[string]any{}, nil, false},
		{IntegerType, "42", int64(42), true},
		{IntegerType, 42.0, int64(42), true},
		{IntegerType, 42.5, nil, false},
		{IntegerType, json.Number("7"), int64(7), true},
		{FloatType, "1.5", 1.5, true},
		{BooleanType, "true", true, true},
		{BooleanType, int64(2), false, false},
		{ObjectIDType, "507F1F77BCF86CD799439011", "507f1f77bcf86cd799439011", true},
		{ObjectIDType, "not-an-object-id", nil, false},
		{NoOpType, []any{1}, []any{1}, true},
		{StringType, nil, nil, false},
	}
	for _, test := range tests {
		out, ok := test.dataType.Convert(test.in)
		require.Equal(t, test.ok, ok, "%s(%v)", test.dataType, test.in)
		if test.ok {
			require.Equal(t, test.out, out, "%s(%v)", test.dataType, test.in)
		}
	}
}
