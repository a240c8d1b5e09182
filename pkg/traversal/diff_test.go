package traversal

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dsrkit/dsrkit/pkg/graph"
)

func TestCompareInsertedUpstreamCollection(t *testing.T) {
	seeds := map[string]any{"email": "jane@example.com"}
	before, err := New(customerGraph(t), seeds)
	require.NoError(t, err)

	g := mustGraph(t, &graph.GraphDataset{
		Name: "postgres_db",
		Collections: []*graph.Collection{
			{Name: "customer", Fields: []*graph.Field{field("id"), identity("email", "email"), identity("phone", "phone_number")}},
			{Name: "loyalty", Fields: []*graph.Field{field("id"), refField("email", graph.NewFieldAddress("postgres_db", "customer", "email"), graph.DirectionFrom)}},
			{
				Name: "orders",
				Fields: []*graph.Field{
					field("id"),
					refField("customer_id", graph.NewFieldAddress("postgres_db", "customer", "id"), graph.DirectionFrom),
					refField("loyalty_id", graph.NewFieldAddress("postgres_db", "loyalty", "id"), graph.DirectionFrom),
				},
			},
		},
	}, &graph.GraphDataset{
		Name: "mongo",
		Collections: []*graph.Collection{
			{Name: "profile", Fields: []*graph.Field{refField("email", graph.NewFieldAddress("postgres_db", "customer", "email"), graph.DirectionNone)}},
		},
	})
	after, err := New(g, seeds)
	require.NoError(t, err)

	diff := Compare(before.Representation(), after.Representation(), []graph.CollectionAddress{
		addr("postgres_db", "customer"), addr("postgres_db", "orders"), addr("mongo", "profile"),
	})

	require.Equal(t, 3, diff.PreviousCollectionCount)
	require.Equal(t, 4, diff.CurrentCollectionCount)
	require.Equal(t, []string{"postgres_db:loyalty"}, diff.AddedCollections)
	require.Empty(t, diff.RemovedCollections)
	require.Equal(t, []string{
		"postgres_db:customer:email -> postgres_db:loyalty:email",
		"postgres_db:loyalty:id -> postgres_db:orders:loyalty_id",
	}, diff.AddedEdges)
	require.Equal(t, []string{"postgres_db:loyalty:id -> postgres_db:orders:loyalty_id"}, diff.SkippedAddedEdges)
	require.Equal(t, []string{"mongo:profile", "postgres_db:customer", "postgres_db:orders"}, diff.AlreadyProcessed)
	require.Empty(t, diff.RequiresRerun)
}

func TestCompareChangedInputsPropagate(t *testing.T) {
	root := "__ROOT__:__ROOT__:email -> ds:a:email"
	prev := Representation{
		"ds:a": {root},
		"ds:b": {"ds:a:id -> ds:b:a_id"},
		"ds:c": {"ds:b:id -> ds:c:b_id"},
		"ds:x": {root},
	}
	curr := Representation{
		"ds:a": {root},
		"ds:b": {"ds:a:email -> ds:b:email", "ds:a:id -> ds:b:a_id"},
		"ds:c": {"ds:b:id -> ds:c:b_id"},
	}

	diff := Compare(prev, curr, []graph.CollectionAddress{addr("ds", "a"), addr("ds", "b"), addr("ds", "c"), addr("ds", "x")})
	require.Equal(t, []string{"ds:x"}, diff.RemovedCollections)
	require.Equal(t, []string{"ds:a:email -> ds:b:email"}, diff.AddedEdges)
	require.Empty(t, diff.SkippedAddedEdges)
	require.Equal(t, []string{"ds:a"}, diff.AlreadyProcessed)
	require.Equal(t, []string{"ds:b", "ds:c"}, diff.RequiresRerun)
}

func TestCompareRemovedEdge(t *testing.T) {
	prev := Representation{
		"ds:a": {},
		"ds:b": {"ds:a:id -> ds:b:a_id", "ds:a:email -> ds:b:email"},
	}
	curr := Representation{
		"ds:a": {},
		"ds:b": {"ds:a:id -> ds:b:a_id"},
	}

	diff := Compare(prev, curr, []graph.CollectionAddress{addr("ds", "a")})
	require.Equal(t, []string{"ds:a:email -> ds:b:email"}, diff.RemovedEdges)
	require.Equal(t, []string{"ds:a"}, diff.AlreadyProcessed)
	require.Empty(t, diff.RequiresRerun)
}
