package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dsrkit/dsrkit/pkg/graph"
	"github.com/dsrkit/dsrkit/pkg/masking"
	"github.com/dsrkit/dsrkit/pkg/partition"
)

const postgresExample = `
dataset:
  - fides_key: postgres_example
    connector_key: postgres_primary
    collections:
      - name: customer
        fields:
          - name: id
            fides_meta:
              primary_key: true
              data_type: integer
          - name: email
            data_categories: [user.contact.email]
            fides_meta:
              identity: email
              data_type: string
              length: 40
          - name: address
            fields:
              - name: city
                data_categories: [user.contact.address.city]
      - name: orders
        fides_meta:
          after: [postgres_example.customer]
          partitioning:
            - field: created_at
              start: NOW() - 90 DAYS
              end: NOW()
              interval: 30 days
          masking_strategy_override:
            strategy: null_rewrite
        fields:
          - name: id
            fides_meta:
              primary_key: true
          - name: customer_id
            fides_meta:
              references:
                - dataset: postgres_example
                  field: customer.id
                  direction: from
`

const mongoExample = `
dataset:
  - fides_key: mongo_example
    fides_meta:
      after: [postgres_example]
    collections:
      - name: profile
        fields:
          - name: contact
            fields:
              - name: email
                fides_meta:
                  references:
                    - dataset: postgres_example
                      field: customer.email
`

func TestParse(t *testing.T) {
	datasets, err := Parse([]byte(postgresExample))
	require.NoError(t, err)
	require.Len(t, datasets, 1)

	ds := datasets[0]
	require.Equal(t, "postgres_example", ds.Name)
	require.Equal(t, "postgres_primary", ds.ConnectorKey)
	require.Len(t, ds.Collections, 2)

	customer := ds.Collections[0]
	require.Equal(t, graph.IntegerType, customer.Fields[0].DataType)
	require.True(t, customer.Fields[0].PrimaryKey)
	require.Equal(t, "email", customer.Fields[1].Identity)
	require.Equal(t, 40, customer.Fields[1].Length)
	require.Equal(t, graph.ObjectField, customer.Fields[2].Kind)
	require.Equal(t, []string{"user.contact.address.city"}, customer.Fields[2].Fields[0].DataCategories)

	orders := ds.Collections[1]
	require.Equal(t, []graph.CollectionAddress{graph.NewCollectionAddress("postgres_example", "customer")}, orders.After)
	require.Equal(t, []partition.Spec{{Field: "created_at", Start: "NOW() - 90 DAYS", End: "NOW()", Interval: "30 days"}}, orders.Partitioning)
	require.Equal(t, &masking.Config{Strategy: masking.NullRewriteName}, orders.MaskingStrategyOverride)
	require.Equal(t, []graph.Reference{{
		Target:    graph.NewFieldAddress("postgres_example", "customer", "id"),
		Direction: graph.DirectionFrom,
	}}, orders.Fields[1].References)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b_mongo.yaml"), []byte(mongoExample), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_postgres.yml"), []byte(postgresExample), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("not a dataset"), 0o600))

	datasets, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, datasets, 2)
	require.Equal(t, "postgres_example", datasets[0].Name)
	require.Equal(t, "mongo_example", datasets[1].Name)
	require.Equal(t, "mongo_example", datasets[1].ConnectorKey)
	require.Equal(t, []string{"postgres_example"}, datasets[1].After)

	g, err := graph.NewGraph(datasets...)
	require.NoError(t, err)
	require.Equal(t, graph.NewFieldAddress("mongo_example", "profile", "contact", "email"), g.Edges()[1].From)
	require.Len(t, g.After(graph.NewCollectionAddress("mongo_example", "profile")), 2)
}

func TestParseRejects(t *testing.T) {
	for name, doc := range map[string]string{
		"no_key":        `dataset: [{collections: []}]`,
		"bad_after":     `dataset: [{fides_key: a, collections: [{name: c, fides_meta: {after: [nodot]}, fields: []}]}]`,
		"bad_reference": `dataset: [{fides_key: a, collections: [{name: c, fields: [{name: f, fides_meta: {references: [{dataset: b, field: nodot}]}}]}]}]`,
		"bad_direction": `dataset: [{fides_key: a, collections: [{name: c, fields: [{name: f, fides_meta: {references: [{dataset: b, field: c.f, direction: sideways}]}}]}]}]`,
		"bad_type":      `dataset: [{fides_key: a, collections: [{name: c, fields: [{name: f, fides_meta: {data_type: uuid}}]}]}]`,
		"not_yaml":      `dataset: [`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.ErrorIs(t, err, ErrInvalidDataset)
		})
	}
}
