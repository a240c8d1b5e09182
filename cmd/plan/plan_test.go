package plan

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dsrkit/dsrkit/pkg/graph"
	"github.com/dsrkit/dsrkit/pkg/traversal"
)

const shopDataset = `
dataset:
  - fides_key: shop
    collections:
      - name: customer
        fields:
          - name: id
            fides_meta:
              primary_key: true
          - name: email
            data_categories: [user.contact.email]
            fides_meta:
              identity: email
      - name: orders
        fields:
          - name: id
            fides_meta:
              primary_key: true
          - name: customer_id
            fides_meta:
              references:
                - dataset: shop
                  field: customer.id
                  direction: from
`

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shop.yml"), []byte(shopDataset), 0o600))

	cmd := NewPlanCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--datasets", dir}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestPlanJSON(t *testing.T) {
	out, err := runCommand(t, "--identity", "email=jane@example.com")
	require.NoError(t, err)

	var m traversal.Map
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	require.Contains(t, m, graph.RootAddress.String())
	require.Contains(t, m, graph.NewCollectionAddress("shop", "customer").String())
	require.Contains(t, m, graph.NewCollectionAddress("shop", "orders").String())
}

func TestPlanDOT(t *testing.T) {
	out, err := runCommand(t, "--identity", "email=jane@example.com", "--format", "dot")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "digraph"), out)
	require.Contains(t, out, "shop:customer")
}

func TestPlanQueries(t *testing.T) {
	out, err := runCommand(t, "--identity", "email=jane@example.com", "--format", "queries")
	require.NoError(t, err)
	require.Contains(t, out, `FROM "customer"`)
	require.Contains(t, out, `FROM "orders"`)

	customer := strings.Index(out, `FROM "customer"`)
	orders := strings.Index(out, `FROM "orders"`)
	require.Less(t, customer, orders)
}

func TestPlanRejectsUnknownFormat(t *testing.T) {
	_, err := runCommand(t, "--identity", "email=jane@example.com", "--format", "yaml")
	require.ErrorContains(t, err, `unknown format "yaml"`)
}

func TestPlanRejectsUnreachableIdentity(t *testing.T) {
	_, err := runCommand(t, "--identity", "phone=555")
	require.Error(t, err)
}
