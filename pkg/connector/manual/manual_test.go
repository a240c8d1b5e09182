package manual

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dsrkit/dsrkit/pkg/connector"
	"github.com/dsrkit/dsrkit/pkg/queryconfig"
)

func TestManualConnectorNeedsInput(t *testing.T) {
	ctx := context.Background()
	c := New("filing_cabinet")
	require.Equal(t, queryconfig.Manual, c.ConnectionType())

	res := c.Retrieve(ctx, &queryconfig.ManualAction{
		Locators: map[string][]any{"email": {"customer-1@example.com"}},
		Get:      []string{"id", "email"},
	})
	require.Equal(t, connector.ResultNeedsInput, res.Kind)
	require.Contains(t, res.Message, `"locators":{"email":["customer-1@example.com"]}`)

	res = c.Mask(ctx, []queryconfig.Statement{&queryconfig.ManualAction{
		Locators: map[string][]any{"id": {1}},
		Update:   map[string]any{"email": nil},
	}})
	require.Equal(t, connector.ResultNeedsInput, res.Kind)
	require.Contains(t, res.Message, "mask records")

	res = c.Retrieve(ctx, &queryconfig.SQLStatement{SQL: "SELECT 1"})
	require.Equal(t, connector.ResultFailed, res.Kind)
}
