package connector_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/dsrkit/dsrkit/internal/mocks"
	"github.com/dsrkit/dsrkit/pkg/connector"
	"github.com/dsrkit/dsrkit/pkg/connector/manual"
)

type ignoring struct {
	*manual.Connector
}

func (ignoring) IgnoredStatusCodes() []int { return []int{404} }

func TestRegistry(t *testing.T) {
	ctrl := gomock.NewController(t)

	failing := mocks.NewMockConnector(ctrl)
	failing.EXPECT().Key().Return("postgres_connector").AnyTimes()
	failing.EXPECT().Close().Return(errors.New("already closed"))

	r, err := connector.NewRegistry(manual.New("filing_cabinet"), failing)
	require.NoError(t, err)
	require.Equal(t, []string{"filing_cabinet", "postgres_connector"}, r.Keys())

	c, err := r.Get("filing_cabinet")
	require.NoError(t, err)
	require.Equal(t, "filing_cabinet", c.Key())

	_, err = r.Get("missing")
	require.ErrorIs(t, err, connector.ErrUnknownConnector)

	err = r.Register(manual.New("filing_cabinet"))
	require.ErrorIs(t, err, connector.ErrDuplicateKey)

	err = r.Close()
	require.ErrorContains(t, err, "close postgres_connector: already closed")
}

func TestIsIgnored(t *testing.T) {
	require.False(t, connector.IsIgnored(manual.New("m"), 404))

	c := ignoring{manual.New("m")}
	require.True(t, connector.IsIgnored(c, 404))
	require.False(t, connector.IsIgnored(c, 500))
}

func TestResultConstructors(t *testing.T) {
	require.Equal(t, connector.ResultReady, connector.Ready(nil).Kind)
	require.Equal(t, 3, connector.Masked(3).Masked)
	require.Equal(t, []string{"a", "b"}, connector.Pending("a", "b").CorrelationIDs)
	require.Equal(t, "failed", connector.Failed(context.Canceled).Kind.String())
	require.Equal(t, "needs_input", connector.NeedsInput("x").Kind.String())
}
