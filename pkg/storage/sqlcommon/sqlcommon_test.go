package sqlcommon

import (
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dsrkit/dsrkit/pkg/graph"
	"github.com/dsrkit/dsrkit/pkg/storage"
)

func TestUnmarshalRowsKeepsNumbers(t *testing.T) {
	rows, err := unmarshalRows(sql.NullString{String: `[{"id": 9007199254740993, "email": "a@example.com"}]`, Valid: true})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, json.Number("9007199254740993"), rows[0]["id"])

	rows, err = unmarshalRows(sql.NullString{})
	require.NoError(t, err)
	require.Nil(t, rows)

	_, err = unmarshalRows(sql.NullString{String: "{", Valid: true})
	require.ErrorIs(t, err, storage.ErrInvalidRecord)
}

func TestCollectionSnapshot(t *testing.T) {
	c := &graph.Collection{
		Name: "customer",
		Fields: []*graph.Field{
			{Name: "id", PrimaryKey: true},
			{Name: "email", Identity: "email", DataCategories: []string{"user.contact.email"}},
		},
	}
	s, err := marshalCollection(c)
	require.NoError(t, err)
	require.True(t, s.Valid)

	got, err := unmarshalCollection(s)
	require.NoError(t, err)
	require.Equal(t, c.Name, got.Name)
	require.Equal(t, []string{"id", "email"}, got.TopLevelFieldNames())

	none, err := marshalCollection(nil)
	require.NoError(t, err)
	require.False(t, none.Valid)
	got, err = unmarshalCollection(none)
	require.NoError(t, err)
	require.Nil(t, got)
}
