package id

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("successful_parse", func(t *testing.T) {
		s, err := NewString(RequestTaskPrefix)
		require.NoError(t, err)

		parsed, err := Parse(s)
		require.NoError(t, err)
		require.Equal(t, RequestTaskPrefix, parsed.Prefix())
		require.Equal(t, s, parsed.String())
	})

	t.Run("error_when_trying_to_parse_non_id", func(t *testing.T) {
		for _, bad := range []string{"foobar", "pri_foobar", "_01ARZ3NDEKTSV4RRFFQ69G5FAV"} {
			_, err := Parse(bad)
			require.Error(t, err, bad)
			require.False(t, IsValid(bad))
		}
	})
}

func TestTimeIsPreserved(t *testing.T) {
	now := time.UnixMilli(time.Now().UnixMilli())
	s, err := NewStringFromTime(PrivacyRequestPrefix, now)
	require.NoError(t, err)

	parsed, err := Parse(s)
	require.NoError(t, err)
	require.True(t, parsed.Time().Equal(now))
}

func TestThatProbablyNoCollisionsHappen(t *testing.T) {
	now := time.Now()
	length := 10000
	m := make(map[string]struct{}, length)
	for i := 0; i < length; i++ {
		s, _ := NewStringFromTime(SubRequestPrefix, now)
		m[s] = struct{}{}
	}

	require.Len(t, m, length)
}
