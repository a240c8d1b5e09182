package storage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dsrkit/dsrkit/pkg/policy"
)

func TestTaskFilterMatches(t *testing.T) {
	task := &RequestTask{PrivacyRequestID: "pr_1", ActionType: policy.ActionAccess, Status: TaskPolling}

	tests := []struct {
		name    string
		filter  TaskFilter
		matches bool
	}{
		{name: "zero_filter", filter: TaskFilter{}, matches: true},
		{name: "request", filter: TaskFilter{PrivacyRequestID: "pr_1"}, matches: true},
		{name: "other_request", filter: TaskFilter{PrivacyRequestID: "pr_2"}, matches: false},
		{name: "action", filter: TaskFilter{ActionType: policy.ActionErasure}, matches: false},
		{name: "one_of_statuses", filter: TaskFilter{Statuses: []TaskStatus{TaskPending, TaskPolling}}, matches: true},
		{name: "none_of_statuses", filter: TaskFilter{Statuses: []TaskStatus{TaskComplete}}, matches: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.matches, tc.filter.Matches(task))
		})
	}
}

func TestStatuses(t *testing.T) {
	for _, s := range []RequestStatus{RequestComplete, RequestError, RequestCanceled} {
		require.True(t, s.Terminal(), s)
	}
	for _, s := range InFlight {
		require.False(t, s.Terminal(), s)
	}

	require.True(t, TaskSkipped.Exited())
	require.False(t, TaskPolling.Exited())
	require.False(t, TaskRequiresInput.Exited())
}
