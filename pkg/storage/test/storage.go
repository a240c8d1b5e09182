// Package test holds the behaviour every storage.Datastore implementation must share.
package test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dsrkit/dsrkit/pkg/graph"
	"github.com/dsrkit/dsrkit/pkg/id"
	"github.com/dsrkit/dsrkit/pkg/policy"
	"github.com/dsrkit/dsrkit/pkg/storage"
	"github.com/dsrkit/dsrkit/pkg/traversal"
)

func RunAllTests(t *testing.T, ds storage.Datastore) {
	t.Run("TestDatastoreIsReady", func(t *testing.T) {
		status, err := ds.IsReady(context.Background())
		require.NoError(t, err)
		require.True(t, status.IsReady)
	})

	t.Run("TestPrivacyRequests", func(t *testing.T) { PrivacyRequestTest(t, ds) })
	t.Run("TestRequestTasks", func(t *testing.T) { RequestTaskTest(t, ds) })
	t.Run("TestClaimRequestTask", func(t *testing.T) { ClaimRequestTaskTest(t, ds) })
	t.Run("TestSubRequests", func(t *testing.T) { SubRequestTest(t, ds) })
	t.Run("TestExecutionLogs", func(t *testing.T) { ExecutionLogTest(t, ds) })
	t.Run("TestDeleteExpiredRequests", func(t *testing.T) { DeleteExpiredRequestsTest(t, ds) })
}

func newPrivacyRequest(t *testing.T, ds storage.Datastore, status storage.RequestStatus) *storage.PrivacyRequest {
	t.Helper()
	pr := &storage.PrivacyRequest{
		ID:       id.MustNewString(id.PrivacyRequestPrefix),
		Status:   status,
		Identity: map[string]any{"email": "customer-1@example.com"},
		Policy: &policy.Policy{
			Key:   "default_access",
			Rules: []policy.Rule{{Name: "access user data", ActionType: policy.ActionAccess, TargetCategories: []string{"user"}}},
		},
	}
	require.NoError(t, ds.CreatePrivacyRequest(context.Background(), pr))
	return pr
}

func customerCollection() *graph.Collection {
	return &graph.Collection{
		Name: "customer",
		Fields: []*graph.Field{
			{Name: "id", PrimaryKey: true, DataType: graph.IntegerType},
			{Name: "email", Identity: "email", DataType: graph.StringType, DataCategories: []string{"user.contact.email"}},
		},
	}
}

func newTask(prID string, addr graph.CollectionAddress, status storage.TaskStatus) *storage.RequestTask {
	return &storage.RequestTask{
		ID:               id.MustNewString(id.RequestTaskPrefix),
		PrivacyRequestID: prID,
		Address:          addr,
		ActionType:       policy.ActionAccess,
		Status:           status,
		AsyncType:        storage.AsyncNone,
	}
}

func PrivacyRequestTest(t *testing.T, ds storage.Datastore) {
	ctx := context.Background()

	pr := newPrivacyRequest(t, ds, storage.RequestApproved)
	require.False(t, pr.CreatedAt.IsZero())

	t.Run("duplicate_id_collides", func(t *testing.T) {
		err := ds.CreatePrivacyRequest(ctx, &storage.PrivacyRequest{ID: pr.ID, Status: storage.RequestApproved})
		require.ErrorIs(t, err, storage.ErrCollision)
	})

	t.Run("get_returns_payloads", func(t *testing.T) {
		got, err := ds.GetPrivacyRequest(ctx, pr.ID)
		require.NoError(t, err)
		require.Equal(t, storage.RequestApproved, got.Status)
		require.Equal(t, "customer-1@example.com", got.Identity["email"])
		require.NotNil(t, got.Policy)
		require.Equal(t, "default_access", got.Policy.Key)
		require.True(t, got.Policy.HasAction(policy.ActionAccess))
	})

	t.Run("get_unknown_id", func(t *testing.T) {
		_, err := ds.GetPrivacyRequest(ctx, "pri_unknown")
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("update_status_and_list", func(t *testing.T) {
		other := newPrivacyRequest(t, ds, storage.RequestApproved)
		require.NoError(t, ds.UpdatePrivacyRequestStatus(ctx, other.ID, storage.RequestRequiresInput))

		got, err := ds.GetPrivacyRequest(ctx, other.ID)
		require.NoError(t, err)
		require.Equal(t, storage.RequestRequiresInput, got.Status)

		listed, err := ds.ListPrivacyRequests(ctx, storage.RequestRequiresInput)
		require.NoError(t, err)
		require.Contains(t, requestIDs(listed), other.ID)
		require.NotContains(t, requestIDs(listed), pr.ID)

		all, err := ds.ListPrivacyRequests(ctx)
		require.NoError(t, err)
		require.Subset(t, requestIDs(all), []string{pr.ID, other.ID})
	})

	t.Run("update_unknown_id", func(t *testing.T) {
		err := ds.UpdatePrivacyRequestStatus(ctx, "pri_unknown", storage.RequestError)
		require.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func requestIDs(prs []*storage.PrivacyRequest) []string {
	ids := make([]string, 0, len(prs))
	for _, pr := range prs {
		ids = append(ids, pr.ID)
	}
	return ids
}

func taskIDs(tasks []*storage.RequestTask) []string {
	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		ids = append(ids, task.ID)
	}
	return ids
}

func RequestTaskTest(t *testing.T, ds storage.Datastore) {
	ctx := context.Background()
	pr := newPrivacyRequest(t, ds, storage.RequestInProcessing)

	customer := graph.NewCollectionAddress("postgres_db", "customer")
	orders := graph.NewCollectionAddress("postgres_db", "orders")

	root := newTask(pr.ID, graph.RootAddress, storage.TaskComplete)
	root.Rows = []map[string]any{{"email": "customer-1@example.com"}}
	root.Downstream = []graph.CollectionAddress{customer}

	task := newTask(pr.ID, customer, storage.TaskPending)
	task.ConnectorKey = "postgres_connector"
	task.Collection = customerCollection()
	task.IncomingEdges = []traversal.Edge{{
		From: graph.FieldAddress{Collection: graph.RootAddress, Path: graph.NewFieldPath("email")},
		To:   graph.FieldAddress{Collection: customer, Path: graph.NewFieldPath("email")},
	}}
	task.Upstream = []graph.CollectionAddress{graph.RootAddress}
	task.Downstream = []graph.CollectionAddress{orders}

	erasure := newTask(pr.ID, customer, storage.TaskPending)
	erasure.ActionType = policy.ActionErasure

	require.NoError(t, ds.CreateRequestTasks(ctx, root, task, erasure))
	require.False(t, task.CreatedAt.IsZero())

	t.Run("duplicate_batch_collides", func(t *testing.T) {
		err := ds.CreateRequestTasks(ctx, newTask(pr.ID, orders, storage.TaskPending), task)
		require.ErrorIs(t, err, storage.ErrCollision)

		tasks, err := ds.ListRequestTasks(ctx, storage.TaskFilter{PrivacyRequestID: pr.ID})
		require.NoError(t, err)
		require.Len(t, tasks, 3)
	})

	t.Run("get_returns_traversal_details", func(t *testing.T) {
		got, err := ds.GetRequestTask(ctx, task.ID)
		require.NoError(t, err)
		require.Equal(t, customer, got.Address)
		require.Equal(t, policy.ActionAccess, got.ActionType)
		require.Equal(t, "postgres_connector", got.ConnectorKey)
		require.Equal(t, task.IncomingEdges, got.IncomingEdges)
		require.Equal(t, task.Upstream, got.Upstream)
		require.Equal(t, task.Downstream, got.Downstream)
		require.NotNil(t, got.Collection)
		require.Equal(t, "customer", got.Collection.Name)
		require.Len(t, got.Collection.Fields, 2)
		require.False(t, got.IsRoot())

		gotRoot, err := ds.GetRequestTask(ctx, root.ID)
		require.NoError(t, err)
		require.True(t, gotRoot.IsRoot())
		require.Equal(t, root.Rows, gotRoot.Rows)
	})

	t.Run("get_unknown_id", func(t *testing.T) {
		_, err := ds.GetRequestTask(ctx, "rt_unknown")
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("filter", func(t *testing.T) {
		access, err := ds.ListRequestTasks(ctx, storage.TaskFilter{PrivacyRequestID: pr.ID, ActionType: policy.ActionAccess})
		require.NoError(t, err)
		require.ElementsMatch(t, []string{root.ID, task.ID}, taskIDs(access))

		pending, err := ds.ListRequestTasks(ctx, storage.TaskFilter{PrivacyRequestID: pr.ID, Statuses: []storage.TaskStatus{storage.TaskPending}})
		require.NoError(t, err)
		require.ElementsMatch(t, []string{task.ID, erasure.ID}, taskIDs(pending))
	})

	t.Run("update_mutable_fields", func(t *testing.T) {
		got, err := ds.GetRequestTask(ctx, task.ID)
		require.NoError(t, err)
		got.Status = storage.TaskComplete
		got.AsyncType = storage.AsyncPolling
		got.Rows = []map[string]any{{"email": "customer-1@example.com", "name": "Jane"}}
		got.RowsMasked = 2
		got.Message = "done"
		got.RetryCount = 1
		require.NoError(t, ds.UpdateRequestTask(ctx, got))

		updated, err := ds.GetRequestTask(ctx, task.ID)
		require.NoError(t, err)
		require.Equal(t, storage.TaskComplete, updated.Status)
		require.Equal(t, storage.AsyncPolling, updated.AsyncType)
		require.Equal(t, got.Rows, updated.Rows)
		require.Equal(t, 2, updated.RowsMasked)
		require.Equal(t, "done", updated.Message)
		require.Equal(t, 1, updated.RetryCount)

		err = ds.UpdateRequestTask(ctx, &storage.RequestTask{ID: "rt_unknown", Status: storage.TaskError})
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, ds.DeleteRequestTasks(ctx, erasure.ID))
		_, err := ds.GetRequestTask(ctx, erasure.ID)
		require.ErrorIs(t, err, storage.ErrNotFound)
		require.NoError(t, ds.DeleteRequestTasks(ctx))
	})
}

func ClaimRequestTaskTest(t *testing.T, ds storage.Datastore) {
	ctx := context.Background()
	pr := newPrivacyRequest(t, ds, storage.RequestInProcessing)
	task := newTask(pr.ID, graph.NewCollectionAddress("mongo_db", "customer_details"), storage.TaskPending)
	require.NoError(t, ds.CreateRequestTasks(ctx, task))

	claimed, err := ds.ClaimRequestTask(ctx, task.ID, []storage.TaskStatus{storage.TaskPending}, storage.TaskInProcessing)
	require.NoError(t, err)
	require.True(t, claimed)

	claimed, err = ds.ClaimRequestTask(ctx, task.ID, []storage.TaskStatus{storage.TaskPending}, storage.TaskInProcessing)
	require.NoError(t, err)
	require.False(t, claimed)

	got, err := ds.GetRequestTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, storage.TaskInProcessing, got.Status)

	claimed, err = ds.ClaimRequestTask(ctx, task.ID, []storage.TaskStatus{storage.TaskPending, storage.TaskInProcessing}, storage.TaskPending)
	require.NoError(t, err)
	require.True(t, claimed)

	_, err = ds.ClaimRequestTask(ctx, "rt_unknown", []storage.TaskStatus{storage.TaskPending}, storage.TaskInProcessing)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func SubRequestTest(t *testing.T, ds storage.Datastore) {
	ctx := context.Background()
	pr := newPrivacyRequest(t, ds, storage.RequestInProcessing)
	task := newTask(pr.ID, graph.NewCollectionAddress("saas", "tickets"), storage.TaskPolling)
	task.AsyncType = storage.AsyncPolling
	require.NoError(t, ds.CreateRequestTasks(ctx, task))

	first := &storage.SubRequest{ID: id.MustNewString(id.SubRequestPrefix), RequestTaskID: task.ID, CorrelationID: "job-1", Status: storage.TaskPending}
	second := &storage.SubRequest{ID: id.MustNewString(id.SubRequestPrefix), RequestTaskID: task.ID, CorrelationID: "job-2", Status: storage.TaskPending}
	require.NoError(t, ds.CreateSubRequests(ctx, first, second))

	subs, err := ds.ListSubRequests(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	require.Equal(t, "job-1", subs[0].CorrelationID)
	require.Equal(t, "job-2", subs[1].CorrelationID)

	first.Status = storage.TaskComplete
	first.Rows = []map[string]any{{"ticket": "T-1"}}
	require.NoError(t, ds.UpdateSubRequest(ctx, first))

	subs, err = ds.ListSubRequests(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, storage.TaskComplete, subs[0].Status)
	require.Equal(t, first.Rows, subs[0].Rows)
	require.Equal(t, storage.TaskPending, subs[1].Status)

	err = ds.UpdateSubRequest(ctx, &storage.SubRequest{ID: "sr_unknown", Status: storage.TaskError})
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, ds.DeleteRequestTasks(ctx, task.ID))
	subs, err = ds.ListSubRequests(ctx, task.ID)
	require.NoError(t, err)
	require.Empty(t, subs)
}

func ExecutionLogTest(t *testing.T, ds storage.Datastore) {
	ctx := context.Background()
	pr := newPrivacyRequest(t, ds, storage.RequestInProcessing)
	customer := graph.NewCollectionAddress("postgres_db", "customer")

	for _, status := range []storage.TaskStatus{storage.TaskInProcessing, storage.TaskComplete} {
		require.NoError(t, ds.AppendExecutionLog(ctx, &storage.ExecutionLog{
			ID:               id.MustNewString(id.ExecutionLogPrefix),
			PrivacyRequestID: pr.ID,
			Address:          customer,
			ActionType:       policy.ActionAccess,
			Status:           status,
			Message:          string(status),
		}))
	}

	logs, err := ds.ListExecutionLogs(ctx, pr.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, storage.TaskInProcessing, logs[0].Status)
	require.Equal(t, storage.TaskComplete, logs[1].Status)
	require.Equal(t, customer, logs[1].Address)
	require.False(t, logs[0].CreatedAt.IsZero())

	logs, err = ds.ListExecutionLogs(ctx, "pri_unknown")
	require.NoError(t, err)
	require.Empty(t, logs)
}

func DeleteExpiredRequestsTest(t *testing.T, ds storage.Datastore) {
	ctx := context.Background()

	done := newPrivacyRequest(t, ds, storage.RequestComplete)
	running := newPrivacyRequest(t, ds, storage.RequestInProcessing)
	for _, pr := range []*storage.PrivacyRequest{done, running} {
		task := newTask(pr.ID, graph.NewCollectionAddress("postgres_db", "customer"), storage.TaskComplete)
		require.NoError(t, ds.CreateRequestTasks(ctx, task))
		require.NoError(t, ds.AppendExecutionLog(ctx, &storage.ExecutionLog{
			ID:               id.MustNewString(id.ExecutionLogPrefix),
			PrivacyRequestID: pr.ID,
			Address:          task.Address,
			ActionType:       policy.ActionAccess,
			Status:           storage.TaskComplete,
		}))
	}

	deleted, err := ds.DeleteExpiredRequests(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Zero(t, deleted)

	deleted, err = ds.DeleteExpiredRequests(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.GreaterOrEqual(t, deleted, 1)

	_, err = ds.GetPrivacyRequest(ctx, done.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)
	tasks, err := ds.ListRequestTasks(ctx, storage.TaskFilter{PrivacyRequestID: done.ID})
	require.NoError(t, err)
	require.Empty(t, tasks)
	logs, err := ds.ListExecutionLogs(ctx, done.ID)
	require.NoError(t, err)
	require.Empty(t, logs)

	_, err = ds.GetPrivacyRequest(ctx, running.ID)
	require.NoError(t, err)
	tasks, err = ds.ListRequestTasks(ctx, storage.TaskFilter{PrivacyRequestID: running.ID})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
}
