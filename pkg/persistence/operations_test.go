package persistence

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentflow/pkg/proto"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "agentflow-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewStore(db, "test-session")
}

func intPtr(v int) *int { return &v }

func testPlan(ids ...string) *proto.PlanSpec {
	plan := &proto.PlanSpec{}
	for _, id := range ids {
		plan.Todos = append(plan.Todos, proto.TodoSpec{
			TodoID: id,
			Title:  "todo " + id,
			Inputs: []string{"in-" + id},
		})
	}
	return plan
}

func TestEnsureWorkflowForChatIsIdempotent(t *testing.T) {
	store := newTestStore(t)

	first, err := store.EnsureWorkflowForChat("chat-1", false)
	require.NoError(t, err)
	assert.Equal(t, proto.StatusIdle, first.Status)
	assert.Equal(t, 0, first.PlanVersion)
	assert.Nil(t, first.CurrentTodoID)

	second, err := store.EnsureWorkflowForChat("chat-1", false)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestEnsureWorkflowForChatSeedsAutoAdvance(t *testing.T) {
	store := newTestStore(t)

	wf, err := store.EnsureWorkflowForChat("chat-1", true)
	require.NoError(t, err)
	assert.True(t, wf.AutoAdvance)

	// The seed applies on creation only; an existing workflow keeps
	// its stored flag.
	wf, err = store.EnsureWorkflowForChat("chat-1", false)
	require.NoError(t, err)
	assert.True(t, wf.AutoAdvance)
}

func TestGetWorkflowNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetWorkflow("no-such-id")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)

	_, err = store.GetWorkflowByID("no-such-id")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestSetStatusAndAutoAdvance(t *testing.T) {
	store := newTestStore(t)
	wf, err := store.EnsureWorkflowForChat("chat-1", false)
	require.NoError(t, err)

	require.NoError(t, store.SetStatus(wf.ID, proto.StatusAnalysis))
	require.NoError(t, store.SetAutoAdvance(wf.ID, true))

	loaded, err := store.GetWorkflow(wf.ID)
	require.NoError(t, err)
	assert.Equal(t, proto.StatusAnalysis, loaded.Status)
	assert.True(t, loaded.AutoAdvance)

	assert.ErrorIs(t, store.SetStatus("missing", proto.StatusError), ErrWorkflowNotFound)
}

func TestUpdateAnalysisRoundTrip(t *testing.T) {
	store := newTestStore(t)
	wf, err := store.EnsureWorkflowForChat("chat-1", false)
	require.NoError(t, err)

	analysis := &proto.Analysis{
		Goals:          []string{"build the thing"},
		Clarifications: []string{"which thing?"},
		DyadTagRefs:    []string{"ref-1"},
	}
	require.NoError(t, store.UpdateAnalysis(wf.ID, analysis))

	loaded, err := store.GetWorkflow(wf.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.Analysis)
	assert.Equal(t, analysis.Goals, loaded.Analysis.Goals)
	assert.True(t, loaded.Analysis.HasOpenClarifications())
}

func TestReplacePlan(t *testing.T) {
	store := newTestStore(t)
	wf, err := store.EnsureWorkflowForChat("chat-1", false)
	require.NoError(t, err)

	plan := testPlan("TD-01", "TD-02", "TD-03")
	plan.DyadTagContext = []string{"ctx-1"}

	updated, err := store.ReplacePlan(wf.ID, plan, ReplacePlanOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.PlanVersion)
	assert.Equal(t, proto.StatusPlanReady, updated.Status)
	assert.Nil(t, updated.CurrentTodoID)
	assert.Equal(t, []string{"ctx-1"}, updated.DyadTagContext)

	todos, err := store.GetTodos(wf.ID)
	require.NoError(t, err)
	require.Len(t, todos, 3)
	for i, id := range []string{"TD-01", "TD-02", "TD-03"} {
		assert.Equal(t, id, todos[i].TodoID)
		assert.Equal(t, i, todos[i].OrderIndex)
		assert.Equal(t, proto.TodoPending, todos[i].Status)
	}
}

func TestReplacePlanReplacesWholesale(t *testing.T) {
	store := newTestStore(t)
	wf, err := store.EnsureWorkflowForChat("chat-1", false)
	require.NoError(t, err)

	_, err = store.ReplacePlan(wf.ID, testPlan("TD-01", "TD-02"), ReplacePlanOptions{})
	require.NoError(t, err)

	updated, err := store.ReplacePlan(wf.ID, testPlan("TD-10"), ReplacePlanOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.PlanVersion)

	todos, err := store.GetTodos(wf.ID)
	require.NoError(t, err)
	require.Len(t, todos, 1)
	assert.Equal(t, "TD-10", todos[0].TodoID)
}

func TestReplacePlanExplicitVersionAndOverride(t *testing.T) {
	store := newTestStore(t)
	wf, err := store.EnsureWorkflowForChat("chat-1", false)
	require.NoError(t, err)

	plan := testPlan("TD-01")
	plan.Version = intPtr(7)

	updated, err := store.ReplacePlan(wf.ID, plan, ReplacePlanOptions{
		StatusOverride: proto.StatusExecuting,
	})
	require.NoError(t, err)
	assert.Equal(t, 7, updated.PlanVersion)
	assert.Equal(t, proto.StatusExecuting, updated.Status)
}

func TestReplacePlanClearsFocus(t *testing.T) {
	store := newTestStore(t)
	wf, err := store.EnsureWorkflowForChat("chat-1", false)
	require.NoError(t, err)

	_, err = store.ReplacePlan(wf.ID, testPlan("TD-01"), ReplacePlanOptions{})
	require.NoError(t, err)

	id := "TD-01"
	require.NoError(t, store.SetCurrentTodo(wf.ID, &id))

	loaded, err := store.GetWorkflow(wf.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.CurrentTodoID)

	_, err = store.ReplacePlan(wf.ID, testPlan("TD-02"), ReplacePlanOptions{})
	require.NoError(t, err)

	loaded, err = store.GetWorkflow(wf.ID)
	require.NoError(t, err)
	assert.Nil(t, loaded.CurrentTodoID)
}

func TestApplyTodoUpdates(t *testing.T) {
	store := newTestStore(t)
	wf, err := store.EnsureWorkflowForChat("chat-1", false)
	require.NoError(t, err)

	_, err = store.ReplacePlan(wf.ID, testPlan("TD-01", "TD-02"), ReplacePlanOptions{})
	require.NoError(t, err)

	missing, err := store.ApplyTodoUpdates(wf.ID, []proto.TodoUpdate{
		{TodoID: "td-01", Status: proto.TodoInProgress}, // case-insensitive match
		{TodoID: "TD-01", Note: "note only, no status"},
		{TodoID: "TD-99", Status: proto.TodoCompleted}, // unknown, skipped
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"TD-99"}, missing)

	todos, err := store.GetTodos(wf.ID)
	require.NoError(t, err)
	assert.Equal(t, proto.TodoInProgress, todos[0].Status)
	assert.Equal(t, proto.TodoPending, todos[1].Status)
}

func TestAppendAndGetLogs(t *testing.T) {
	store := newTestStore(t)
	wf, err := store.EnsureWorkflowForChat("chat-1", false)
	require.NoError(t, err)

	todoID := "TD-01"
	require.NoError(t, store.AppendLog(wf.ID, &ExecutionLog{
		LogType: proto.LogCommand,
		Content: "start",
	}))
	require.NoError(t, store.AppendLog(wf.ID, &ExecutionLog{
		LogType:     proto.LogExecution,
		TodoID:      &todoID,
		Content:     "working",
		Metadata:    map[string]any{"files": float64(2)},
		DyadTagRefs: []string{"ref-a"},
	}))

	logs, err := store.GetLogs(wf.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)

	assert.Equal(t, proto.LogCommand, logs[0].LogType)
	assert.Equal(t, "test-session", logs[0].SessionID)
	assert.Nil(t, logs[0].TodoID)

	require.NotNil(t, logs[1].TodoID)
	assert.Equal(t, "TD-01", *logs[1].TodoID)
	assert.Equal(t, map[string]any{"files": float64(2)}, logs[1].Metadata)
	assert.Equal(t, []string{"ref-a"}, logs[1].DyadTagRefs)
}

func TestSnapshotIncludesTodosAndLogs(t *testing.T) {
	store := newTestStore(t)
	wf, err := store.EnsureWorkflowForChat("chat-1", false)
	require.NoError(t, err)

	_, err = store.ReplacePlan(wf.ID, testPlan("TD-01"), ReplacePlanOptions{})
	require.NoError(t, err)
	require.NoError(t, store.AppendLog(wf.ID, &ExecutionLog{
		LogType: proto.LogPlan,
		Content: "plan committed",
	}))

	snapshot, err := store.GetWorkflowByID(wf.ID)
	require.NoError(t, err)
	assert.Len(t, snapshot.Todos, 1)
	assert.Len(t, snapshot.Logs, 1)
	assert.Equal(t, proto.StatusPlanReady, snapshot.Workflow.Status)
}

func TestTodoIsActive(t *testing.T) {
	id := "TD-01"
	wf := &Workflow{CurrentTodoID: &id}

	todo := Todo{TodoID: "td-01"}
	assert.True(t, todo.IsActive(wf))

	other := Todo{TodoID: "TD-02"}
	assert.False(t, other.IsActive(wf))
	assert.False(t, other.IsActive(nil))
}
