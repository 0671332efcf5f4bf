package workflow

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentflow/pkg/config"
	"agentflow/pkg/enforce"
	"agentflow/pkg/metrics"
	"agentflow/pkg/persistence"
	"agentflow/pkg/proto"
)

func defaultPolicy() config.Enforcement {
	return config.Enforcement{
		OneTaskRule:           true,
		LogEnforcementActions: true,
		MaxSimultaneousStarts: 1,
		MaxAutoContinues:      10,
	}
}

func newTestEngine(t *testing.T, policy config.Enforcement) (*Engine, *persistence.Store) {
	t.Helper()

	db, err := persistence.Open(filepath.Join(t.TempDir(), "workflow-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := persistence.NewStore(db, "test-session")
	engine := NewEngine(store, policy, Options{
		Recorder: metrics.NewRecorder(prometheus.NewRegistry()),
	})
	return engine, store
}

func seedPlan(t *testing.T, store *persistence.Store, chatID string, ids ...string) *persistence.Workflow {
	t.Helper()

	wf, err := store.EnsureWorkflowForChat(chatID, false)
	require.NoError(t, err)

	plan := &proto.PlanSpec{}
	for _, id := range ids {
		plan.Todos = append(plan.Todos, proto.TodoSpec{TodoID: id, Title: "todo " + id})
	}
	wf, err = store.ReplacePlan(wf.ID, plan, persistence.ReplacePlanOptions{})
	require.NoError(t, err)
	return wf
}

func logContents(t *testing.T, store *persistence.Store, workflowID string) []string {
	t.Helper()

	logs, err := store.GetLogs(workflowID)
	require.NoError(t, err)
	contents := make([]string, len(logs))
	for i := range logs {
		contents[i] = logs[i].Content
	}
	return contents
}

func TestPreTurnBriefCreatesWorkflow(t *testing.T) {
	engine, _ := newTestEngine(t, defaultPolicy())

	input, err := engine.PreTurn(context.Background(), "chat-1", "build me a todo app")
	require.NoError(t, err)

	assert.Equal(t, proto.CommandBrief, input.Command.Kind)
	assert.Equal(t, proto.StatusAnalysis, input.Workflow.Status)
	assert.Nil(t, input.Workflow.CurrentTodoID)
	assert.Empty(t, input.ActiveTodoID)

	assert.True(t, strings.HasPrefix(input.ContextPayload, "<agent-workflow-context>"))
	assert.True(t, strings.HasSuffix(input.ContextPayload, "</agent-workflow-context>"))
	assert.Contains(t, input.ContextPayload, `"kind":"brief"`)
	assert.Greater(t, input.PayloadTokens, 0)
}

func TestPreTurnTrimsOversizedTodoFields(t *testing.T) {
	db, err := persistence.Open(filepath.Join(t.TempDir(), "workflow-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := persistence.NewStore(db, "test-session")
	engine := NewEngine(store, defaultPolicy(), Options{
		Recorder:    metrics.NewRecorder(prometheus.NewRegistry()),
		TokenBudget: 300,
	})

	wf, err := store.EnsureWorkflowForChat("chat-1", false)
	require.NoError(t, err)

	long := strings.Repeat("deploy notes ", 400)
	_, err = store.ReplacePlan(wf.ID, &proto.PlanSpec{Todos: []proto.TodoSpec{
		{TodoID: "TD-01", Title: "deploy", Description: long},
	}}, persistence.ReplacePlanOptions{})
	require.NoError(t, err)

	input, err := engine.PreTurn(context.Background(), "chat-1", "start")
	require.NoError(t, err)

	assert.NotContains(t, input.ContextPayload, long)
	assert.Contains(t, input.ContextPayload, "...")
	assert.LessOrEqual(t, input.PayloadTokens, 300)
}

func TestPreTurnSeedsAutoAdvanceFromPolicy(t *testing.T) {
	policy := defaultPolicy()
	policy.AutoAdvanceDefault = true
	engine, _ := newTestEngine(t, policy)

	input, err := engine.PreTurn(context.Background(), "chat-1", "build me a todo app")
	require.NoError(t, err)

	assert.True(t, input.Workflow.AutoAdvance)
	assert.Contains(t, input.ContextPayload, `"autoAdvance":true`)
}

func TestPreTurnStartFocusesFirstPendingTodo(t *testing.T) {
	engine, store := newTestEngine(t, defaultPolicy())
	wf := seedPlan(t, store, "chat-1", "TD-01", "TD-02")

	_, err := store.ApplyTodoUpdates(wf.ID, []proto.TodoUpdate{{TodoID: "TD-01", Status: proto.TodoCompleted}})
	require.NoError(t, err)

	input, err := engine.PreTurn(context.Background(), "chat-1", "start")
	require.NoError(t, err)

	assert.Equal(t, proto.CommandStart, input.Command.Kind)
	assert.Equal(t, proto.StatusExecuting, input.Workflow.Status)
	require.NotNil(t, input.Workflow.CurrentTodoID)
	assert.Equal(t, "TD-02", *input.Workflow.CurrentTodoID)
	assert.Equal(t, "TD-02", input.ActiveTodoID)

	todos, err := store.GetTodos(wf.ID)
	require.NoError(t, err)
	assert.Equal(t, proto.TodoInProgress, todos[1].Status)

	assert.Contains(t, input.ContextPayload, `"todoId":"TD-02"`)
}

func TestPreTurnContinueWithoutPendingTodosLogs(t *testing.T) {
	engine, store := newTestEngine(t, defaultPolicy())
	wf := seedPlan(t, store, "chat-1", "TD-01")
	_, err := store.ApplyTodoUpdates(wf.ID, []proto.TodoUpdate{{TodoID: "TD-01", Status: proto.TodoCompleted}})
	require.NoError(t, err)

	input, err := engine.PreTurn(context.Background(), "chat-1", "continue")
	require.NoError(t, err)

	assert.Equal(t, proto.StatusPlanReady, input.Workflow.Status)
	assert.Nil(t, input.Workflow.CurrentTodoID)

	contents := logContents(t, store, wf.ID)
	require.NotEmpty(t, contents)
	assert.Contains(t, contents[len(contents)-1], "no pending todo")
}

func TestPreTurnReviseKnownTodo(t *testing.T) {
	engine, store := newTestEngine(t, defaultPolicy())
	wf := seedPlan(t, store, "chat-1", "TD-01", "TD-02")

	input, err := engine.PreTurn(context.Background(), "chat-1", "revise td-02")
	require.NoError(t, err)

	assert.Equal(t, proto.CommandRevise, input.Command.Kind)
	assert.Equal(t, proto.StatusRevising, input.Workflow.Status)

	todos, err := store.GetTodos(wf.ID)
	require.NoError(t, err)
	assert.Equal(t, proto.TodoRevising, todos[1].Status)
}

func TestPreTurnReviseUnknownTodoLogsWarning(t *testing.T) {
	engine, store := newTestEngine(t, defaultPolicy())
	wf := seedPlan(t, store, "chat-1", "TD-01")

	input, err := engine.PreTurn(context.Background(), "chat-1", "revise TD-99")
	require.NoError(t, err)

	assert.Equal(t, proto.StatusRevising, input.Workflow.Status)

	contents := logContents(t, store, wf.ID)
	require.NotEmpty(t, contents)
	assert.Contains(t, contents[0], "TD-99")
}

func TestPreTurnChangePlanOmitsTodosFromPayload(t *testing.T) {
	engine, store := newTestEngine(t, defaultPolicy())
	seedPlan(t, store, "chat-1", "TD-01")

	input, err := engine.PreTurn(context.Background(), "chat-1", "change plan")
	require.NoError(t, err)

	assert.Equal(t, proto.CommandChangePlan, input.Command.Kind)
	assert.Equal(t, proto.StatusAnalysis, input.Workflow.Status)
	assert.NotContains(t, input.ContextPayload, `"todos"`)
}

func TestPreTurnAutoTogglesAutoAdvance(t *testing.T) {
	engine, store := newTestEngine(t, defaultPolicy())
	seedPlan(t, store, "chat-1", "TD-01")

	input, err := engine.PreTurn(context.Background(), "chat-1", "auto")
	require.NoError(t, err)
	assert.True(t, input.Workflow.AutoAdvance)

	input, err = engine.PreTurn(context.Background(), "chat-1", "auto continue")
	require.NoError(t, err)
	assert.False(t, input.Workflow.AutoAdvance)
}

func TestPostTurnCommitsAnalysisAndPlan(t *testing.T) {
	engine, _ := newTestEngine(t, defaultPolicy())

	input, err := engine.PreTurn(context.Background(), "chat-1", "build a todo app")
	require.NoError(t, err)

	response := `Here is my analysis.
<dyad-agent-analysis>{"goals":["todo app"],"constraints":[],"acceptanceCriteria":[],"risks":[],"clarifications":[],"dyadTagRefs":[]}</dyad-agent-analysis>
<dyad-agent-plan>{"todos":[{"todoId":"TD-01","title":"scaffold","inputs":[],"outputs":[],"dyadTagRefs":[]}],"dyadTagRefs":[],"dyadTagContext":["ctx-1"]}</dyad-agent-plan>`

	outcome, err := engine.PostTurn(context.Background(), input, response)
	require.NoError(t, err)

	assert.Equal(t, proto.StatusPlanReady, outcome.Workflow.Status)
	assert.Equal(t, 1, outcome.Workflow.PlanVersion)
	require.NotNil(t, outcome.Workflow.Analysis)
	assert.Equal(t, []string{"todo app"}, outcome.Workflow.Analysis.Goals)
	assert.Equal(t, []string{"ctx-1"}, outcome.Workflow.DyadTagContext)
	require.Len(t, outcome.Todos, 1)
	assert.Equal(t, "TD-01", outcome.Todos[0].TodoID)
	assert.Empty(t, outcome.Warnings)
}

func TestPostTurnHoldsPlanOnOpenClarifications(t *testing.T) {
	engine, store := newTestEngine(t, defaultPolicy())

	input, err := engine.PreTurn(context.Background(), "chat-1", "build something vague")
	require.NoError(t, err)

	response := `<dyad-agent-analysis>{"goals":["something"],"constraints":[],"acceptanceCriteria":[],"risks":[],"clarifications":["which database?"],"dyadTagRefs":[]}</dyad-agent-analysis>
<dyad-agent-plan>{"todos":[{"todoId":"TD-01","title":"guess","inputs":[],"outputs":[],"dyadTagRefs":[]}],"dyadTagRefs":[],"dyadTagContext":[]}</dyad-agent-plan>`

	outcome, err := engine.PostTurn(context.Background(), input, response)
	require.NoError(t, err)

	assert.Empty(t, outcome.Todos)
	assert.Equal(t, 0, outcome.Workflow.PlanVersion)
	require.NotEmpty(t, outcome.Warnings)
	assert.Contains(t, outcome.Warnings[0], "held back")

	todos, err := store.GetTodos(input.Workflow.ID)
	require.NoError(t, err)
	assert.Empty(t, todos)
}

func TestPostTurnCommitsPlanDespiteClarificationsWhenTodosExist(t *testing.T) {
	engine, store := newTestEngine(t, defaultPolicy())
	seedPlan(t, store, "chat-1", "TD-01")

	input, err := engine.PreTurn(context.Background(), "chat-1", "change plan")
	require.NoError(t, err)

	response := `<dyad-agent-analysis>{"goals":["v2"],"constraints":[],"acceptanceCriteria":[],"risks":[],"clarifications":["still unsure"],"dyadTagRefs":[]}</dyad-agent-analysis>
<dyad-agent-plan>{"todos":[{"todoId":"TD-10","title":"new direction","inputs":[],"outputs":[],"dyadTagRefs":[]}],"dyadTagRefs":[],"dyadTagContext":[]}</dyad-agent-plan>`

	outcome, err := engine.PostTurn(context.Background(), input, response)
	require.NoError(t, err)

	require.Len(t, outcome.Todos, 1)
	assert.Equal(t, "TD-10", outcome.Todos[0].TodoID)
	assert.Equal(t, 2, outcome.Workflow.PlanVersion)
}

func TestPostTurnDropsUpdatesForOtherTodos(t *testing.T) {
	engine, store := newTestEngine(t, defaultPolicy())
	seedPlan(t, store, "chat-1", "TD-01", "TD-02")

	input, err := engine.PreTurn(context.Background(), "chat-1", "start")
	require.NoError(t, err)
	require.Equal(t, "TD-01", input.ActiveTodoID)

	response := `<dyad-agent-todo-update todoId="TD-01" status="completed">done</dyad-agent-todo-update>
<dyad-agent-todo-update todoId="TD-02" status="completed">also done</dyad-agent-todo-update>`

	outcome, err := engine.PostTurn(context.Background(), input, response)
	require.NoError(t, err)

	require.Len(t, outcome.Dropped, 1)
	assert.Equal(t, "TD-02", outcome.Dropped[0].Update.TodoID)
	assert.Equal(t, enforce.DropNotActive, outcome.Dropped[0].Code)

	todos, err := store.GetTodos(input.Workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, proto.TodoCompleted, todos[0].Status)
	assert.Equal(t, proto.TodoPending, todos[1].Status)

	// The drop is logged as a system entry under the logging policy.
	contents := logContents(t, store, input.Workflow.ID)
	var found bool
	for _, c := range contents {
		if strings.Contains(c, "dropped todo update") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestPostTurnForcesFocusClearOnActiveCompletion(t *testing.T) {
	engine, store := newTestEngine(t, defaultPolicy())
	seedPlan(t, store, "chat-1", "TD-01", "TD-02")

	input, err := engine.PreTurn(context.Background(), "chat-1", "start")
	require.NoError(t, err)

	response := `<dyad-agent-todo-update todoId="TD-01" status="completed"></dyad-agent-todo-update>
<dyad-agent-focus todoId="TD-01"/>`

	outcome, err := engine.PostTurn(context.Background(), input, response)
	require.NoError(t, err)

	assert.Nil(t, outcome.Workflow.CurrentTodoID)
	assert.False(t, outcome.AutoContinue)
}

func TestPostTurnRejectsFocusOutsideAllowedSet(t *testing.T) {
	engine, store := newTestEngine(t, defaultPolicy())
	seedPlan(t, store, "chat-1", "TD-01", "TD-02")

	input, err := engine.PreTurn(context.Background(), "chat-1", "start")
	require.NoError(t, err)

	response := `<dyad-agent-focus todoId="TD-02"/>`

	outcome, err := engine.PostTurn(context.Background(), input, response)
	require.NoError(t, err)

	require.NotNil(t, outcome.Workflow.CurrentTodoID)
	assert.Equal(t, "TD-01", *outcome.Workflow.CurrentTodoID)
	require.NotEmpty(t, outcome.Warnings)
	assert.Contains(t, outcome.Warnings[0], "focus request")
	assert.False(t, outcome.AutoContinue)
}

func TestPostTurnHonorsFocusClear(t *testing.T) {
	engine, store := newTestEngine(t, defaultPolicy())
	seedPlan(t, store, "chat-1", "TD-01")

	input, err := engine.PreTurn(context.Background(), "chat-1", "start")
	require.NoError(t, err)
	require.NotNil(t, input.Workflow.CurrentTodoID)

	outcome, err := engine.PostTurn(context.Background(), input, `<dyad-agent-focus todoId=""/>`)
	require.NoError(t, err)
	assert.Nil(t, outcome.Workflow.CurrentTodoID)
}

func TestPostTurnAppliesStatusTag(t *testing.T) {
	engine, store := newTestEngine(t, defaultPolicy())
	seedPlan(t, store, "chat-1", "TD-01")

	input, err := engine.PreTurn(context.Background(), "chat-1", "what is left?")
	require.NoError(t, err)

	outcome, err := engine.PostTurn(context.Background(), input,
		`<dyad-agent-status state="awaiting_user"></dyad-agent-status>`)
	require.NoError(t, err)
	assert.Equal(t, proto.StatusAwaitingUser, outcome.Workflow.Status)
}

func TestPostTurnAppliesAutoTagAndLogs(t *testing.T) {
	engine, store := newTestEngine(t, defaultPolicy())
	seedPlan(t, store, "chat-1", "TD-01")

	input, err := engine.PreTurn(context.Background(), "chat-1", "keep going")
	require.NoError(t, err)

	response := `<dyad-agent-auto enabled="true"/>
<dyad-agent-log type="execution" todoId="TD-01">wrote the scaffold</dyad-agent-log>
<dyad-agent-log type="execution"></dyad-agent-log>`

	outcome, err := engine.PostTurn(context.Background(), input, response)
	require.NoError(t, err)
	assert.True(t, outcome.Workflow.AutoAdvance)

	logs, err := store.GetLogs(input.Workflow.ID)
	require.NoError(t, err)

	// The empty-content log directive is skipped.
	var execLogs int
	for i := range logs {
		if logs[i].LogType == proto.LogExecution {
			execLogs++
			require.NotNil(t, logs[i].TodoID)
			assert.Equal(t, "TD-01", *logs[i].TodoID)
		}
	}
	assert.Equal(t, 1, execLogs)
}

func TestPostTurnAutoContinue(t *testing.T) {
	engine, store := newTestEngine(t, defaultPolicy())
	wf := seedPlan(t, store, "chat-1", "TD-01", "TD-02")
	require.NoError(t, store.SetAutoAdvance(wf.ID, true))

	input, err := engine.PreTurn(context.Background(), "chat-1", "status update please")
	require.NoError(t, err)

	// No completion, no focus, pending todos remain: continue.
	outcome, err := engine.PostTurn(context.Background(), input,
		`<dyad-agent-log type="system">nothing to do yet</dyad-agent-log>`)
	require.NoError(t, err)
	assert.True(t, outcome.AutoContinue)
}

func TestPostTurnNoAutoContinueWhileFocusedTodoInProgress(t *testing.T) {
	engine, store := newTestEngine(t, defaultPolicy())
	wf := seedPlan(t, store, "chat-1", "TD-01", "TD-02")
	require.NoError(t, store.SetAutoAdvance(wf.ID, true))

	input, err := engine.PreTurn(context.Background(), "chat-1", "start")
	require.NoError(t, err)

	outcome, err := engine.PostTurn(context.Background(), input,
		`<dyad-agent-log type="execution">mid-flight</dyad-agent-log>`)
	require.NoError(t, err)
	assert.False(t, outcome.AutoContinue)
}

func TestPostTurnNoAutoContinueAfterCompletion(t *testing.T) {
	engine, store := newTestEngine(t, defaultPolicy())
	wf := seedPlan(t, store, "chat-1", "TD-01", "TD-02")
	require.NoError(t, store.SetAutoAdvance(wf.ID, true))

	input, err := engine.PreTurn(context.Background(), "chat-1", "start")
	require.NoError(t, err)

	outcome, err := engine.PostTurn(context.Background(), input,
		`<dyad-agent-todo-update todoId="TD-01" status="completed"></dyad-agent-todo-update>`)
	require.NoError(t, err)
	assert.False(t, outcome.AutoContinue)
}

func TestPostTurnLogsMissingUpdateTargets(t *testing.T) {
	engine, store := newTestEngine(t, defaultPolicy())
	seedPlan(t, store, "chat-1", "TD-01")

	input, err := engine.PreTurn(context.Background(), "chat-1", "carry on")
	require.NoError(t, err)

	outcome, err := engine.PostTurn(context.Background(), input,
		`<dyad-agent-todo-update todoId="TD-42" status="in_progress"></dyad-agent-todo-update>`)
	require.NoError(t, err)
	require.NotNil(t, outcome)

	contents := logContents(t, store, input.Workflow.ID)
	var found bool
	for _, c := range contents {
		if strings.Contains(c, "unknown todo TD-42") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRunTurnSerializesFullCycle(t *testing.T) {
	engine, _ := newTestEngine(t, defaultPolicy())

	var gotPayload, gotPrompt string
	outcome, err := engine.RunTurn(context.Background(), "chat-1", "build a todo app",
		func(_ context.Context, payload, prompt string) (string, error) {
			gotPayload = payload
			gotPrompt = prompt
			return `<dyad-agent-analysis>{"goals":["ok"],"constraints":[],"acceptanceCriteria":[],"risks":[],"clarifications":[],"dyadTagRefs":[]}</dyad-agent-analysis>`, nil
		})
	require.NoError(t, err)

	assert.Contains(t, gotPayload, "<agent-workflow-context>")
	assert.Equal(t, "build a todo app", gotPrompt)
	assert.Equal(t, proto.StatusAnalysis, outcome.Workflow.Status)
	require.NotNil(t, outcome.Workflow.Analysis)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(proto.StatusIdle, proto.StatusAnalysis))
	assert.True(t, CanTransition(proto.StatusExecuting, proto.StatusExecuting))
	assert.True(t, CanTransition(proto.StatusPlanReady, proto.StatusExecuting))
	assert.False(t, CanTransition(proto.StatusIdle, proto.StatusCompleted))

	assert.NoError(t, ValidateTransition(proto.StatusAnalysis, proto.StatusPlanReady))
	assert.ErrorIs(t, ValidateTransition(proto.StatusIdle, proto.StatusCompleted), ErrInvalidTransition)
}

func TestNextPendingAndFindTodo(t *testing.T) {
	todos := []persistence.Todo{
		{TodoID: "TD-01", Status: proto.TodoCompleted},
		{TodoID: "TD-02", Status: proto.TodoPending},
		{TodoID: "TD-03", Status: proto.TodoPending},
	}

	next := NextPendingTodo(todos)
	require.NotNil(t, next)
	assert.Equal(t, "TD-02", next.TodoID)

	assert.Nil(t, NextPendingTodo([]persistence.Todo{{TodoID: "TD-01", Status: proto.TodoCompleted}}))

	found := FindTodo(todos, "td-03")
	require.NotNil(t, found)
	assert.Equal(t, "TD-03", found.TodoID)
	assert.Nil(t, FindTodo(todos, "TD-99"))
}
