package enforce

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentflow/pkg/proto"
)

func update(id string, status proto.TodoStatus) proto.TodoUpdate {
	return proto.TodoUpdate{TodoID: id, Status: status}
}

func TestSanitizeDuplicateCompletionDropped(t *testing.T) {
	result := Sanitize([]proto.TodoUpdate{
		update("TD-01", proto.TodoCompleted),
		update("TD-01", proto.TodoCompleted),
	}, "TD-01", true)

	require.Len(t, result.Updates, 1)
	assert.Equal(t, proto.TodoCompleted, result.Updates[0].Status)
	require.Len(t, result.Dropped, 1)
	assert.Contains(t, result.Dropped[0].Reason, "only one TODO can be completed")
	assert.Equal(t, "TD-01", result.HandledTodoID)
}

func TestSanitizeRejectsOtherTodoWhenActive(t *testing.T) {
	result := Sanitize([]proto.TodoUpdate{
		update("TD-01", proto.TodoCompleted),
		update("TD-02", proto.TodoCompleted),
	}, "TD-01", true)

	require.Len(t, result.Updates, 1)
	assert.Equal(t, "TD-01", result.Updates[0].TodoID)
	require.Len(t, result.Dropped, 1)
	assert.Equal(t, "expected active todo TD-01", result.Dropped[0].Reason)
}

func TestSanitizeLocksFirstAcceptedID(t *testing.T) {
	// No active todo: the first accepted update locks the batch.
	result := Sanitize([]proto.TodoUpdate{
		update("TD-03", proto.TodoInProgress),
		update("TD-04", proto.TodoInProgress),
		update("td-03", proto.TodoCompleted),
	}, "", true)

	require.Len(t, result.Updates, 2)
	assert.Equal(t, "TD-03", result.Updates[0].TodoID)
	assert.Equal(t, "td-03", result.Updates[1].TodoID) // original casing preserved
	require.Len(t, result.Dropped, 1)
	assert.Equal(t, "already handling TD-03", result.Dropped[0].Reason)
	assert.Equal(t, "TD-03", result.HandledTodoID)
}

func TestSanitizeMissingTodoID(t *testing.T) {
	result := Sanitize([]proto.TodoUpdate{
		update("   ", proto.TodoCompleted),
		update("", proto.TodoInProgress),
	}, "", true)

	assert.Empty(t, result.Updates)
	require.Len(t, result.Dropped, 2)
	assert.Equal(t, "missing todoId", result.Dropped[0].Reason)
	assert.Empty(t, result.HandledTodoID)
}

func TestSanitizeNormalizesForComparisonOnly(t *testing.T) {
	result := Sanitize([]proto.TodoUpdate{
		update(" td-01 ", proto.TodoInProgress),
	}, "TD-01", true)

	require.Len(t, result.Updates, 1)
	assert.Equal(t, " td-01 ", result.Updates[0].TodoID)
	assert.Equal(t, "TD-01", result.HandledTodoID)
}

func TestSanitizeHandledFallsBackToActive(t *testing.T) {
	// Every update rejected: HandledTodoID still names the active todo so
	// the caller can attribute logs correctly.
	result := Sanitize([]proto.TodoUpdate{
		update("TD-09", proto.TodoCompleted),
	}, "td-02", true)

	assert.Empty(t, result.Updates)
	assert.Equal(t, "TD-02", result.HandledTodoID)
}

func TestSanitizeOneTaskRuleDisabled(t *testing.T) {
	// With enforcement off, multiple completions of the locked todo pass.
	result := Sanitize([]proto.TodoUpdate{
		update("TD-01", proto.TodoCompleted),
		update("TD-01", proto.TodoCompleted),
	}, "", false)

	assert.Len(t, result.Updates, 2)
	assert.Empty(t, result.Dropped)
}

func TestSanitizeAllowsIntermediateTransitions(t *testing.T) {
	// A response may move one todo through several states freely; only
	// the completion count is limited.
	result := Sanitize([]proto.TodoUpdate{
		update("TD-01", proto.TodoInProgress),
		update("TD-01", proto.TodoRevising),
		update("TD-01", proto.TodoCompleted),
	}, "TD-01", true)

	assert.Len(t, result.Updates, 3)
	assert.Empty(t, result.Dropped)
}

func TestSanitizePreservesInputOrder(t *testing.T) {
	result := Sanitize([]proto.TodoUpdate{
		{TodoID: "TD-01", Status: proto.TodoInProgress, Note: "a"},
		{TodoID: "TD-01", Note: "b"},
		{TodoID: "TD-01", Status: proto.TodoCompleted, Note: "c"},
	}, "", true)

	require.Len(t, result.Updates, 3)
	assert.Equal(t, "a", result.Updates[0].Note)
	assert.Equal(t, "b", result.Updates[1].Note)
	assert.Equal(t, "c", result.Updates[2].Note)
}

func TestSanitizeSingleCompletionInvariant(t *testing.T) {
	// Property: with the one-task rule on, no batch ever yields more than
	// one completed update.
	batches := [][]proto.TodoUpdate{
		{update("TD-01", proto.TodoCompleted), update("TD-01", proto.TodoCompleted), update("TD-01", proto.TodoCompleted)},
		{update("a", proto.TodoCompleted), update("A", proto.TodoCompleted)},
		{update("x", proto.TodoInProgress), update("x", proto.TodoCompleted), update("x", proto.TodoCompleted)},
	}

	for _, batch := range batches {
		result := Sanitize(batch, "", true)
		completions, _ := Stats(result.Updates)
		assert.LessOrEqual(t, completions, 1)
	}
}

func TestSanitizeDropCodesAreStable(t *testing.T) {
	// Drop codes feed a metrics label, so they never embed todo ids.
	result := Sanitize([]proto.TodoUpdate{
		update("", proto.TodoInProgress),
		update("TD-02", proto.TodoInProgress),
	}, "TD-01", true)

	require.Len(t, result.Dropped, 2)
	assert.Equal(t, DropMissingID, result.Dropped[0].Code)
	assert.Equal(t, DropNotActive, result.Dropped[1].Code)

	locked := Sanitize([]proto.TodoUpdate{
		update("TD-03", proto.TodoInProgress),
		update("TD-04", proto.TodoInProgress),
	}, "", true)
	require.Len(t, locked.Dropped, 1)
	assert.Equal(t, DropLocked, locked.Dropped[0].Code)

	doubled := Sanitize([]proto.TodoUpdate{
		update("TD-01", proto.TodoCompleted),
		update("TD-01", proto.TodoCompleted),
	}, "TD-01", true)
	require.Len(t, doubled.Dropped, 1)
	assert.Equal(t, DropDuplicateCompletion, doubled.Dropped[0].Code)
}

func TestStats(t *testing.T) {
	completions, starts := Stats([]proto.TodoUpdate{
		update("TD-01", proto.TodoInProgress),
		update("TD-01", proto.TodoCompleted),
		update("TD-01", ""),
	})

	assert.Equal(t, 1, completions)
	assert.Equal(t, 1, starts)
}
