package persistence

import (
	"time"

	"agentflow/pkg/proto"
)

// Workflow is the per-conversation state row. Exactly one exists per chat
// and it is created lazily on first interaction.
//
//nolint:govet // struct alignment optimization not critical for this type
type Workflow struct {
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
	ID             string               `json:"id"`
	ChatID         string               `json:"chat_id"`
	Status         proto.WorkflowStatus `json:"status"`
	PlanVersion    int                  `json:"plan_version"`
	CurrentTodoID  *string              `json:"current_todo_id,omitempty"`
	AutoAdvance    bool                 `json:"auto_advance"`
	Analysis       *proto.Analysis      `json:"analysis,omitempty"`
	DyadTagContext []string             `json:"dyad_tag_context,omitempty"`
}

// ActiveTodoID returns the focused todo id or "" when none is focused.
func (w *Workflow) ActiveTodoID() string {
	if w.CurrentTodoID == nil {
		return ""
	}
	return *w.CurrentTodoID
}

// Todo is one unit of work in a workflow's plan. The todo set is replaced
// atomically whenever a plan is committed; order_index is assigned at plan
// creation and immutable afterward.
//
//nolint:govet // struct alignment optimization not critical for this type
type Todo struct {
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
	WorkflowID         string           `json:"workflow_id"`
	TodoID             string           `json:"todo_id"`
	Title              string           `json:"title"`
	Description        string           `json:"description,omitempty"`
	Owner              string           `json:"owner,omitempty"`
	Inputs             []string         `json:"inputs"`
	Outputs            []string         `json:"outputs"`
	CompletionCriteria string           `json:"completion_criteria,omitempty"`
	Status             proto.TodoStatus `json:"status"`
	OrderIndex         int              `json:"order_index"`
}

// IsActive reports whether this todo is the workflow's current focus.
// Derived at read time, never stored.
func (t *Todo) IsActive(w *Workflow) bool {
	return w != nil && proto.SameTodoID(t.TodoID, w.ActiveTodoID())
}

// ExecutionLog is an append-only audit entry tied to a workflow and
// optionally a todo. Immutable once written; creation order matters for
// audit replay.
//
//nolint:govet // struct alignment optimization not critical for this type
type ExecutionLog struct {
	CreatedAt   time.Time      `json:"created_at"`
	ID          string         `json:"id"`
	WorkflowID  string         `json:"workflow_id"`
	TodoID      *string        `json:"todo_id,omitempty"`
	SessionID   string         `json:"session_id,omitempty"`
	LogType     proto.LogType  `json:"log_type"`
	Content     string         `json:"content"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	DyadTagRefs []string       `json:"dyad_tag_refs,omitempty"`
}

// WorkflowSnapshot bundles a workflow with its plan and audit trail, as
// returned by GetWorkflowByID. Todos come back in plan order, logs in
// creation order.
type WorkflowSnapshot struct {
	Workflow Workflow       `json:"workflow"`
	Todos    []Todo         `json:"todos"`
	Logs     []ExecutionLog `json:"logs"`
}

// ReplacePlanOptions tunes how a plan commit is applied.
type ReplacePlanOptions struct {
	// StatusOverride replaces the default plan_ready status after a
	// successful commit when non-empty.
	StatusOverride proto.WorkflowStatus
}
