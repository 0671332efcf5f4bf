// Package proto defines the shared domain types for the agent workflow
// engine: workflow and todo lifecycles, parsed artifact payloads, and the
// typed commands the engine understands.
package proto

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

// Workflow status constants.
const (
	StatusIdle         WorkflowStatus = "idle"
	StatusAnalysis     WorkflowStatus = "analysis"
	StatusPlanReady    WorkflowStatus = "plan_ready"
	StatusExecuting    WorkflowStatus = "executing"
	StatusAwaitingUser WorkflowStatus = "awaiting_user"
	StatusReviewing    WorkflowStatus = "reviewing"
	StatusCompleted    WorkflowStatus = "completed"
	StatusRevising     WorkflowStatus = "revising"
	StatusError        WorkflowStatus = "error"
)

// ValidWorkflowStatuses returns all valid workflow statuses.
func ValidWorkflowStatuses() []WorkflowStatus {
	return []WorkflowStatus{
		StatusIdle,
		StatusAnalysis,
		StatusPlanReady,
		StatusExecuting,
		StatusAwaitingUser,
		StatusReviewing,
		StatusCompleted,
		StatusRevising,
		StatusError,
	}
}

// IsValid checks whether the status is a known workflow status.
func (s WorkflowStatus) IsValid() bool {
	for _, valid := range ValidWorkflowStatuses() {
		if s == valid {
			return true
		}
	}
	return false
}

func (s WorkflowStatus) String() string {
	return string(s)
}

// TodoStatus represents the lifecycle state of a single todo.
type TodoStatus string

// Todo status constants.
const (
	TodoPending    TodoStatus = "pending"
	TodoReady      TodoStatus = "ready"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
	TodoBlocked    TodoStatus = "blocked"
	TodoRevising   TodoStatus = "revising"
)

// ValidTodoStatuses returns all valid todo statuses.
func ValidTodoStatuses() []TodoStatus {
	return []TodoStatus{
		TodoPending,
		TodoReady,
		TodoInProgress,
		TodoCompleted,
		TodoBlocked,
		TodoRevising,
	}
}

// IsValid checks whether the status is a known todo status.
func (s TodoStatus) IsValid() bool {
	for _, valid := range ValidTodoStatuses() {
		if s == valid {
			return true
		}
	}
	return false
}

func (s TodoStatus) String() string {
	return string(s)
}

// LogType classifies execution log entries for audit replay.
type LogType string

// Log type constants.
const (
	LogAnalysis   LogType = "analysis"
	LogPlan       LogType = "plan"
	LogExecution  LogType = "execution"
	LogReview     LogType = "review"
	LogCommand    LogType = "command"
	LogValidation LogType = "validation"
	LogSystem     LogType = "system"
)

// ValidLogTypes returns all valid log types.
func ValidLogTypes() []LogType {
	return []LogType{
		LogAnalysis,
		LogPlan,
		LogExecution,
		LogReview,
		LogCommand,
		LogValidation,
		LogSystem,
	}
}

// IsValid checks whether the log type is known.
func (t LogType) IsValid() bool {
	for _, valid := range ValidLogTypes() {
		if t == valid {
			return true
		}
	}
	return false
}

func (t LogType) String() string {
	return string(t)
}
