package workflow

import (
	"agentflow/pkg/persistence"
	"agentflow/pkg/proto"
)

// NextPendingTodo returns the first todo in plan order whose status is
// not completed, or nil when the plan is exhausted.
func NextPendingTodo(todos []persistence.Todo) *persistence.Todo {
	for i := range todos {
		if todos[i].Status != proto.TodoCompleted {
			return &todos[i]
		}
	}
	return nil
}

// FindTodo locates a todo by id, case-insensitively. Returns nil when
// no todo matches.
func FindTodo(todos []persistence.Todo, todoID string) *persistence.Todo {
	for i := range todos {
		if proto.SameTodoID(todos[i].TodoID, todoID) {
			return &todos[i]
		}
	}
	return nil
}

// hasIncompleteTodo reports whether any todo is not yet completed.
func hasIncompleteTodo(todos []persistence.Todo) bool {
	return NextPendingTodo(todos) != nil
}
