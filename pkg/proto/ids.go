package proto

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateWorkflowID generates a new UUID for a workflow.
func GenerateWorkflowID() string {
	return uuid.New().String()
}

// GenerateLogID generates a new UUID for an execution log entry.
func GenerateLogID() string {
	return uuid.New().String()
}

// NormalizeTodoID canonicalizes a todo id for comparison: trimmed and
// uppercased. The original casing is preserved everywhere else; this form
// is only used for equality checks.
func NormalizeTodoID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// SameTodoID reports whether two todo ids refer to the same todo,
// ignoring case and surrounding whitespace.
func SameTodoID(a, b string) bool {
	return NormalizeTodoID(a) == NormalizeTodoID(b)
}
