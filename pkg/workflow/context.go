package workflow

import (
	"encoding/json"
	"fmt"
	"time"

	"agentflow/pkg/persistence"
	"agentflow/pkg/proto"
)

// contextEnvelope wraps the serialized payload for the model's input
// context. Not part of the conversational text shown to the user.
const (
	contextOpenTag  = "<agent-workflow-context>"
	contextCloseTag = "</agent-workflow-context>"
)

// trimmedTodoFieldTokens bounds each todo's free-text fields once the
// payload exceeds the token budget.
const trimmedTodoFieldTokens = 100

// contextPayload is the JSON body of the context envelope.
//
//nolint:govet // struct alignment optimization not critical for this type
type contextPayload struct {
	Timestamp      string               `json:"timestamp"`
	Status         proto.WorkflowStatus `json:"status"`
	AutoAdvance    bool                 `json:"autoAdvance"`
	CurrentTodoID  *string              `json:"currentTodoId"`
	DyadTagContext []string             `json:"dyadTagContext,omitempty"`
	Command        proto.Command        `json:"command"`
	Analysis       *proto.Analysis      `json:"analysis,omitempty"`
	Todos          []todoSummary        `json:"todos,omitempty"`
}

// todoSummary is the per-todo slice of the context payload. Narrower
// than the persistence row so stale bookkeeping never leaks to the
// model.
//
//nolint:govet // struct alignment optimization not critical for this type
type todoSummary struct {
	TodoID             string           `json:"todoId"`
	Title              string           `json:"title"`
	Description        string           `json:"description,omitempty"`
	Status             proto.TodoStatus `json:"status"`
	CompletionCriteria string           `json:"completionCriteria,omitempty"`
	Active             bool             `json:"active,omitempty"`
}

// buildContextPayload serializes the workflow snapshot for the model.
// The todos summary is omitted for brief and change-plan commands so
// stale plan data cannot leak into a replanning turn.
func (e *Engine) buildContextPayload(wf *persistence.Workflow, todos []persistence.Todo, cmd proto.Command) (string, int, error) {
	payload := contextPayload{
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		Status:         wf.Status,
		AutoAdvance:    wf.AutoAdvance,
		CurrentTodoID:  wf.CurrentTodoID,
		DyadTagContext: wf.DyadTagContext,
		Command:        cmd,
		Analysis:       wf.Analysis,
	}

	if cmd.Kind != proto.CommandBrief && cmd.Kind != proto.CommandChangePlan {
		for i := range todos {
			payload.Todos = append(payload.Todos, todoSummary{
				TodoID:             todos[i].TodoID,
				Title:              todos[i].Title,
				Description:        todos[i].Description,
				Status:             todos[i].Status,
				CompletionCriteria: todos[i].CompletionCriteria,
				Active:             todos[i].IsActive(wf),
			})
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", 0, fmt.Errorf("failed to serialize context payload: %w", err)
	}

	envelope := contextOpenTag + string(data) + contextCloseTag
	tokens := e.counter.CountTokens(envelope)
	if e.tokenBudget > 0 && !e.counter.WithinLimit(envelope, e.tokenBudget) {
		for i := range payload.Todos {
			payload.Todos[i].Description = e.counter.TruncateToTokenLimit(
				payload.Todos[i].Description, trimmedTodoFieldTokens)
			payload.Todos[i].CompletionCriteria = e.counter.TruncateToTokenLimit(
				payload.Todos[i].CompletionCriteria, trimmedTodoFieldTokens)
		}
		data, err = json.Marshal(payload)
		if err != nil {
			return "", 0, fmt.Errorf("failed to serialize trimmed context payload: %w", err)
		}
		envelope = contextOpenTag + string(data) + contextCloseTag
		trimmedTokens := e.counter.CountTokens(envelope)
		e.logger.Warn("context payload for workflow %s is %d tokens, budget %d, trimmed todo fields to %d tokens",
			wf.ID, tokens, e.tokenBudget, trimmedTokens)
		tokens = trimmedTokens
	}
	return envelope, tokens, nil
}
