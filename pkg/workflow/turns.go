package workflow

import (
	"context"
	"fmt"
	"time"

	"agentflow/pkg/artifacts"
	"agentflow/pkg/command"
	"agentflow/pkg/enforce"
	"agentflow/pkg/persistence"
	"agentflow/pkg/proto"
)

// PreTurn interprets one user turn: it ensures the chat's workflow
// exists, detects the command, applies the command's implied updates,
// and assembles the context payload for the model. Callers that do not
// use RunTurn must serialize PreTurn/PostTurn per workflow themselves.
func (e *Engine) PreTurn(ctx context.Context, chatID, prompt string) (*TurnInput, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("pre-turn canceled: %w", err)
	}
	started := time.Now()

	wf, err := e.store.EnsureWorkflowForChat(chatID, e.policy.AutoAdvanceDefault)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure workflow for chat %s: %w", chatID, err)
	}

	todos, err := e.store.GetTodos(wf.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load todos for workflow %s: %w", wf.ID, err)
	}

	cmd := command.Detect(prompt, wf, todos)
	e.logger.Debug("workflow %s: command %s (status %s)", wf.ID, cmd.Kind, wf.Status)

	if err := e.applyCommand(wf, todos, cmd); err != nil {
		return nil, err
	}

	// Reload so the payload reflects the command's effects.
	wf, err = e.store.GetWorkflow(wf.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload workflow %s: %w", wf.ID, err)
	}
	todos, err = e.store.GetTodos(wf.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload todos for workflow %s: %w", wf.ID, err)
	}

	payload, tokens, err := e.buildContextPayload(wf, todos, cmd)
	if err != nil {
		return nil, err
	}

	e.recorder.ObserveTurn(string(cmd.Kind), phasePre, time.Since(started))

	return &TurnInput{
		Workflow:       wf,
		Todos:          todos,
		Command:        cmd,
		ContextPayload: payload,
		PayloadTokens:  tokens,
		ActiveTodoID:   proto.NormalizeTodoID(wf.ActiveTodoID()),
	}, nil
}

// applyCommand performs the command's implied store mutations: at most
// one queued todo update plus the associated status change.
func (e *Engine) applyCommand(wf *persistence.Workflow, todos []persistence.Todo, cmd proto.Command) error {
	switch cmd.Kind {
	case proto.CommandBrief, proto.CommandChangePlan:
		if err := e.store.SetCurrentTodo(wf.ID, nil); err != nil {
			return fmt.Errorf("failed to clear focus: %w", err)
		}
		if err := e.store.SetStatus(wf.ID, proto.StatusAnalysis); err != nil {
			return fmt.Errorf("failed to set analysis status: %w", err)
		}

	case proto.CommandRevise:
		target := FindTodo(todos, cmd.TodoID)
		if target == nil {
			e.systemLog(wf.ID, fmt.Sprintf("revise requested for unknown todo %s", cmd.TodoID))
		} else {
			if _, err := e.store.ApplyTodoUpdates(wf.ID, []proto.TodoUpdate{
				{TodoID: target.TodoID, Status: proto.TodoRevising},
			}); err != nil {
				return fmt.Errorf("failed to queue revising update: %w", err)
			}
			e.commandLog(wf.ID, cmd)
		}
		if err := e.store.SetStatus(wf.ID, proto.StatusRevising); err != nil {
			return fmt.Errorf("failed to set revising status: %w", err)
		}

	case proto.CommandStart, proto.CommandContinue:
		next := NextPendingTodo(todos)
		if next == nil {
			e.systemLog(wf.ID, fmt.Sprintf("%s requested but no pending todo remains", cmd.Kind))
			return nil
		}
		if _, err := e.store.ApplyTodoUpdates(wf.ID, []proto.TodoUpdate{
			{TodoID: next.TodoID, Status: proto.TodoInProgress},
		}); err != nil {
			return fmt.Errorf("failed to start todo %s: %w", next.TodoID, err)
		}
		id := next.TodoID
		if err := e.store.SetCurrentTodo(wf.ID, &id); err != nil {
			return fmt.Errorf("failed to focus todo %s: %w", next.TodoID, err)
		}
		if err := e.store.SetStatus(wf.ID, proto.StatusExecuting); err != nil {
			return fmt.Errorf("failed to set executing status: %w", err)
		}

	case proto.CommandSwitchMode:
		e.commandLog(wf.ID, cmd)

	case proto.CommandCustom:
		e.commandLog(wf.ID, cmd)
		if cmd.ToggleAuto {
			if err := e.store.SetAutoAdvance(wf.ID, !wf.AutoAdvance); err != nil {
				return fmt.Errorf("failed to toggle auto-advance: %w", err)
			}
			e.logger.Info("workflow %s: auto-advance toggled to %v", wf.ID, !wf.AutoAdvance)
		}
	}
	return nil
}

// commandLog appends a command-type log entry carrying the raw input.
func (e *Engine) commandLog(workflowID string, cmd proto.Command) {
	entry := &persistence.ExecutionLog{
		LogType:  proto.LogCommand,
		Content:  cmd.RawText,
		Metadata: map[string]any{"kind": string(cmd.Kind)},
	}
	if cmd.TodoID != "" {
		id := cmd.TodoID
		entry.TodoID = &id
	}
	if err := e.appendLog(workflowID, entry); err != nil {
		e.logger.Warn("failed to append command log: %v", err)
	}
}

// PostTurn applies one parsed agent response to the store: sanitized
// todo updates, analysis and plan artifacts, logs, status, focus, and
// the auto-advance flag, then computes the auto-continue decision.
func (e *Engine) PostTurn(ctx context.Context, input *TurnInput, responseText string) (*TurnOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("post-turn canceled: %w", err)
	}
	started := time.Now()
	workflowID := input.Workflow.ID

	bundle := artifacts.Parse(responseText)
	e.recorder.AddParseWarnings(len(bundle.Warnings))
	for _, warning := range bundle.Warnings {
		e.logger.Warn("workflow %s: parser: %s", workflowID, warning)
	}

	outcome := &TurnOutcome{Bundle: bundle}
	outcome.Warnings = append(outcome.Warnings, bundle.Warnings...)

	result := enforce.Sanitize(bundle.TodoUpdates, input.ActiveTodoID, e.policy.OneTaskRule)
	outcome.Dropped = result.Dropped
	for i := range result.Dropped {
		e.recorder.IncDroppedUpdate(string(result.Dropped[i].Code))
		if e.policy.LogEnforcementActions {
			e.systemLog(workflowID, fmt.Sprintf("dropped todo update %q: %s",
				result.Dropped[i].Update.TodoID, result.Dropped[i].Reason))
		}
	}

	// Post-sanitization counts should be structurally bounded; warn if
	// a future rule change breaks that.
	completions, starts := enforce.Stats(result.Updates)
	if completions > 1 {
		warning := fmt.Sprintf("sanitized batch still contains %d completions", completions)
		e.logger.Warn("workflow %s: %s", workflowID, warning)
		outcome.Warnings = append(outcome.Warnings, warning)
	}
	if starts > e.policy.MaxSimultaneousStarts {
		warning := fmt.Sprintf("sanitized batch starts %d todos, max %d", starts, e.policy.MaxSimultaneousStarts)
		e.logger.Warn("workflow %s: %s", workflowID, warning)
		outcome.Warnings = append(outcome.Warnings, warning)
	}

	if bundle.Analysis != nil {
		if err := e.store.UpdateAnalysis(workflowID, bundle.Analysis); err != nil {
			return nil, fmt.Errorf("failed to update analysis: %w", err)
		}
		if err := e.store.SetStatus(workflowID, proto.StatusAnalysis); err != nil {
			return nil, fmt.Errorf("failed to set analysis status: %w", err)
		}
	}

	if bundle.Plan != nil {
		if err := e.applyPlan(input, bundle, outcome); err != nil {
			return nil, err
		}
	}

	missing, err := e.store.ApplyTodoUpdates(workflowID, result.Updates)
	if err != nil {
		return nil, fmt.Errorf("failed to apply todo updates: %w", err)
	}
	for _, id := range missing {
		e.systemLog(workflowID, fmt.Sprintf("todo update references unknown todo %s", id))
	}
	e.appendUpdateNotes(workflowID, result.Updates, missing)

	for i := range bundle.Logs {
		if bundle.Logs[i].Content == "" {
			continue
		}
		entry := &persistence.ExecutionLog{
			LogType:     bundle.Logs[i].Type,
			Content:     bundle.Logs[i].Content,
			Metadata:    bundle.Logs[i].Metadata,
			DyadTagRefs: bundle.Logs[i].DyadTagRefs,
		}
		if bundle.Logs[i].TodoID != "" {
			id := bundle.Logs[i].TodoID
			entry.TodoID = &id
		}
		if err := e.appendLog(workflowID, entry); err != nil {
			return nil, fmt.Errorf("failed to append log: %w", err)
		}
	}

	if bundle.WorkflowStatus != nil {
		current, err := e.store.GetWorkflow(workflowID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload workflow %s: %w", workflowID, err)
		}
		if err := ValidateTransition(current.Status, *bundle.WorkflowStatus); err != nil {
			e.logger.Warn("workflow %s: %v (applying anyway)", workflowID, err)
		}
		if err := e.store.SetStatus(workflowID, *bundle.WorkflowStatus); err != nil {
			return nil, fmt.Errorf("failed to apply status tag: %w", err)
		}
	}

	focusBlocked, err := e.applyFocus(input, bundle, result, outcome)
	if err != nil {
		return nil, err
	}

	completedActive := activeTodoCompleted(result.Updates, missing, input.ActiveTodoID)
	if completedActive {
		if err := e.store.SetCurrentTodo(workflowID, nil); err != nil {
			return nil, fmt.Errorf("failed to clear focus after completion: %w", err)
		}
	}

	if bundle.AutoAdvance != nil {
		if err := e.store.SetAutoAdvance(workflowID, *bundle.AutoAdvance); err != nil {
			return nil, fmt.Errorf("failed to apply auto tag: %w", err)
		}
	}

	wf, err := e.store.GetWorkflow(workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload workflow %s: %w", workflowID, err)
	}
	todos, err := e.store.GetTodos(workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload todos for workflow %s: %w", workflowID, err)
	}

	outcome.Workflow = wf
	outcome.Todos = todos
	outcome.AutoContinue = e.shouldAutoContinue(wf, todos, result.Updates, focusBlocked)

	e.recorder.ObserveTurn(string(input.Command.Kind), phasePost, time.Since(started))
	return outcome, nil
}

// applyPlan commits the parsed plan, unless open clarifications on a
// plan-less workflow hold it back.
func (e *Engine) applyPlan(input *TurnInput, bundle *proto.ArtifactBundle, outcome *TurnOutcome) error {
	workflowID := input.Workflow.ID

	analysis := bundle.Analysis
	if analysis == nil {
		analysis = input.Workflow.Analysis
	}

	existing, err := e.store.GetTodos(workflowID)
	if err != nil {
		return fmt.Errorf("failed to load todos for workflow %s: %w", workflowID, err)
	}

	if analysis.HasOpenClarifications() && len(existing) == 0 {
		e.recorder.IncPlanHeld()
		warning := "plan held back: open clarifications must be answered first"
		outcome.Warnings = append(outcome.Warnings, warning)
		e.systemLog(workflowID, warning)
		return nil
	}

	if _, err := e.store.ReplacePlan(workflowID, bundle.Plan, persistence.ReplacePlanOptions{}); err != nil {
		return fmt.Errorf("failed to replace plan: %w", err)
	}
	e.recorder.IncPlanCommitted()
	e.logger.Info("workflow %s: plan committed with %d todos", workflowID, len(bundle.Plan.Todos))
	return nil
}

// applyFocus handles the focus tag: clears are always honored, any
// other target must be in the allowed set {pre-turn active todo,
// sanitizer lock}. Returns whether a focus request was blocked.
func (e *Engine) applyFocus(input *TurnInput, bundle *proto.ArtifactBundle, result enforce.Result, outcome *TurnOutcome) (bool, error) {
	if bundle.Focus == nil {
		return false, nil
	}
	workflowID := input.Workflow.ID

	if bundle.Focus.TodoID == "" {
		if err := e.store.SetCurrentTodo(workflowID, nil); err != nil {
			return false, fmt.Errorf("failed to clear focus: %w", err)
		}
		return false, nil
	}

	requested := proto.NormalizeTodoID(bundle.Focus.TodoID)
	allowed := requested == input.ActiveTodoID && input.ActiveTodoID != ""
	if !allowed && result.HandledTodoID != "" {
		allowed = requested == result.HandledTodoID
	}
	if !allowed {
		e.recorder.IncFocusRejected()
		warning := fmt.Sprintf("focus request for %s rejected: outside allowed set", bundle.Focus.TodoID)
		outcome.Warnings = append(outcome.Warnings, warning)
		e.systemLog(workflowID, warning)
		return true, nil
	}

	id := requested
	if todo := FindTodo(input.Todos, requested); todo != nil {
		id = todo.TodoID
	}
	if err := e.store.SetCurrentTodo(workflowID, &id); err != nil {
		return false, fmt.Errorf("failed to set focus: %w", err)
	}
	return false, nil
}

// appendUpdateNotes persists the free-text notes carried by applied
// todo updates as execution log entries.
func (e *Engine) appendUpdateNotes(workflowID string, updates []proto.TodoUpdate, missing []string) {
	skipped := make(map[string]bool, len(missing))
	for _, id := range missing {
		skipped[id] = true
	}

	for i := range updates {
		if updates[i].Note == "" || skipped[proto.NormalizeTodoID(updates[i].TodoID)] {
			continue
		}
		id := updates[i].TodoID
		entry := &persistence.ExecutionLog{
			LogType:     proto.LogExecution,
			TodoID:      &id,
			Content:     updates[i].Note,
			DyadTagRefs: updates[i].DyadTagRefs,
		}
		if err := e.appendLog(workflowID, entry); err != nil {
			e.logger.Warn("failed to append update note: %v", err)
		}
	}
}

// activeTodoCompleted reports whether an applied update completed the
// pre-turn active todo.
func activeTodoCompleted(updates []proto.TodoUpdate, missing []string, activeTodoID string) bool {
	if activeTodoID == "" {
		return false
	}
	skipped := make(map[string]bool, len(missing))
	for _, id := range missing {
		skipped[id] = true
	}
	for i := range updates {
		normalized := proto.NormalizeTodoID(updates[i].TodoID)
		if updates[i].Status == proto.TodoCompleted && normalized == activeTodoID && !skipped[normalized] {
			return true
		}
	}
	return false
}

// shouldAutoContinue recomputes the auto-continue decision after all
// mutations: never race ahead mid-task or right after a completion the
// UI still needs to render.
func (e *Engine) shouldAutoContinue(wf *persistence.Workflow, todos []persistence.Todo, applied []proto.TodoUpdate, focusBlocked bool) bool {
	if !wf.AutoAdvance || focusBlocked {
		return false
	}
	for i := range applied {
		if applied[i].Status == proto.TodoCompleted {
			return false
		}
	}
	if !hasIncompleteTodo(todos) {
		return false
	}
	if focused := FindTodo(todos, wf.ActiveTodoID()); focused != nil && focused.Status == proto.TodoInProgress {
		return false
	}
	return true
}
