package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"agentflow/pkg/proto"
)

// EnsureWorkflowForChat returns the workflow owning chatID, creating an
// idle one if none exists yet. autoAdvance seeds the flag on creation
// only; an existing workflow keeps its stored value. Idempotent.
func (s *Store) EnsureWorkflowForChat(chatID string, autoAdvance bool) (*Workflow, error) {
	if existing, err := s.GetWorkflowByChatID(chatID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrWorkflowNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	workflow := &Workflow{
		ID:          proto.GenerateWorkflowID(),
		ChatID:      chatID,
		Status:      proto.StatusIdle,
		AutoAdvance: autoAdvance,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := s.db.Exec(`
		INSERT INTO workflows (id, chat_id, status, plan_version, auto_advance, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?, ?)
		ON CONFLICT(chat_id) DO NOTHING`,
		workflow.ID, chatID, workflow.Status, workflow.AutoAdvance, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow for chat %s: %w", chatID, err)
	}

	// Re-read in case a concurrent caller won the insert.
	return s.GetWorkflowByChatID(chatID)
}

// GetWorkflowByChatID loads the workflow row owning the given chat.
func (s *Store) GetWorkflowByChatID(chatID string) (*Workflow, error) {
	return s.scanWorkflow(s.db.QueryRow(
		workflowSelect+" WHERE chat_id = ?", chatID))
}

// GetWorkflow loads a workflow row by id.
func (s *Store) GetWorkflow(workflowID string) (*Workflow, error) {
	return s.scanWorkflow(s.db.QueryRow(
		workflowSelect+" WHERE id = ?", workflowID))
}

// GetWorkflowByID loads the full snapshot: workflow row, todos in plan
// order, and logs in creation order.
func (s *Store) GetWorkflowByID(workflowID string) (*WorkflowSnapshot, error) {
	workflow, err := s.GetWorkflow(workflowID)
	if err != nil {
		return nil, err
	}

	todos, err := s.GetTodos(workflowID)
	if err != nil {
		return nil, err
	}

	logs, err := s.GetLogs(workflowID)
	if err != nil {
		return nil, err
	}

	return &WorkflowSnapshot{
		Workflow: *workflow,
		Todos:    todos,
		Logs:     logs,
	}, nil
}

const workflowSelect = `
	SELECT id, chat_id, status, plan_version, current_todo_id, auto_advance,
	       analysis, dyad_tag_context, created_at, updated_at
	FROM workflows`

func (s *Store) scanWorkflow(row *sql.Row) (*Workflow, error) {
	var w Workflow
	var currentTodoID sql.NullString
	var analysisJSON sql.NullString
	var contextJSON sql.NullString

	err := row.Scan(
		&w.ID, &w.ChatID, &w.Status, &w.PlanVersion, &currentTodoID,
		&w.AutoAdvance, &analysisJSON, &contextJSON, &w.CreatedAt, &w.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWorkflowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	if currentTodoID.Valid && currentTodoID.String != "" {
		w.CurrentTodoID = &currentTodoID.String
	}
	if analysisJSON.Valid && analysisJSON.String != "" {
		var analysis proto.Analysis
		if err := json.Unmarshal([]byte(analysisJSON.String), &analysis); err != nil {
			return nil, fmt.Errorf("failed to decode stored analysis for workflow %s: %w", w.ID, err)
		}
		w.Analysis = &analysis
	}
	if contextJSON.Valid && contextJSON.String != "" {
		if err := json.Unmarshal([]byte(contextJSON.String), &w.DyadTagContext); err != nil {
			return nil, fmt.Errorf("failed to decode dyad tag context for workflow %s: %w", w.ID, err)
		}
	}

	return &w, nil
}

// SetStatus updates the workflow status.
func (s *Store) SetStatus(workflowID string, status proto.WorkflowStatus) error {
	return s.touchWorkflow(workflowID,
		"UPDATE workflows SET status = ?, updated_at = ? WHERE id = ?",
		status, time.Now().UTC(), workflowID)
}

// UpdateAnalysis replaces the stored analysis wholesale.
func (s *Store) UpdateAnalysis(workflowID string, analysis *proto.Analysis) error {
	encoded, err := encodeJSON(analysis)
	if err != nil {
		return fmt.Errorf("failed to encode analysis: %w", err)
	}
	return s.touchWorkflow(workflowID,
		"UPDATE workflows SET analysis = ?, updated_at = ? WHERE id = ?",
		encoded, time.Now().UTC(), workflowID)
}

// SetCurrentTodo sets or clears the focused todo.
func (s *Store) SetCurrentTodo(workflowID string, todoID *string) error {
	var value any
	if todoID != nil && *todoID != "" {
		value = *todoID
	}
	return s.touchWorkflow(workflowID,
		"UPDATE workflows SET current_todo_id = ?, updated_at = ? WHERE id = ?",
		value, time.Now().UTC(), workflowID)
}

// SetAutoAdvance stores the auto-advance flag.
func (s *Store) SetAutoAdvance(workflowID string, enabled bool) error {
	return s.touchWorkflow(workflowID,
		"UPDATE workflows SET auto_advance = ?, updated_at = ? WHERE id = ?",
		enabled, time.Now().UTC(), workflowID)
}

func (s *Store) touchWorkflow(workflowID, query string, args ...any) error {
	result, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update workflow %s: %w", workflowID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update of workflow %s: %w", workflowID, err)
	}
	if affected == 0 {
		return ErrWorkflowNotFound
	}
	return nil
}

// ReplacePlan atomically replaces the workflow's todo set with the plan's
// todos (delete-all-then-insert), bumps the plan version (or sets the
// explicit one), clears focus, and moves the workflow to plan_ready or
// the override status. A crash mid-replacement can never leave a partial
// plan behind.
func (s *Store) ReplacePlan(workflowID string, plan *proto.PlanSpec, opts ReplacePlanOptions) (*Workflow, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin plan replacement: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var currentVersion int
	err = tx.QueryRow("SELECT plan_version FROM workflows WHERE id = ?", workflowID).Scan(&currentVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWorkflowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read plan version for workflow %s: %w", workflowID, err)
	}

	newVersion := currentVersion + 1
	if plan.Version != nil {
		newVersion = *plan.Version
	}

	if _, err := tx.Exec("DELETE FROM todos WHERE workflow_id = ?", workflowID); err != nil {
		return nil, fmt.Errorf("failed to clear todos for workflow %s: %w", workflowID, err)
	}

	now := time.Now().UTC()
	for i := range plan.Todos {
		spec := &plan.Todos[i]
		status := spec.Status
		if status == "" {
			status = proto.TodoPending
		}
		inputs, err := encodeJSON(spec.Inputs)
		if err != nil {
			return nil, fmt.Errorf("failed to encode inputs for todo %s: %w", spec.TodoID, err)
		}
		outputs, err := encodeJSON(spec.Outputs)
		if err != nil {
			return nil, fmt.Errorf("failed to encode outputs for todo %s: %w", spec.TodoID, err)
		}

		_, err = tx.Exec(`
			INSERT INTO todos (
				workflow_id, todo_id, title, description, owner, inputs, outputs,
				completion_criteria, status, order_index, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			workflowID, spec.TodoID, spec.Title, spec.Description, spec.Owner,
			inputs, outputs, spec.CompletionCriteria, status, i, now, now,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert todo %s: %w", spec.TodoID, err)
		}
	}

	status := proto.StatusPlanReady
	if opts.StatusOverride != "" {
		status = opts.StatusOverride
	}

	contextJSON, err := encodeJSON(plan.DyadTagContext)
	if err != nil {
		return nil, fmt.Errorf("failed to encode dyad tag context: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE workflows
		SET plan_version = ?, status = ?, current_todo_id = NULL,
		    dyad_tag_context = ?, updated_at = ?
		WHERE id = ?`,
		newVersion, status, contextJSON, now, workflowID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow %s after plan commit: %w", workflowID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit plan replacement for workflow %s: %w", workflowID, err)
	}

	return s.GetWorkflow(workflowID)
}

// GetTodos returns the workflow's todos in plan order.
func (s *Store) GetTodos(workflowID string) ([]Todo, error) {
	rows, err := s.db.Query(`
		SELECT workflow_id, todo_id, title, description, owner, inputs, outputs,
		       completion_criteria, status, order_index, created_at, updated_at
		FROM todos WHERE workflow_id = ? ORDER BY order_index`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query todos for workflow %s: %w", workflowID, err)
	}
	defer func() { _ = rows.Close() }()

	var todos []Todo
	for rows.Next() {
		var t Todo
		var inputs, outputs sql.NullString
		err := rows.Scan(
			&t.WorkflowID, &t.TodoID, &t.Title, &t.Description, &t.Owner,
			&inputs, &outputs, &t.CompletionCriteria, &t.Status, &t.OrderIndex,
			&t.CreatedAt, &t.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan todo: %w", err)
		}
		if err := decodeJSON(inputs, &t.Inputs); err != nil {
			return nil, fmt.Errorf("failed to decode inputs for todo %s: %w", t.TodoID, err)
		}
		if err := decodeJSON(outputs, &t.Outputs); err != nil {
			return nil, fmt.Errorf("failed to decode outputs for todo %s: %w", t.TodoID, err)
		}
		todos = append(todos, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate todos for workflow %s: %w", workflowID, err)
	}
	return todos, nil
}

// ApplyTodoUpdates applies sanitized status updates to the store. Updates
// referencing unknown todo ids are skipped and their ids returned so the
// caller can log them; they are never an error.
func (s *Store) ApplyTodoUpdates(workflowID string, updates []proto.TodoUpdate) ([]string, error) {
	var missing []string
	now := time.Now().UTC()

	for i := range updates {
		update := &updates[i]
		if update.Status == "" {
			continue // note-only update, nothing to persist on the todo row
		}

		result, err := s.db.Exec(`
			UPDATE todos SET status = ?, updated_at = ?
			WHERE workflow_id = ? AND UPPER(TRIM(todo_id)) = ?`,
			update.Status, now, workflowID, proto.NormalizeTodoID(update.TodoID),
		)
		if err != nil {
			return missing, fmt.Errorf("failed to update todo %s: %w", update.TodoID, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return missing, fmt.Errorf("failed to check update of todo %s: %w", update.TodoID, err)
		}
		if affected == 0 {
			missing = append(missing, update.TodoID)
		}
	}

	return missing, nil
}

// AppendLog writes one immutable execution log entry. Missing id,
// session, and timestamp fields are filled in.
func (s *Store) AppendLog(workflowID string, entry *ExecutionLog) error {
	if entry.ID == "" {
		entry.ID = proto.GenerateLogID()
	}
	if entry.SessionID == "" {
		entry.SessionID = s.sessionID
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.WorkflowID = workflowID

	metadata, err := encodeJSON(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode log metadata: %w", err)
	}
	refs, err := encodeJSON(entry.DyadTagRefs)
	if err != nil {
		return fmt.Errorf("failed to encode log dyad tag refs: %w", err)
	}

	var todoID any
	if entry.TodoID != nil && *entry.TodoID != "" {
		todoID = *entry.TodoID
	}

	_, err = s.db.Exec(`
		INSERT INTO execution_logs (
			id, workflow_id, todo_id, session_id, log_type, content,
			metadata, dyad_tag_refs, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, workflowID, todoID, entry.SessionID, entry.LogType,
		entry.Content, metadata, refs, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append log for workflow %s: %w", workflowID, err)
	}
	return nil
}

// GetLogs returns the workflow's execution logs in creation order.
func (s *Store) GetLogs(workflowID string) ([]ExecutionLog, error) {
	rows, err := s.db.Query(`
		SELECT id, workflow_id, todo_id, session_id, log_type, content,
		       metadata, dyad_tag_refs, created_at
		FROM execution_logs WHERE workflow_id = ?
		ORDER BY created_at, id`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs for workflow %s: %w", workflowID, err)
	}
	defer func() { _ = rows.Close() }()

	var logs []ExecutionLog
	for rows.Next() {
		var entry ExecutionLog
		var todoID, metadata, refs sql.NullString
		err := rows.Scan(
			&entry.ID, &entry.WorkflowID, &todoID, &entry.SessionID,
			&entry.LogType, &entry.Content, &metadata, &refs, &entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		if todoID.Valid && todoID.String != "" {
			entry.TodoID = &todoID.String
		}
		if err := decodeJSON(metadata, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for log %s: %w", entry.ID, err)
		}
		if err := decodeJSON(refs, &entry.DyadTagRefs); err != nil {
			return nil, fmt.Errorf("failed to decode dyad tag refs for log %s: %w", entry.ID, err)
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate logs for workflow %s: %w", workflowID, err)
	}
	return logs, nil
}

// encodeJSON marshals a value for a nullable TEXT column. Nil values and
// nil maps/slices store as NULL.
func encodeJSON(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case *proto.Analysis:
		if v == nil {
			return nil, nil
		}
	case []string:
		if v == nil {
			return nil, nil
		}
	case map[string]any:
		if v == nil {
			return nil, nil
		}
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

// decodeJSON unmarshals a nullable TEXT column into dest, leaving dest
// untouched for NULL or empty values.
func decodeJSON(column sql.NullString, dest any) error {
	if !column.Valid || column.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(column.String), dest)
}
