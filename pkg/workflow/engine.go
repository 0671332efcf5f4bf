// Package workflow implements the state machine that drives one
// workflow through its lifecycle, one user turn and one agent response
// at a time. PreTurn interprets the user's input and assembles the
// context payload for the model; PostTurn applies the parsed artifact
// bundle back to the store under the enforcement policy.
package workflow

import (
	"context"
	"sync"

	"agentflow/pkg/config"
	"agentflow/pkg/enforce"
	"agentflow/pkg/logx"
	"agentflow/pkg/metrics"
	"agentflow/pkg/persistence"
	"agentflow/pkg/proto"
	"agentflow/pkg/utils"
)

// Store is the persistence surface the engine drives. Implemented by
// *persistence.Store.
type Store interface {
	EnsureWorkflowForChat(chatID string, autoAdvance bool) (*persistence.Workflow, error)
	GetWorkflow(id string) (*persistence.Workflow, error)
	SetStatus(id string, status proto.WorkflowStatus) error
	UpdateAnalysis(id string, analysis *proto.Analysis) error
	SetCurrentTodo(id string, todoID *string) error
	SetAutoAdvance(id string, enabled bool) error
	ReplacePlan(id string, plan *proto.PlanSpec, opts persistence.ReplacePlanOptions) (*persistence.Workflow, error)
	GetTodos(id string) ([]persistence.Todo, error)
	ApplyTodoUpdates(id string, updates []proto.TodoUpdate) (missing []string, err error)
	AppendLog(id string, entry *persistence.ExecutionLog) error
}

// AuditSink mirrors appended execution logs to an external audit trail.
// Implemented by *eventlog.Writer.
type AuditSink interface {
	Record(entry *persistence.ExecutionLog) error
}

// Options carries the optional engine collaborators.
type Options struct {
	// Counter estimates context payload sizes; nil falls back to a
	// character-based estimate.
	Counter *utils.TokenCounter

	// TokenBudget caps the context payload before a warning is logged.
	// Zero disables the check.
	TokenBudget int

	// Recorder receives turn metrics; nil disables recording.
	Recorder *metrics.Recorder

	// Audit receives a copy of every appended execution log; nil
	// disables the audit export.
	Audit AuditSink
}

// Engine is the workflow state machine. One Engine serves all
// workflows; per-workflow serialization happens via RunTurn's keyed
// lock. Safe for concurrent use.
type Engine struct {
	store    Store
	policy   config.Enforcement
	counter  *utils.TokenCounter
	recorder *metrics.Recorder
	audit    AuditSink
	logger   *logx.Logger

	tokenBudget int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates an engine over store with the given enforcement
// policy.
func NewEngine(store Store, policy config.Enforcement, opts Options) *Engine {
	return &Engine{
		store:       store,
		policy:      policy,
		counter:     opts.Counter,
		tokenBudget: opts.TokenBudget,
		recorder:    opts.Recorder,
		audit:       opts.Audit,
		logger:      logx.NewLogger("workflow"),
		locks:       make(map[string]*sync.Mutex),
	}
}

// CompleteFunc produces the model's response for one turn. It receives
// the context payload and the raw user prompt.
type CompleteFunc func(ctx context.Context, contextPayload, prompt string) (string, error)

// RunTurn executes one full pre-turn, model call, post-turn cycle,
// serialized per chat. The read-modify-write sequences in both phases
// are not safe under concurrent interleaving for the same workflow.
func (e *Engine) RunTurn(ctx context.Context, chatID, prompt string, complete CompleteFunc) (*TurnOutcome, error) {
	unlock := e.lock(chatID)
	defer unlock()

	input, err := e.PreTurn(ctx, chatID, prompt)
	if err != nil {
		return nil, logx.Wrap(err, "pre-turn failed")
	}

	response, err := complete(ctx, input.ContextPayload, prompt)
	if err != nil {
		return nil, logx.Wrap(err, "model call failed")
	}

	outcome, err := e.PostTurn(ctx, input, response)
	if err != nil {
		return nil, logx.Wrap(err, "post-turn failed")
	}
	return outcome, nil
}

// lock acquires the per-chat mutex and returns its unlock func.
func (e *Engine) lock(key string) func() {
	e.mu.Lock()
	m, ok := e.locks[key]
	if !ok {
		m = &sync.Mutex{}
		e.locks[key] = m
	}
	e.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// appendLog writes entry to the store and mirrors it to the audit sink.
// Audit failures are logged, never fatal for the turn.
func (e *Engine) appendLog(workflowID string, entry *persistence.ExecutionLog) error {
	if err := e.store.AppendLog(workflowID, entry); err != nil {
		return err
	}
	if e.audit != nil {
		if err := e.audit.Record(entry); err != nil {
			e.logger.Warn("audit record failed for log %s: %v", entry.ID, err)
		}
	}
	return nil
}

// systemLog appends a system-type log entry with the given content.
func (e *Engine) systemLog(workflowID, content string) {
	entry := &persistence.ExecutionLog{
		LogType: proto.LogSystem,
		Content: content,
	}
	if err := e.appendLog(workflowID, entry); err != nil {
		e.logger.Warn("failed to append system log: %v", err)
	}
}

// TurnInput is the pre-turn result handed back to the caller: the
// interpreted command, the current snapshot, and the serialized context
// payload for the model.
//
//nolint:govet // struct alignment optimization not critical for this type
type TurnInput struct {
	Workflow *persistence.Workflow
	Todos    []persistence.Todo
	Command  proto.Command

	// ContextPayload is the <agent-workflow-context> block for the
	// model's input context. Never shown to the end user.
	ContextPayload string

	// PayloadTokens is the estimated token count of ContextPayload.
	PayloadTokens int

	// ActiveTodoID is the normalized pre-turn focus, or "" when none.
	// The sanitizer and the focus gate both key off this value.
	ActiveTodoID string
}

// TurnOutcome is the post-turn result: the updated snapshot, the parsed
// bundle, enforcement diagnostics, and the auto-continue decision.
//
//nolint:govet // struct alignment optimization not critical for this type
type TurnOutcome struct {
	Workflow *persistence.Workflow
	Todos    []persistence.Todo
	Bundle   *proto.ArtifactBundle

	// Dropped lists every todo update the sanitizer rejected, with
	// reasons. Returned regardless of the logging policy.
	Dropped []enforce.DroppedUpdate

	// Warnings aggregates parser warnings and engine-level diagnostics
	// raised during this turn.
	Warnings []string

	// AutoContinue tells the caller to re-issue a "continue" command.
	AutoContinue bool
}

// enforcement diagnostics sources, used as metrics labels.
const (
	phasePre  = "pre"
	phasePost = "post"
)
