// Package command maps raw user chat turns onto the typed commands the
// workflow engine understands. Matching is case-insensitive and
// whitespace-trimmed; anything unmatched becomes a brief or a custom
// continuation depending on the workflow's state.
package command

import (
	"strings"

	"agentflow/pkg/persistence"
	"agentflow/pkg/proto"
)

// Detect interprets one user turn against the current workflow snapshot.
// workflow may be nil when no workflow exists for the chat yet.
func Detect(promptText string, workflow *persistence.Workflow, todos []persistence.Todo) proto.Command {
	cmd := proto.Command{RawText: promptText}
	trimmed := strings.TrimSpace(promptText)
	lowered := strings.ToLower(trimmed)

	switch lowered {
	case "start":
		cmd.Kind = proto.CommandStart
		return cmd
	case "continue":
		cmd.Kind = proto.CommandContinue
		return cmd
	case "change plan", "change-plan":
		cmd.Kind = proto.CommandChangePlan
		return cmd
	case "auto", "auto continue":
		cmd.Kind = proto.CommandCustom
		cmd.ToggleAuto = true
		return cmd
	}

	if target, ok := matchRevise(trimmed); ok {
		cmd.Kind = proto.CommandRevise
		cmd.TodoID = target
		return cmd
	}

	if target, ok := matchSwitchMode(trimmed); ok {
		cmd.Kind = proto.CommandSwitchMode
		cmd.ModeTarget = target
		return cmd
	}

	// Without a plan (or with an idle workflow) free text is a new
	// requirements brief; with a plan it is a custom continuation.
	if workflow == nil || workflow.Status == proto.StatusIdle || len(todos) == 0 {
		cmd.Kind = proto.CommandBrief
		return cmd
	}

	cmd.Kind = proto.CommandCustom
	if !hasPendingWork(todos) {
		cmd.Stage = "completed"
	}
	return cmd
}

// matchRevise matches "revise <todo-id>", returning the uppercased id.
func matchRevise(text string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) < 2 || !strings.EqualFold(fields[0], "revise") {
		return "", false
	}
	return strings.ToUpper(fields[1]), true
}

// matchSwitchMode matches "switch mode" with an optional ": <target>" or
// " <target>" suffix.
func matchSwitchMode(text string) (string, bool) {
	lowered := strings.ToLower(text)
	if !strings.HasPrefix(lowered, "switch mode") {
		return "", false
	}

	rest := strings.TrimSpace(text[len("switch mode"):])
	rest = strings.TrimSpace(strings.TrimPrefix(rest, ":"))
	if rest == "" {
		return "", true
	}
	return strings.Fields(rest)[0], true
}

func hasPendingWork(todos []persistence.Todo) bool {
	for i := range todos {
		if todos[i].Status != proto.TodoCompleted {
			return true
		}
	}
	return false
}
