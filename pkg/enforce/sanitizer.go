// Package enforce implements the one-task-per-response policy: given the
// batch of todo updates parsed from a single LLM response, it keeps the
// subset that is safe to apply and reports everything rejected and why.
package enforce

import (
	"fmt"

	"agentflow/pkg/proto"
)

// DropReason classifies why an update was rejected. The set is small
// and fixed because callers use it as a metrics label; the readable
// detail travels separately in DroppedUpdate.Reason.
type DropReason string

const (
	DropMissingID           DropReason = "missing_id"
	DropNotActive           DropReason = "not_active"
	DropLocked              DropReason = "locked"
	DropDuplicateCompletion DropReason = "duplicate_completion"
)

// DroppedUpdate pairs a rejected update with its rejection reason. The
// reasons are user-visible in system log entries, so they stay readable.
type DroppedUpdate struct {
	Update proto.TodoUpdate `json:"update"`
	Code   DropReason       `json:"code"`
	Reason string           `json:"reason"`
}

// Result is the outcome of sanitizing one batch of todo updates.
type Result struct {
	// Updates are the accepted updates in original order.
	Updates []proto.TodoUpdate `json:"updates"`

	// HandledTodoID is the normalized id this response is considered to
	// be working on: the locked id once an update is accepted, otherwise
	// the previously active id. Empty when neither exists. Callers use
	// it to associate logs and focus changes even when every update in
	// the batch was rejected.
	HandledTodoID string `json:"handledTodoId"`

	// Dropped lists every rejected update with its reason.
	Dropped []DroppedUpdate `json:"dropped"`
}

// Sanitize filters proposed todo updates down to the subset consistent
// with the currently active todo and the one-task rule.
//
// Rules, applied in order per update, comparing normalized (trimmed,
// uppercased) ids while preserving original casing in the output:
//
//  1. updates without a todo id are rejected;
//  2. with an active todo, updates for any other todo are rejected;
//  3. the first accepted update locks its id for the rest of the batch;
//  4. with the one-task rule on, at most one update may carry status
//     "completed";
//  5. everything else is accepted in original order.
//
// The function is pure: no logging, no store access.
func Sanitize(updates []proto.TodoUpdate, activeTodoID string, enforceOneTaskRule bool) Result {
	result := Result{
		Updates: make([]proto.TodoUpdate, 0, len(updates)),
		Dropped: make([]DroppedUpdate, 0),
	}

	normalizedActive := proto.NormalizeTodoID(activeTodoID)
	lockedID := ""
	completedSeen := false

	for _, update := range updates {
		normalized := proto.NormalizeTodoID(update.TodoID)

		if normalized == "" {
			result.Dropped = append(result.Dropped, DroppedUpdate{
				Update: update,
				Code:   DropMissingID,
				Reason: "missing todoId",
			})
			continue
		}

		if normalizedActive != "" && normalized != normalizedActive {
			result.Dropped = append(result.Dropped, DroppedUpdate{
				Update: update,
				Code:   DropNotActive,
				Reason: fmt.Sprintf("expected active todo %s", activeTodoID),
			})
			continue
		}

		if lockedID != "" && normalized != lockedID {
			result.Dropped = append(result.Dropped, DroppedUpdate{
				Update: update,
				Code:   DropLocked,
				Reason: fmt.Sprintf("already handling %s", lockedID),
			})
			continue
		}

		if enforceOneTaskRule && update.Status == proto.TodoCompleted && completedSeen {
			result.Dropped = append(result.Dropped, DroppedUpdate{
				Update: update,
				Code:   DropDuplicateCompletion,
				Reason: "only one TODO can be completed per response (human-like workflow)",
			})
			continue
		}

		if lockedID == "" {
			lockedID = normalized
		}
		if update.Status == proto.TodoCompleted {
			completedSeen = true
		}
		result.Updates = append(result.Updates, update)
	}

	switch {
	case lockedID != "":
		result.HandledTodoID = lockedID
	case normalizedActive != "":
		result.HandledTodoID = normalizedActive
	}

	return result
}

// Stats counts completion and in-progress-start events in a sanitized
// batch. The engine uses it for the defensive post-sanitization check:
// more than one completion (or more starts than the configured maximum)
// should be structurally impossible after Sanitize, and is logged as a
// warning if ever observed.
func Stats(updates []proto.TodoUpdate) (completions, starts int) {
	for i := range updates {
		switch updates[i].Status {
		case proto.TodoCompleted:
			completions++
		case proto.TodoInProgress:
			starts++
		}
	}
	return completions, starts
}
