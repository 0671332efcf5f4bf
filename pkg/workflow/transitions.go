package workflow

import (
	"errors"
	"fmt"

	"agentflow/pkg/proto"
)

// ErrInvalidTransition marks a status change that is not in the
// transition table. Explicit status tags are still applied; the error
// only drives a logged warning.
var ErrInvalidTransition = errors.New("invalid workflow status transition")

// TransitionTable enumerates the expected status transitions. Brief and
// change-plan commands may enter analysis from any state, and error is
// reachable from everywhere, so every state lists those targets.
//
//nolint:gochecknoglobals // Static transition table shared by validation.
var TransitionTable = map[proto.WorkflowStatus][]proto.WorkflowStatus{
	proto.StatusIdle: {
		proto.StatusAnalysis, proto.StatusError,
	},
	proto.StatusAnalysis: {
		proto.StatusAnalysis, proto.StatusPlanReady, proto.StatusAwaitingUser, proto.StatusError,
	},
	proto.StatusPlanReady: {
		proto.StatusAnalysis, proto.StatusExecuting, proto.StatusRevising, proto.StatusAwaitingUser, proto.StatusError,
	},
	proto.StatusExecuting: {
		proto.StatusAnalysis, proto.StatusExecuting, proto.StatusAwaitingUser, proto.StatusReviewing,
		proto.StatusRevising, proto.StatusCompleted, proto.StatusError,
	},
	proto.StatusAwaitingUser: {
		proto.StatusAnalysis, proto.StatusExecuting, proto.StatusRevising, proto.StatusPlanReady, proto.StatusError,
	},
	proto.StatusReviewing: {
		proto.StatusAnalysis, proto.StatusExecuting, proto.StatusRevising, proto.StatusCompleted,
		proto.StatusAwaitingUser, proto.StatusError,
	},
	proto.StatusCompleted: {
		proto.StatusAnalysis, proto.StatusRevising, proto.StatusError,
	},
	proto.StatusRevising: {
		proto.StatusAnalysis, proto.StatusExecuting, proto.StatusPlanReady, proto.StatusAwaitingUser,
		proto.StatusReviewing, proto.StatusError,
	},
	proto.StatusError: {
		proto.StatusAnalysis, proto.StatusIdle,
	},
}

// CanTransition reports whether from -> to is in the transition table.
// Same-state transitions are always allowed.
func CanTransition(from, to proto.WorkflowStatus) bool {
	if from == to {
		return true
	}
	for _, allowed := range TransitionTable[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition when from -> to is not
// in the transition table.
func ValidateTransition(from, to proto.WorkflowStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
