package workflow

import (
	"github.com/procureflow/invoice-orchestrator/internal/fault"
)

// NewInvalidTransitionError reports a (state, action) pair absent from the
// transition table
func NewInvalidTransitionError(from State, action Action) error {
	return fault.Newf(fault.KindInvalidTransition,
		"action %q is not permitted in state %q", action, from)
}

// NewInvalidStateError reports an unrecognized state value
func NewInvalidStateError(s State) error {
	return fault.Newf(fault.KindInvalidInput, "invalid state %q", s)
}
