package workflow

import (
	"errors"
	"fmt"
)

// Sentinel errors for governance operations.
var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrNotFound          = errors.New("governance item not found")
	ErrNotEligible       = errors.New("only requirements classified new can enter governance")
	ErrUnknownAction     = errors.New("unknown action")
)

// TransitionError reports an action that is not allowed from the item's
// current status. The item is left unchanged.
type TransitionError struct {
	Key       Key
	Current   Status
	Action    Action
	Requested Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition for %s/%s: cannot %s from %s to %s",
		e.Key.UseCaseID, e.Key.RequirementID, e.Action, e.Current, e.Requested)
}

// Is makes errors.Is(err, ErrInvalidTransition) match.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
