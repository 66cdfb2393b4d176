package goals

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrGoalNotFound = errors.New("goal not found")
	// ErrGoalAlreadyResolved: the goal is terminal; no entries were written.
	ErrGoalAlreadyResolved = errors.New("goal already resolved")
	// ErrPartialCollaboratorSettlement: the goal is terminal but some collaborator settlements failed.
	ErrPartialCollaboratorSettlement = errors.New("partial collaborator settlement")
	ErrVerificationRequired          = errors.New("approved verification required")
	ErrCancelNotAllowed              = errors.New("goal can no longer be cancelled")
	ErrNotGoalOwner                  = errors.New("not the goal owner")
	ErrAlreadyCollaborating          = errors.New("already collaborating on this goal")
	// ErrCollaborationClosed: the deadline passed or evidence was submitted, so the outcome is no longer open.
	ErrCollaborationClosed  = errors.New("goal is closed to new collaborators")
	ErrNotFriends           = errors.New("only friends of the goal owner can collaborate")
	ErrNotGoalReviewer      = errors.New("only friends or collaborators of the goal can review evidence")
	ErrInvalidGoal          = errors.New("invalid goal")
	ErrInvalidEvidence      = errors.New("invalid evidence")
	ErrVerificationNotFound = errors.New("verification not found")
	ErrSelfApproval         = errors.New("goal owner cannot approve their own verification")
	ErrStakeMismatch        = errors.New("stake does not match the goal")
)

// PartialSettlementError lists the collaborators whose settlement must be retried.
type PartialSettlementError struct {
	GoalID                string
	FailedCollaboratorIDs []string
	Causes                []error
}

func (e *PartialSettlementError) Error() string {
	return fmt.Sprintf("goal %s: %d collaborator settlement(s) failed: %s",
		e.GoalID, len(e.FailedCollaboratorIDs), strings.Join(e.FailedCollaboratorIDs, ","))
}

func (e *PartialSettlementError) Is(target error) bool {
	return target == ErrPartialCollaboratorSettlement
}

func (e *PartialSettlementError) Unwrap() []error {
	return e.Causes
}
