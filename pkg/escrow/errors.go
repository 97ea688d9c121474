package escrow

import "errors"

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrInvalidState = errors.New("invalid task state")
	// ErrUnauthorized is returned when an approver is not the recorded party.
	ErrUnauthorized  = errors.New("approver is not a party to the task")
	ErrUnknownPolicy = errors.New("unknown escrow policy")
	// ErrWrongPolicy is returned by ApproveTask for non-mutual tasks.
	ErrWrongPolicy     = errors.New("operation not supported by task policy")
	ErrInvalidRules    = errors.New("invalid policy rules")
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrDependencyUnavailable wraps store failures and timeouts.
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)
