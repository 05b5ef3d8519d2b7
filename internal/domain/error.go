package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context for repository")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// Task lifecycle
	ErrInvalidTransition  = errors.New("invalid task status transition")
	ErrTaskRunning        = errors.New("task is running")
	ErrQueueFull          = errors.New("worker queue full")
	ErrBudgetExceeded     = errors.New("cost budget exceeded")
	ErrBridgeUnavailable  = errors.New("coding agent unavailable")
	ErrBridgeFailed       = errors.New("coding agent reported failure")
	ErrLockNotAcquired    = errors.New("lock not acquired")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrCredentialsMissing = errors.New("api credentials missing")

	// Generation loop
	ErrIterationBudgetExceeded = errors.New("iteration budget exceeded")
)
