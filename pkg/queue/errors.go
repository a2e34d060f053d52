package queue

import "errors"

var (
	ErrRepositoryNil    = errors.New("repository cannot be nil")
	ErrPayloadNil       = errors.New("payload cannot be nil")
	ErrInvalidPriority  = errors.New("priority must be between 0 and 100")
	ErrNoHandlers       = errors.New("no task handlers registered")
	ErrHandlerNotFound  = errors.New("no handler registered for task")
	ErrNoTaskToClaim    = errors.New("no task to claim")
	ErrTaskNotFound     = errors.New("task not found")
	ErrTaskNotClaimed   = errors.New("task is not in processing state")
	ErrWorkerStarted    = errors.New("worker already started")
	ErrDuplicateTaskID  = errors.New("task with this id already exists")
	ErrFailedToClaim    = errors.New("failed to claim task")
	ErrFailedToPersist  = errors.New("failed to persist task state")
)
