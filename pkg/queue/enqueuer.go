package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnqueuerRepository persists new tasks.
type EnqueuerRepository interface {
	CreateTask(ctx context.Context, task *Task) error
}

// Enqueuer turns typed payloads into persisted tasks.
type Enqueuer struct {
	repo              EnqueuerRepository
	defaultQueue      string
	defaultMaxRetries int8
	now               func() time.Time
}

// NewEnqueuer returns an Enqueuer writing to repo. It fails with
// ErrRepositoryNil when repo is nil.
func NewEnqueuer(repo EnqueuerRepository, opts ...EnqueuerOption) (*Enqueuer, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}
	e := &Enqueuer{
		repo:              repo,
		defaultQueue:      DefaultQueueName,
		defaultMaxRetries: DefaultMaxRetries,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Enqueue stores payload as a pending task. The payload must be JSON
// serializable; its type names the handler unless WithTaskName is given.
func (e *Enqueuer) Enqueue(ctx context.Context, payload any, opts ...EnqueueOption) error {
	if payload == nil {
		return ErrPayloadNil
	}

	o := &enqueueOptions{
		queue:      e.defaultQueue,
		priority:   PriorityDefault,
		maxRetries: e.defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(o)
	}
	if !o.priority.Valid() {
		return ErrInvalidPriority
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %T payload: %w", payload, err)
	}

	name := o.taskName
	if name == "" {
		name = taskName(payload)
	}

	now := e.now()
	scheduledAt := now.Add(o.delay)
	if o.scheduledAt != nil {
		scheduledAt = *o.scheduledAt
	}

	task := &Task{
		ID:          uuid.New(),
		Queue:       o.queue,
		TaskName:    name,
		Payload:     data,
		Status:      TaskStatusPending,
		Priority:    o.priority,
		MaxRetries:  o.maxRetries,
		ScheduledAt: scheduledAt,
		CreatedAt:   now,
	}
	if err := e.repo.CreateTask(ctx, task); err != nil {
		return fmt.Errorf("enqueue %q on %q: %w", task.TaskName, task.Queue, err)
	}
	return nil
}
