package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/egglogu/billing/pkg/logger"
)

// WorkerRepository is the storage side of task processing.
type WorkerRepository interface {
	// ClaimTask locks the highest priority due task in queues, or returns
	// ErrNoTaskToClaim. Tasks whose lock expired are claimable again.
	ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*Task, error)
	CompleteTask(ctx context.Context, taskID uuid.UUID) error
	// RetryTask records a failure and makes the task due again at retryAt.
	RetryTask(ctx context.Context, taskID uuid.UUID, errMsg string, retryAt time.Time) error
	// MoveToDLQ removes the task and stores it as a dead task.
	MoveToDLQ(ctx context.Context, taskID uuid.UUID, errMsg string) error
}

// Worker claims due tasks and runs their handlers, up to a fixed number at
// a time.
type Worker struct {
	repo     WorkerRepository
	handlers map[string]Handler
	mu       sync.RWMutex
	id       uuid.UUID

	queues       []string
	pullInterval time.Duration
	lockTimeout  time.Duration
	concurrency  int
	backoff      Backoff
	log          *slog.Logger
	now          func() time.Time

	running atomic.Bool
}

// NewWorker returns a stopped worker claiming from repo. Register handlers
// before calling Start.
func NewWorker(repo WorkerRepository, opts ...WorkerOption) (*Worker, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}
	w := &Worker{
		repo:         repo,
		handlers:     make(map[string]Handler),
		id:           uuid.New(),
		queues:       []string{DefaultQueueName},
		pullInterval: 2 * time.Second,
		lockTimeout:  time.Minute,
		concurrency:  1,
		log:          slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.With(logger.Component("queue_worker"), slog.String("worker_id", w.id.String()))
	return w, nil
}

// RegisterHandlers adds handlers keyed by task name; a later handler with
// the same name replaces the earlier one. Nil handlers are skipped.
func (w *Worker) RegisterHandlers(handlers ...Handler) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, h := range handlers {
		if h == nil {
			continue
		}
		w.handlers[h.Name()] = h
	}
	return nil
}

// Run returns a function suitable for errgroup.Go. It polls until ctx is
// cancelled, then waits for in-flight tasks to finish.
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		return w.Start(ctx)
	}
}

// Start blocks processing tasks until ctx is done.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.RLock()
	n := len(w.handlers)
	w.mu.RUnlock()
	if n == 0 {
		return ErrNoHandlers
	}
	if !w.running.CompareAndSwap(false, true) {
		return ErrWorkerStarted
	}
	defer w.running.Store(false)

	w.log.InfoContext(ctx, "worker started", slog.Any("queues", w.queues), slog.Int("concurrency", w.concurrency))

	var wg sync.WaitGroup
	sem := make(chan struct{}, w.concurrency)
	ticker := time.NewTicker(w.pullInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			w.log.Info("worker stopped")
			return nil
		case <-ticker.C:
		}

		w.claimAvailable(ctx, sem, &wg)
	}
}

// claimAvailable keeps claiming while slots are free and tasks are due.
func (w *Worker) claimAvailable(ctx context.Context, sem chan struct{}, wg *sync.WaitGroup) {
	for {
		select {
		case sem <- struct{}{}:
		default:
			return
		}

		task, err := w.repo.ClaimTask(ctx, w.id, w.queues, w.lockTimeout)
		if err != nil {
			<-sem
			if !errors.Is(err, ErrNoTaskToClaim) && ctx.Err() == nil {
				w.log.ErrorContext(ctx, "failed to claim task", logger.Error(err))
			}
			return
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			w.process(task)
		}()
	}
}

// process runs one claimed task. It uses its own context so a shutdown lets
// the task finish and record its outcome.
func (w *Worker) process(task *Task) {
	ctx, cancel := context.WithTimeout(context.Background(), w.lockTimeout)
	defer cancel()

	log := w.log.With(
		logger.TaskID(task.ID),
		slog.String("task_name", task.TaskName),
		slog.Int("retry_count", int(task.RetryCount)))
	start := w.now()

	err := w.execute(ctx, task)
	switch {
	case err == nil:
		if cerr := w.repo.CompleteTask(ctx, task.ID); cerr != nil {
			log.ErrorContext(ctx, "failed to complete task", logger.Error(cerr))
			return
		}
		log.DebugContext(ctx, "task completed", logger.Duration(w.now().Sub(start)))

	case errors.Is(err, ErrHandlerNotFound) || task.Exhausted():
		if derr := w.repo.MoveToDLQ(ctx, task.ID, err.Error()); derr != nil {
			log.ErrorContext(ctx, "failed to move task to dead letter queue", logger.Error(derr))
			return
		}
		log.WarnContext(ctx, "task moved to dead letter queue", logger.Error(err))

	default:
		retryAt := w.now().Add(w.backoff.NextInterval(int(task.RetryCount) + 1))
		if rerr := w.repo.RetryTask(ctx, task.ID, err.Error(), retryAt); rerr != nil {
			log.ErrorContext(ctx, "failed to reschedule task", logger.Error(rerr))
			return
		}
		log.WarnContext(ctx, "task failed, retry scheduled", logger.Error(err), slog.Time("retry_at", retryAt))
	}
}

func (w *Worker) execute(ctx context.Context, task *Task) (err error) {
	w.mu.RLock()
	h, ok := w.handlers[task.TaskName]
	w.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrHandlerNotFound, task.TaskName)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.Handle(ctx, task.Payload)
}
