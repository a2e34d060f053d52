package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/egglogu/billing/pkg/pg"
)

// PGStorage keeps tasks in the billing_tasks and billing_tasks_dlq tables.
type PGStorage struct {
	pool *pgxpool.Pool
}

// NewPGStorage returns storage over pool. The tables come from the
// billing migrations.
func NewPGStorage(pool *pgxpool.Pool) *PGStorage {
	return &PGStorage{pool: pool}
}

var (
	_ EnqueuerRepository = (*PGStorage)(nil)
	_ WorkerRepository   = (*PGStorage)(nil)
	_ EnqueuerRepository = (*MemoryStorage)(nil)
	_ WorkerRepository   = (*MemoryStorage)(nil)
)

func (s *PGStorage) CreateTask(ctx context.Context, task *Task) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO billing_tasks
			(id, queue, task_name, payload, status, priority, retry_count, max_retries, scheduled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		task.ID, task.Queue, task.TaskName, task.Payload, string(task.Status),
		int16(task.Priority), int16(task.RetryCount), int16(task.MaxRetries),
		task.ScheduledAt, task.CreatedAt)
	if pg.IsDuplicateKeyError(err) {
		return ErrDuplicateTaskID
	}
	if err != nil {
		return errors.Join(ErrFailedToPersist, err)
	}
	return nil
}

// ClaimTask picks one due task with FOR UPDATE SKIP LOCKED, so concurrent
// workers never claim the same row.
func (s *PGStorage) ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*Task, error) {
	row := s.pool.QueryRow(ctx, `
		WITH next AS (
			SELECT id FROM billing_tasks
			WHERE queue = ANY($1)
			  AND scheduled_at <= now()
			  AND (status = 'pending' OR (status = 'processing' AND locked_until <= now()))
			ORDER BY priority DESC, scheduled_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE billing_tasks t
		SET status = 'processing',
		    locked_by = $2,
		    locked_until = now() + make_interval(secs => $3)
		FROM next
		WHERE t.id = next.id
		RETURNING t.id, t.queue, t.task_name, t.payload, t.status, t.priority, t.retry_count,
		          t.max_retries, t.scheduled_at, t.locked_until, t.locked_by, t.error, t.created_at`,
		queues, workerID, lockDuration.Seconds())

	var (
		task                          Task
		status                        string
		priority, retries, maxRetries int16
	)
	err := row.Scan(&task.ID, &task.Queue, &task.TaskName, &task.Payload, &status, &priority, &retries,
		&maxRetries, &task.ScheduledAt, &task.LockedUntil, &task.LockedBy, &task.Error, &task.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoTaskToClaim
	}
	if err != nil {
		return nil, errors.Join(ErrFailedToClaim, err)
	}

	task.Status = TaskStatus(status)
	task.Priority = Priority(priority)
	task.RetryCount = int8(retries)
	task.MaxRetries = int8(maxRetries)
	return &task, nil
}

func (s *PGStorage) CompleteTask(ctx context.Context, taskID uuid.UUID) error {
	return s.execProcessing(ctx, taskID, `
		UPDATE billing_tasks
		SET status = 'completed', processed_at = now(), locked_by = NULL, locked_until = NULL
		WHERE id = $1 AND status = 'processing'`, taskID)
}

// RetryTask releases a claimed task back to pending at retryAt with one
// more retry counted.
func (s *PGStorage) RetryTask(ctx context.Context, taskID uuid.UUID, errMsg string, retryAt time.Time) error {
	return s.execProcessing(ctx, taskID, `
		UPDATE billing_tasks
		SET status = 'pending', retry_count = retry_count + 1, error = $2, scheduled_at = $3,
		    locked_by = NULL, locked_until = NULL
		WHERE id = $1 AND status = 'processing'`, taskID, errMsg, retryAt)
}

// MoveToDLQ copies the task into billing_tasks_dlq and deletes it in one
// transaction.
func (s *PGStorage) MoveToDLQ(ctx context.Context, taskID uuid.UUID, errMsg string) error {
	return pg.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO billing_tasks_dlq
				(id, task_id, queue, task_name, payload, priority, error, retry_count, created_at)
			SELECT $2, id, queue, task_name, payload, priority, $3, retry_count, created_at
			FROM billing_tasks WHERE id = $1`,
			taskID, uuid.New(), errMsg)
		if err != nil {
			return errors.Join(ErrFailedToPersist, err)
		}
		if tag.RowsAffected() == 0 {
			return ErrTaskNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM billing_tasks WHERE id = $1`, taskID); err != nil {
			return errors.Join(ErrFailedToPersist, err)
		}
		return nil
	})
}

// PruneCompleted deletes completed tasks processed before the cutoff.
func (s *PGStorage) PruneCompleted(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM billing_tasks WHERE status = 'completed' AND processed_at < $1`, before)
	if err != nil {
		return 0, errors.Join(ErrFailedToPersist, err)
	}
	return tag.RowsAffected(), nil
}

func (s *PGStorage) execProcessing(ctx context.Context, taskID uuid.UUID, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return errors.Join(ErrFailedToPersist, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotClaimed, taskID)
	}
	return nil
}
