package queue_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/egglogu/billing/pkg/queue"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startWorker(t *testing.T, storage *queue.MemoryStorage, handlers ...queue.Handler) context.CancelFunc {
	t.Helper()

	w, err := queue.NewWorker(storage,
		queue.WithPullInterval(5*time.Millisecond),
		queue.WithMaxConcurrentTasks(2),
		queue.WithBackoff(queue.Backoff{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}),
		queue.WithWorkerLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, w.RegisterHandlers(handlers...))

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	g.Go(w.Run(ctx))
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, g.Wait())
	})
	return cancel
}

func TestWorker_RequiresHandlers(t *testing.T) {
	t.Parallel()

	_, err := queue.NewWorker(nil)
	assert.ErrorIs(t, err, queue.ErrRepositoryNil)

	w, err := queue.NewWorker(queue.NewMemoryStorage())
	require.NoError(t, err)
	assert.ErrorIs(t, w.Start(context.Background()), queue.ErrNoHandlers)
}

func TestWorker_ProcessesTask(t *testing.T) {
	t.Parallel()

	storage := queue.NewMemoryStorage()
	enq, err := queue.NewEnqueuer(storage)
	require.NoError(t, err)

	got := make(chan string, 1)
	startWorker(t, storage, queue.NewTaskHandler(func(_ context.Context, p syncTask) error {
		got <- p.OrganizationID
		return nil
	}))

	require.NoError(t, enq.Enqueue(context.Background(), syncTask{OrganizationID: "org-7"}))

	select {
	case id := <-got:
		assert.Equal(t, "org-7", id)
	case <-time.After(2 * time.Second):
		t.Fatal("task was not processed")
	}

	assert.Eventually(t, func() bool {
		tasks := storage.Tasks()
		return len(tasks) == 1 && tasks[0].Status == queue.TaskStatusCompleted
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWorker_RetriesThenDeadLetters(t *testing.T) {
	t.Parallel()

	storage := queue.NewMemoryStorage()
	enq, err := queue.NewEnqueuer(storage)
	require.NoError(t, err)

	var calls atomic.Int32
	startWorker(t, storage, queue.NewTaskHandler(func(context.Context, syncTask) error {
		calls.Add(1)
		return errors.New("provider unavailable")
	}))

	require.NoError(t, enq.Enqueue(context.Background(), syncTask{}, queue.WithMaxRetries(2)))

	assert.Eventually(t, func() bool { return len(storage.DeadTasks()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), calls.Load(), "first attempt plus two retries")
	assert.Equal(t, "provider unavailable", storage.DeadTasks()[0].Error)
	assert.Empty(t, storage.Tasks())
}

func TestWorker_RecoversFromPanic(t *testing.T) {
	t.Parallel()

	storage := queue.NewMemoryStorage()
	enq, err := queue.NewEnqueuer(storage)
	require.NoError(t, err)

	startWorker(t, storage, queue.NewTaskHandler(func(context.Context, syncTask) error {
		panic("bad handler")
	}))

	require.NoError(t, enq.Enqueue(context.Background(), syncTask{}, queue.WithMaxRetries(0)))

	assert.Eventually(t, func() bool { return len(storage.DeadTasks()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, storage.DeadTasks()[0].Error, "bad handler")
}

func TestWorker_UnknownTaskGoesToDLQ(t *testing.T) {
	t.Parallel()

	storage := queue.NewMemoryStorage()
	enq, err := queue.NewEnqueuer(storage)
	require.NoError(t, err)

	startWorker(t, storage, queue.NewTaskHandler(func(context.Context, syncTask) error { return nil }))

	require.NoError(t, enq.Enqueue(context.Background(), syncTask{}, queue.WithTaskName("nobody.handles.this")))

	assert.Eventually(t, func() bool { return len(storage.DeadTasks()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, storage.DeadTasks()[0].Error, "no handler registered")
}
