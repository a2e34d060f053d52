// Package queue is a small persistent task queue used for work that must
// survive a failed request, such as pushing a discount coupon to the billing
// provider after an inline attempt timed out.
//
// An Enqueuer writes JSON payloads as tasks; a Worker claims due tasks,
// dispatches them to the Handler registered for the payload type and retries
// failures with exponential backoff until MaxRetries, after which the task is
// moved to the dead letter queue.
//
// Storage is pluggable. PGStorage keeps tasks in PostgreSQL and claims them
// with FOR UPDATE SKIP LOCKED so several workers can share one table;
// MemoryStorage is meant for tests and single-process runs.
//
//	storage := queue.NewPGStorage(pool)
//	enq, _ := queue.NewEnqueuer(storage)
//	_ = enq.Enqueue(ctx, SyncDiscountTask{OrganizationID: id})
//
//	w, _ := queue.NewWorker(storage, queue.WithPullInterval(time.Second))
//	_ = w.RegisterHandlers(queue.NewTaskHandler(syncer.HandleTask))
//	g.Go(w.Run(ctx))
package queue
