// Package async runs background work that must not take the process down:
// every task gets a timeout, and its error or panic is logged instead of
// propagated.
//
// SafeGo starts a single task. WorkerPool bounds concurrency and queue depth
// for a stream of tasks, which is how PRD snapshots reach the archive bucket:
//
//	pool := async.NewWorkerPool(ctx, 4, 256, "prd archive", 30*time.Second, logger)
//	if err := pool.TrySubmit(upload); errors.Is(err, async.ErrPoolFull) {
//		// snapshot dropped; the row in Postgres is the source of truth
//	}
//	defer pool.Shutdown(10 * time.Second)
package async
