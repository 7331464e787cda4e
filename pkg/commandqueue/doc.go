// Package commandqueue runs work in named lanes with FIFO ordering per lane.
//
// Each chat session gets its own lane (see SessionLane), so the turns of one
// session never overlap while different sessions proceed in parallel.
//
// Invariants:
// - Tasks in the same lane execute one at a time, in enqueue order.
// - Tasks in different lanes may execute concurrently.
// - A task whose context ends while it waits is skipped, never started.
//
// Usage:
//
//	queue := commandqueue.New()
//	defer queue.Close()
//	err := queue.Enqueue(ctx, commandqueue.SessionLane(id), func(ctx context.Context) error {
//		return handleTurn(ctx)
//	})
package commandqueue
