package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/parley/internal/observability"
	"github.com/harun/parley/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrClosed is returned by Enqueue after Close
	ErrClosed = errors.New("command queue closed")
	// ErrLaneDropped is returned to tasks still waiting when their lane is dropped
	ErrLaneDropped = errors.New("lane dropped")
)

// Task is one unit of work in a lane
type Task func(ctx context.Context) error

// SessionLane returns the lane name for a chat session
func SessionLane(sessionID string) string {
	return "session-" + sessionID
}

type job struct {
	id         string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	done       chan error
}

type lane struct {
	queue   []*job
	running *job
}

// LaneStats describes one lane
type LaneStats struct {
	Queued  int  `json:"queued"`
	Running bool `json:"running"`
}

// CommandQueue serializes tasks per lane
type CommandQueue struct {
	mu     sync.Mutex
	lanes  map[string]*lane
	seq    uint64
	closed bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an empty CommandQueue
func New() *CommandQueue {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())
	return &CommandQueue{
		lanes:  make(map[string]*lane),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Enqueue appends task to laneName and blocks until it has run. If ctx ends
// first, Enqueue returns ctx.Err() and the task is skipped when its turn comes.
func (cq *CommandQueue) Enqueue(ctx context.Context, laneName string, task Task) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"parley.commandqueue",
		"commandqueue.enqueue",
		attribute.String("lane", laneName),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("lane", laneName).Logger()

	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		return ErrClosed
	}

	l, ok := cq.lanes[laneName]
	if !ok {
		l = &lane{}
		cq.lanes[laneName] = l
	}

	cq.seq++
	j := &job{
		id:         fmt.Sprintf("%s-%d", laneName, cq.seq),
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		done:       make(chan error, 1),
	}
	l.queue = append(l.queue, j)
	queueSize := len(l.queue)
	cq.startNextLocked(laneName, l)
	cq.mu.Unlock()

	logger.Debug().
		Str("taskId", j.id).
		Int("queueSize", queueSize).
		Msg("Task enqueued")
	observability.RecordQueueEnqueue(laneName, queueSize)

	select {
	case err := <-j.done:
		tracing.RecordError(span, err)
		return err
	case <-ctx.Done():
		tracing.RecordError(span, ctx.Err())
		return ctx.Err()
	}
}

// startNextLocked starts the head of the lane if nothing is running and
// forgets lanes that have gone idle. cq.mu must be held.
func (cq *CommandQueue) startNextLocked(laneName string, l *lane) {
	if l.running != nil {
		return
	}
	if len(l.queue) == 0 {
		delete(cq.lanes, laneName)
		return
	}

	j := l.queue[0]
	l.queue = l.queue[1:]
	l.running = j

	cq.wg.Add(1)
	go cq.execute(laneName, l, j)
}

func (cq *CommandQueue) execute(laneName string, l *lane, j *job) {
	defer cq.wg.Done()

	logger := tracing.LoggerFromContext(j.ctx, log.Logger).With().Str("lane", laneName).Logger()

	err := j.ctx.Err()
	if err == nil {
		ctx, span := tracing.StartSpan(
			j.ctx,
			"parley.commandqueue",
			"commandqueue.execute_task",
			attribute.String("lane", laneName),
			attribute.String("task_id", j.id),
		)

		runCtx, cancel := context.WithCancel(ctx)
		stopCancel := context.AfterFunc(cq.ctx, cancel)

		startTime := time.Now()
		err = j.task(runCtx)
		duration := time.Since(startTime)

		stopCancel()
		cancel()
		tracing.RecordError(span, err)
		span.End()

		if err != nil {
			logger.Debug().Str("taskId", j.id).Dur("duration", duration).Err(err).Msg("Task failed")
		} else {
			logger.Debug().Str("taskId", j.id).Dur("duration", duration).Msg("Task completed")
		}
		observability.RecordQueueCompletion(laneName, duration, err == nil, cq.Pending(laneName))
	} else {
		logger.Debug().Str("taskId", j.id).Msg("Task skipped, context ended while queued")
	}

	j.done <- err

	cq.mu.Lock()
	l.running = nil
	cq.startNextLocked(laneName, l)
	cq.mu.Unlock()
}

// Pending returns the number of queued, not yet running, tasks in a lane
func (cq *CommandQueue) Pending(laneName string) int {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	if l, ok := cq.lanes[laneName]; ok {
		return len(l.queue)
	}
	return 0
}

// Stats returns statistics for all active lanes
func (cq *CommandQueue) Stats() map[string]LaneStats {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	stats := make(map[string]LaneStats, len(cq.lanes))
	for name, l := range cq.lanes {
		stats[name] = LaneStats{Queued: len(l.queue), Running: l.running != nil}
	}
	return stats
}

// Drop rejects every task still waiting in a lane. A running task is left to
// its context. It returns the number of rejected tasks.
func (cq *CommandQueue) Drop(laneName string) int {
	cq.mu.Lock()
	l, ok := cq.lanes[laneName]
	if !ok {
		cq.mu.Unlock()
		return 0
	}
	dropped := l.queue
	l.queue = nil
	if l.running == nil {
		delete(cq.lanes, laneName)
	}
	cq.mu.Unlock()

	for _, j := range dropped {
		j.done <- ErrLaneDropped
	}

	if len(dropped) > 0 {
		log.Info().Str("lane", laneName).Int("dropped", len(dropped)).Msg("Lane dropped")
	}
	observability.SetQueueSize(laneName, 0)
	return len(dropped)
}

// WaitIdle waits until no lane has a running or queued task
func (cq *CommandQueue) WaitIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		cq.mu.Lock()
		idle := len(cq.lanes) == 0
		cq.mu.Unlock()

		if idle {
			return true
		}
		if time.Now().After(deadline) {
			log.Warn().Dur("timeout", timeout).Msg("Timeout waiting for active tasks")
			return false
		}
		<-ticker.C
	}
}

// Close cancels running tasks, rejects new ones and waits for workers to exit
func (cq *CommandQueue) Close() error {
	cq.mu.Lock()
	cq.closed = true
	cq.mu.Unlock()

	cq.cancel()
	cq.wg.Wait()
	return nil
}
