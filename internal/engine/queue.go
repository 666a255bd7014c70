package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Queue is the global FIFO coupling admission to worker availability.
// Placement order follows enqueue order, but a task whose eligible
// workers are all occupied does not block tasks behind it that can be
// placed elsewhere.
type Queue struct {
	pool        *Pool
	queueBuffer int
	log         zerolog.Logger

	mu       sync.Mutex
	pending  []*Task
	inflight int
	closed   bool

	kick chan struct{}
}

// NewQueue wires the dispatcher over pool. queueBuffer is the slack the
// capacity bound grants beyond the worker count.
func NewQueue(pool *Pool, queueBuffer int, log zerolog.Logger) *Queue {
	q := &Queue{
		pool:        pool,
		queueBuffer: queueBuffer,
		log:         log.With().Str("module", "queue").Logger(),
		kick:        make(chan struct{}, 1),
	}
	go q.dispatch()
	return q
}

// Depth reports the pending count plus inflight, the load figure the
// capacity bound compares against.
func (q *Queue) Depth() (pending, inflight int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), q.inflight
}

// Submit admits t into the queue. Non-streaming submissions hit the
// capacity bound: when inflight plus queued would exceed workers plus
// the queue buffer the task is refused with SERVER_BUSY. Streaming
// submissions always enter; their keepalive frames cover the wait.
func (q *Queue) Submit(t *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return NewError(CodeInternalError, "engine is shutting down")
	}
	if !t.Stream {
		load := q.inflight + len(q.pending)
		if load >= q.pool.Size()+q.queueBuffer {
			return NewError(CodeServerBusy, fmt.Sprintf("server at capacity: %d requests against %d workers", load, q.pool.Size()))
		}
	}
	q.pending = append(q.pending, t)
	q.notify()
	return nil
}

// Await blocks until the dispatcher reserves a worker for t or ctx
// expires. On expiry the task is withdrawn so the dispatcher cannot
// hand a worker to a gone client.
func (q *Queue) Await(ctx context.Context, t *Task) (*Worker, error) {
	select {
	case w := <-t.ready:
		return w, nil
	case <-ctx.Done():
		q.withdraw(t)
		// The dispatcher may have placed the task in the race window.
		select {
		case w := <-t.ready:
			w.Release()
			q.TaskDone()
		default:
		}
		return nil, ctx.Err()
	}
}

// TaskDone returns an execution slot and wakes the dispatcher. Called
// exactly once after a placed task finishes and its worker is released.
func (q *Queue) TaskDone() {
	q.mu.Lock()
	if q.inflight > 0 {
		q.inflight--
	}
	q.mu.Unlock()
	q.notify()
}

// Kick wakes the dispatcher, used after a worker release that bypassed
// TaskDone (candidate hops inside the failover executor).
func (q *Queue) Kick() { q.notify() }

// Close stops admitting work. Pending tasks stay queued and are still
// placed as workers free up, letting shutdown drain.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notify()
}

func (q *Queue) withdraw(t *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, p := range q.pending {
		if p == t {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

func (q *Queue) notify() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

// dispatch is the single placement loop. Each pass walks the pending
// list in FIFO order and places every task that has an idle eligible
// worker right now, dropping cancelled entries along the way.
func (q *Queue) dispatch() {
	for range q.kick {
		q.placePending()
	}
}

func (q *Queue) placePending() {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.pending[:0]
	for _, t := range q.pending {
		if t.Cancelled() {
			continue
		}
		w, ok := q.pool.Reserve(t.ModelKey, t.HasImages())
		if !ok {
			kept = append(kept, t)
			continue
		}
		q.inflight++
		t.ready <- w
	}
	// Zero the tail so dropped tasks are not pinned by the backing array.
	for i := len(kept); i < len(q.pending); i++ {
		q.pending[i] = nil
	}
	q.pending = kept
}
