package queue

import (
	"container/list"
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Work is a unit of work executed by a Queue. Implementations must observe
// ctx cancellation on a best-effort basis; a cancelled Work may still run to
// completion, in which case its result is expected to be discarded by the
// caller.
type Work func(ctx context.Context)

// itemState tracks the lifecycle of a queued item.
type itemState int

const (
	itemPending itemState = iota
	itemRunning
	itemFinished
	itemCancelled
)

// Item is a handle to a single unit of work submitted to a Queue. It supports
// cancellation: cancelling a pending item is free (the work never runs);
// cancelling a running item cancels its context cooperatively.
type Item struct {
	q      *Queue
	work   Work
	elem   *list.Element
	state  itemState
	ctx    context.Context
	cancel context.CancelFunc

	// retained marks items whose concurrency slot outlives the Work
	// function and is released explicitly via Finish.
	retained bool
}

// Queue is a bounded FIFO work executor. At most Limit items execute
// concurrently; further items wait in submission order. Each stage of the
// load pipeline owns one Queue, so stages never contend on a shared lock.
type Queue struct {
	mu      sync.Mutex
	limit   int
	running int
	pending *list.List
	logger  zerolog.Logger
}

// New creates a Queue executing at most limit items concurrently.
// A non-positive limit is treated as 1.
func New(limit int) *Queue {
	if limit <= 0 {
		limit = 1
	}
	return &Queue{
		limit:   limit,
		pending: list.New(),
		logger:  zerolog.Nop(),
	}
}

// SetLogger sets the logger used for queue diagnostics.
func (q *Queue) SetLogger(logger zerolog.Logger) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.logger = logger
}

// Add submits work to the queue. The work starts immediately if a concurrency
// slot is free, otherwise it waits in FIFO order. The returned Item can be
// used to cancel the work.
func (q *Queue) Add(work Work) *Item {
	return q.add(work, false)
}

// AddRetained submits work whose concurrency slot is held beyond the return
// of the Work function, until Finish (or Cancel) is called on the Item. This
// is the admission mode used for congestion control of fetch starts: the
// Work merely starts an asynchronous operation, and the slot stays occupied
// until that operation terminates, deferring further admissions.
func (q *Queue) AddRetained(work Work) *Item {
	return q.add(work, true)
}

func (q *Queue) add(work Work, retained bool) *Item {
	ctx, cancel := context.WithCancel(context.Background())
	it := &Item{q: q, work: work, ctx: ctx, cancel: cancel, retained: retained}

	q.mu.Lock()
	if q.running < q.limit {
		q.running++
		it.state = itemRunning
		q.mu.Unlock()
		go q.run(it)
		return it
	}
	it.elem = q.pending.PushBack(it)
	q.mu.Unlock()
	return it
}

// run executes an item off the queue lock and releases its slot afterwards,
// unless the item retains it.
func (q *Queue) run(it *Item) {
	it.work(it.ctx)
	if it.retained {
		return
	}
	it.finish()
}

// finish releases the item's slot and starts the next pending item, if any.
func (it *Item) finish() {
	q := it.q
	q.mu.Lock()
	if it.state != itemRunning {
		q.mu.Unlock()
		return
	}
	it.state = itemFinished
	q.startNextLocked()
	q.mu.Unlock()
	it.cancel()
}

// startNextLocked hands the caller's slot to the oldest pending item, or
// frees it when the queue is empty. Callers must hold q.mu.
func (q *Queue) startNextLocked() {
	for {
		front := q.pending.Front()
		if front == nil {
			q.running--
			return
		}
		next := q.pending.Remove(front).(*Item)
		if next.state != itemPending {
			continue
		}
		next.state = itemRunning
		next.elem = nil
		go q.run(next)
		return
	}
}

// Finish releases the concurrency slot of an item submitted via AddRetained.
// It is idempotent and a no-op for non-retained items (their slot is released
// automatically) and for items already finished or cancelled.
func (it *Item) Finish() {
	it.finish()
}

// Cancel cancels the item. A pending item is removed from the queue and its
// work never runs. A running item has its context cancelled cooperatively and
// its slot released. Cancel is idempotent.
func (it *Item) Cancel() {
	q := it.q
	q.mu.Lock()
	switch it.state {
	case itemPending:
		it.state = itemCancelled
		if it.elem != nil {
			q.pending.Remove(it.elem)
			it.elem = nil
		}
		q.mu.Unlock()
	case itemRunning:
		it.state = itemCancelled
		q.startNextLocked()
		q.mu.Unlock()
	default:
		q.mu.Unlock()
		return
	}
	it.cancel()
}

// Limit returns the maximum number of concurrently executing items.
func (q *Queue) Limit() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.limit
}

// Running returns the number of occupied concurrency slots.
func (q *Queue) Running() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Pending returns the number of items waiting for a slot.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}
