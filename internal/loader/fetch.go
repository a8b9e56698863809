package loader

import (
	"github.com/rs/xid"

	"github.com/agbru/imgloader/internal/queue"
)

// fetchTask wraps one underlying transport fetch, shared by every logical
// task whose request is load-equivalent to the one it was created for. It
// lives in the manager's fetch registry from creation until the instant the
// transport reports a terminal outcome (or the last attached task detaches),
// and is never reused after that point.
//
// All fields are guarded by the manager's control path.
type fetchTask struct {
	id  xid.ID
	key Key

	// tasks is the set of currently attached logical tasks. Invariant: the
	// set is non-empty while the fetch task is registered; when it becomes
	// empty the underlying fetch is cancelled and the task evicted.
	tasks map[*Task]struct{}

	// Last-known progress, fanned out to late attachers immediately so they
	// never miss the current position. progressSeq numbers the reports so a
	// replay racing a live fan-out can be recognized as stale.
	completedBytes int64
	totalBytes     int64
	hasProgress    bool
	progressSeq    uint64

	// admission is the retained congestion-control slot; nil when
	// congestion control is disabled. Its release frees the next deferred
	// fetch start.
	admission *queue.Item

	// handle is the transport's cancellable handle, set once the fetch was
	// admitted and actually started.
	handle Cancellable

	// started records that the transport fetch was actually begun, as
	// opposed to cancelled while still deferred by admission.
	started bool

	// done marks the terminal transition. The transport guarantees one
	// terminal callback per handle, but a handle cancelled by detachment
	// races its own completion; done makes the transition idempotent.
	done bool

	// cancelled is set when the last attached task detached before the
	// admission slot was granted, so a late admission must not start the
	// transport fetch.
	cancelled bool
}

func newFetchTask(key Key) *fetchTask {
	return &fetchTask{
		id:         xid.New(),
		key:        key,
		tasks:      make(map[*Task]struct{}),
		totalBytes: -1,
	}
}

// attach adds a logical task to the attached set.
func (f *fetchTask) attach(t *Task) {
	f.tasks[t] = struct{}{}
}

// detach removes a logical task and reports whether the set became empty.
func (f *fetchTask) detach(t *Task) bool {
	delete(f.tasks, t)
	return len(f.tasks) == 0
}

// attached returns a snapshot of the attached set for fan-out outside the
// control path lock.
func (f *fetchTask) attached() []*Task {
	out := make([]*Task, 0, len(f.tasks))
	for t := range f.tasks {
		out = append(out, t)
	}
	return out
}
