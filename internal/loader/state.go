package loader

import "github.com/agbru/imgloader/internal/queue"

// phase enumerates the per-task load states. A task has at most one state
// entry at any time; absence of an entry means "no longer interesting" and
// any late async callback for the task must be discarded.
type phase int

const (
	// phaseCacheLookup: a disk cache lookup is queued or running.
	phaseCacheLookup phase = iota
	// phaseLoading: the task is attached to a live fetch task.
	phaseLoading
	// phaseDecoding: fetched or cached bytes are queued for decode. Decode
	// holds no cancellable handle: it is allowed to run to completion and
	// have its result discarded rather than leave a dangling fetch.
	phaseDecoding
	// phaseProcessing: the decoded image is queued or running through the
	// processing chain.
	phaseProcessing
)

// String returns the state name for logging.
func (p phase) String() string {
	switch p {
	case phaseCacheLookup:
		return "cacheLookup"
	case phaseLoading:
		return "loading"
	case phaseDecoding:
		return "decoding"
	case phaseProcessing:
		return "processing"
	}
	return "unknown"
}

// loadState is the per-task entry in the orchestrator's state registry. It
// routes cancellation to whatever the task is currently waiting on. Only the
// control path reads or writes loadState values.
type loadState struct {
	phase phase

	// lookupItem is the queued cache lookup (phaseCacheLookup).
	lookupItem *queue.Item
	// fetch is the fetch task the logical task is attached to (phaseLoading).
	fetch *fetchTask
	// processItem is the queued processing operation (phaseProcessing).
	processItem *queue.Item
}
