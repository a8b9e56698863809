package loader

import (
	"image"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
)

// ContentMode describes how a decoded image is mapped onto a target size.
type ContentMode int

const (
	// ContentModeAspectFit scales the image to fit entirely within the
	// target size, preserving aspect ratio.
	ContentModeAspectFit ContentMode = iota
	// ContentModeAspectFill scales the image to fill the target size,
	// preserving aspect ratio and cropping the overflow.
	ContentModeAspectFill
)

// Priority is a scheduling hint forwarded to the transport collaborator.
// It never affects dedup or cache decisions.
type Priority int

const (
	PriorityLow Priority = iota - 1
	PriorityNormal
	PriorityHigh
)

// Size is a target size hint in pixels. The zero value means "full size".
type Size struct {
	Width  int
	Height int
}

// IsZero reports whether no target size was requested.
func (s Size) IsZero() bool { return s.Width == 0 && s.Height == 0 }

// Request is an immutable description of a desired image resource. Identity
// is structural: two requests with equal observable fields are
// interchangeable for caching and deduplication purposes. Which fields
// actually participate in equivalence is decided by the Delegate, not by
// raw struct equality; a cache-busting Token may differ between requests
// that still share one fetch.
type Request struct {
	// URL is the address of the resource.
	URL string
	// TargetSize is the desired decompression target. Zero means full size.
	TargetSize Size
	// Mode selects how the image is mapped onto TargetSize.
	Mode ContentMode
	// Processor is an optional additional processing step applied after
	// decoding (and after any resize implied by TargetSize).
	Processor Processor
	// Priority is a transport scheduling hint.
	Priority Priority
	// Token is an opaque per-submission value (e.g. a cache-busting
	// marker). The default delegate ignores it for both equivalence
	// relations.
	Token string
}

// Response carries transport-level metadata for a completed fetch.
type Response struct {
	// StatusCode is the HTTP status code of the final response.
	StatusCode int
	// ContentType is the media type reported by the transport.
	ContentType string
	// URL is the final address after any redirects.
	URL string
}

// Handlers bundles the caller-visible callbacks of one logical task.
// Either handler may be nil. Callbacks are invoked off the caller's
// goroutine; for a given task they arrive in stage-completion order, and a
// cancelled task receives neither progress nor completion.
type Handlers struct {
	// OnProgress receives fetch progress as (completedBytes, totalBytes).
	// totalBytes is -1 when the transport cannot determine it.
	OnProgress func(task *Task, completed, total int64)
	// OnCompletion receives the terminal result: exactly one of img or err
	// is non-nil.
	OnCompletion func(task *Task, img image.Image, err error)
}

// Task is one caller-visible unit of work: a single submission of a Request.
// Tasks are identified by pointer, not by content, so two identical requests
// from two callers remain independently cancellable. The id exists for
// logging and tracing only.
type Task struct {
	id       xid.ID
	request  Request
	handlers Handlers

	// submitted makes Manager.Submit idempotent per task identity.
	submitted atomic.Bool

	// progressMu serializes progress handler invocations; progressSeq is the
	// sequence number of the last delivered report, so a stale delivery
	// racing a newer one is dropped instead of regressing observed progress.
	progressMu  sync.Mutex
	progressSeq uint64
}

// NewTask creates a logical task for the given request and callbacks.
// The task does nothing until passed to Manager.Submit.
func NewTask(request Request, handlers Handlers) *Task {
	return &Task{id: xid.New(), request: request, handlers: handlers}
}

// ID returns the task's unique submission identifier.
func (t *Task) ID() string { return t.id.String() }

// Request returns the request this task was created for.
func (t *Task) Request() Request { return t.request }
