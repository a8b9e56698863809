package loader

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/agbru/imgloader/internal/errors"
	"github.com/agbru/imgloader/internal/metrics"
	"github.com/agbru/imgloader/internal/queue"
)

// Default stage concurrency caps.
const (
	// DefaultMaxConcurrentFetches bounds simultaneously executing transport
	// fetches when congestion control is enabled.
	DefaultMaxConcurrentFetches = 6
	// DefaultMaxConcurrentCacheLookups bounds concurrent disk cache lookups.
	DefaultMaxConcurrentCacheLookups = 2
	// DefaultMaxConcurrentDecodes is 1: serializing decode protects a
	// non-reentrant decoder.
	DefaultMaxConcurrentDecodes = 1
	// DefaultMaxConcurrentProcesses bounds concurrent processing chains.
	DefaultMaxConcurrentProcesses = 2
)

// Config assembles the collaborators and limits of a Manager.
type Config struct {
	// Transport fetches raw bytes. Required.
	Transport Transport
	// Decoder turns bytes into images. Required.
	Decoder Decoder
	// Delegate supplies the equivalence and processing policy.
	// Defaults to DefaultDelegate.
	Delegate Delegate
	// Cache is the optional disk cache collaborator. When set, every
	// submission starts with a cache lookup that short-circuits the fetch
	// on a hit.
	Cache Cache
	// MemoryCache is the optional processed-image cache consulted at
	// Submit before any pipeline stage runs.
	MemoryCache ImageCache
	// Metrics receives pipeline instrumentation. Optional.
	Metrics *metrics.Metrics

	// Stage concurrency caps; zero selects the default.
	MaxConcurrentFetches      int
	MaxConcurrentCacheLookups int
	MaxConcurrentDecodes      int
	MaxConcurrentProcesses    int

	// DisableCongestionControl starts every fetch immediately instead of
	// deferring starts while the executing-fetch count is at its cap.
	DisableCongestionControl bool
}

// Manager is the load orchestrator. It deduplicates load-equivalent
// submissions onto a single transport fetch, drives each submission through
// the cache-lookup, fetch, decode and process stages, fans progress and
// completion out to every interested task, and routes cancellation by
// current state.
//
// All shared registries (the fetch table and the per-task state table) are
// owned by a single mutex-guarded control path with negligible hold time;
// stage work runs on the stage executors, never on the control path, and
// re-enters it through completion signals that validate the task is still
// registered before acting. User callbacks are always invoked outside the
// control path lock.
type Manager struct {
	transport Transport
	decoder   Decoder
	delegate  Delegate
	cache     Cache
	memCache  ImageCache
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	tracer    trace.Tracer

	lookupQueue  *queue.Queue
	decodeQueue  *queue.Queue
	processQueue *queue.Queue
	// fetchQueue is the congestion controller for fetch admission; nil when
	// congestion control is disabled.
	fetchQueue *queue.Queue

	// mu guards the registries below. It is the single serialization point
	// for all state transitions; it is never held across stage work or user
	// callbacks.
	mu      sync.Mutex
	fetches *fetchTable
	states  map[*Task]*loadState
}

// New creates a Manager from the given configuration.
func New(cfg Config) (*Manager, error) {
	if cfg.Transport == nil {
		return nil, apperrors.ValidationError{Field: "Transport", Message: "transport collaborator is required"}
	}
	if cfg.Decoder == nil {
		return nil, apperrors.ValidationError{Field: "Decoder", Message: "decoder collaborator is required"}
	}
	delegate := cfg.Delegate
	if delegate == nil {
		delegate = DefaultDelegate{}
	}

	m := &Manager{
		transport:    cfg.Transport,
		decoder:      cfg.Decoder,
		delegate:     delegate,
		cache:        cfg.Cache,
		memCache:     cfg.MemoryCache,
		metrics:      cfg.Metrics,
		logger:       zerolog.Nop(),
		tracer:       otel.Tracer("github.com/agbru/imgloader/internal/loader"),
		lookupQueue:  queue.New(defaultIfZero(cfg.MaxConcurrentCacheLookups, DefaultMaxConcurrentCacheLookups)),
		decodeQueue:  queue.New(defaultIfZero(cfg.MaxConcurrentDecodes, DefaultMaxConcurrentDecodes)),
		processQueue: queue.New(defaultIfZero(cfg.MaxConcurrentProcesses, DefaultMaxConcurrentProcesses)),
		fetches:      newFetchTable(delegate),
		states:       make(map[*Task]*loadState),
	}
	if !cfg.DisableCongestionControl {
		m.fetchQueue = queue.New(defaultIfZero(cfg.MaxConcurrentFetches, DefaultMaxConcurrentFetches))
	}
	return m, nil
}

func defaultIfZero(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// SetLogger sets the logger used for orchestration diagnostics.
func (m *Manager) SetLogger(logger zerolog.Logger) {
	m.mu.Lock()
	m.logger = logger
	m.mu.Unlock()
}

// Submit begins the load pipeline for the task. It is idempotent per task
// identity, never blocks the caller, and delivers all callbacks
// asynchronously. A task satisfied by the memory cache completes without
// touching any stage executor.
func (m *Manager) Submit(t *Task) {
	if t == nil || !t.submitted.CompareAndSwap(false, true) {
		return
	}

	if m.memCache != nil {
		if img, ok := m.memCache.Get(t.request); ok {
			m.metrics.MemoryCacheHit()
			m.logger.Debug().Str("task", t.ID()).Str("url", t.request.URL).Msg("memory cache hit")
			if t.handlers.OnCompletion != nil {
				go t.handlers.OnCompletion(t, img, nil)
			}
			return
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cache != nil {
		st := &loadState{phase: phaseCacheLookup}
		m.states[t] = st
		st.lookupItem = m.lookupQueue.Add(func(ctx context.Context) {
			start := time.Now()
			data, ok := m.cache.Lookup(t.request)
			m.metrics.ObserveStage("cache_lookup", time.Since(start))
			if ctx.Err() != nil {
				return
			}
			m.finishCacheLookup(t, data, ok)
		})
		return
	}

	m.states[t] = &loadState{}
	m.startLoadingLocked(t)
}

// finishCacheLookup re-enters the control path with a cache lookup result.
func (m *Manager) finishCacheLookup(t *Task, data []byte, ok bool) {
	m.mu.Lock()
	st, live := m.states[t]
	if !live || st.phase != phaseCacheLookup {
		m.mu.Unlock()
		return
	}
	m.metrics.CacheLookup(ok)
	if ok {
		m.logger.Debug().Str("task", t.ID()).Str("url", t.request.URL).Msg("disk cache hit")
		m.transitionToDecodeLocked(t, st, data)
		m.mu.Unlock()
		return
	}
	m.startLoadingLocked(t)
	m.mu.Unlock()
}

// startLoadingLocked attaches the task to the live fetch for its
// load-equivalence class, creating one if none exists. Caller holds the
// control path.
func (m *Manager) startLoadingLocked(t *Task) {
	st := m.states[t]
	st.phase = phaseLoading
	st.lookupItem = nil

	key := KeyFor(t.request, LoadEquivalence)
	if f := m.fetches.lookup(key); f != nil {
		f.attach(t)
		st.fetch = f
		m.metrics.FetchDeduplicated()
		m.logger.Debug().Str("task", t.ID()).Str("fetch", f.id.String()).Msg("attached to existing fetch")
		if f.hasProgress && t.handlers.OnProgress != nil {
			// Replay the last-known position so a late attacher starts from
			// the fetch's current progress instead of silence. The sequence
			// stamp lets a live fan-out racing this goroutine win.
			seq, completed, total := f.progressSeq, f.completedBytes, f.totalBytes
			go m.deliverProgress(t, seq, completed, total)
		}
		return
	}

	f := newFetchTask(key)
	f.attach(t)
	st.fetch = f
	m.fetches.insert(f)
	m.logger.Debug().Str("task", t.ID()).Str("fetch", f.id.String()).Str("url", t.request.URL).Msg("created fetch")

	if m.fetchQueue != nil {
		f.admission = m.fetchQueue.AddRetained(func(ctx context.Context) {
			m.startFetch(f)
		})
		return
	}
	go m.startFetch(f)
}

// startFetch starts the underlying transport fetch once admission granted
// it a slot. Runs off the control path.
func (m *Manager) startFetch(f *fetchTask) {
	m.mu.Lock()
	if f.cancelled || f.done {
		m.mu.Unlock()
		return
	}
	f.started = true
	req := f.key.Request
	m.mu.Unlock()

	m.metrics.FetchStarted()
	start := time.Now()
	_, span := m.tracer.Start(context.Background(), "fetch",
		trace.WithAttributes(attribute.String("url", req.URL)))

	handle := m.transport.Fetch(req,
		func(completed, total int64) {
			m.fetchProgress(f, completed, total)
		},
		func(data []byte, resp *Response, err error) {
			m.metrics.ObserveStage("fetch", time.Since(start))
			if err != nil {
				span.RecordError(err)
			}
			span.End()
			m.fetchCompleted(f, data, resp, err)
		})

	m.mu.Lock()
	if f.cancelled || f.done {
		// Detached or completed during start; the handle must not linger.
		m.mu.Unlock()
		handle.Cancel()
		return
	}
	f.handle = handle
	m.mu.Unlock()
}

// fetchProgress fans a transport progress report out to every attached task
// still registered. Per-task delivery order follows the transport's report
// order because the transport serializes callbacks per handle.
func (m *Manager) fetchProgress(f *fetchTask, completed, total int64) {
	m.mu.Lock()
	if f.done {
		m.mu.Unlock()
		return
	}
	f.completedBytes, f.totalBytes, f.hasProgress = completed, total, true
	f.progressSeq++
	seq := f.progressSeq

	targets := make([]*Task, 0, len(f.tasks))
	for t := range f.tasks {
		st, live := m.states[t]
		if live && st.phase == phaseLoading && st.fetch == f && t.handlers.OnProgress != nil {
			targets = append(targets, t)
		}
	}
	m.mu.Unlock()

	for _, t := range targets {
		m.deliverProgress(t, seq, completed, total)
	}
}

// deliverProgress invokes the task's progress handler unless a report with an
// equal or newer stamp was already delivered. The per-task lock serializes
// handler invocations, so a task's observed progress never goes backwards
// even when a late-attach replay races a live fan-out.
func (m *Manager) deliverProgress(t *Task, seq uint64, completed, total int64) {
	t.progressMu.Lock()
	defer t.progressMu.Unlock()
	if seq <= t.progressSeq {
		return
	}
	t.progressSeq = seq
	t.handlers.OnProgress(t, completed, total)
}

// fetchCompleted is the terminal transition of a fetch task. It is
// idempotent: a handle cancelled by detachment races its own completion.
// The fetch task leaves the registry here, so no new logical task can attach
// after this point; a late submission triggers a fresh fetch instead.
func (m *Manager) fetchCompleted(f *fetchTask, data []byte, resp *Response, err error) {
	m.mu.Lock()
	if f.done {
		m.mu.Unlock()
		return
	}
	f.done = true
	m.fetches.remove(f)
	if f.admission != nil {
		f.admission.Finish()
	}
	if f.started {
		m.metrics.FetchFinished(err != nil)
	}

	attached := f.attached()
	live := attached[:0]
	for _, t := range attached {
		if st, ok := m.states[t]; ok && st.phase == phaseLoading && st.fetch == f {
			live = append(live, t)
		}
	}

	if err != nil {
		// The fetch failed for everyone attached: all tasks share the error.
		for _, t := range live {
			delete(m.states, t)
		}
		m.mu.Unlock()
		m.logger.Debug().Str("fetch", f.id.String()).Err(err).Int("tasks", len(live)).Msg("fetch failed")
		for _, t := range live {
			if t.handlers.OnCompletion != nil {
				t.handlers.OnCompletion(t, nil, err)
			}
		}
		return
	}

	for _, t := range live {
		m.transitionToDecodeLocked(t, m.states[t], data)
	}

	// Persist once per distinct cache key among the attached tasks. A merely
	// load-equivalent set may span several cache keys; sharing one write
	// keyed by an arbitrary attached request would store under the wrong
	// cache key.
	if m.cache != nil && len(live) > 0 {
		reps := make([]Request, 0, 1)
		for _, t := range live {
			dup := false
			for _, r := range reps {
				if m.delegate.IsCacheEquivalent(r, t.request) {
					dup = true
					break
				}
			}
			if !dup {
				reps = append(reps, t.request)
			}
		}
		for _, r := range reps {
			r := r
			go m.cache.Store(data, r)
		}
	}
	m.mu.Unlock()
}

// transitionToDecodeLocked moves a task into the decode stage with the given
// bytes. Decode holds no cancellable handle: a cancelled task's decode runs
// to completion and its result is discarded by the registry check in
// finishDecode. Caller holds the control path.
func (m *Manager) transitionToDecodeLocked(t *Task, st *loadState, data []byte) {
	st.phase = phaseDecoding
	st.lookupItem = nil
	st.fetch = nil

	m.decodeQueue.Add(func(ctx context.Context) {
		start := time.Now()
		_, span := m.tracer.Start(context.Background(), "decode",
			trace.WithAttributes(attribute.String("url", t.request.URL)))
		img, err := m.decoder.Decode(data)
		m.metrics.ObserveStage("decode", time.Since(start))
		if err != nil {
			span.RecordError(err)
		}
		span.End()
		m.finishDecode(t, img, err)
	})
}

// finishDecode re-enters the control path with a decode result.
func (m *Manager) finishDecode(t *Task, img image.Image, err error) {
	m.mu.Lock()
	st, live := m.states[t]
	if !live || st.phase != phaseDecoding {
		m.mu.Unlock()
		return
	}

	if err != nil || img == nil {
		delete(m.states, t)
		m.metrics.DecodeFailed()
		m.mu.Unlock()
		m.completeTask(t, nil, apperrors.DecodingError{URL: t.request.URL, Cause: err})
		return
	}

	proc := m.delegate.ProcessorFor(t.request, img)
	if proc == nil {
		delete(m.states, t)
		m.mu.Unlock()
		m.completeTask(t, img, nil)
		return
	}

	st.phase = phaseProcessing
	st.processItem = m.processQueue.Add(func(ctx context.Context) {
		start := time.Now()
		_, span := m.tracer.Start(context.Background(), "process",
			trace.WithAttributes(attribute.String("url", t.request.URL)))
		out, perr := proc.Process(img)
		m.metrics.ObserveStage("process", time.Since(start))
		if perr != nil {
			span.RecordError(perr)
		}
		span.End()
		m.finishProcess(t, out, perr)
	})
	m.mu.Unlock()
}

// finishProcess re-enters the control path with a processing result.
func (m *Manager) finishProcess(t *Task, img image.Image, err error) {
	m.mu.Lock()
	st, live := m.states[t]
	if !live || st.phase != phaseProcessing {
		m.mu.Unlock()
		return
	}
	delete(m.states, t)

	if err != nil || img == nil {
		m.metrics.ProcessFailed()
		m.mu.Unlock()
		var perr apperrors.ProcessingError
		if !errors.As(err, &perr) {
			err = apperrors.ProcessingError{Stage: "process", Cause: err}
		}
		m.completeTask(t, nil, err)
		return
	}
	m.mu.Unlock()
	m.completeTask(t, img, nil)
}

// completeTask delivers the terminal callback and populates the memory
// cache on success. Never called with the control path held.
func (m *Manager) completeTask(t *Task, img image.Image, err error) {
	if err == nil && img != nil && m.memCache != nil {
		m.memCache.Set(t.request, img)
	}
	if t.handlers.OnCompletion != nil {
		t.handlers.OnCompletion(t, img, err)
	}
}

// Cancel cancels the task according to its current state. The state entry is
// removed immediately and authoritatively, regardless of whether the
// underlying asynchronous work stops promptly; late callbacks for the task
// find no entry and are discarded. Cancelling an unknown, already-completed
// or already-cancelled task is a no-op, and a cancelled task never receives
// a result or an error.
func (m *Manager) Cancel(t *Task) {
	if t == nil {
		return
	}

	var handle Cancellable

	m.mu.Lock()
	st, live := m.states[t]
	if !live {
		m.mu.Unlock()
		return
	}
	delete(m.states, t)
	m.metrics.TaskCancelled()

	switch st.phase {
	case phaseCacheLookup:
		if st.lookupItem != nil {
			st.lookupItem.Cancel()
		}
	case phaseLoading:
		f := st.fetch
		if f != nil && !f.done && f.detach(t) {
			// Last attached task: cancel the underlying fetch and evict.
			f.cancelled = true
			m.fetches.remove(f)
			if f.admission != nil {
				f.admission.Cancel()
			}
			handle = f.handle
			m.logger.Debug().Str("fetch", f.id.String()).Msg("last task detached, cancelling fetch")
		}
	case phaseDecoding:
		// Decode runs to completion; its result is discarded because the
		// state entry is already gone.
	case phaseProcessing:
		if st.processItem != nil {
			st.processItem.Cancel()
		}
	}
	m.mu.Unlock()

	// Cancelling the transport handle outside the control path: the
	// transport may report the terminal callback synchronously from Cancel.
	if handle != nil {
		handle.Cancel()
	}
}

// Invalidate propagates to the transport collaborator. In-flight tasks are
// unaffected.
func (m *Manager) Invalidate() {
	m.transport.Invalidate()
}

// ClearCache propagates to the cache, memory cache and transport
// collaborators. In-flight tasks are unaffected.
func (m *Manager) ClearCache() {
	if m.cache != nil {
		m.cache.Clear()
	}
	if m.memCache != nil {
		m.memCache.Clear()
	}
	m.transport.ClearCache()
}

// ActiveTasks returns the number of registered logical tasks. Intended for
// introspection and tests.
func (m *Manager) ActiveTasks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}

// ActiveFetches returns the number of live fetch tasks in the registry.
// Intended for introspection and tests.
func (m *Manager) ActiveFetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, bucket := range m.fetches.buckets {
		n += len(bucket)
	}
	return n
}
