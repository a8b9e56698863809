package loader

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/agbru/imgloader/internal/errors"
)

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition never held: %s", msg)
}

var testImage = image.NewRGBA(image.Rect(0, 0, 2, 2))

// fetchCall records one transport fetch with its callbacks so tests can drive
// progress and completion manually.
type fetchCall struct {
	req          Request
	onProgress   func(completed, total int64)
	onCompletion func(data []byte, resp *Response, err error)
	cancelled    atomic.Bool
}

func (c *fetchCall) Cancel() { c.cancelled.Store(true) }

type manualTransport struct {
	mu          sync.Mutex
	calls       []*fetchCall
	invalidates int
	clears      int
}

func (mt *manualTransport) Fetch(req Request, onProgress func(completed, total int64), onCompletion func(data []byte, resp *Response, err error)) Cancellable {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	c := &fetchCall{req: req, onProgress: onProgress, onCompletion: onCompletion}
	mt.calls = append(mt.calls, c)
	return c
}

func (mt *manualTransport) Invalidate() {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.invalidates++
}

func (mt *manualTransport) ClearCache() {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.clears++
}

func (mt *manualTransport) numCalls() int {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return len(mt.calls)
}

func (mt *manualTransport) call(i int) *fetchCall {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return mt.calls[i]
}

type mockDecoder struct {
	DecodeFunc func(data []byte) (image.Image, error)
}

func (d *mockDecoder) Decode(data []byte) (image.Image, error) {
	if d.DecodeFunc != nil {
		return d.DecodeFunc(data)
	}
	return testImage, nil
}

type mockCache struct {
	mu         sync.Mutex
	LookupFunc func(req Request) ([]byte, bool)
	stores     []Request
	clears     int
}

func (c *mockCache) Lookup(req Request) ([]byte, bool) {
	if c.LookupFunc != nil {
		return c.LookupFunc(req)
	}
	return nil, false
}

func (c *mockCache) Store(data []byte, req Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stores = append(c.stores, req)
}

func (c *mockCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clears++
}

func (c *mockCache) numStores() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.stores)
}

type mockImageCache struct {
	mu      sync.Mutex
	GetFunc func(req Request) (image.Image, bool)
	sets    []Request
	clears  int
}

func (c *mockImageCache) Get(req Request) (image.Image, bool) {
	if c.GetFunc != nil {
		return c.GetFunc(req)
	}
	return nil, false
}

func (c *mockImageCache) Set(req Request, img image.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets = append(c.sets, req)
}

func (c *mockImageCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clears++
}

// completionRecorder collects terminal callbacks for one task.
type completionRecorder struct {
	mu        sync.Mutex
	images    []image.Image
	errs      []error
	progress  []int64
	completed atomic.Bool
}

func (r *completionRecorder) handlers() Handlers {
	return Handlers{
		OnProgress: func(_ *Task, completed, _ int64) {
			r.mu.Lock()
			r.progress = append(r.progress, completed)
			r.mu.Unlock()
		},
		OnCompletion: func(_ *Task, img image.Image, err error) {
			r.mu.Lock()
			r.images = append(r.images, img)
			r.errs = append(r.errs, err)
			r.mu.Unlock()
			r.completed.Store(true)
		},
	}
}

func (r *completionRecorder) numCompletions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

func (r *completionRecorder) numProgress() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.progress)
}

func (r *completionRecorder) lastErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errs) == 0 {
		return nil
	}
	return r.errs[len(r.errs)-1]
}

// attachedCount reports how many logical tasks are attached to live fetches
// for the given URL.
func attachedCount(m *Manager, url string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, f := range m.fetches.buckets[url] {
		n += len(f.tasks)
	}
	return n
}

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	if cfg.Transport == nil {
		cfg.Transport = &manualTransport{}
	}
	if cfg.Decoder == nil {
		cfg.Decoder = &mockDecoder{}
	}
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestNewValidatesCollaborators(t *testing.T) {
	testCases := []struct {
		name string
		cfg  Config
	}{
		{"missing transport", Config{Decoder: &mockDecoder{}}},
		{"missing decoder", Config{Transport: &manualTransport{}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.cfg); err == nil {
				t.Fatal("expected an error, got nil")
			}
		})
	}
}

func TestSubmitDeduplicatesLoadEquivalentRequests(t *testing.T) {
	mt := &manualTransport{}
	m := newTestManager(t, Config{Transport: mt})

	var r1, r2 completionRecorder
	// Same URL, different cache-busting tokens: one underlying fetch.
	t1 := NewTask(Request{URL: "https://example.com/a.png", Token: "x"}, r1.handlers())
	t2 := NewTask(Request{URL: "https://example.com/a.png", Token: "y"}, r2.handlers())
	m.Submit(t1)
	m.Submit(t2)

	eventually(t, func() bool { return mt.numCalls() == 1 }, "transport fetch started")
	if got := m.ActiveFetches(); got != 1 {
		t.Fatalf("ActiveFetches = %d, want 1", got)
	}
	if got := m.ActiveTasks(); got != 2 {
		t.Fatalf("ActiveTasks = %d, want 2", got)
	}

	mt.call(0).onCompletion([]byte("payload"), &Response{StatusCode: 200}, nil)

	eventually(t, func() bool { return r1.completed.Load() && r2.completed.Load() }, "both tasks completed")
	if mt.numCalls() != 1 {
		t.Fatalf("transport calls = %d, want 1", mt.numCalls())
	}
	if err := r1.lastErr(); err != nil {
		t.Fatalf("task 1 completed with error: %v", err)
	}
	if err := r2.lastErr(); err != nil {
		t.Fatalf("task 2 completed with error: %v", err)
	}
}

func TestSubmitIsIdempotentPerTask(t *testing.T) {
	mt := &manualTransport{}
	m := newTestManager(t, Config{Transport: mt})

	var rec completionRecorder
	task := NewTask(Request{URL: "https://example.com/a.png"}, rec.handlers())
	m.Submit(task)
	m.Submit(task)
	m.Submit(task)

	eventually(t, func() bool { return mt.numCalls() == 1 }, "transport fetch started")
	mt.call(0).onCompletion([]byte("payload"), &Response{StatusCode: 200}, nil)

	eventually(t, func() bool { return rec.completed.Load() }, "task completed")
	if got := rec.numCompletions(); got != 1 {
		t.Fatalf("completions = %d, want 1", got)
	}
	if got := mt.numCalls(); got != 1 {
		t.Fatalf("transport calls = %d, want 1", got)
	}
}

func TestCancelOneOfManyKeepsFetchAlive(t *testing.T) {
	mt := &manualTransport{}
	m := newTestManager(t, Config{Transport: mt})

	var r1, r2 completionRecorder
	t1 := NewTask(Request{URL: "https://example.com/a.png"}, r1.handlers())
	t2 := NewTask(Request{URL: "https://example.com/a.png"}, r2.handlers())
	m.Submit(t1)
	m.Submit(t2)
	eventually(t, func() bool { return mt.numCalls() == 1 }, "transport fetch started")

	m.Cancel(t1)

	if mt.call(0).cancelled.Load() {
		t.Fatal("fetch cancelled while a task is still attached")
	}
	mt.call(0).onCompletion([]byte("payload"), &Response{StatusCode: 200}, nil)

	eventually(t, func() bool { return r2.completed.Load() }, "surviving task completed")
	if r1.completed.Load() {
		t.Fatal("cancelled task received a completion callback")
	}
}

func TestCancelLastTaskCancelsFetch(t *testing.T) {
	mt := &manualTransport{}
	m := newTestManager(t, Config{Transport: mt})

	var r1, r2 completionRecorder
	t1 := NewTask(Request{URL: "https://example.com/a.png"}, r1.handlers())
	t2 := NewTask(Request{URL: "https://example.com/a.png"}, r2.handlers())
	m.Submit(t1)
	m.Submit(t2)
	eventually(t, func() bool { return mt.numCalls() == 1 }, "transport fetch started")

	m.Cancel(t1)
	m.Cancel(t2)

	eventually(t, func() bool { return mt.call(0).cancelled.Load() }, "underlying fetch cancelled")
	if got := m.ActiveFetches(); got != 0 {
		t.Fatalf("ActiveFetches = %d, want 0", got)
	}

	// The transport reports the cancellation terminally; nobody listens.
	mt.call(0).onCompletion(nil, nil, errors.New("cancelled"))
	if r1.completed.Load() || r2.completed.Load() {
		t.Fatal("cancelled task received a completion callback")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	mt := &manualTransport{}
	m := newTestManager(t, Config{Transport: mt})

	var rec completionRecorder
	task := NewTask(Request{URL: "https://example.com/a.png"}, rec.handlers())
	m.Submit(task)
	eventually(t, func() bool { return mt.numCalls() == 1 }, "transport fetch started")

	m.Cancel(task)
	m.Cancel(task)
	m.Cancel(task)

	if got := m.ActiveTasks(); got != 0 {
		t.Fatalf("ActiveTasks = %d, want 0", got)
	}
}

func TestCancelUnknownTaskIsNoOp(t *testing.T) {
	m := newTestManager(t, Config{})
	m.Cancel(nil)
	m.Cancel(NewTask(Request{URL: "https://example.com/a.png"}, Handlers{}))
}

func TestFetchErrorSharedByAllAttachedTasks(t *testing.T) {
	mt := &manualTransport{}
	m := newTestManager(t, Config{Transport: mt})

	var r1, r2 completionRecorder
	t1 := NewTask(Request{URL: "https://example.com/a.png"}, r1.handlers())
	t2 := NewTask(Request{URL: "https://example.com/a.png"}, r2.handlers())
	m.Submit(t1)
	m.Submit(t2)
	eventually(t, func() bool { return mt.numCalls() == 1 }, "transport fetch started")

	fetchErr := apperrors.TransportError{URL: "https://example.com/a.png", StatusCode: 503}
	mt.call(0).onCompletion(nil, nil, fetchErr)

	eventually(t, func() bool { return r1.completed.Load() && r2.completed.Load() }, "both tasks completed")
	var te1, te2 apperrors.TransportError
	if !errors.As(r1.lastErr(), &te1) || !errors.As(r2.lastErr(), &te2) {
		t.Fatalf("expected TransportError for both, got %v / %v", r1.lastErr(), r2.lastErr())
	}
	if te1 != te2 {
		t.Fatalf("tasks received different errors: %v vs %v", te1, te2)
	}
}

func TestDecodeFailureYieldsDecodingError(t *testing.T) {
	mt := &manualTransport{}
	dec := &mockDecoder{DecodeFunc: func([]byte) (image.Image, error) {
		return nil, errors.New("bad magic bytes")
	}}
	m := newTestManager(t, Config{Transport: mt, Decoder: dec})

	var rec completionRecorder
	task := NewTask(Request{URL: "https://example.com/a.png"}, rec.handlers())
	m.Submit(task)
	eventually(t, func() bool { return mt.numCalls() == 1 }, "transport fetch started")
	mt.call(0).onCompletion([]byte("not an image"), &Response{StatusCode: 200}, nil)

	eventually(t, func() bool { return rec.completed.Load() }, "task completed")
	var de apperrors.DecodingError
	if !errors.As(rec.lastErr(), &de) {
		t.Fatalf("expected DecodingError, got %v", rec.lastErr())
	}
	if de.URL != "https://example.com/a.png" {
		t.Fatalf("DecodingError.URL = %q", de.URL)
	}
}

func TestCancelDuringDecodeDiscardsResult(t *testing.T) {
	mt := &manualTransport{}
	decodeStarted := make(chan struct{})
	release := make(chan struct{})
	dec := &mockDecoder{DecodeFunc: func([]byte) (image.Image, error) {
		close(decodeStarted)
		<-release
		return testImage, nil
	}}
	m := newTestManager(t, Config{Transport: mt, Decoder: dec})

	var rec completionRecorder
	task := NewTask(Request{URL: "https://example.com/a.png"}, rec.handlers())
	m.Submit(task)
	eventually(t, func() bool { return mt.numCalls() == 1 }, "transport fetch started")
	mt.call(0).onCompletion([]byte("payload"), &Response{StatusCode: 200}, nil)

	<-decodeStarted
	m.Cancel(task)
	close(release)

	// The decode runs to completion; its result must be discarded.
	time.Sleep(20 * time.Millisecond)
	if rec.completed.Load() {
		t.Fatal("cancelled task received a completion callback")
	}
}

func TestMemoryCacheHitSkipsPipeline(t *testing.T) {
	mt := &manualTransport{}
	mem := &mockImageCache{GetFunc: func(Request) (image.Image, bool) { return testImage, true }}
	m := newTestManager(t, Config{Transport: mt, MemoryCache: mem})

	var rec completionRecorder
	task := NewTask(Request{URL: "https://example.com/a.png"}, rec.handlers())
	m.Submit(task)

	eventually(t, func() bool { return rec.completed.Load() }, "task completed")
	if got := mt.numCalls(); got != 0 {
		t.Fatalf("transport calls = %d, want 0", got)
	}
	if err := rec.lastErr(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDiskCacheHitSkipsFetch(t *testing.T) {
	mt := &manualTransport{}
	dc := &mockCache{LookupFunc: func(Request) ([]byte, bool) { return []byte("cached"), true }}
	m := newTestManager(t, Config{Transport: mt, Cache: dc})

	var rec completionRecorder
	task := NewTask(Request{URL: "https://example.com/a.png"}, rec.handlers())
	m.Submit(task)

	eventually(t, func() bool { return rec.completed.Load() }, "task completed")
	if got := mt.numCalls(); got != 0 {
		t.Fatalf("transport calls = %d, want 0", got)
	}
}

func TestDiskCacheMissFallsThroughToFetch(t *testing.T) {
	mt := &manualTransport{}
	dc := &mockCache{}
	m := newTestManager(t, Config{Transport: mt, Cache: dc})

	var rec completionRecorder
	task := NewTask(Request{URL: "https://example.com/a.png"}, rec.handlers())
	m.Submit(task)

	eventually(t, func() bool { return mt.numCalls() == 1 }, "transport fetch started")
	mt.call(0).onCompletion([]byte("payload"), &Response{StatusCode: 200}, nil)
	eventually(t, func() bool { return rec.completed.Load() }, "task completed")

	// The freshly fetched payload lands in the disk cache.
	eventually(t, func() bool { return dc.numStores() == 1 }, "payload stored")
}

func TestSharedFetchFansOutProgressAndStoresPerCacheKey(t *testing.T) {
	mt := &manualTransport{}
	dc := &mockCache{}
	m := newTestManager(t, Config{Transport: mt, Cache: dc})

	var r1, r2 completionRecorder
	// Load-equivalent but not cache-equivalent: distinct target sizes.
	t1 := NewTask(Request{URL: "https://example.com/a.png", TargetSize: Size{100, 100}}, r1.handlers())
	t2 := NewTask(Request{URL: "https://example.com/a.png", TargetSize: Size{200, 200}}, r2.handlers())
	m.Submit(t1)
	m.Submit(t2)

	eventually(t, func() bool { return mt.numCalls() == 1 }, "single transport fetch")
	eventually(t, func() bool { return attachedCount(m, "https://example.com/a.png") == 2 },
		"both tasks attached to the shared fetch")

	mt.call(0).onProgress(50, 100)
	mt.call(0).onProgress(100, 100)
	eventually(t, func() bool { return r1.numProgress() == 2 && r2.numProgress() == 2 },
		"both tasks received two progress reports")

	mt.call(0).onCompletion([]byte("payload"), &Response{StatusCode: 200}, nil)
	eventually(t, func() bool { return r1.completed.Load() && r2.completed.Load() }, "both tasks completed")

	// One store per distinct cache-equivalence class among the attached tasks.
	eventually(t, func() bool { return dc.numStores() == 2 }, "two distinct cache writes")
}

func TestLateAttacherReceivesProgressReplay(t *testing.T) {
	mt := &manualTransport{}
	m := newTestManager(t, Config{Transport: mt})

	var r1, r2 completionRecorder
	t1 := NewTask(Request{URL: "https://example.com/a.png"}, r1.handlers())
	m.Submit(t1)
	eventually(t, func() bool { return mt.numCalls() == 1 }, "transport fetch started")

	mt.call(0).onProgress(30, 100)
	eventually(t, func() bool { return r1.numProgress() == 1 }, "first task saw progress")

	t2 := NewTask(Request{URL: "https://example.com/a.png"}, r2.handlers())
	m.Submit(t2)
	eventually(t, func() bool { return r2.numProgress() == 1 }, "late attacher saw replayed progress")

	mt.call(0).onCompletion([]byte("payload"), &Response{StatusCode: 200}, nil)
	eventually(t, func() bool { return r1.completed.Load() && r2.completed.Load() }, "both tasks completed")
}

func TestStaleProgressDeliveryIsDropped(t *testing.T) {
	m := newTestManager(t, Config{})

	var rec completionRecorder
	task := NewTask(Request{URL: "https://example.com/a.png"}, rec.handlers())

	m.deliverProgress(task, 2, 60, 100)
	// A replay stamped before the report above must not regress progress.
	m.deliverProgress(task, 1, 30, 100)
	m.deliverProgress(task, 3, 90, 100)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	want := []int64{60, 90}
	if len(rec.progress) != len(want) {
		t.Fatalf("progress = %v, want %v", rec.progress, want)
	}
	for i := range want {
		if rec.progress[i] != want[i] {
			t.Fatalf("progress = %v, want %v", rec.progress, want)
		}
	}
}

func TestProgressReplayNeverRegressesPastLiveReports(t *testing.T) {
	mt := &manualTransport{}
	m := newTestManager(t, Config{Transport: mt})

	var r1, r2 completionRecorder
	t1 := NewTask(Request{URL: "https://example.com/a.png"}, r1.handlers())
	m.Submit(t1)
	eventually(t, func() bool { return mt.numCalls() == 1 }, "transport fetch started")

	mt.call(0).onProgress(30, 100)
	eventually(t, func() bool { return r1.numProgress() == 1 }, "first task saw progress")

	t2 := NewTask(Request{URL: "https://example.com/a.png"}, r2.handlers())
	m.Submit(t2)
	mt.call(0).onProgress(60, 100)
	mt.call(0).onProgress(90, 100)
	mt.call(0).onCompletion([]byte("payload"), &Response{StatusCode: 200}, nil)
	eventually(t, func() bool { return r1.completed.Load() && r2.completed.Load() }, "both tasks completed")

	r2.mu.Lock()
	defer r2.mu.Unlock()
	for i := 1; i < len(r2.progress); i++ {
		if r2.progress[i] < r2.progress[i-1] {
			t.Fatalf("late attacher progress went backwards: %v", r2.progress)
		}
	}
}

func TestMaxConcurrentFetchesAdmitsInSubmissionOrder(t *testing.T) {
	mt := &manualTransport{}
	m := newTestManager(t, Config{Transport: mt, MaxConcurrentFetches: 1})

	var recs [3]completionRecorder
	tasks := make([]*Task, 3)
	for i := range tasks {
		tasks[i] = NewTask(Request{URL: fmt.Sprintf("https://example.com/%d.png", i)}, recs[i].handlers())
		m.Submit(tasks[i])
	}

	eventually(t, func() bool { return mt.numCalls() == 1 }, "first fetch admitted")
	time.Sleep(20 * time.Millisecond)
	if got := mt.numCalls(); got != 1 {
		t.Fatalf("transport calls = %d, want 1 while the slot is held", got)
	}

	// Finishing the first fetch releases its admission slot.
	mt.call(0).onCompletion([]byte("payload"), &Response{StatusCode: 200}, nil)
	eventually(t, func() bool { return mt.numCalls() == 2 }, "second fetch admitted")

	mt.call(1).onCompletion([]byte("payload"), &Response{StatusCode: 200}, nil)
	eventually(t, func() bool { return mt.numCalls() == 3 }, "third fetch admitted")
	mt.call(2).onCompletion([]byte("payload"), &Response{StatusCode: 200}, nil)

	eventually(t, func() bool {
		return recs[0].completed.Load() && recs[1].completed.Load() && recs[2].completed.Load()
	}, "all tasks completed")

	// Deferred starts are admitted in submission order.
	for i := 0; i < 3; i++ {
		want := fmt.Sprintf("https://example.com/%d.png", i)
		if got := mt.call(i).req.URL; got != want {
			t.Fatalf("fetch %d started for %q, want %q", i, got, want)
		}
	}
}

func TestCancelPendingAdmissionNeverStartsFetch(t *testing.T) {
	mt := &manualTransport{}
	m := newTestManager(t, Config{Transport: mt, MaxConcurrentFetches: 1})

	var r1, r2 completionRecorder
	t1 := NewTask(Request{URL: "https://example.com/1.png"}, r1.handlers())
	t2 := NewTask(Request{URL: "https://example.com/2.png"}, r2.handlers())
	m.Submit(t1)
	m.Submit(t2)
	eventually(t, func() bool { return mt.numCalls() == 1 }, "first fetch admitted")

	// The second fetch is still deferred; cancelling its only task must keep
	// it from ever reaching the transport.
	m.Cancel(t2)
	mt.call(0).onCompletion([]byte("payload"), &Response{StatusCode: 200}, nil)

	eventually(t, func() bool { return r1.completed.Load() }, "first task completed")
	time.Sleep(20 * time.Millisecond)
	if got := mt.numCalls(); got != 1 {
		t.Fatalf("transport calls = %d, want 1", got)
	}
}

func TestLateSubmissionAfterTerminalStartsFreshFetch(t *testing.T) {
	mt := &manualTransport{}
	m := newTestManager(t, Config{Transport: mt})

	var r1 completionRecorder
	t1 := NewTask(Request{URL: "https://example.com/a.png"}, r1.handlers())
	m.Submit(t1)
	eventually(t, func() bool { return mt.numCalls() == 1 }, "first fetch started")
	mt.call(0).onCompletion([]byte("payload"), &Response{StatusCode: 200}, nil)
	eventually(t, func() bool { return r1.completed.Load() }, "first task completed")

	var r2 completionRecorder
	t2 := NewTask(Request{URL: "https://example.com/a.png"}, r2.handlers())
	m.Submit(t2)
	eventually(t, func() bool { return mt.numCalls() == 2 }, "fresh fetch for post-terminal submission")
	mt.call(1).onCompletion([]byte("payload"), &Response{StatusCode: 200}, nil)
	eventually(t, func() bool { return r2.completed.Load() }, "second task completed")
}

func TestProcessorRunsAfterDecode(t *testing.T) {
	mt := &manualTransport{}
	proc := &stubProcessor{tag: "crop", ProcessFunc: func(img image.Image) (image.Image, error) {
		return image.NewRGBA(image.Rect(0, 0, 1, 1)), nil
	}}
	m := newTestManager(t, Config{Transport: mt})

	var rec completionRecorder
	task := NewTask(Request{URL: "https://example.com/a.png", Processor: proc}, rec.handlers())
	m.Submit(task)
	eventually(t, func() bool { return mt.numCalls() == 1 }, "transport fetch started")
	mt.call(0).onCompletion([]byte("payload"), &Response{StatusCode: 200}, nil)

	eventually(t, func() bool { return rec.completed.Load() }, "task completed")
	if err := rec.lastErr(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec.mu.Lock()
	got := rec.images[len(rec.images)-1].Bounds()
	rec.mu.Unlock()
	if got.Dx() != 1 || got.Dy() != 1 {
		t.Fatalf("processed image bounds = %v, want 1x1", got)
	}
}

func TestProcessorFailureYieldsProcessingError(t *testing.T) {
	mt := &manualTransport{}
	proc := &stubProcessor{tag: "crop", ProcessFunc: func(image.Image) (image.Image, error) {
		return nil, errors.New("unsupported geometry")
	}}
	m := newTestManager(t, Config{Transport: mt})

	var rec completionRecorder
	task := NewTask(Request{URL: "https://example.com/a.png", Processor: proc}, rec.handlers())
	m.Submit(task)
	eventually(t, func() bool { return mt.numCalls() == 1 }, "transport fetch started")
	mt.call(0).onCompletion([]byte("payload"), &Response{StatusCode: 200}, nil)

	eventually(t, func() bool { return rec.completed.Load() }, "task completed")
	var pe apperrors.ProcessingError
	if !errors.As(rec.lastErr(), &pe) {
		t.Fatalf("expected ProcessingError, got %v", rec.lastErr())
	}
}

// imageAwareDelegate picks processing per decoded image: images at or below
// the cutoff skip processing entirely.
type imageAwareDelegate struct {
	DefaultDelegate
	cutoff int
}

func (d *imageAwareDelegate) ProcessorFor(req Request, img image.Image) Processor {
	if img != nil && img.Bounds().Dx() <= d.cutoff && img.Bounds().Dy() <= d.cutoff {
		return nil
	}
	return req.Processor
}

func TestDelegateSeesDecodedImage(t *testing.T) {
	mt := &manualTransport{}
	var ran atomic.Bool
	proc := &stubProcessor{tag: "crop", ProcessFunc: func(img image.Image) (image.Image, error) {
		ran.Store(true)
		return img, nil
	}}
	m := newTestManager(t, Config{Transport: mt, Delegate: &imageAwareDelegate{cutoff: 16}})

	var rec completionRecorder
	task := NewTask(Request{URL: "https://example.com/a.png", Processor: proc}, rec.handlers())
	m.Submit(task)
	eventually(t, func() bool { return mt.numCalls() == 1 }, "transport fetch started")
	mt.call(0).onCompletion([]byte("payload"), &Response{StatusCode: 200}, nil)

	eventually(t, func() bool { return rec.completed.Load() }, "task completed")
	if err := rec.lastErr(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ran.Load() {
		t.Fatal("processing ran for an image the policy exempted")
	}
}

func TestClearCachePropagatesToCollaborators(t *testing.T) {
	mt := &manualTransport{}
	dc := &mockCache{}
	mem := &mockImageCache{}
	m := newTestManager(t, Config{Transport: mt, Cache: dc, MemoryCache: mem})

	m.ClearCache()
	m.Invalidate()

	if dc.clears != 1 {
		t.Fatalf("disk cache clears = %d, want 1", dc.clears)
	}
	if mem.clears != 1 {
		t.Fatalf("memory cache clears = %d, want 1", mem.clears)
	}
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if mt.clears != 1 || mt.invalidates != 1 {
		t.Fatalf("transport clears/invalidates = %d/%d, want 1/1", mt.clears, mt.invalidates)
	}
}
