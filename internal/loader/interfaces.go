package loader

import "image"

// Cancellable is a handle to an in-flight asynchronous operation. Cancel
// must be safe to call multiple times and after the operation completed.
type Cancellable interface {
	Cancel()
}

// Transport fetches raw resource bytes. Implementations must guarantee at
// most one terminal onCompletion call per returned handle, must tolerate
// Cancel after completion, and must invoke both callbacks off the caller's
// goroutine, never concurrently with each other for one handle.
type Transport interface {
	// Fetch starts an asynchronous fetch for the request. onProgress may be
	// called any number of times with (completedBytes, totalBytes); total is
	// -1 when unknown. onCompletion is called exactly once with either data
	// and a response, or an error (a cancelled fetch reports an error).
	Fetch(req Request, onProgress func(completed, total int64), onCompletion func(data []byte, resp *Response, err error)) Cancellable
	// Invalidate discards transport-level session state. In-flight fetches
	// are allowed to finish.
	Invalidate()
	// ClearCache clears any transport-level cache.
	ClearCache()
}

// Cache stores previously fetched raw bytes. Lookup and Store are invoked
// off the orchestrator's control path (on the cache-lookup executor) and may
// block on I/O. Implementations decide the on-disk keying; the orchestrator
// guarantees it only shares one stored payload between requests the Delegate
// considers cache-equivalent.
type Cache interface {
	// Lookup returns the stored bytes for the request, if any.
	Lookup(req Request) ([]byte, bool)
	// Store persists the bytes for the request.
	Store(data []byte, req Request)
	// Clear removes all stored entries.
	Clear()
}

// ImageCache stores final processed images in memory, consulted before any
// pipeline stage runs. Keying follows cache-equivalence, like Cache.
type ImageCache interface {
	Get(req Request) (image.Image, bool)
	Set(req Request, img image.Image)
	Clear()
}

// Decoder turns raw bytes into an image. Decode is pure from the caller's
// perspective; implementations that are not reentrant rely on the decode
// stage cap of 1 for serialization.
type Decoder interface {
	Decode(data []byte) (image.Image, error)
}

// Processor is one image processing step. Process returns the transformed
// image or an error; IsEquivalent reports whether another processor would
// produce the same output for the same input, which feeds into
// cache-equivalence of requests.
type Processor interface {
	Process(img image.Image) (image.Image, error)
	IsEquivalent(other Processor) bool
}

// Delegate supplies the pluggable equivalence policy and processing policy.
type Delegate interface {
	// IsLoadEquivalent reports whether two requests would fetch the same
	// underlying bytes and may therefore share one transport fetch.
	IsLoadEquivalent(a, b Request) bool
	// IsCacheEquivalent reports whether two requests would produce the same
	// processed output. It must be narrower than or equal to load
	// equivalence: cache-equivalent requests are always load-equivalent.
	IsCacheEquivalent(a, b Request) bool
	// ProcessorFor returns the processing step to apply to the request's
	// decoded image, or nil for none. The decoded image is passed so a
	// policy can decide per image, for example skipping a resize for an
	// image already within its target size.
	ProcessorFor(req Request, img image.Image) Processor
}
