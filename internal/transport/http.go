package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	apperrors "github.com/agbru/imgloader/internal/errors"
	"github.com/agbru/imgloader/internal/loader"
	"github.com/agbru/imgloader/internal/logging"
)

const (
	// DefaultTimeout bounds a single fetch from start to last byte.
	DefaultTimeout = 60 * time.Second
	// progressChunkSize is the body read granularity between progress reports.
	progressChunkSize = 32 * 1024
)

// Verify interface compliance.
var _ loader.Transport = (*HTTP)(nil)

// Options configures the HTTP transport.
type Options struct {
	// Timeout bounds each fetch; zero selects DefaultTimeout.
	Timeout time.Duration
	// UserAgent overrides the default User-Agent header when non-empty.
	UserAgent string
	// Client overrides the underlying http.Client. Its Timeout is ignored;
	// per-fetch timeouts come from Options.Timeout.
	Client *http.Client
}

// HTTP is the net/http-backed transport collaborator. Each Fetch runs on its
// own goroutine, streams the response body in chunks while reporting
// progress, and reports exactly one terminal completion per handle.
type HTTP struct {
	mu      sync.Mutex
	client  *http.Client
	timeout time.Duration
	agent   string
	logger  logging.Logger
}

// New creates an HTTP transport.
func New(opts Options) *HTTP {
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTP{
		client:  client,
		timeout: timeout,
		agent:   opts.UserAgent,
		logger:  logging.NewNopLogger(),
	}
}

// SetLogger sets the logger used for transport diagnostics.
func (h *HTTP) SetLogger(logger logging.Logger) {
	h.mu.Lock()
	h.logger = logger
	h.mu.Unlock()
}

// handle is the cancellable handle for one fetch.
type handle struct {
	cancel   context.CancelFunc
	terminal sync.Once
}

// Cancel aborts the fetch. Safe to call multiple times and after the fetch
// completed, in which case it is a no-op.
func (c *handle) Cancel() { c.cancel() }

// Fetch starts an asynchronous fetch for the request. The terminal callback
// fires exactly once; a cancelled fetch terminates with a TransportError
// wrapping context.Canceled.
func (h *HTTP) Fetch(req loader.Request, onProgress func(completed, total int64), onCompletion func(data []byte, resp *loader.Response, err error)) loader.Cancellable {
	h.mu.Lock()
	client, timeout, agent, logger := h.client, h.timeout, h.agent, h.logger
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	c := &handle{cancel: cancel}

	go func() {
		defer cancel()
		data, resp, err := h.do(ctx, client, agent, req, onProgress)
		if err != nil {
			logger.Debug("fetch failed", logging.String("url", req.URL), logging.Err(err))
		} else {
			logger.Debug("fetch completed", logging.String("url", req.URL), logging.Int("bytes", len(data)))
		}
		c.terminal.Do(func() { onCompletion(data, resp, err) })
	}()
	return c
}

// do performs the request and streams the body, reporting progress per chunk.
func (h *HTTP) do(ctx context.Context, client *http.Client, agent string, req loader.Request, onProgress func(completed, total int64)) ([]byte, *loader.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, nil, apperrors.TransportError{URL: req.URL, Cause: err}
	}
	if agent != "" {
		httpReq.Header.Set("User-Agent", agent)
	}
	httpReq.Header.Set("Priority", priorityHeader(req.Priority))

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, nil, apperrors.TransportError{URL: req.URL, Cause: err}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, nil, apperrors.TransportError{URL: req.URL, StatusCode: httpResp.StatusCode}
	}

	total := httpResp.ContentLength // -1 when unknown
	var buf bytes.Buffer
	if total > 0 {
		buf.Grow(int(total))
	}
	chunk := make([]byte, progressChunkSize)
	for {
		n, rerr := httpResp.Body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if onProgress != nil {
				onProgress(int64(buf.Len()), total)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, nil, apperrors.TransportError{URL: req.URL, Cause: rerr}
		}
	}

	resp := &loader.Response{
		StatusCode:  httpResp.StatusCode,
		ContentType: httpResp.Header.Get("Content-Type"),
		URL:         httpResp.Request.URL.String(),
	}
	return buf.Bytes(), resp, nil
}

// priorityHeader maps a request priority to an RFC 9218 urgency value.
func priorityHeader(p loader.Priority) string {
	switch {
	case p >= loader.PriorityHigh:
		return "u=2"
	case p <= loader.PriorityLow:
		return "u=5"
	default:
		return "u=3"
	}
}

// Invalidate discards transport-level session state. In-flight fetches are
// allowed to finish on the old client.
func (h *HTTP) Invalidate() {
	h.mu.Lock()
	old := h.client
	h.client = &http.Client{Transport: old.Transport}
	h.mu.Unlock()
	old.CloseIdleConnections()
}

// ClearCache drops pooled connections; the HTTP transport keeps no response
// cache of its own.
func (h *HTTP) ClearCache() {
	h.mu.Lock()
	client := h.client
	h.mu.Unlock()
	client.CloseIdleConnections()
}
