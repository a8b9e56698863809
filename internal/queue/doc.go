// Package queue implements the bounded FIFO work executors backing each
// stage of the image load pipeline (cache lookup, fetch admission, decode,
// process). Every queue enforces a concurrency cap with FIFO admission and
// per-item cancellation; the retained-slot mode additionally provides the
// congestion control used to defer new fetch starts while the transport is
// saturated.
package queue
