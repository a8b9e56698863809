// Package transport provides the net/http implementation of the loader's
// Transport collaborator: chunked body streaming with byte-level progress
// reports, per-fetch cancellation and timeouts, and an at-most-one terminal
// callback guarantee per handle.
package transport
