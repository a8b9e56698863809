// Package metrics exposes Prometheus collectors for the image load pipeline:
// fetch dedup effectiveness, cache hit rates, stage durations and failure
// counts. All recording methods are nil-safe so instrumentation is optional.
package metrics
