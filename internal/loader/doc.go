// Package loader implements the image load orchestration engine: it
// deduplicates equivalent in-flight requests onto a single underlying fetch,
// drives each fetch through a multi-stage pipeline (cache lookup, network
// fetch, decode, process), fans progress and completion out to all interested
// callers, and enforces bounded concurrency with congestion control at each
// stage. Collaborators (transport, caches, decoder, processors, equivalence
// delegate) are pluggable interfaces; defaults live in the sibling packages
// transport, cache and imaging.
package loader
