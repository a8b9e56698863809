// Package cache provides the loader's cache collaborators: a Badger-backed
// disk cache for raw fetched bytes and a ristretto-backed memory cache for
// final processed images.
package cache
