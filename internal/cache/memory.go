package cache

import (
	"image"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/agbru/imgloader/internal/loader"
)

// Verify interface compliance.
var _ loader.ImageCache = (*Memory)(nil)

// DefaultMemoryCacheSize is the default cost budget of the processed-image
// memory cache, in approximate bytes of pixel data.
const DefaultMemoryCacheSize = 128 << 20

// Memory is a ristretto-backed cache of final processed images, keyed like
// the disk cache plus the processor chain identity. Admission and eviction
// are cost-based on decoded pixel size.
type Memory struct {
	cache  *ristretto.Cache[string, image.Image]
	keyFor func(loader.Request) (string, bool)
}

// NewMemory creates a memory cache with the given cost budget in bytes.
// A non-positive budget selects DefaultMemoryCacheSize.
func NewMemory(maxBytes int64) (*Memory, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMemoryCacheSize
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, image.Image]{
		NumCounters: 1e4,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Memory{cache: c, keyFor: memoryKey}, nil
}

// memoryKey extends DefaultKey with the processor chain identity, since two
// requests differing only in processing yield different final images.
// Requests whose processor has no printable identity are not keyable and
// bypass the memory cache entirely.
func memoryKey(req loader.Request) (string, bool) {
	fp, ok := processorFingerprint(req.Processor)
	if !ok {
		return "", false
	}
	return DefaultKey(req) + "|" + fp, true
}

func processorFingerprint(p loader.Processor) (string, bool) {
	if p == nil {
		return "", true
	}
	if s, ok := p.(interface{ String() string }); ok {
		return s.String(), true
	}
	return "", false
}

// Get returns the cached processed image for the request, if any.
func (m *Memory) Get(req loader.Request) (image.Image, bool) {
	key, ok := m.keyFor(req)
	if !ok {
		return nil, false
	}
	return m.cache.Get(key)
}

// Set stores the processed image, costed by its pixel byte size.
func (m *Memory) Set(req loader.Request, img image.Image) {
	key, ok := m.keyFor(req)
	if !ok {
		return
	}
	b := img.Bounds()
	cost := int64(b.Dx()) * int64(b.Dy()) * 4
	if cost <= 0 {
		cost = 1
	}
	m.cache.Set(key, img, cost)
}

// Clear drops every cached image.
func (m *Memory) Clear() {
	m.cache.Clear()
}

// Wait blocks until pending writes are applied. Intended for tests.
func (m *Memory) Wait() {
	m.cache.Wait()
}
