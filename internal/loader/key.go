package loader

// EquivalencePolicy selects which equivalence relation a Key compares under.
type EquivalencePolicy int

const (
	// LoadEquivalence groups requests that can share one underlying fetch.
	LoadEquivalence EquivalencePolicy = iota
	// CacheEquivalence groups requests that produce the same cacheable
	// output image. Strictly narrower than or equal to LoadEquivalence.
	CacheEquivalence
)

// Key is the dictionary key used for deduplication registries. Equality is
// delegated to the owning policy rather than raw structural equality of the
// request, so irrelevant fields (such as a cache-busting token) never split
// an equivalence class.
type Key struct {
	Request Request
	Policy  EquivalencePolicy
}

// KeyFor derives the registry key for a request under the given policy.
func KeyFor(req Request, policy EquivalencePolicy) Key {
	return Key{Request: req, Policy: policy}
}

// Equal reports whether two keys fall in the same equivalence class under
// the delegate. Keys of different policies are never equal.
func (k Key) Equal(other Key, d Delegate) bool {
	if k.Policy != other.Policy {
		return false
	}
	switch k.Policy {
	case CacheEquivalence:
		return d.IsCacheEquivalent(k.Request, other.Request)
	default:
		return d.IsLoadEquivalent(k.Request, other.Request)
	}
}

// bucket returns a coarse grouping under which policy equality is decided by
// linear scan. Both equivalence relations require the same resource address,
// so the URL is a sound bucket for either policy.
func (k Key) bucket() string { return k.Request.URL }

// fetchTable is the registry of live fetch tasks, keyed by load-equivalence.
// It holds at most one fetch task per equivalence class at any instant.
// Buckets group by URL; within a bucket, membership is decided by the
// delegate's load-equivalence predicate. Only the manager's control path
// touches a fetchTable.
type fetchTable struct {
	delegate Delegate
	buckets  map[string][]*fetchTask
}

func newFetchTable(delegate Delegate) *fetchTable {
	return &fetchTable{delegate: delegate, buckets: make(map[string][]*fetchTask)}
}

// lookup returns the live fetch task for the key's equivalence class, if any.
func (ft *fetchTable) lookup(key Key) *fetchTask {
	for _, f := range ft.buckets[key.bucket()] {
		if f.key.Equal(key, ft.delegate) {
			return f
		}
	}
	return nil
}

// insert registers a fetch task under its key.
func (ft *fetchTable) insert(f *fetchTask) {
	b := f.key.bucket()
	ft.buckets[b] = append(ft.buckets[b], f)
}

// remove evicts a fetch task. Removal compares by identity, not by key, so a
// registry slot later overwritten by a fresh fetch for the same class is
// never clobbered by the stale task's eviction.
func (ft *fetchTable) remove(f *fetchTask) {
	b := f.key.bucket()
	entries := ft.buckets[b]
	for i, cur := range entries {
		if cur == f {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(ft.buckets, b)
		return
	}
	ft.buckets[b] = entries
}
