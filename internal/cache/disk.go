package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/agbru/imgloader/internal/loader"
	"github.com/agbru/imgloader/internal/logging"
)

// Verify interface compliance.
var _ loader.Cache = (*Disk)(nil)

// KeyFunc derives the on-disk key for a request. The orchestrator only
// shares one stored payload between cache-equivalent requests, so the key
// function must not merge requests the equivalence delegate keeps apart.
type KeyFunc func(req loader.Request) string

// DefaultKey derives a key from the address, decompression target and
// content mode. The cache stores raw fetched bytes, which are identical for
// any two requests with the same address, so omitting the processor chain
// from the key is sound here; a delegate with a coarser notion of address
// equality needs a matching KeyFunc.
func DefaultKey(req loader.Request) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%dx%d|%d", req.URL, req.TargetSize.Width, req.TargetSize.Height, req.Mode)))
	return hex.EncodeToString(sum[:])
}

// Disk is a Badger-backed implementation of the loader's Cache collaborator.
// All methods may block on I/O; the orchestrator invokes them off its
// control path, on the cache-lookup executor.
type Disk struct {
	db     *badger.DB
	keyFor KeyFunc
	logger logging.Logger
}

// DiskOptions configures a Disk cache.
type DiskOptions struct {
	// Dir is the Badger database directory. Required.
	Dir string
	// Key overrides the key derivation. Defaults to DefaultKey.
	Key KeyFunc
	// Logger receives cache diagnostics.
	Logger logging.Logger
}

// OpenDisk opens (or creates) a disk cache in the given directory.
func OpenDisk(opts DiskOptions) (*Disk, error) {
	if opts.Dir == "" {
		return nil, errors.New("cache: directory is required")
	}
	keyFor := opts.Key
	if keyFor == nil {
		keyFor = DefaultKey
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	db, err := badger.Open(badger.DefaultOptions(opts.Dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("cache: open badger at %q: %w", opts.Dir, err)
	}
	return &Disk{db: db, keyFor: keyFor, logger: logger}, nil
}

// Lookup returns the stored bytes for the request, if any.
func (d *Disk) Lookup(req loader.Request) ([]byte, bool) {
	var data []byte
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(d.keyFor(req)))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false
	}
	if err != nil {
		d.logger.Warn("cache lookup failed", logging.String("url", req.URL), logging.Err(err))
		return nil, false
	}
	return data, true
}

// Store persists the bytes for the request. Failures are logged and
// swallowed: a broken cache write must not fail the load.
func (d *Disk) Store(data []byte, req loader.Request) {
	err := d.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(d.keyFor(req)), data)
	})
	if err != nil {
		d.logger.Warn("cache store failed", logging.String("url", req.URL), logging.Err(err))
	}
}

// Clear removes all stored entries.
func (d *Disk) Clear() {
	if err := d.db.DropAll(); err != nil {
		d.logger.Warn("cache clear failed", logging.Err(err))
	}
}

// Close releases the underlying database. The cache must not be used after.
func (d *Disk) Close() error {
	return d.db.Close()
}
