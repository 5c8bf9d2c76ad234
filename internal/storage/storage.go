package storage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
)

const (
	// defaultSyncInterval is the default interval between WAL syncs.
	defaultSyncInterval = 100 * time.Millisecond

	// defaultCacheSize is the default block cache size in bytes.
	defaultCacheSize = 32 << 20
)

// ErrClosed is returned by operations on a closed storage.
var ErrClosed = errors.New("storage closed")

// Option configures a Storage at creation.
type Option func(*options)

// options holds the tunables of a Storage.
type options struct {
	syncInterval time.Duration // syncInterval is the period of the WAL sync loop
	cacheSize    int64         // cacheSize is the pebble block cache size
}

// WithSyncInterval sets the period of the background WAL sync.
func WithSyncInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.syncInterval = d
		}
	}
}

// WithCacheSize sets the pebble block cache size in bytes.
func WithCacheSize(size int64) Option {
	return func(o *options) {
		if size > 0 {
			o.cacheSize = size
		}
	}
}

// Storage is a key-value store backed by Pebble.
// Writes are non-blocking (NoSync) and a background goroutine
// periodically syncs the WAL to disk for durability.
type Storage struct {
	db       *pebble.DB    // db is the underlying Pebble database
	stopSync chan struct{} // stopSync signals the sync goroutine to stop
	wg       sync.WaitGroup
	interval time.Duration // interval is the WAL sync period
	closed   bool          // closed is set once Close ran
	mu       sync.Mutex    // mu protects closed
}

// New opens (or creates) a Storage at the given path.
func New(path string, opts ...Option) (*Storage, error) {
	o := options{syncInterval: defaultSyncInterval, cacheSize: defaultCacheSize}
	for _, opt := range opts {
		opt(&o)
	}

	cache := pebble.NewCache(o.cacheSize)
	defer cache.Unref()

	db, err := pebble.Open(path, &pebble.Options{
		Cache:                       cache,
		MemTableSize:                16 << 20,
		MemTableStopWritesThreshold: 2,
	})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s:\n%w", path, err)
	}

	s := &Storage{
		db:       db,
		stopSync: make(chan struct{}),
		interval: o.syncInterval,
	}

	s.startSyncLoop()

	return s, nil
}

// Get retrieves the value for the given key.
// Returns nil if the key does not exist.
func (s *Storage) Get(key []byte) ([]byte, error) {
	value, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	// the slice is invalid after closer.Close()
	result := make([]byte, len(value))
	copy(result, value)

	return result, nil
}

// Set stores a key-value pair.
func (s *Storage) Set(key, value []byte) error {
	return s.db.Set(key, value, pebble.NoSync)
}

// Batch collects writes that are applied atomically by Commit.
type Batch struct {
	b *pebble.Batch
}

// NewBatch starts a new atomic write batch.
func (s *Storage) NewBatch() *Batch {
	return &Batch{b: s.db.NewBatch()}
}

// Set adds a key-value pair to the batch.
func (b *Batch) Set(key, value []byte) error {
	return b.b.Set(key, value, nil)
}

// Delete adds a deletion to the batch.
func (b *Batch) Delete(key []byte) error {
	return b.b.Delete(key, nil)
}

// Len returns the number of operations in the batch.
func (b *Batch) Len() int {
	return int(b.b.Count())
}

// Commit applies all writes of the batch, or none. If sync is true the WAL is
// flushed before returning.
func (b *Batch) Commit(sync bool) error {
	defer b.b.Close()

	opts := pebble.NoSync
	if sync {
		opts = pebble.Sync
	}

	return b.b.Commit(opts)
}

// Discard releases the batch without applying it.
func (b *Batch) Discard() {
	_ = b.b.Close()
}

// IteratePrefix calls fn for each key-value pair with the given prefix, in
// lexicographic key order. Iteration stops at the first error returned by fn.
func (s *Storage) IteratePrefix(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return err
		}

		if err := fn(iter.Key(), value); err != nil {
			return err
		}
	}

	return iter.Error()
}

// prefixUpperBound computes the exclusive upper bound for a prefix scan.
// Returns nil if prefix is all 0xFF (unbounded).
func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)

	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}

	return nil
}

// Close stops the sync goroutine, syncs the WAL a last time and closes the database.
func (s *Storage) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stopSync)
	s.wg.Wait()

	if err := s.sync(); err != nil {
		return err
	}

	return s.db.Close()
}

// startSyncLoop starts the background goroutine that periodically syncs the WAL.
func (s *Storage) startSyncLoop() {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_ = s.sync()
			case <-s.stopSync:
				return
			}
		}
	}()
}

// sync forces a WAL sync to disk.
func (s *Storage) sync() error {
	return s.db.LogData(nil, pebble.Sync)
}
