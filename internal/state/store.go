package state

import (
	"errors"
	"fmt"
	"sync"

	"PodLedger/internal/codec"
	"PodLedger/internal/logger"
	"PodLedger/internal/storage"
	"PodLedger/internal/types"
)

// ErrManifestAlreadySet is returned when a second initialization is pushed.
var ErrManifestAlreadySet = errors.New("manifest already set")

// entry is a pending write. A nil value deletes the key.
type entry struct {
	value []byte
}

// Store keeps requests, responses and object histories.
// Pushed data is visible to Latest at once and to Committed after Commit.
type Store struct {
	db      *storage.Storage // db is the persistent storage
	mu      sync.RWMutex     // mu protects pending
	pending map[string]entry // pending holds the uncommitted writes
}

// New creates a Store on top of the given storage.
func New(db *storage.Storage) *Store {
	return &Store{
		db:      db,
		pending: make(map[string]entry),
	}
}

// Push records request and response of a transaction and expands the
// histories of the objects that the response updates. Nothing is written
// if it fails.
func (s *Store) Push(ref types.TransactionReference, req types.Request, resp types.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var manifest *types.StorageReference
	if _, ok := resp.(*types.InitializationResponse); ok {
		init, ok := req.(*types.InitializationRequest)
		if !ok {
			return types.Inconsistent("initialization response for a %T", req)
		}

		if _, set, err := s.reader(false).Manifest(); err != nil {
			return err
		} else if set {
			return ErrManifestAlreadySet
		}

		manifest = &init.Manifest
	}

	histories, err := s.expandHistories(ref, types.UpdatesOf(resp))
	if err != nil {
		return fmt.Errorf("expand histories:\n%w", err)
	}

	s.putTransaction(ref, req, resp)
	for key, e := range histories {
		s.pending[key] = e
	}

	if manifest != nil {
		s.pending[string(manifestKey)] = entry{value: manifest.Bytes()}
		logger.Info("manifest set", "manifest", *manifest)
	}

	return nil
}

// PushError records a request that could not be executed, with the reason.
func (s *Store) PushError(ref types.TransactionReference, req types.Request, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending[string(requestKey(ref))] = entry{value: codec.EncodeRequest(req)}
	s.pending[string(errorKey(ref))] = entry{value: []byte(message)}

	return nil
}

// Replace overwrites request and response of a transaction without touching
// any history.
func (s *Store) Replace(ref types.TransactionReference, req types.Request, resp types.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.putTransaction(ref, req, resp)

	return nil
}

// putTransaction writes request and response. Must hold mu.
func (s *Store) putTransaction(ref types.TransactionReference, req types.Request, resp types.Response) {
	s.pending[string(requestKey(ref))] = entry{value: codec.EncodeRequest(req)}
	s.pending[string(responseKey(ref))] = entry{value: codec.EncodeResponse(resp)}
	s.pending[string(errorKey(ref))] = entry{}
}

// expandHistories returns the history of every object in updates with ref
// prepended, simplifying what follows. Must hold mu.
func (s *Store) expandHistories(ref types.TransactionReference, updates []types.Update) (map[string]entry, error) {
	r := s.reader(false)
	histories := make(map[string]entry)

	seen := make(map[types.StorageReference]bool)
	for _, u := range updates {
		if seen[u.Object] {
			continue
		}
		seen[u.Object] = true

		old, err := r.History(u.Object)
		if err != nil {
			return nil, err
		}

		history, err := simplify(ref, u.Object, updates, old, r.updatesOf)
		if err != nil {
			return nil, err
		}

		histories[string(historyKey(u.Object))] = entry{value: codec.EncodeHistory(history)}
	}

	return histories, nil
}

// Commit makes all pending writes durable and visible to Committed.
func (s *Store) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return nil
	}

	batch := s.db.NewBatch()

	for key, e := range s.pending {
		var err error
		if e.value == nil {
			err = batch.Delete([]byte(key))
		} else {
			err = batch.Set([]byte(key), e.value)
		}

		if err != nil {
			batch.Discard()
			return fmt.Errorf("batch write:\n%w", err)
		}
	}

	if err := batch.Commit(true); err != nil {
		return fmt.Errorf("commit batch:\n%w", err)
	}

	logger.Debug("store committed", "writes", len(s.pending))
	s.pending = make(map[string]entry)

	return nil
}

// Pending returns the number of uncommitted writes.
func (s *Store) Pending() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.pending)
}

// Latest returns a view including uncommitted writes.
func (s *Store) Latest() View {
	return lockedView{s: s, committed: false}
}

// Committed returns a view of the committed state only.
func (s *Store) Committed() View {
	return lockedView{s: s, committed: true}
}

// Histories calls fn for the committed history of every object.
func (s *Store) Histories(fn func(types.StorageReference, []types.TransactionReference) error) error {
	return s.db.IteratePrefix(historyPrefix, func(key, value []byte) error {
		object, err := types.StorageReferenceFromBytes(key[len(historyPrefix):])
		if err != nil {
			return types.Inconsistent("history key %x", key)
		}

		history, err := codec.DecodeHistory(value)
		if err != nil {
			return types.Inconsistent("history of %s: %v", object, err)
		}

		return fn(object, history)
	})
}

func (s *Store) reader(committed bool) reader {
	return reader{s: s, committed: committed}
}
