package state

import (
	"fmt"

	"PodLedger/internal/codec"
	"PodLedger/internal/types"
)

// View reads the store.
type View interface {
	// Request returns the request of a transaction, or types.ErrNotFound.
	Request(ref types.TransactionReference) (types.Request, error)

	// Response returns the response of a transaction. Transactions recorded
	// with PushError yield a *types.RejectedError; unknown ones types.ErrNotFound.
	Response(ref types.TransactionReference) (types.Response, error)

	// History returns the history of an object, newest first. It is empty for unknown objects.
	History(object types.StorageReference) ([]types.TransactionReference, error)

	// Manifest returns the manifest, if the node is initialized.
	Manifest() (types.StorageReference, bool, error)
}

// lockedView takes the read lock of the store around every read.
type lockedView struct {
	s         *Store
	committed bool
}

func (v lockedView) Request(ref types.TransactionReference) (types.Request, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	return v.s.reader(v.committed).Request(ref)
}

func (v lockedView) Response(ref types.TransactionReference) (types.Response, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	return v.s.reader(v.committed).Response(ref)
}

func (v lockedView) History(object types.StorageReference) ([]types.TransactionReference, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	return v.s.reader(v.committed).History(object)
}

func (v lockedView) Manifest() (types.StorageReference, bool, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	return v.s.reader(v.committed).Manifest()
}

// reader reads the store without locking. The caller holds mu.
type reader struct {
	s         *Store
	committed bool
}

// get returns the value of a key, looking at pending writes unless committed.
func (r reader) get(key []byte) ([]byte, error) {
	if !r.committed {
		if e, ok := r.s.pending[string(key)]; ok {
			return e.value, nil
		}
	}

	value, err := r.s.db.Get(key)
	if err != nil {
		return nil, fmt.Errorf("read %q:\n%w", key[:2], err)
	}

	return value, nil
}

func (r reader) Request(ref types.TransactionReference) (types.Request, error) {
	data, err := r.get(requestKey(ref))
	if err != nil {
		return nil, err
	}

	if data == nil {
		return nil, fmt.Errorf("request %s: %w", ref, types.ErrNotFound)
	}

	req, err := codec.DecodeRequest(data)
	if err != nil {
		return nil, types.Inconsistent("request %s: %v", ref, err)
	}

	return req, nil
}

func (r reader) Response(ref types.TransactionReference) (types.Response, error) {
	data, err := r.get(responseKey(ref))
	if err != nil {
		return nil, err
	}

	if data == nil {
		message, err := r.get(errorKey(ref))
		if err != nil {
			return nil, err
		}

		if message != nil {
			return nil, types.Rejected("%s", message)
		}

		return nil, fmt.Errorf("response %s: %w", ref, types.ErrNotFound)
	}

	resp, err := codec.DecodeResponse(data)
	if err != nil {
		return nil, types.Inconsistent("response %s: %v", ref, err)
	}

	return resp, nil
}

func (r reader) History(object types.StorageReference) ([]types.TransactionReference, error) {
	data, err := r.get(historyKey(object))
	if err != nil || data == nil {
		return nil, err
	}

	history, err := codec.DecodeHistory(data)
	if err != nil {
		return nil, types.Inconsistent("history of %s: %v", object, err)
	}

	return history, nil
}

func (r reader) Manifest() (types.StorageReference, bool, error) {
	data, err := r.get(manifestKey)
	if err != nil || data == nil {
		return types.StorageReference{}, false, err
	}

	manifest, err := types.StorageReferenceFromBytes(data)
	if err != nil {
		return types.StorageReference{}, false, types.Inconsistent("manifest: %v", err)
	}

	return manifest, true, nil
}

// updatesOf returns the updates of the response at ref. A history entry
// whose response is missing or has no updates means the store is corrupt.
func (r reader) updatesOf(ref types.TransactionReference) ([]types.Update, error) {
	resp, err := r.Response(ref)
	if err != nil {
		return nil, types.Inconsistent("history refers to %s: %v", ref, err)
	}

	updates := types.UpdatesOf(resp)
	if updates == nil {
		return nil, types.Inconsistent("history refers to %s, whose response has no updates", ref)
	}

	return updates, nil
}
