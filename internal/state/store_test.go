package state

import (
	"errors"
	"testing"

	"PodLedger/internal/storage"
	"PodLedger/internal/types"
)

var (
	fieldX = types.FieldSignature{Class: "Point", Name: "x", Type: types.TypeInt}
	fieldY = types.FieldSignature{Class: "Point", Name: "y", Type: types.TypeInt}
)

// newTestStore creates a store on a temporary pebble database.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	t.Cleanup(func() { db.Close() })

	return New(db)
}

func tx(b byte) types.TransactionReference {
	var ref types.TransactionReference
	ref[0] = b
	return ref
}

func call() types.Request {
	return &types.StaticMethodCallRequest{
		NonInitialFields: types.NonInitialFields{ChainID: "test"},
		Method:           types.MethodSignature{Class: "Point", Name: "move"},
	}
}

func withUpdates(updates ...types.Update) types.Response {
	return types.NewMethodCallResponse(types.Successful, updates, nil, types.NewGasCost(), nil, nil)
}

// pushPoint creates obj at T1 with x=1 y=2 and returns it.
func pushPoint(t *testing.T, s *Store) types.StorageReference {
	t.Helper()

	obj := types.StorageReference{Transaction: tx(1)}
	created := types.NewConstructorCallResponse(types.Successful, []types.Update{
		types.NewClassTag(obj, "Point", tx(0xaa)),
		types.NewFieldUpdate(obj, fieldX, types.IntValue(1)),
		types.NewFieldUpdate(obj, fieldY, types.IntValue(2)),
	}, nil, types.NewGasCost(), nil, nil)

	if err := s.Push(tx(1), call(), created); err != nil {
		t.Fatalf("Push T1 failed: %v", err)
	}

	return obj
}

func assertHistory(t *testing.T, v View, obj types.StorageReference, want ...types.TransactionReference) {
	t.Helper()

	got, err := v.History(obj)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}

	if len(got) != len(want) {
		t.Fatalf("history = %v, want %v", got, want)
	}

	for i := range want {
		if got[i] != want[i] {
			t.Errorf("history[%d] = %s, want %s", i, got[i].Short(), want[i].Short())
		}
	}
}

func TestHistoryKeepsContributingEntries(t *testing.T) {
	s := newTestStore(t)
	obj := pushPoint(t, s)

	if err := s.Push(tx(2), call(), withUpdates(types.NewFieldUpdate(obj, fieldX, types.IntValue(5)))); err != nil {
		t.Fatalf("Push T2 failed: %v", err)
	}

	assertHistory(t, s.Latest(), obj, tx(2), tx(1))
}

func TestHistoryDropsCoveredEntries(t *testing.T) {
	s := newTestStore(t)
	obj := pushPoint(t, s)

	s.Push(tx(2), call(), withUpdates(types.NewFieldUpdate(obj, fieldX, types.IntValue(5))))

	err := s.Push(tx(3), call(), withUpdates(
		types.NewFieldUpdate(obj, fieldX, types.IntValue(9)),
		types.NewFieldUpdate(obj, fieldY, types.IntValue(9)),
	))
	if err != nil {
		t.Fatalf("Push T3 failed: %v", err)
	}

	// T1 holds the class tag and stays as the anchor
	assertHistory(t, s.Latest(), obj, tx(3), tx(1))
}

func TestHistoryKeepsLastElementEvenIfCovered(t *testing.T) {
	s := newTestStore(t)
	obj := types.StorageReference{Transaction: tx(1)}

	s.Push(tx(1), call(), withUpdates(types.NewFieldUpdate(obj, fieldX, types.IntValue(1))))
	s.Push(tx(2), call(), withUpdates(types.NewFieldUpdate(obj, fieldX, types.IntValue(2))))
	s.Push(tx(3), call(), withUpdates(types.NewFieldUpdate(obj, fieldX, types.IntValue(3))))

	assertHistory(t, s.Latest(), obj, tx(3), tx(1))
}

func TestCommitVisibility(t *testing.T) {
	s := newTestStore(t)
	obj := pushPoint(t, s)

	if _, err := s.Committed().Response(tx(1)); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("committed response before commit: err = %v", err)
	}

	if h, _ := s.Committed().History(obj); len(h) != 0 {
		t.Errorf("committed history before commit = %v", h)
	}

	if _, err := s.Latest().Response(tx(1)); err != nil {
		t.Errorf("latest response: %v", err)
	}

	if err := s.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if s.Pending() != 0 {
		t.Errorf("pending after commit = %d", s.Pending())
	}

	assertHistory(t, s.Committed(), obj, tx(1))

	resp, err := s.Committed().Response(tx(1))
	if err != nil {
		t.Fatalf("committed response: %v", err)
	}
	if len(types.UpdatesOf(resp)) != 3 {
		t.Errorf("updates = %v", types.UpdatesOf(resp))
	}

	count := 0
	s.Histories(func(types.StorageReference, []types.TransactionReference) error {
		count++
		return nil
	})
	if count != 1 {
		t.Errorf("histories = %d, want 1", count)
	}
}

func TestPushErrorIsRejected(t *testing.T) {
	s := newTestStore(t)

	if err := s.PushError(tx(4), call(), "nonce mismatch"); err != nil {
		t.Fatalf("PushError failed: %v", err)
	}

	_, err := s.Latest().Response(tx(4))
	if !errors.Is(err, types.ErrRejected) {
		t.Fatalf("err = %v, want rejected", err)
	}
	if err.Error() != "nonce mismatch" {
		t.Errorf("message = %q", err.Error())
	}

	if _, err := s.Latest().Request(tx(4)); err != nil {
		t.Errorf("request of rejected transaction: %v", err)
	}
}

func TestReplaceKeepsHistories(t *testing.T) {
	s := newTestStore(t)
	obj := pushPoint(t, s)

	failed := types.NewMethodCallResponse(types.Failed, nil, nil, types.NewGasCost(), nil, &types.Failure{Class: "verification"})
	if err := s.Replace(tx(1), call(), failed); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	assertHistory(t, s.Latest(), obj, tx(1))

	resp, _ := s.Latest().Response(tx(1))
	if r, ok := resp.(types.NonInitialResponse); !ok || r.Result() != types.Failed {
		t.Errorf("response not replaced: %#v", resp)
	}
}

func TestManifestSetOnce(t *testing.T) {
	s := newTestStore(t)

	if _, set, _ := s.Latest().Manifest(); set {
		t.Fatal("manifest set on empty store")
	}

	manifest := types.StorageReference{Transaction: tx(7), Progressive: 1}
	init := &types.InitializationRequest{Classpath: tx(0xaa), Manifest: manifest}

	if err := s.Push(tx(8), init, &types.InitializationResponse{}); err != nil {
		t.Fatalf("Push initialization failed: %v", err)
	}

	got, set, err := s.Latest().Manifest()
	if err != nil || !set || got != manifest {
		t.Errorf("Manifest = %v, %v, %v", got, set, err)
	}

	pending := s.Pending()

	if err := s.Push(tx(9), init, &types.InitializationResponse{}); !errors.Is(err, ErrManifestAlreadySet) {
		t.Errorf("second initialization: err = %v", err)
	}

	if _, err := s.Latest().Response(tx(9)); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("rejected initialization left its response: err = %v", err)
	}
	if _, err := s.Latest().Request(tx(9)); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("rejected initialization left its request: err = %v", err)
	}
	if got := s.Pending(); got != pending {
		t.Errorf("pending writes = %d after a failed push, want %d", got, pending)
	}
}

func TestHistoryToMissingResponseIsInconsistent(t *testing.T) {
	s := newTestStore(t)
	obj := pushPoint(t, s)

	s.Push(tx(2), call(), withUpdates(types.NewFieldUpdate(obj, fieldX, types.IntValue(5))))

	// T2 loses its updates, so the history now points to nothing useful
	s.Replace(tx(2), call(), &types.JarStoreInitialResponse{})

	err := s.Push(tx(3), call(), withUpdates(types.NewFieldUpdate(obj, fieldY, types.IntValue(7))))
	if !errors.Is(err, types.ErrInconsistentStore) {
		t.Errorf("err = %v, want inconsistent store", err)
	}

	if _, err := s.Latest().Response(tx(3)); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("failed push left its response: err = %v", err)
	}
}
