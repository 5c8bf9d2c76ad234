package state

import (
	"errors"
	"testing"

	"PodLedger/internal/corelib"
	"PodLedger/internal/types"
)

func TestUtilitiesState(t *testing.T) {
	s := newTestStore(t)
	obj := pushPoint(t, s)

	if err := s.Push(tx(2), call(), withUpdates(types.NewFieldUpdate(obj, fieldX, types.IntValue(5)))); err != nil {
		t.Fatalf("Push T2 failed: %v", err)
	}

	u := NewUtilities(s.Latest())

	state, err := u.State(obj)
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}

	if len(state) != 3 || !state[0].IsClassTag() {
		t.Fatalf("state = %v", state)
	}

	if state[1].Value != types.IntValue(5) || state[2].Value != types.IntValue(2) {
		t.Errorf("x, y = %v, %v, want 5, 2", state[1].Value, state[2].Value)
	}

	up, err := u.LastUpdateToField(obj, fieldY)
	if err != nil {
		t.Fatalf("LastUpdateToField failed: %v", err)
	}
	if up.Value != types.IntValue(2) {
		t.Errorf("y = %v", up.Value)
	}

	class, err := u.ClassName(obj)
	if err != nil || class != "Point" {
		t.Errorf("class = %q, %v", class, err)
	}
}

func TestUtilitiesEagerFields(t *testing.T) {
	s := newTestStore(t)
	obj := pushPoint(t, s)

	next := types.FieldSignature{Class: "Point", Name: "next", Type: "Point"}
	if err := s.Push(tx(2), call(), withUpdates(types.NewFieldUpdate(obj, next, obj))); err != nil {
		t.Fatalf("Push T2 failed: %v", err)
	}

	eager, err := NewUtilities(s.Latest()).EagerFields(obj)
	if err != nil {
		t.Fatalf("EagerFields failed: %v", err)
	}

	if len(eager) != 2 || eager[0].Field != fieldX || eager[1].Field != fieldY {
		t.Errorf("eager fields = %v", eager)
	}
}

func TestUtilitiesUnknownObject(t *testing.T) {
	u := NewUtilities(newTestStore(t).Latest())
	missing := types.StorageReference{Transaction: tx(9)}

	if _, err := u.State(missing); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("State err = %v, want not found", err)
	}

	if _, err := u.ClassTag(missing); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("ClassTag err = %v, want not found", err)
	}
}

func TestUtilitiesInconsistentStore(t *testing.T) {
	s := newTestStore(t)
	obj := pushPoint(t, s)

	// T1 loses its updates while the history of obj still refers to it
	if err := s.Replace(tx(1), call(), withUpdates()); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	_, err := NewUtilities(s.Latest()).LastUpdateToField(obj, fieldX)
	if !errors.Is(err, types.ErrInconsistentStore) || !errors.Is(err, types.ErrInternal) {
		t.Errorf("err = %v, want inconsistent store", err)
	}
}

func TestUtilitiesMissingField(t *testing.T) {
	s := newTestStore(t)
	obj := pushPoint(t, s)

	_, err := NewUtilities(s.Latest()).Balance(obj)
	if !errors.Is(err, types.ErrInconsistentStore) {
		t.Errorf("err = %v, want inconsistent store", err)
	}
}

func TestUtilitiesCharging(t *testing.T) {
	s := newTestStore(t)
	obj := pushPoint(t, s)

	if err := s.Push(tx(2), call(), withUpdates(types.NewFieldUpdate(obj, fieldX, types.IntValue(5)))); err != nil {
		t.Fatalf("Push T2 failed: %v", err)
	}

	reads := 0
	u := NewUtilities(s.Latest()).Charging(func() error {
		reads++
		return nil
	})

	if _, err := u.LastUpdateToField(obj, fieldY); err != nil {
		t.Fatalf("LastUpdateToField failed: %v", err)
	}

	if reads != 2 {
		t.Errorf("reads = %d, want 2", reads)
	}

	exhausted := errors.New("out of gas")
	u = u.Charging(func() error { return exhausted })

	if _, err := u.LastUpdateToField(obj, fieldY); !errors.Is(err, exhausted) {
		t.Errorf("err = %v, want the charge error", err)
	}
}

func TestUtilitiesManifestPointers(t *testing.T) {
	s := newTestStore(t)
	u := NewUtilities(s.Latest())

	if _, ok, err := u.Validators(); ok || err != nil {
		t.Fatalf("validators before initialization: %v, %v", ok, err)
	}

	core := tx(0xc0)
	manifest := types.StorageReference{Transaction: tx(3)}
	validators := types.StorageReference{Transaction: tx(3), Progressive: 1}

	created := types.NewConstructorCallResponse(types.Successful, []types.Update{
		types.NewClassTag(manifest, corelib.Manifest, core),
		types.NewFieldUpdate(manifest, corelib.ValidatorsField, validators),
		types.NewClassTag(validators, corelib.Validators, core),
		types.NewFieldUpdate(validators, corelib.CurrentSupplyField, types.BigIntOf(42)),
	}, nil, types.NewGasCost(), nil, nil)

	if err := s.Push(tx(3), call(), created); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	init := &types.InitializationRequest{Classpath: core, Manifest: manifest}
	if err := s.Push(tx(4), init, &types.InitializationResponse{}); err != nil {
		t.Fatalf("Push initialization failed: %v", err)
	}

	got, ok, err := u.Validators()
	if err != nil || !ok || got != validators {
		t.Fatalf("validators = %v, %v, %v", got, ok, err)
	}

	supply, err := u.CurrentSupply(got)
	if err != nil || supply.Int64() != 42 {
		t.Errorf("current supply = %v, %v", supply, err)
	}

	jar, ok, err := u.CoreJar()
	if err != nil || !ok || jar != core {
		t.Errorf("core jar = %v, %v, %v", jar.Short(), ok, err)
	}
}
