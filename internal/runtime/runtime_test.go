package runtime

import (
	"context"
	"errors"
	"testing"

	"PodLedger/internal/types"
)

func nativeJar(ref byte, classes ...types.ClassDef) LoadedJar {
	return LoadedJar{
		Ref:  types.TransactionReference{ref},
		Jar:  &types.Jar{Library: "test", Classes: classes},
		Size: 100,
	}
}

// newTestLoader links a small hierarchy: Base <- Point <- Point3.
func newTestLoader(t *testing.T) *ClassLoader {
	t.Helper()

	base := nativeJar(1,
		types.ClassDef{Name: "Base", Fields: []types.FieldDef{{Name: "owner", Type: "Base"}}},
	)
	points := nativeJar(2,
		types.ClassDef{Name: "Point", Superclass: "Base", Fields: []types.FieldDef{
			{Name: "y", Type: types.TypeInt},
			{Name: "x", Type: types.TypeInt},
			{Name: "label", Type: types.TypeString},
		}, Methods: []types.CodeDef{{Name: "move", Formals: []string{types.TypeInt}}}},
		types.ClassDef{Name: "Point3", Superclass: "Point", Fields: []types.FieldDef{{Name: "a", Type: types.TypeLong}}},
	)

	l, err := NewClassLoader(context.Background(), []types.TransactionReference{points.Ref}, []LoadedJar{base, points}, nil, nil)
	if err != nil {
		t.Fatalf("NewClassLoader failed: %v", err)
	}

	return l
}

func TestFieldOrder(t *testing.T) {
	l := newTestLoader(t)

	c, err := l.Class("Point3")
	if err != nil {
		t.Fatalf("Class failed: %v", err)
	}

	want := []string{"Base.owner", "Point.label", "Point.x", "Point.y", "Point3.a"}
	got := c.Fields()
	if len(got) != len(want) {
		t.Fatalf("fields = %v", got)
	}
	for i := range want {
		if got[i].Class+"."+got[i].Name != want[i] {
			t.Errorf("field %d = %s, want %s", i, got[i], want[i])
		}
	}

	// owner is a reference, hence lazy
	if n := len(c.EagerFields()); n != 4 {
		t.Errorf("eager fields = %d, want 4", n)
	}

	if l.Size() != 200 {
		t.Errorf("size = %d", l.Size())
	}
}

func TestLookup(t *testing.T) {
	l := newTestLoader(t)
	c, _ := l.Class("Point3")

	if !c.IsSubclassOf("Base") || c.IsSubclassOf("Other") {
		t.Error("wrong subclass relation")
	}

	declaring, code, ok := c.Method("move", []string{types.TypeInt})
	if !ok || declaring.Name() != "Point" || code.Name != "move" {
		t.Errorf("Method = %v, %v, %v", declaring, code, ok)
	}

	if _, _, ok := c.Method("move", []string{types.TypeLong}); ok {
		t.Error("method found with wrong formals")
	}

	if f, ok := c.Field("x"); !ok || f.Class != "Point" {
		t.Errorf("Field(x) = %v, %v", f, ok)
	}

	if _, err := l.Class("Missing"); !errors.Is(err, ErrClassNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestLinkErrors(t *testing.T) {
	ctx := context.Background()

	cyclic := nativeJar(1,
		types.ClassDef{Name: "A", Superclass: "B"},
		types.ClassDef{Name: "B", Superclass: "A"},
	)
	if _, err := NewClassLoader(ctx, nil, []LoadedJar{cyclic}, nil, nil); err == nil {
		t.Error("cyclic hierarchy accepted")
	}

	orphan := nativeJar(1, types.ClassDef{Name: "A", Superclass: "Missing"})
	if _, err := NewClassLoader(ctx, nil, []LoadedJar{orphan}, nil, nil); !errors.Is(err, ErrClassNotFound) {
		t.Errorf("missing superclass: err = %v", err)
	}

	twice := nativeJar(2, types.ClassDef{Name: "A"})
	if _, err := NewClassLoader(ctx, nil, []LoadedJar{nativeJar(1, types.ClassDef{Name: "A"}), twice}, nil, nil); err == nil {
		t.Error("duplicate class accepted")
	}

	wasm := LoadedJar{Ref: types.TransactionReference{3}, Jar: &types.Jar{Module: []byte{0}}}
	if _, err := NewClassLoader(ctx, nil, []LoadedJar{wasm}, nil, nil); err == nil {
		t.Error("wasm jar accepted without module loader")
	}
}

func TestFreshObjectUpdates(t *testing.T) {
	l := newTestLoader(t)
	c, _ := l.Class("Point")
	ref := types.StorageReference{Transaction: types.TransactionReference{9}}

	o := NewObject(ref, c)
	if err := o.SetNamed("x", types.IntValue(3)); err != nil {
		t.Fatalf("SetNamed failed: %v", err)
	}

	updates := o.Updates()
	if len(updates) != 5 {
		t.Fatalf("updates = %v", updates)
	}
	if !updates[0].IsClassTag() || updates[0].Tag.Class != "Point" || updates[0].Tag.Jar != c.Jar {
		t.Errorf("first update = %s", updates[0])
	}

	if err := o.SetNamed("z", types.IntValue(1)); err == nil {
		t.Error("unknown field accepted")
	}
}

func TestRestoredObjectUpdates(t *testing.T) {
	l := newTestLoader(t)
	c, _ := l.Class("Point")
	base, _ := l.Class("Base")
	ref := types.StorageReference{Transaction: types.TransactionReference{9}}
	other := NewObject(types.StorageReference{Transaction: types.TransactionReference{8}}, base)

	x, _ := c.Field("x")
	y, _ := c.Field("y")
	owner, _ := c.Field("owner")

	loads := 0
	lazy := func(o *Object, f types.FieldSignature) (types.Value, error) {
		loads++
		return other, nil
	}

	o := RestoreObject(ref, c, map[types.FieldSignature]types.Value{
		x: types.IntValue(1),
		y: types.IntValue(2),
	}, lazy)

	if len(o.Updates()) != 0 {
		t.Errorf("untouched object has updates: %v", o.Updates())
	}

	o.Set(x, types.IntValue(1))
	o.Set(y, types.IntValue(7))

	got, err := o.Reference(owner)
	if err != nil || got != other {
		t.Fatalf("Reference = %v, %v", got, err)
	}
	o.Reference(owner)
	if loads != 1 {
		t.Errorf("lazy field loaded %d times", loads)
	}

	updates := o.Updates()
	if len(updates) != 1 || updates[0].Field != y {
		t.Errorf("updates = %v, want only y", updates)
	}
}
