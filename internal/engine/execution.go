package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"slices"
	"strings"

	"PodLedger/internal/codec"
	"PodLedger/internal/corelib"
	"PodLedger/internal/podvm"
	"PodLedger/internal/runtime"
	"PodLedger/internal/types"
)

// nativeLibraries maps the library of native jars to their implementation.
var nativeLibraries = map[string]map[string]runtime.Native{
	corelib.Library: corelib.Natives,
}

// checkedException is a thrown exception that the running code declares.
// It ends the transaction with the Exception outcome.
type checkedException struct {
	thrown *runtime.Thrown
}

func (e *checkedException) Error() string { return e.thrown.Error() }
func (e *checkedException) Unwrap() error { return e.thrown }

// execution is the running state of a transaction. It implements the
// runtime.Frame seen by native code.
type execution struct {
	ctx     context.Context            // ctx bounds the calls to wasm modules
	ref     types.TransactionReference // ref is the running transaction
	node    Node                       // node provides the cost model and the modules
	loader  *runtime.ClassLoader       // loader resolves classes
	deser   *Deserializer              // deser materializes stored objects
	payment *payment                   // payment tracks the consumed gas
	caller  *runtime.Object            // caller is the account running the transaction
	fresh   []*runtime.Object          // fresh are the objects created by the transaction
	events  []*runtime.Object          // events are the emitted events
}

func (e *execution) Caller() *runtime.Object { return e.caller }

// New creates an object whose reference is the next progressive of the transaction.
func (e *execution) New(className string) (*runtime.Object, error) {
	class, err := e.loader.Class(className)
	if err != nil {
		return nil, err
	}

	model := e.node.CostModel()
	ram := new(big.Int).Mul(model.RAMCostOfField(), big.NewInt(int64(len(class.Fields()))))
	if err := e.payment.ChargeRAM(ram.Add(ram, model.RAMCostOfObject())); err != nil {
		return nil, err
	}

	ref := types.StorageReference{Transaction: e.ref, Progressive: uint32(len(e.fresh))}
	o := runtime.NewObject(ref, class)
	e.fresh = append(e.fresh, o)

	return o, nil
}

// Emit records an event.
func (e *execution) Emit(event *runtime.Object) error {
	if event == nil || !event.Class().IsSubclassOf(corelib.Event) {
		return fmt.Errorf("%v is not an event", event)
	}

	e.events = append(e.events, event)

	return nil
}

func (e *execution) ChargeCPU(amount int64) error {
	return e.payment.ChargeCPU(big.NewInt(amount))
}

// invoke runs a constructor or method declared by class.
func (e *execution) invoke(class *runtime.Class, code *types.CodeDef, name string, receiver *runtime.Object, args []types.Value) (types.Value, error) {
	model := e.node.CostModel()
	if err := e.payment.ChargeCPU(model.CPUCostOfInvocation()); err != nil {
		return nil, err
	}
	if err := e.payment.ChargeRAM(model.RAMCostOfActivationRecord()); err != nil {
		return nil, err
	}

	var (
		result types.Value
		err    error
	)

	if class.IsNative() {
		result, err = e.invokeNative(class, name, receiver, args)
	} else {
		result, err = e.invokeModule(class, name, receiver, args)
	}

	var thrown *runtime.Thrown
	if errors.As(err, &thrown) && code.Throws {
		return nil, &checkedException{thrown: thrown}
	}

	return result, err
}

func (e *execution) invokeNative(class *runtime.Class, name string, receiver *runtime.Object, args []types.Value) (types.Value, error) {
	impl, ok := nativeLibraries[class.Native][class.ExportName(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoImplementation, class.ExportName(name))
	}

	return impl(e, receiver, args)
}

// invokeModule calls the function of the wasm module that implements the
// code. The receiver's eager fields go in, its field writes come out.
func (e *execution) invokeModule(class *runtime.Class, name string, receiver *runtime.Object, args []types.Value) (types.Value, error) {
	modules := e.node.Modules()
	if modules == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoImplementation, class.ExportName(name))
	}

	in := &codec.CallInput{Method: class.ExportName(name), Caller: e.caller.Ref()}

	for _, a := range args {
		in.Actuals = append(in.Actuals, runtime.Persist(a))
	}

	if receiver != nil {
		ref := receiver.Ref()
		in.Receiver = &ref

		for _, f := range receiver.Class().EagerFields() {
			v, err := receiver.Get(f)
			if err != nil {
				return nil, err
			}
			in.Fields = append(in.Fields, codec.NamedValue{Name: f.Name, Value: v})
		}
	}

	limit := uint64(math.MaxUint64)
	if remaining := e.payment.Remaining(); remaining.IsUint64() {
		limit = remaining.Uint64()
	}

	raw, used, err := modules.Call(e.ctx, class.Module, in.Method, codec.EncodeCallInput(in), limit)
	if chargeErr := e.payment.ChargeCPU(new(big.Int).SetUint64(used)); chargeErr != nil {
		return nil, chargeErr
	}

	if errors.Is(err, podvm.ErrGasExhausted) {
		return nil, fmt.Errorf("%w: in %s", ErrOutOfGas, in.Method)
	}
	if err != nil {
		return nil, err
	}

	out, err := codec.DecodeCallOutput(raw)
	if err != nil {
		return nil, fmt.Errorf("output of %s:\n%w", in.Method, err)
	}

	if out.ExceptionClass != "" {
		return nil, runtime.Throw(out.ExceptionClass, out.ExceptionMessage)
	}

	if len(out.Writes) > 0 && receiver == nil {
		return nil, fmt.Errorf("static method %s wrote fields", in.Method)
	}

	for _, w := range out.Writes {
		v, err := e.deser.Deserialize(w.Value)
		if err != nil {
			return nil, err
		}

		if err := receiver.SetNamed(w.Name, v); err != nil {
			return nil, err
		}
	}

	if out.Result == nil {
		return nil, nil
	}

	return e.deser.Deserialize(out.Result)
}

// actuals deserializes the arguments of a call and checks them against the formals.
func (e *execution) actuals(formals []string, values []types.Value) ([]types.Value, error) {
	if len(formals) != len(values) {
		return nil, runtime.Throw(corelib.IllegalArgumentError, fmt.Sprintf("expected %d arguments, got %d", len(formals), len(values)))
	}

	args := make([]types.Value, len(values))

	for i, v := range values {
		arg, err := e.deser.Deserialize(v)
		if err != nil {
			return nil, err
		}

		if !conforms(formals[i], arg) {
			return nil, runtime.Throw(corelib.IllegalArgumentError, fmt.Sprintf("argument %d is %s, not a %s", i, v, formals[i]))
		}

		args[i] = arg
	}

	return args, nil
}

// conforms reports whether a runtime value can be passed for a formal type.
func conforms(formal string, v types.Value) bool {
	switch formal {
	case types.TypeBool:
		return v.Kind() == types.KindBool
	case types.TypeInt:
		return v.Kind() == types.KindInt
	case types.TypeLong:
		return v.Kind() == types.KindLong
	case types.TypeBigInt:
		return v.Kind() == types.KindBigInt || v.Kind() == types.KindNull
	case types.TypeString:
		return v.Kind() == types.KindString || v.Kind() == types.KindNull
	}

	switch x := v.(type) {
	case types.NullValue:
		return true
	case types.EnumValue:
		enum, ok := strings.CutPrefix(formal, types.EnumTypePrefix)
		return ok && x.Class == enum
	case *runtime.Object:
		return x.Class().IsSubclassOf(formal)
	default:
		return false
	}
}

// updates returns the updates of the objects loaded or created by the
// transaction, sorted.
func (e *execution) updates() []types.Update {
	var updates []types.Update

	for _, o := range e.deser.Objects() {
		updates = append(updates, o.Updates()...)
	}

	for _, o := range e.fresh {
		updates = append(updates, o.Updates()...)
	}

	slices.SortFunc(updates, types.CompareUpdates)

	return updates
}

// eventRefs returns the references of the emitted events.
func (e *execution) eventRefs() []types.StorageReference {
	refs := make([]types.StorageReference, len(e.events))
	for i, ev := range e.events {
		refs[i] = ev.Ref()
	}

	return refs
}
