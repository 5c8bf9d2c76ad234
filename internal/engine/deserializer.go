package engine

import (
	"errors"
	"strings"

	"PodLedger/internal/gas"
	"PodLedger/internal/runtime"
	"PodLedger/internal/state"
	"PodLedger/internal/types"
)

// Deserializer turns stored values into runtime values. Every storage
// reference is materialized once: later requests for it yield the same object.
type Deserializer struct {
	loader *runtime.ClassLoader                       // loader resolves the classes of objects
	utils  *state.Utilities                           // utils reads the histories of objects
	model  gas.CostModel                              // model prices loading, nil with a nil meter
	meter  Meter                                      // meter is charged for loading, may be nil
	cache  map[types.StorageReference]*runtime.Object // cache holds the materialized objects
	loaded []*runtime.Object                          // loaded lists cache in load order
}

// NewDeserializer creates a deserializer. If meter is not nil, every read of
// a response is charged as CPU and every object and field as RAM.
func NewDeserializer(loader *runtime.ClassLoader, utils *state.Utilities, model gas.CostModel, meter Meter) *Deserializer {
	d := &Deserializer{
		loader: loader,
		utils:  utils,
		model:  model,
		meter:  meter,
		cache:  make(map[types.StorageReference]*runtime.Object),
	}

	if meter != nil {
		d.utils = utils.Charging(func() error {
			return meter.ChargeCPU(model.CPUCostForGettingResponseAt())
		})
	}

	return d
}

// Deserialize returns the runtime form of a value. Strings and big integers
// are copied; references are resolved to their object.
func (d *Deserializer) Deserialize(v types.Value) (types.Value, error) {
	switch x := v.(type) {
	case nil:
		return types.NullValue{}, nil
	case types.StringValue:
		return types.StringValue(strings.Clone(string(x))), nil
	case types.BigIntValue:
		return types.NewBigIntValue(x.Int()), nil
	case types.StorageReference:
		return d.Object(x)
	default:
		return v, nil
	}
}

// Object returns the object with the given reference, materializing it on first use.
func (d *Deserializer) Object(ref types.StorageReference) (*runtime.Object, error) {
	if o, ok := d.cache[ref]; ok {
		return o, nil
	}

	o, err := d.materialize(ref)
	if err != nil {
		return nil, err
	}

	d.cache[ref] = o
	d.loaded = append(d.loaded, o)

	return o, nil
}

// Objects returns the materialized objects, in load order.
func (d *Deserializer) Objects() []*runtime.Object {
	return d.loaded
}

// materialize reads the class tag and the eager fields of an object.
func (d *Deserializer) materialize(ref types.StorageReference) (*runtime.Object, error) {
	if d.meter != nil {
		if err := d.meter.ChargeRAM(d.model.RAMCostOfObject()); err != nil {
			return nil, err
		}
	}

	tag, err := d.utils.ClassTag(ref)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, &types.DeserializationError{Object: ref, Reason: "unknown object"}
		}

		return nil, err
	}

	class, err := d.loader.Class(tag.Class)
	if err != nil {
		return nil, &types.DeserializationError{Object: ref, Reason: "class " + tag.Class + " is not in the classpath"}
	}

	if class.Jar != tag.Jar {
		return nil, &types.DeserializationError{
			Object: ref,
			Reason: "class " + tag.Class + " was not installed by jar " + tag.Jar.Short(),
		}
	}

	eager := make(map[types.FieldSignature]types.Value)

	for _, f := range class.EagerFields() {
		if err := d.chargeField(); err != nil {
			return nil, err
		}

		up, err := d.utils.LastUpdateToField(ref, f)
		if err != nil {
			return nil, err
		}

		v, err := d.Deserialize(up.Value)
		if err != nil {
			return nil, err
		}

		eager[f] = v
	}

	return runtime.RestoreObject(ref, class, eager, d.loadLazy), nil
}

// loadLazy reads a lazy field of an object when it is first accessed.
func (d *Deserializer) loadLazy(o *runtime.Object, f types.FieldSignature) (types.Value, error) {
	if err := d.chargeField(); err != nil {
		return nil, err
	}

	up, err := d.utils.LastUpdateToField(o.Ref(), f)
	if err != nil {
		return nil, err
	}

	return d.Deserialize(up.Value)
}

func (d *Deserializer) chargeField() error {
	if d.meter == nil {
		return nil
	}

	return d.meter.ChargeRAM(d.model.RAMCostOfField())
}
