package engine

import (
	"context"
	"fmt"
	"slices"

	"PodLedger/internal/runtime"
	"PodLedger/internal/types"
)

// constructorCall creates an object of a storage class.
type constructorCall struct {
	req     *types.ConstructorCallRequest
	created *types.StorageReference // created is the new object
}

func newConstructorCall(ctx context.Context, ref types.TransactionReference, req *types.ConstructorCallRequest, node Node) (Builder, error) {
	return asBuilder(newNonInitial(ctx, ref, req, node, &constructorCall{req: req}, false, nil))
}

func (c *constructorCall) run(e *execution) error {
	sig := c.req.Constructor

	class, err := e.loader.Class(sig.Class)
	if err != nil {
		return err
	}

	code, ok := class.Constructor(sig.Formals)
	if !ok {
		return fmt.Errorf("no constructor %s", sig)
	}

	args, err := e.actuals(sig.Formals, c.req.Actuals)
	if err != nil {
		return err
	}

	obj, err := e.New(sig.Class)
	if err != nil {
		return err
	}

	if _, err := e.invoke(class, code, runtime.ConstructorName, obj, args); err != nil {
		return err
	}

	ref := obj.Ref()
	c.created = &ref

	return nil
}

func (c *constructorCall) respond(o outcome) types.NonInitialResponse {
	resp := types.NewConstructorCallResponse(o.result, o.updates, o.events, o.gas, penaltyOf(o), o.cause)

	if o.result == types.Successful && c.created != nil {
		resp.NewObject = *c.created
	}

	return resp
}

// methodCall runs an instance or a static method.
type methodCall struct {
	sig      types.MethodSignature
	receiver *types.StorageReference // receiver is nil for static methods
	actuals  []types.Value
	result   types.Value // result is the stored form of the returned value
}

func (c *methodCall) run(e *execution) error {
	var (
		receiver *runtime.Object
		class    *runtime.Class
		err      error
	)

	if c.receiver != nil {
		if receiver, err = e.deser.Object(*c.receiver); err != nil {
			return err
		}

		if !receiver.Class().IsSubclassOf(c.sig.Class) {
			return fmt.Errorf("%s is not a %s", c.receiver, c.sig.Class)
		}

		class = receiver.Class()
	} else if class, err = e.loader.Class(c.sig.Class); err != nil {
		return err
	}

	declaring, code, ok := class.Method(c.sig.Name, c.sig.Formals)
	if !ok {
		return fmt.Errorf("no method %s", c.sig)
	}

	if code.Static != (receiver == nil) {
		if code.Static {
			return fmt.Errorf("%s is static", c.sig)
		}

		return fmt.Errorf("%s is not static", c.sig)
	}

	if code.Returns != c.sig.Returns {
		return fmt.Errorf("%s returns %q", c.sig, code.Returns)
	}

	args, err := e.actuals(c.sig.Formals, c.actuals)
	if err != nil {
		return err
	}

	result, err := e.invoke(declaring, code, c.sig.Name, receiver, args)
	if err != nil {
		return err
	}

	if !c.sig.IsVoid() {
		if result == nil {
			result = types.NullValue{}
		}
		c.result = runtime.Persist(result)
	}

	return nil
}

func (c *methodCall) respond(o outcome) types.NonInitialResponse {
	resp := types.NewMethodCallResponse(o.result, o.updates, o.events, o.gas, penaltyOf(o), o.cause)

	if o.result == types.Successful {
		resp.ReturnValue = c.result
	}

	return resp
}

func newInstanceMethodCall(ctx context.Context, ref types.TransactionReference, req *types.InstanceMethodCallRequest, node Node, view bool) (*nonInitial, error) {
	c := &methodCall{sig: req.Method, receiver: &req.Receiver, actuals: slices.Clone(req.Actuals)}
	return newNonInitial(ctx, ref, req, node, c, view, nil)
}

func newStaticMethodCall(ctx context.Context, ref types.TransactionReference, req *types.StaticMethodCallRequest, node Node, view bool) (*nonInitial, error) {
	c := &methodCall{sig: req.Method, actuals: slices.Clone(req.Actuals)}
	return newNonInitial(ctx, ref, req, node, c, view, nil)
}

// newSystemMethodCall runs an instance method on behalf of the node. It is
// not signed and its gas is free.
func newSystemMethodCall(ctx context.Context, ref types.TransactionReference, req *types.InstanceSystemMethodCallRequest, node Node) (*nonInitial, error) {
	c := &methodCall{sig: req.Method, receiver: &req.Receiver, actuals: slices.Clone(req.Actuals)}
	return newNonInitial(ctx, ref, req, node, c, false, nil)
}
