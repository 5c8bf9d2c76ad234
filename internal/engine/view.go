package engine

import (
	"context"
	"fmt"

	"PodLedger/internal/codec"
	"PodLedger/internal/types"
)

// RunInstanceMethodCall runs an instance method without committing anything.
// The caller neither pays nor increases its nonce. The call fails if the
// method modifies the state.
func RunInstanceMethodCall(ctx context.Context, req *types.InstanceMethodCallRequest, node Node) (types.Value, error) {
	b, err := newInstanceMethodCall(ctx, codec.ReferenceOf(req), req, node, true)
	if err != nil {
		return nil, err
	}

	return runView(ctx, b)
}

// RunStaticMethodCall runs a static method without committing anything.
func RunStaticMethodCall(ctx context.Context, req *types.StaticMethodCallRequest, node Node) (types.Value, error) {
	b, err := newStaticMethodCall(ctx, codec.ReferenceOf(req), req, node, true)
	if err != nil {
		return nil, err
	}

	return runView(ctx, b)
}

func runView(ctx context.Context, b *nonInitial) (types.Value, error) {
	resp, err := b.Response(ctx)
	if err != nil {
		return nil, err
	}

	call, ok := resp.(*types.MethodCallResponse)
	if !ok {
		return nil, types.Internal(fmt.Errorf("unexpected response %T to a method call", resp))
	}

	if call.Outcome != types.Successful {
		return nil, call.Cause
	}

	if len(call.UpdateList) > 0 {
		return nil, fmt.Errorf("%w: %d updates", ErrViewSideEffects, len(call.UpdateList))
	}

	return call.ReturnValue, nil
}
