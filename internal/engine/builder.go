package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"PodLedger/internal/codec"
	"PodLedger/internal/consensus"
	"PodLedger/internal/corelib"
	"PodLedger/internal/gas"
	"PodLedger/internal/logger"
	"PodLedger/internal/runtime"
	"PodLedger/internal/types"
	"PodLedger/internal/verification"
)

// Builder computes the response of a request that passed its checks.
type Builder interface {
	// Response runs the request. Errors are rejections or internal errors;
	// failures of the code end up in the response.
	Response(ctx context.Context) (types.Response, error)

	// ClassLoader returns the class loader of the request, nil if it needs none.
	ClassLoader() *runtime.ClassLoader
}

// New checks a request and returns the builder of its response. A request
// that cannot run yields a *types.RejectedError.
func New(ctx context.Context, ref types.TransactionReference, req types.Request, node Node) (Builder, error) {
	switch r := req.(type) {
	case *types.JarStoreInitialRequest:
		return newJarStoreInitial(ctx, r, node)
	case *types.GameteCreationRequest:
		return newGameteCreation(ctx, ref, r, node)
	case *types.InitializationRequest:
		return newInitialization(ctx, r, node)
	case *types.JarStoreRequest:
		return newJarStore(ctx, ref, r, node)
	case *types.ConstructorCallRequest:
		return newConstructorCall(ctx, ref, r, node)
	case *types.InstanceMethodCallRequest:
		return asBuilder(newInstanceMethodCall(ctx, ref, r, node, false))
	case *types.StaticMethodCallRequest:
		return asBuilder(newStaticMethodCall(ctx, ref, r, node, false))
	case *types.InstanceSystemMethodCallRequest:
		return asBuilder(newSystemMethodCall(ctx, ref, r, node))
	default:
		return nil, types.Rejected("unexpected request of type %T", req)
	}
}

// asBuilder avoids returning a non-nil Builder holding a nil pointer.
func asBuilder(b *nonInitial, err error) (Builder, error) {
	if err != nil {
		return nil, err
	}

	return b, nil
}

// rejectUnlessInternal turns err into a rejection, unless it is internal.
func rejectUnlessInternal(err error, format string, args ...any) error {
	if errors.Is(err, types.ErrInternal) {
		return err
	}

	return types.RejectedBy(fmt.Errorf(format+": %w", append(args, err)...))
}

// initialized reports whether the node has a manifest.
func initialized(node Node) (bool, error) {
	_, ok, err := node.Utilities().Manifest()
	return ok, err
}

// outcome is what a non-initial response is built from.
type outcome struct {
	result  types.Outcome            // result tells how the transaction ended
	updates []types.Update           // updates are the sorted state changes
	events  []types.StorageReference // events are the emitted events
	gas     types.GasCost            // gas is the consumed gas, without penalty
	penalty *big.Int                 // penalty is the unused gas of failed transactions
	cause   *types.Failure           // cause is the failure or the exception
}

// code runs the body of a non-initial request and builds its response.
type code interface {
	// run executes the request.
	run(e *execution) error

	// respond builds the response for an outcome.
	respond(o outcome) types.NonInitialResponse
}

// nonInitial checks and runs non-initial requests. It charges the caller for
// the promised gas, increases its nonce and refunds the unused gas at the end.
type nonInitial struct {
	ref    types.TransactionReference // ref is the transaction being built
	req    types.NonInitialRequest    // req is the request
	node   Node                       // node is the node running the request
	code   code                       // code is the body of the request
	loader *runtime.ClassLoader       // loader resolves the classes of the request
	params *consensus.Params          // params are the consensus parameters at check time
	view   bool                       // view calls neither pay nor increase the nonce
	price  *big.Int                   // price is the gas price paid by the caller
}

// newNonInitial checks the request. The loader is the one of the classpath
// unless given.
func newNonInitial(ctx context.Context, ref types.TransactionReference, req types.NonInitialRequest, node Node, c code, view bool, loader *runtime.ClassLoader) (*nonInitial, error) {
	f := req.Common()
	if f.GasLimit == nil || f.Nonce == nil {
		return nil, types.Rejected("the request lacks gas limit or nonce")
	}

	b := &nonInitial{ref: ref, req: req, node: node, code: c, loader: loader, params: node.Consensus(), view: view, price: new(big.Int)}

	if !view && !types.IsSystem(req) {
		if f.GasPrice == nil || f.GasPrice.Sign() < 0 {
			return nil, types.Rejected("the gas price cannot be negative")
		}
		b.price.Set(f.GasPrice)
	}

	if b.loader == nil {
		var err error
		if b.loader, err = node.ClassLoader(ctx, f.Classpath); err != nil {
			return nil, rejectUnlessInternal(err, "cannot load the classpath %s", f.Classpath.Short())
		}
	}

	if err := b.check(ctx); err != nil {
		return nil, err
	}

	return b, nil
}

// check validates the request against the state of the node.
func (b *nonInitial) check(ctx context.Context) error {
	f := b.req.Common()
	signed, isSigned := b.req.(types.SignedRequest)
	paid := !b.view && isSigned

	init, err := initialized(b.node)
	if err != nil {
		return err
	}

	if f.GasLimit.Sign() < 0 {
		return types.Rejected("the gas limit cannot be negative")
	}

	if paid && f.GasLimit.Cmp(b.params.MaxGasPerTransaction) > 0 {
		return types.Rejected("the gas limit cannot exceed %s", b.params.MaxGasPerTransaction)
	}

	if minimal := b.minimalGas(); f.GasLimit.Cmp(minimal) < 0 {
		return types.Rejected("not enough gas to start the transaction, expected at least %s units", minimal)
	}

	if init && paid && f.ChainID != b.params.ChainID {
		return types.Rejected("incorrect chain id: the request reports %q but the node requires %q", f.ChainID, b.params.ChainID)
	}

	if init && paid && !b.params.IgnoresGasPrice {
		current, err := b.node.GasPrice(ctx)
		if err != nil {
			return err
		}

		if b.price.Cmp(current) < 0 {
			return types.Rejected("the gas price of the request is smaller than the current gas price (%s < %s)", b.price, current)
		}
	}

	deser := NewDeserializer(b.loader, b.node.Utilities(), nil, nil)
	caller, err := deser.Object(f.Caller)
	if err != nil {
		return rejectUnlessInternal(err, "cannot load the caller")
	}

	account, err := corelib.AccountOf(caller)
	if err != nil {
		return types.Rejected("the caller is not an externally owned account")
	}

	if init && paid {
		key, err := account.PublicKey()
		if err != nil {
			return err
		}

		valid, err := b.node.SignatureValid(signed, key)
		if err != nil {
			return rejectUnlessInternal(err, "cannot check the signature")
		}
		if !valid {
			return types.Rejected("invalid request signature")
		}
	}

	if b.view {
		return nil
	}

	nonce, err := account.Nonce()
	if err != nil {
		return err
	}

	if nonce.Cmp(f.Nonce) != 0 {
		return types.Rejected("incorrect nonce: expected %s got %s", nonce, f.Nonce)
	}

	balance, err := account.Balance()
	if err != nil {
		return err
	}

	if balance.Cmp(gas.Cost(f.GasLimit, b.price)) < 0 {
		return types.Rejected("the payer has not enough funds to buy %s units of gas", f.GasLimit)
	}

	return nil
}

// minimalGas is the gas needed to start the transaction and to pay for a
// failed response.
func (b *nonInitial) minimalGas() *big.Int {
	model := b.node.CostModel()

	min := new(big.Int).Set(model.CPUBaseTransactionCost())
	min.Add(min, model.StorageCostOf(len(codec.EncodeRequest(b.req))))
	min.Add(min, model.CPUCostForLoadingJar(b.loader.Size()))
	min.Add(min, model.RAMCostForLoadingJar(b.loader.Size()))

	// a failed response updates nonce and balance of the caller
	caller := b.req.Common().Caller
	sample := b.code.respond(outcome{
		result: types.Failed,
		updates: []types.Update{
			types.NewFieldUpdate(caller, corelib.BalanceField, types.NewBigIntValue(b.req.Common().GasLimit)),
			types.NewFieldUpdate(caller, corelib.NonceField, types.NewBigIntValue(b.req.Common().Nonce)),
		},
		gas:     types.GasCost{CPU: b.req.Common().GasLimit, RAM: b.req.Common().GasLimit, Storage: b.req.Common().GasLimit},
		penalty: b.req.Common().GasLimit,
		cause:   &types.Failure{Class: "core.ExecutionError", Message: strings.Repeat(" ", max(b.params.MaxErrorLength, 0))},
	})

	return min.Add(min, model.StorageCostOf(len(codec.EncodeResponse(sample))))
}

func (b *nonInitial) ClassLoader() *runtime.ClassLoader {
	return b.loader
}

// Response runs the request. Failures of the code yield a failed response
// in which the caller pays for all the gas.
func (b *nonInitial) Response(ctx context.Context) (types.Response, error) {
	p := newPayment(b.req.Common().GasLimit)
	e := &execution{
		ctx:     ctx,
		ref:     b.ref,
		node:    b.node,
		loader:  b.loader,
		deser:   NewDeserializer(b.loader, b.node.Utilities(), b.node.CostModel(), p),
		payment: p,
	}

	initialBalance, err := b.start(e)
	if err == nil {
		err = b.code.run(e)
	}

	if err == nil || isChecked(err) {
		resp, err := b.complete(e, err)
		if err == nil {
			return resp, nil
		}

		if errors.Is(err, types.ErrInternal) {
			return nil, err
		}

		return b.fail(p, initialBalance, err)
	}

	if errors.Is(err, types.ErrInternal) {
		logger.Error("internal error while running a request", "ref", b.ref.Short(), "error", err)
		return nil, err
	}

	return b.fail(p, initialBalance, err)
}

// start loads the caller, increases its nonce and charges it for the
// promised gas and the basic costs. It returns the balance of the caller
// before any charge.
func (b *nonInitial) start(e *execution) (*big.Int, error) {
	f := b.req.Common()
	model := b.node.CostModel()

	caller, err := e.deser.Object(f.Caller)
	if err != nil {
		return nil, err
	}
	e.caller = caller

	account, err := corelib.AccountOf(caller)
	if err != nil {
		return nil, types.Internal(err)
	}

	balance, err := account.Balance()
	if err != nil {
		return nil, err
	}

	if !b.view {
		nonce, err := account.Nonce()
		if err != nil {
			return balance, err
		}

		if err := account.SetNonce(nonce.Add(nonce, big.NewInt(1))); err != nil {
			return balance, err
		}
	}

	charges := []func(*big.Int) error{e.payment.ChargeCPU, e.payment.ChargeStorage, e.payment.ChargeCPU, e.payment.ChargeRAM}
	amounts := []*big.Int{
		model.CPUBaseTransactionCost(),
		model.StorageCostOf(len(codec.EncodeRequest(b.req))),
		model.CPUCostForLoadingJar(b.loader.Size()),
		model.RAMCostForLoadingJar(b.loader.Size()),
	}

	for i, charge := range charges {
		if err := charge(amounts[i]); err != nil {
			return balance, err
		}
	}

	if !b.view {
		promised := gas.Cost(f.GasLimit, b.price)
		if err := account.SetBalance(new(big.Int).Sub(balance, promised)); err != nil {
			return balance, err
		}
	}

	return balance, nil
}

// complete charges the storage of the response and refunds the unused gas.
// thrown is nil or the checked exception that ended the code.
func (b *nonInitial) complete(e *execution, thrown error) (types.Response, error) {
	o := outcome{result: types.Successful, events: e.eventRefs()}

	var checked *checkedException
	if errors.As(thrown, &checked) {
		o.result = types.Exception
		o.cause = b.failure(checked.thrown.Class, checked.thrown.Message)
	}

	o.updates = e.updates()
	o.gas = e.payment.Cost()

	size := len(codec.EncodeResponse(b.code.respond(o)))
	if err := e.payment.ChargeStorage(b.node.CostModel().StorageCostOf(size)); err != nil {
		return nil, err
	}

	if !b.view {
		account, err := corelib.AccountOf(e.caller)
		if err != nil {
			return nil, types.Internal(err)
		}

		balance, err := account.Balance()
		if err != nil {
			return nil, err
		}

		refund := gas.Cost(e.payment.Remaining(), b.price)
		if err := account.SetBalance(balance.Add(balance, refund)); err != nil {
			return nil, err
		}
	}

	o.updates = e.updates()
	o.gas = e.payment.Cost()

	return b.code.respond(o), nil
}

// fail builds the response of a failed transaction: the caller's nonce is
// increased and all the promised gas is paid, nothing else changes.
func (b *nonInitial) fail(p *payment, initialBalance *big.Int, cause error) (types.Response, error) {
	f := b.req.Common()
	o := outcome{
		result:  types.Failed,
		gas:     p.Cost(),
		penalty: p.Remaining(),
		cause:   failureOf(cause, b.params),
	}

	deser := NewDeserializer(b.loader, b.node.Utilities(), nil, nil)

	caller, err := deser.Object(f.Caller)
	if err != nil {
		return nil, types.Internal(fmt.Errorf("reload the caller:\n%w", err))
	}

	account, err := corelib.AccountOf(caller)
	if err != nil {
		return nil, types.Internal(err)
	}

	if !b.view && initialBalance != nil {
		nonce, err := account.Nonce()
		if err != nil {
			return nil, err
		}

		if err := account.SetNonce(nonce.Add(nonce, big.NewInt(1))); err != nil {
			return nil, err
		}

		charged := new(big.Int).Sub(initialBalance, gas.Cost(f.GasLimit, b.price))
		if err := account.SetBalance(charged); err != nil {
			return nil, err
		}
	}

	o.updates = caller.Updates()

	return b.code.respond(o), nil
}

// failure builds the cause of a response, trimming the message.
func (b *nonInitial) failure(class, message string) *types.Failure {
	return &types.Failure{Class: class, Message: b.params.TrimError(message)}
}

// failureOf describes the error that made a transaction fail.
func failureOf(err error, params *consensus.Params) *types.Failure {
	var (
		thrown *runtime.Thrown
		deser  *types.DeserializationError
		verr   *verification.Error
	)

	class := "core.ExecutionError"

	switch {
	case errors.Is(err, ErrOutOfGas):
		class = "core.OutOfGasError"
	case errors.As(err, &thrown):
		return &types.Failure{Class: thrown.Class, Message: params.TrimError(thrown.Message)}
	case errors.As(err, &deser):
		class = "core.DeserializationError"
	case errors.As(err, &verr):
		return &types.Failure{Class: "core.VerificationError", Message: params.TrimError(verr.Error())}
	}

	return &types.Failure{Class: class, Message: params.TrimError(err.Error())}
}

func isChecked(err error) bool {
	var checked *checkedException
	return errors.As(err, &checked)
}
