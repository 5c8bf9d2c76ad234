// Package engine computes the responses of requests: it checks requests,
// runs their code against the state of the store and extracts the updates
// they produce.
package engine

import (
	"context"
	"errors"
	"math/big"

	"PodLedger/internal/consensus"
	"PodLedger/internal/gas"
	"PodLedger/internal/podvm"
	"PodLedger/internal/runtime"
	"PodLedger/internal/state"
	"PodLedger/internal/types"
	"PodLedger/internal/verification"
)

var (
	// ErrOutOfGas is returned when a transaction consumes more than its gas limit.
	ErrOutOfGas = errors.New("out of gas")

	// ErrViewSideEffects is returned by view calls that modify the state.
	ErrViewSideEffects = errors.New("view call produced side effects")

	// ErrNoImplementation is returned for code that neither a native library nor a module implements.
	ErrNoImplementation = errors.New("no implementation")
)

// ModuleCaller runs functions of compiled wasm modules.
type ModuleCaller interface {
	Call(ctx context.Context, id podvm.ModuleID, function string, input []byte, gasLimit uint64) ([]byte, uint64, error)
}

// Node is what the engine needs of the node it runs in.
type Node interface {
	// Utilities reads the latest state of the store, uncommitted transactions included.
	Utilities() *state.Utilities

	// ClassLoader returns a class loader for the given jars and their dependencies.
	ClassLoader(ctx context.Context, classpath ...types.TransactionReference) (*runtime.ClassLoader, error)

	// Consensus returns the current consensus parameters.
	Consensus() *consensus.Params

	// GasPrice returns the current gas price of an initialized node.
	GasPrice(ctx context.Context) (*big.Int, error)

	// SignatureValid checks the signature of a request against the base64
	// public key of its caller.
	SignatureValid(req types.SignedRequest, publicKey string) (bool, error)

	// CostModel prices the resources consumed by transactions.
	CostModel() gas.CostModel

	// Modules runs the code of wasm jars.
	Modules() ModuleCaller

	// Verifier verifies jars before installation.
	Verifier() *verification.Verifier
}
