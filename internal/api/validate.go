package api

import (
	"errors"
	"fmt"

	"PodLedger/internal/codec"
	"PodLedger/internal/crypto"
	"PodLedger/internal/types"
)

const (
	// minRequestSize is the size of the smallest encoded request.
	minRequestSize = 8

	// maxActuals bounds the arguments of a posted call.
	maxActuals = 256
)

// validateRequest decodes a posted request and checks its structure.
// Whether it can run is decided by the node.
func validateRequest(data []byte) (types.Request, error) {
	if len(data) < minRequestSize {
		return nil, errors.New("request data too short")
	}

	req, err := codec.DecodeRequest(data)
	if err != nil {
		return nil, err
	}

	if types.IsSystem(req) {
		return nil, errors.New("system requests cannot be posted")
	}

	if nonInitial, ok := req.(types.NonInitialRequest); ok {
		if err := validateFields(nonInitial.Common()); err != nil {
			return nil, err
		}
	}

	if err := validateArguments(req); err != nil {
		return nil, err
	}

	return req, nil
}

// validateFields checks the fields shared by non-initial requests. BLS
// signatures are the largest supported.
func validateFields(f *types.NonInitialFields) error {
	if f.GasLimit == nil || f.GasLimit.Sign() < 0 {
		return fmt.Errorf("invalid gas limit: %v", f.GasLimit)
	}

	if f.Nonce == nil || f.Nonce.Sign() < 0 {
		return fmt.Errorf("invalid nonce: %v", f.Nonce)
	}

	if f.GasPrice != nil && f.GasPrice.Sign() < 0 {
		return fmt.Errorf("invalid gas price: %v", f.GasPrice)
	}

	if len(f.Signature) > crypto.BLSSignatureSize {
		return fmt.Errorf("signature too large: %d bytes", len(f.Signature))
	}

	return nil
}

// validateArguments checks that calls pass one actual per formal.
func validateArguments(req types.Request) error {
	var formals, actuals int

	switch r := req.(type) {
	case *types.ConstructorCallRequest:
		formals, actuals = len(r.Constructor.Formals), len(r.Actuals)
	case *types.InstanceMethodCallRequest:
		formals, actuals = len(r.Method.Formals), len(r.Actuals)
	case *types.StaticMethodCallRequest:
		formals, actuals = len(r.Method.Formals), len(r.Actuals)
	default:
		return nil
	}

	if actuals > maxActuals {
		return fmt.Errorf("too many actuals: %d", actuals)
	}

	if formals != actuals {
		return fmt.Errorf("%d actuals for %d formals", actuals, formals)
	}

	return nil
}
