package client

import (
	"context"
	"fmt"
	"math/big"

	"PodLedger/internal/codec"
	"PodLedger/internal/corelib"
	"PodLedger/internal/crypto"
	"PodLedger/internal/types"
)

// Account builds the signed requests of an externally owned account.
type Account struct {
	Ref       types.StorageReference     // Ref is the account object
	Signer    crypto.Signer              // Signer holds the key of the account
	ChainID   string                     // ChainID is the chain the requests are meant for
	Classpath types.TransactionReference // Classpath is the jar of the called code
	GasPrice  *big.Int                   // GasPrice is offered for every unit of gas
}

// fields returns the common fields of a request of the account.
func (a *Account) fields(nonce *big.Int, gasLimit int64) types.NonInitialFields {
	price := new(big.Int)
	if a.GasPrice != nil {
		price.Set(a.GasPrice)
	}

	return types.NonInitialFields{
		Caller:    a.Ref,
		GasLimit:  big.NewInt(gasLimit),
		Classpath: a.Classpath,
		Nonce:     new(big.Int).Set(nonce),
		ChainID:   a.ChainID,
		GasPrice:  price,
	}
}

// sign fills the signature of req.
func (a *Account) sign(req types.SignedRequest) {
	req.Common().Signature = a.Signer.Sign(codec.SignedBytes(req))
}

// Call builds a call of an instance method.
func (a *Account) Call(nonce *big.Int, gasLimit int64, method types.MethodSignature, receiver types.StorageReference, actuals ...types.Value) *types.InstanceMethodCallRequest {
	req := &types.InstanceMethodCallRequest{
		NonInitialFields: a.fields(nonce, gasLimit),
		Method:           method,
		Receiver:         receiver,
		Actuals:          actuals,
	}
	a.sign(req)

	return req
}

// StaticCall builds a call of a static method.
func (a *Account) StaticCall(nonce *big.Int, gasLimit int64, method types.MethodSignature, actuals ...types.Value) *types.StaticMethodCallRequest {
	req := &types.StaticMethodCallRequest{
		NonInitialFields: a.fields(nonce, gasLimit),
		Method:           method,
		Actuals:          actuals,
	}
	a.sign(req)

	return req
}

// Construct builds a constructor call.
func (a *Account) Construct(nonce *big.Int, gasLimit int64, constructor types.ConstructorSignature, actuals ...types.Value) *types.ConstructorCallRequest {
	req := &types.ConstructorCallRequest{
		NonInitialFields: a.fields(nonce, gasLimit),
		Constructor:      constructor,
		Actuals:          actuals,
	}
	a.sign(req)

	return req
}

// StoreJar builds the installation of an encoded jar.
func (a *Account) StoreJar(nonce *big.Int, gasLimit int64, jar []byte, dependencies ...types.TransactionReference) *types.JarStoreRequest {
	req := &types.JarStoreRequest{
		NonInitialFields: a.fields(nonce, gasLimit),
		Jar:              jar,
		Dependencies:     dependencies,
	}
	a.sign(req)

	return req
}

// Pay builds the transfer of amount coins to a contract.
func (a *Account) Pay(nonce *big.Int, gasLimit int64, to types.StorageReference, amount *big.Int) *types.InstanceMethodCallRequest {
	method := types.MethodSignature{Class: corelib.Contract, Name: "receive", Formals: []string{types.TypeBigInt}}

	return a.Call(nonce, gasLimit, method, to, types.NewBigIntValue(amount))
}

// Nonce reads the committed nonce of an account.
func (c *Client) Nonce(ctx context.Context, account types.StorageReference) (*big.Int, error) {
	return c.bigField(ctx, account, corelib.NonceField)
}

// Balance reads the committed balance of a contract.
func (c *Client) Balance(ctx context.Context, contract types.StorageReference) (*big.Int, error) {
	return c.bigField(ctx, contract, corelib.BalanceField)
}

func (c *Client) bigField(ctx context.Context, object types.StorageReference, field types.FieldSignature) (*big.Int, error) {
	updates, err := c.State(ctx, object)
	if err != nil {
		return nil, err
	}

	for _, u := range updates {
		if u.Field != field.String() {
			continue
		}

		v, ok := new(big.Int).SetString(u.Value, 10)
		if !ok {
			return nil, fmt.Errorf("%s of %s is not a number: %q", field.Name, object, u.Value)
		}

		return v, nil
	}

	return nil, fmt.Errorf("%s of %s: %w", field.Name, object, types.ErrNotFound)
}
