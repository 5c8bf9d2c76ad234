package corelib

import (
	"fmt"
	"math/big"

	"PodLedger/internal/runtime"
	"PodLedger/internal/types"
)

// ContractView is the typed view of an object holding coins.
type ContractView interface {
	Object() *runtime.Object
	Balance() (*big.Int, error)
	SetBalance(balance *big.Int) error
}

// Account is the typed view of an externally owned account.
type Account interface {
	ContractView
	Nonce() (*big.Int, error)
	SetNonce(nonce *big.Int) error
	PublicKey() (string, error)
}

type contract struct {
	obj *runtime.Object
}

type account struct {
	contract
}

// ContractOf returns the typed view of a contract.
func ContractOf(o *runtime.Object) (ContractView, error) {
	if o == nil || !o.Class().IsSubclassOf(Contract) {
		return nil, fmt.Errorf("%v is not a contract", o)
	}

	return contract{obj: o}, nil
}

// AccountOf returns the typed view of an externally owned account.
func AccountOf(o *runtime.Object) (Account, error) {
	if o == nil || !o.Class().IsSubclassOf(ExternallyOwnedAccount) {
		return nil, fmt.Errorf("%v is not an externally owned account", o)
	}

	return account{contract{obj: o}}, nil
}

func (c contract) Object() *runtime.Object    { return c.obj }
func (c contract) Balance() (*big.Int, error) { return c.obj.BigInt(BalanceField) }
func (a account) Nonce() (*big.Int, error)    { return a.obj.BigInt(NonceField) }
func (a account) PublicKey() (string, error)  { return a.obj.Str(PublicKeyField) }

func (c contract) SetBalance(balance *big.Int) error {
	return c.obj.Set(BalanceField, types.NewBigIntValue(balance))
}

func (a account) SetNonce(nonce *big.Int) error {
	return a.obj.Set(NonceField, types.NewBigIntValue(nonce))
}

// transfer moves amount coins from one contract to another, throwing if
// the amount is negative or the payer cannot afford it.
func transfer(from, to *runtime.Object, amount *big.Int) error {
	if amount.Sign() < 0 {
		return runtime.Throw(IllegalArgumentError, "negative amount")
	}

	payer, err := ContractOf(from)
	if err != nil {
		return err
	}

	payee, err := ContractOf(to)
	if err != nil {
		return err
	}

	available, err := payer.Balance()
	if err != nil {
		return err
	}

	if available.Cmp(amount) < 0 {
		return runtime.Throw(InsufficientFundsError, fmt.Sprintf("balance %s is lower than %s", available, amount))
	}

	if err := payer.SetBalance(available.Sub(available, amount)); err != nil {
		return err
	}

	// re-read: from and to may be the same object
	received, err := payee.Balance()
	if err != nil {
		return err
	}

	return payee.SetBalance(received.Add(received, amount))
}
