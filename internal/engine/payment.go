package engine

import (
	"fmt"
	"math/big"

	"PodLedger/internal/types"
)

// Meter charges the resources consumed while loading and running code.
type Meter interface {
	ChargeCPU(amount *big.Int) error
	ChargeRAM(amount *big.Int) error
}

// payment tracks the gas consumed by a transaction against its limit.
type payment struct {
	limit   *big.Int // limit is the gas limit of the request
	cpu     *big.Int // cpu is the gas consumed for computation
	ram     *big.Int // ram is the gas consumed for memory
	storage *big.Int // storage is the gas consumed for persisted data
}

func newPayment(limit *big.Int) *payment {
	return &payment{
		limit:   new(big.Int).Set(limit),
		cpu:     new(big.Int),
		ram:     new(big.Int),
		storage: new(big.Int),
	}
}

// Remaining returns the gas not consumed yet.
func (p *payment) Remaining() *big.Int {
	r := new(big.Int).Sub(p.limit, p.cpu)
	r.Sub(r, p.ram)
	return r.Sub(r, p.storage)
}

// charge adds amount to counter, failing if it exceeds the remaining gas.
func (p *payment) charge(counter *big.Int, amount *big.Int, resource string) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("negative %s gas %s", resource, amount)
	}

	if amount.Cmp(p.Remaining()) > 0 {
		return fmt.Errorf("%w: %s needs %s units, %s left", ErrOutOfGas, resource, amount, p.Remaining())
	}

	counter.Add(counter, amount)

	return nil
}

func (p *payment) ChargeCPU(amount *big.Int) error     { return p.charge(p.cpu, amount, "cpu") }
func (p *payment) ChargeRAM(amount *big.Int) error     { return p.charge(p.ram, amount, "ram") }
func (p *payment) ChargeStorage(amount *big.Int) error { return p.charge(p.storage, amount, "storage") }

// Cost returns a copy of the gas consumed so far.
func (p *payment) Cost() types.GasCost {
	return types.GasCost{
		CPU:     new(big.Int).Set(p.cpu),
		RAM:     new(big.Int).Set(p.ram),
		Storage: new(big.Int).Set(p.storage),
	}
}
