package node

import (
	"math/big"

	"PodLedger/internal/consensus"
	"PodLedger/internal/types"
)

// gasForReward is the gas limit of the reward call.
const gasForReward = 100_000

// rewards accumulates what the validators earn between two rewards.
// It is only used under the delivery lock.
type rewards struct {
	gas                   *big.Int // gas is the gas consumed, penalties excluded
	coins                 *big.Int // coins are the coins paid for gas, increased by the inflation
	coinsWithoutInflation *big.Int // coinsWithoutInflation are the coins paid for gas
	transactions          *big.Int // transactions counts the delivered transactions
}

func newRewards() *rewards {
	r := &rewards{}
	r.reset()

	return r
}

func (r *rewards) reset() {
	r.gas = new(big.Int)
	r.coins = new(big.Int)
	r.coinsWithoutInflation = new(big.Int)
	r.transactions = new(big.Int)
}

// add takes note of a delivered transaction. System transactions are not
// counted; initial transactions are counted but earn nothing.
func (r *rewards) add(params *consensus.Params, req types.Request, resp types.Response) {
	if types.IsSystem(req) {
		return
	}

	r.transactions.Add(r.transactions, big.NewInt(1))

	nonInitialReq, ok := req.(types.NonInitialRequest)
	if !ok {
		return
	}

	nonInitialResp, ok := resp.(types.NonInitialResponse)
	if !ok {
		return
	}

	consumed := nonInitialResp.GasConsumed().Total()
	r.gas.Add(r.gas, consumed)

	paid := new(big.Int).Add(consumed, nonInitialResp.PenaltyGas())
	price := nonInitialReq.Common().GasPrice
	if price == nil {
		price = new(big.Int)
	}

	r.coinsWithoutInflation.Add(r.coinsWithoutInflation, new(big.Int).Mul(paid, price))
	r.coins.Add(r.coins, new(big.Int).Mul(params.Inflated(paid), price))
}

// minted returns the coins created by the inflation, bounded so that the
// supply moves towards the final supply without crossing it.
func (r *rewards) minted(current, final *big.Int) *big.Int {
	minted := new(big.Int).Sub(r.coins, r.coinsWithoutInflation)

	extra := new(big.Int).Sub(final, new(big.Int).Add(current, minted))
	if (minted.Sign() > 0 && extra.Sign() < 0) || (minted.Sign() < 0 && extra.Sign() > 0) {
		minted.Add(minted, extra)
	}

	return minted
}
