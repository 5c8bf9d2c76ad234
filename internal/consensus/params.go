package consensus

import (
	"math/big"

	"PodLedger/internal/crypto"
)

// inflationUnit is the inflation value that means +100%.
const inflationUnit = 100_000_000

// Params are the consensus parameters of a node.
// A Params value is never modified once published: a change builds a new one.
type Params struct {
	ChainID                         string   // ChainID must be carried by signed requests
	MaxErrorLength                  int      // MaxErrorLength bounds the messages of rejections and failures
	MaxDependencies                 int      // MaxDependencies bounds the jars reachable from a classpath
	MaxCumulativeSizeOfDependencies int64    // MaxCumulativeSizeOfDependencies bounds their total size
	SkipsVerification               bool     // SkipsVerification installs jars without checking their rules
	Signature                       string   // Signature names the algorithm of signed requests
	VerificationVersion             uint32   // VerificationVersion selects the verification rules
	MaxGasPerTransaction            *big.Int // MaxGasPerTransaction bounds the gas limit of a request
	IgnoresGasPrice                 bool     // IgnoresGasPrice accepts any gas price
	TargetGasAtReward               *big.Int // TargetGasAtReward is the gas per reward the gas price steers to
	Inflation                       int64    // Inflation is added to rewards, in units of 1e-8
	InitialGasPrice                 *big.Int // InitialGasPrice is the gas price at initialization
	InitialSupply                   *big.Int // InitialSupply is the coins of the gamete
	FinalSupply                     *big.Int // FinalSupply is the supply inflation converges to
}

// DefaultParams returns the parameters of a node that is not initialized yet.
func DefaultParams() *Params {
	return &Params{
		ChainID:                         "",
		MaxErrorLength:                  300,
		MaxDependencies:                 20,
		MaxCumulativeSizeOfDependencies: 10_000_000,
		Signature:                       crypto.Ed25519,
		VerificationVersion:             0,
		MaxGasPerTransaction:            big.NewInt(1_000_000_000),
		TargetGasAtReward:               big.NewInt(1_000_000),
		Inflation:                       0,
		InitialGasPrice:                 big.NewInt(100),
		InitialSupply:                   new(big.Int),
		FinalSupply:                     new(big.Int),
	}
}

// SignatureAlgorithm returns the algorithm named by Signature.
func (p *Params) SignatureAlgorithm() (crypto.Algorithm, error) {
	return crypto.ForName(p.Signature)
}

// Inflated returns the gas to reward for gas, increased by the inflation.
func (p *Params) Inflated(gas *big.Int) *big.Int {
	inflated := new(big.Int).Mul(gas, big.NewInt(inflationUnit+p.Inflation))
	return inflated.Quo(inflated, big.NewInt(inflationUnit))
}

// TrimError shortens message to at most MaxErrorLength characters, marking
// the cut with "...".
func (p *Params) TrimError(message string) string {
	runes := []rune(message)
	if p.MaxErrorLength <= 0 || len(runes) <= p.MaxErrorLength {
		return message
	}

	return string(runes[:p.MaxErrorLength]) + "..."
}
