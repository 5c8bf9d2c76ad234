// Package genesis builds the requests that bootstrap a new chain: the base
// jar, the gamete holding the initial supply, the manifest and the
// initialization of the node.
package genesis

import (
	"errors"
	"fmt"
	"math/big"

	"PodLedger/internal/codec"
	"PodLedger/internal/consensus"
	"PodLedger/internal/corelib"
	"PodLedger/internal/crypto"
	"PodLedger/internal/types"
)

// gasForManifest is the gas limit of the creation of the manifest.
const gasForManifest = 1_000_000

// Config holds the genesis configuration of a chain.
type Config struct {
	// Params are the consensus parameters written into the manifest.
	// InitialSupply is given to the gamete.
	Params *consensus.Params

	// Signer holds the key of the gamete. It signs the creation of the manifest.
	Signer crypto.Signer
}

// Genesis is the sequence of requests that initializes a node.
type Genesis struct {
	Requests []types.Request            // Requests must be delivered in order
	CoreJar  types.TransactionReference // CoreJar installs the base jar
	Gamete   types.StorageReference     // Gamete holds the initial supply
	Manifest types.StorageReference     // Manifest describes the chain
}

// Build creates the genesis requests. The same configuration always yields
// the same requests, hence the same references.
func Build(cfg Config) (*Genesis, error) {
	if cfg.Params == nil {
		return nil, errors.New("consensus parameters are required")
	}

	if cfg.Signer == nil {
		return nil, errors.New("a signer is required")
	}

	p := cfg.Params
	if p.InitialSupply == nil || p.InitialSupply.Sign() <= 0 {
		return nil, fmt.Errorf("the initial supply must be positive, got %v", p.InitialSupply)
	}

	algorithm, err := p.SignatureAlgorithm()
	if err != nil {
		return nil, fmt.Errorf("signature of the chain:\n%w", err)
	}

	jar := &types.JarStoreInitialRequest{Jar: codec.EncodeJar(corelib.Jar())}
	coreJar := codec.ReferenceOf(jar)

	gamete := &types.GameteCreationRequest{
		Classpath:     coreJar,
		InitialAmount: new(big.Int).Set(p.InitialSupply),
		PublicKey:     crypto.EncodePublicKey(cfg.Signer.PublicKey()),
	}
	gameteRef := types.StorageReference{Transaction: codec.ReferenceOf(gamete)}

	manifest := &types.ConstructorCallRequest{
		NonInitialFields: types.NonInitialFields{
			Caller:    gameteRef,
			GasLimit:  big.NewInt(gasForManifest),
			Classpath: coreJar,
			Nonce:     new(big.Int),
			ChainID:   p.ChainID,
			GasPrice:  valueOrZero(p.InitialGasPrice),
		},
		Constructor: types.ConstructorSignature{Class: corelib.Manifest, Formals: corelib.ManifestConstructorFormals},
		Actuals:     manifestActuals(p),
	}
	manifest.Signature = cfg.Signer.Sign(codec.SignedBytes(manifest))

	if !algorithm.Verify(cfg.Signer.PublicKey(), codec.SignedBytes(manifest), manifest.Signature) {
		return nil, fmt.Errorf("the signer does not produce %s signatures", algorithm.Name())
	}

	manifestRef := types.StorageReference{Transaction: codec.ReferenceOf(manifest)}

	return &Genesis{
		Requests: []types.Request{
			jar,
			gamete,
			manifest,
			&types.InitializationRequest{Classpath: coreJar, Manifest: manifestRef},
		},
		CoreJar:  coreJar,
		Gamete:   gameteRef,
		Manifest: manifestRef,
	}, nil
}

// manifestActuals lists the parameters in the order of the manifest constructor.
func manifestActuals(p *consensus.Params) []types.Value {
	return []types.Value{
		types.StringValue(p.ChainID),
		types.IntValue(int32(p.MaxErrorLength)),
		types.IntValue(int32(p.MaxDependencies)),
		types.LongValue(p.MaxCumulativeSizeOfDependencies),
		types.BoolValue(p.SkipsVerification),
		types.StringValue(p.Signature),
		types.IntValue(int32(p.VerificationVersion)),
		types.NewBigIntValue(valueOrZero(p.InitialGasPrice)),
		types.NewBigIntValue(valueOrZero(p.MaxGasPerTransaction)),
		types.BoolValue(p.IgnoresGasPrice),
		types.NewBigIntValue(valueOrZero(p.TargetGasAtReward)),
		types.LongValue(p.Inflation),
		types.NewBigIntValue(valueOrZero(p.InitialSupply)),
		types.NewBigIntValue(valueOrZero(p.FinalSupply)),
	}
}

func valueOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}

	return new(big.Int).Set(v)
}
