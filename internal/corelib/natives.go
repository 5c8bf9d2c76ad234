package corelib

import (
	"fmt"
	"math/big"

	"PodLedger/internal/runtime"
	"PodLedger/internal/types"
)

// Natives maps "Class.method" (or "Class.<init>") to the Go implementation.
var Natives = map[string]runtime.Native{
	Contract + ".getBalance": getter(BalanceField),
	Contract + ".receive":    receive,

	ExternallyOwnedAccount + ".<init>":       newAccount,
	ExternallyOwnedAccount + ".getNonce":     getter(NonceField),
	ExternallyOwnedAccount + ".getPublicKey": getter(PublicKeyField),

	Event + ".getCreator": getter(CreatorField),

	Manifest + ".<init>":                             newManifest,
	Manifest + ".getChainId":                         getter(ChainIDField),
	Manifest + ".getMaxErrorLength":                  getter(MaxErrorLengthField),
	Manifest + ".getMaxDependencies":                 getter(MaxDependenciesField),
	Manifest + ".getMaxCumulativeSizeOfDependencies": getter(MaxCumulativeSizeOfDependenciesField),
	Manifest + ".skipsVerification":                  getter(SkipsVerificationField),
	Manifest + ".getSignature":                       getter(SignatureField),
	Manifest + ".getGamete":                          getter(GameteField),
	Manifest + ".getValidators":                      getter(ValidatorsField),
	Manifest + ".getGasStation":                      getter(GasStationField),
	Manifest + ".getVersions":                        getter(VersionsField),

	Validators + ".reward":                  reward,
	Validators + ".getCurrentSupply":        getter(CurrentSupplyField),
	Validators + ".getFinalSupply":          getter(FinalSupplyField),
	Validators + ".getHeight":               getter(HeightField),
	Validators + ".getNumberOfTransactions": getter(NumberOfTransactionsField),
	Validators + ".getTotalRewarded":        getter(TotalRewardedField),

	GasStation + ".getGasPrice":             getter(GasPriceField),
	GasStation + ".getMaxGasPerTransaction": getter(MaxGasPerTransactionField),
	GasStation + ".ignoresGasPrice":         getter(IgnoresGasPriceField),
	GasStation + ".getTargetGasAtReward":    getter(TargetGasAtRewardField),
	GasStation + ".getInflation":            getter(InflationField),

	Versions + ".getVerificationVersion": getter(VerificationVersionField),
	Versions + ".setVerificationVersion": setVerificationVersion,
}

// getter returns a native reading a field of the receiver.
func getter(f types.FieldSignature) runtime.Native {
	return func(_ runtime.Frame, receiver *runtime.Object, _ []types.Value) (types.Value, error) {
		return receiver.Get(f)
	}
}

func receive(f runtime.Frame, receiver *runtime.Object, args []types.Value) (types.Value, error) {
	return nil, transfer(f.Caller(), receiver, bigArg(args, 0))
}

func newAccount(f runtime.Frame, receiver *runtime.Object, args []types.Value) (types.Value, error) {
	if err := transfer(f.Caller(), receiver, bigArg(args, 0)); err != nil {
		return nil, err
	}

	if err := receiver.Set(NonceField, types.BigIntOf(0)); err != nil {
		return nil, err
	}

	return nil, receiver.Set(PublicKeyField, types.StringValue(strArg(args, 1)))
}

func newManifest(f runtime.Frame, receiver *runtime.Object, args []types.Value) (types.Value, error) {
	versions, err := f.New(Versions)
	if err != nil {
		return nil, err
	}

	gasStation, err := f.New(GasStation)
	if err != nil {
		return nil, err
	}

	validators, err := f.New(Validators)
	if err != nil {
		return nil, err
	}

	writes := []struct {
		obj   *runtime.Object
		field types.FieldSignature
		value types.Value
	}{
		{receiver, BalanceField, types.BigIntOf(0)},
		{receiver, NonceField, types.BigIntOf(0)},
		{receiver, PublicKeyField, types.StringValue("")},
		{receiver, ChainIDField, args[0]},
		{receiver, MaxErrorLengthField, args[1]},
		{receiver, MaxDependenciesField, args[2]},
		{receiver, MaxCumulativeSizeOfDependenciesField, args[3]},
		{receiver, SkipsVerificationField, args[4]},
		{receiver, SignatureField, args[5]},
		{receiver, GameteField, f.Caller()},
		{receiver, ValidatorsField, validators},
		{receiver, GasStationField, gasStation},
		{receiver, VersionsField, versions},

		{versions, VersionsManifestField, receiver},
		{versions, VerificationVersionField, args[6]},

		{gasStation, GasStationManifestField, receiver},
		{gasStation, GasPriceField, args[7]},
		{gasStation, MaxGasPerTransactionField, args[8]},
		{gasStation, IgnoresGasPriceField, args[9]},
		{gasStation, TargetGasAtRewardField, args[10]},
		{gasStation, InflationField, args[11]},

		{validators, BalanceField, types.BigIntOf(0)},
		{validators, ValidatorsManifestField, receiver},
		{validators, CurrentSupplyField, args[12]},
		{validators, FinalSupplyField, args[13]},
		{validators, HeightField, types.LongValue(0)},
		{validators, NumberOfTransactionsField, types.BigIntOf(0)},
		{validators, TotalRewardedField, types.BigIntOf(0)},
		{validators, LastBehavingField, types.StringValue("")},
		{validators, LastMisbehavingField, types.StringValue("")},
	}

	for _, w := range writes {
		if err := w.obj.Set(w.field, w.value); err != nil {
			return nil, err
		}
	}

	return nil, nil
}

// reward is called by the node, with the manifest as caller, at the end of
// every block. It does nothing if there is nothing to reward.
func reward(f runtime.Frame, receiver *runtime.Object, args []types.Value) (types.Value, error) {
	manifest, err := receiver.Reference(ValidatorsManifestField)
	if err != nil {
		return nil, err
	}

	if manifest == nil || f.Caller() != manifest {
		return nil, runtime.Throw(NotAllowedError, "only the manifest can reward the validators")
	}

	amount, minted := bigArg(args, 0), bigArg(args, 1)
	gasConsumed, transactions := bigArg(args, 4), bigArg(args, 5)

	if amount.Sign() == 0 && minted.Sign() == 0 && gasConsumed.Sign() == 0 && transactions.Sign() == 0 {
		return nil, nil
	}

	if err := addTo(receiver, BalanceField, amount); err != nil {
		return nil, err
	}
	if err := addTo(receiver, CurrentSupplyField, minted); err != nil {
		return nil, err
	}
	if err := addTo(receiver, NumberOfTransactionsField, transactions); err != nil {
		return nil, err
	}
	if err := addTo(receiver, TotalRewardedField, amount); err != nil {
		return nil, err
	}

	height, err := receiver.Get(HeightField)
	if err != nil {
		return nil, err
	}
	if err := receiver.Set(HeightField, types.LongValue(int64(height.(types.LongValue))+1)); err != nil {
		return nil, err
	}

	if err := receiver.Set(LastBehavingField, types.StringValue(strArg(args, 2))); err != nil {
		return nil, err
	}
	if err := receiver.Set(LastMisbehavingField, types.StringValue(strArg(args, 3))); err != nil {
		return nil, err
	}

	gasStation, err := manifest.Reference(GasStationField)
	if err != nil {
		return nil, err
	}

	if err := adjustGasPrice(f, gasStation, gasConsumed); err != nil {
		return nil, err
	}

	return nil, stopInflationAtFinalSupply(f, receiver, gasStation)
}

// adjustGasPrice moves the gas price one unit towards the level that brings
// the gas consumed per reward to the target.
func adjustGasPrice(f runtime.Frame, gasStation *runtime.Object, gasConsumed *big.Int) error {
	target, err := gasStation.BigInt(TargetGasAtRewardField)
	if err != nil {
		return err
	}

	price, err := gasStation.BigInt(GasPriceField)
	if err != nil {
		return err
	}

	switch c := gasConsumed.Cmp(target); {
	case c > 0:
		price.Add(price, big.NewInt(1))
	case c < 0 && price.Cmp(big.NewInt(1)) > 0:
		price.Sub(price, big.NewInt(1))
	default:
		return nil
	}

	if err := gasStation.Set(GasPriceField, types.NewBigIntValue(price)); err != nil {
		return err
	}

	event, err := newEvent(f, GasPriceUpdate, gasStation)
	if err != nil {
		return err
	}

	if err := event.Set(NewGasPriceField, types.NewBigIntValue(price)); err != nil {
		return err
	}

	return f.Emit(event)
}

// stopInflationAtFinalSupply zeroes the inflation once the current supply
// reached the final supply.
func stopInflationAtFinalSupply(f runtime.Frame, validators, gasStation *runtime.Object) error {
	inflation, err := gasStation.Get(InflationField)
	if err != nil {
		return err
	}

	rate := int64(inflation.(types.LongValue))
	if rate == 0 {
		return nil
	}

	current, err := validators.BigInt(CurrentSupplyField)
	if err != nil {
		return err
	}

	final, err := validators.BigInt(FinalSupplyField)
	if err != nil {
		return err
	}

	c := current.Cmp(final)
	if (rate > 0 && c < 0) || (rate < 0 && c > 0) {
		return nil
	}

	if err := gasStation.Set(InflationField, types.LongValue(0)); err != nil {
		return err
	}

	return emitConsensusUpdate(f, gasStation, "the final supply has been reached")
}

func setVerificationVersion(f runtime.Frame, receiver *runtime.Object, args []types.Value) (types.Value, error) {
	manifest, err := receiver.Reference(VersionsManifestField)
	if err != nil {
		return nil, err
	}

	gamete, err := manifest.Reference(GameteField)
	if err != nil {
		return nil, err
	}

	if f.Caller() != gamete {
		return nil, runtime.Throw(NotAllowedError, "only the gamete can change the verification version")
	}

	current, err := receiver.Get(VerificationVersionField)
	if err != nil {
		return nil, err
	}

	next, ok := args[0].(types.IntValue)
	if !ok || next <= current.(types.IntValue) {
		return nil, runtime.Throw(IllegalArgumentError, fmt.Sprintf("the verification version can only increase from %s", current))
	}

	if err := receiver.Set(VerificationVersionField, next); err != nil {
		return nil, err
	}

	return nil, emitConsensusUpdate(f, receiver, fmt.Sprintf("verification version set to %d", next))
}

func emitConsensusUpdate(f runtime.Frame, creator *runtime.Object, message string) error {
	event, err := newEvent(f, ConsensusUpdate, creator)
	if err != nil {
		return err
	}

	if err := event.Set(MessageField, types.StringValue(message)); err != nil {
		return err
	}

	return f.Emit(event)
}

func newEvent(f runtime.Frame, class string, creator *runtime.Object) (*runtime.Object, error) {
	event, err := f.New(class)
	if err != nil {
		return nil, err
	}

	return event, event.Set(CreatorField, creator)
}

func addTo(o *runtime.Object, field types.FieldSignature, delta *big.Int) error {
	v, err := o.BigInt(field)
	if err != nil {
		return err
	}

	return o.Set(field, types.NewBigIntValue(v.Add(v, delta)))
}

// bigArg returns a bigint argument, zero for null.
func bigArg(args []types.Value, i int) *big.Int {
	if n, ok := args[i].(types.BigIntValue); ok {
		return n.Int()
	}

	return new(big.Int)
}

// strArg returns a string argument, empty for null.
func strArg(args []types.Value, i int) string {
	if s, ok := args[i].(types.StringValue); ok {
		return string(s)
	}

	return ""
}
