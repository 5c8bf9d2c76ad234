// Package corelib is the base library installed at genesis. Its code runs
// natively in the node.
package corelib

import "PodLedger/internal/types"

// Library is the name of the native library of the base jar.
const Library = "core"

// Class names of the base library.
const (
	Storage                = "core.Storage"
	Contract               = "core.Contract"
	ExternallyOwnedAccount = "core.ExternallyOwnedAccount"
	Gamete                 = "core.Gamete"
	Event                  = "core.Event"
	ConsensusUpdate        = "core.ConsensusUpdate"
	GasPriceUpdate         = "core.GasPriceUpdate"
	Manifest               = "core.Manifest"
	Validators             = "core.Validators"
	GasStation             = "core.GasStation"
	Versions               = "core.Versions"
)

// Exception classes thrown by the base library.
const (
	InsufficientFundsError = "core.InsufficientFundsError"
	IllegalArgumentError   = "core.IllegalArgumentError"
	NotAllowedError        = "core.NotAllowedError"
)

func field(class, name, typ string) types.FieldSignature {
	return types.FieldSignature{Class: class, Name: name, Type: typ}
}

// Fields of the base library.
var (
	BalanceField   = field(Contract, "balance", types.TypeBigInt)
	NonceField     = field(ExternallyOwnedAccount, "nonce", types.TypeBigInt)
	PublicKeyField = field(ExternallyOwnedAccount, "publicKey", types.TypeString)

	CreatorField     = field(Event, "creator", Storage)
	MessageField     = field(ConsensusUpdate, "message", types.TypeString)
	NewGasPriceField = field(GasPriceUpdate, "newGasPrice", types.TypeBigInt)

	ChainIDField                         = field(Manifest, "chainId", types.TypeString)
	MaxErrorLengthField                  = field(Manifest, "maxErrorLength", types.TypeInt)
	MaxDependenciesField                 = field(Manifest, "maxDependencies", types.TypeInt)
	MaxCumulativeSizeOfDependenciesField = field(Manifest, "maxCumulativeSizeOfDependencies", types.TypeLong)
	SkipsVerificationField               = field(Manifest, "skipsVerification", types.TypeBool)
	SignatureField                       = field(Manifest, "signature", types.TypeString)
	GameteField                          = field(Manifest, "gamete", ExternallyOwnedAccount)
	ValidatorsField                      = field(Manifest, "validators", Validators)
	GasStationField                      = field(Manifest, "gasStation", GasStation)
	VersionsField                        = field(Manifest, "versions", Versions)

	ValidatorsManifestField   = field(Validators, "manifest", Manifest)
	CurrentSupplyField        = field(Validators, "currentSupply", types.TypeBigInt)
	FinalSupplyField          = field(Validators, "finalSupply", types.TypeBigInt)
	HeightField               = field(Validators, "height", types.TypeLong)
	NumberOfTransactionsField = field(Validators, "numberOfTransactions", types.TypeBigInt)
	TotalRewardedField        = field(Validators, "totalRewarded", types.TypeBigInt)
	LastBehavingField         = field(Validators, "lastBehaving", types.TypeString)
	LastMisbehavingField      = field(Validators, "lastMisbehaving", types.TypeString)
	GasStationManifestField   = field(GasStation, "manifest", Manifest)
	GasPriceField             = field(GasStation, "gasPrice", types.TypeBigInt)
	MaxGasPerTransactionField = field(GasStation, "maxGasPerTransaction", types.TypeBigInt)
	IgnoresGasPriceField      = field(GasStation, "ignoresGasPrice", types.TypeBool)
	TargetGasAtRewardField    = field(GasStation, "targetGasAtReward", types.TypeBigInt)
	InflationField            = field(GasStation, "inflation", types.TypeLong)
	VersionsManifestField     = field(Versions, "manifest", Manifest)
	VerificationVersionField  = field(Versions, "verificationVersion", types.TypeInt)
)

func fieldDefs(fs ...types.FieldSignature) []types.FieldDef {
	defs := make([]types.FieldDef, len(fs))
	for i, f := range fs {
		defs[i] = types.FieldDef{Name: f.Name, Type: f.Type}
	}

	return defs
}

func view(name, returns string) types.CodeDef {
	return types.CodeDef{Name: name, Returns: returns, View: true}
}

// ManifestConstructorFormals are the formals of the manifest constructor.
var ManifestConstructorFormals = []string{
	types.TypeString, // chain id
	types.TypeInt,    // max error length
	types.TypeInt,    // max dependencies
	types.TypeLong,   // max cumulative size of dependencies
	types.TypeBool,   // skips verification
	types.TypeString, // signature algorithm
	types.TypeInt,    // verification version
	types.TypeBigInt, // initial gas price
	types.TypeBigInt, // max gas per transaction
	types.TypeBool,   // ignores gas price
	types.TypeBigInt, // target gas at reward
	types.TypeLong,   // inflation
	types.TypeBigInt, // initial supply
	types.TypeBigInt, // final supply
}

// RewardFormals are the formals of Validators.reward.
var RewardFormals = []string{
	types.TypeBigInt, // coins rewarded
	types.TypeBigInt, // coins minted
	types.TypeString, // behaving validators
	types.TypeString, // misbehaving validators
	types.TypeBigInt, // gas consumed
	types.TypeBigInt, // number of transactions
}

// Classes returns the class definitions of the base library.
func Classes() []types.ClassDef {
	return []types.ClassDef{
		{Name: Storage},
		{
			Name:       Contract,
			Superclass: Storage,
			Fields:     fieldDefs(BalanceField),
			Methods: []types.CodeDef{
				view("getBalance", types.TypeBigInt),
				{Name: "receive", Formals: []string{types.TypeBigInt}, Throws: true},
			},
		},
		{
			Name:         ExternallyOwnedAccount,
			Superclass:   Contract,
			Fields:       fieldDefs(NonceField, PublicKeyField),
			Constructors: []types.CodeDef{{Formals: []string{types.TypeBigInt, types.TypeString}, Throws: true}},
			Methods: []types.CodeDef{
				view("getNonce", types.TypeBigInt),
				view("getPublicKey", types.TypeString),
			},
		},
		{Name: Gamete, Superclass: ExternallyOwnedAccount},
		{
			Name:       Event,
			Superclass: Storage,
			Fields:     fieldDefs(CreatorField),
			Methods:    []types.CodeDef{view("getCreator", Storage)},
		},
		{Name: ConsensusUpdate, Superclass: Event, Fields: fieldDefs(MessageField)},
		{Name: GasPriceUpdate, Superclass: Event, Fields: fieldDefs(NewGasPriceField)},
		{
			Name:       Manifest,
			Superclass: ExternallyOwnedAccount,
			Fields: fieldDefs(ChainIDField, MaxErrorLengthField, MaxDependenciesField, MaxCumulativeSizeOfDependenciesField,
				SkipsVerificationField, SignatureField, GameteField, ValidatorsField, GasStationField, VersionsField),
			Constructors: []types.CodeDef{{Formals: ManifestConstructorFormals}},
			Methods: []types.CodeDef{
				view("getChainId", types.TypeString),
				view("getMaxErrorLength", types.TypeInt),
				view("getMaxDependencies", types.TypeInt),
				view("getMaxCumulativeSizeOfDependencies", types.TypeLong),
				view("skipsVerification", types.TypeBool),
				view("getSignature", types.TypeString),
				view("getGamete", ExternallyOwnedAccount),
				view("getValidators", Validators),
				view("getGasStation", GasStation),
				view("getVersions", Versions),
			},
		},
		{
			Name:       Validators,
			Superclass: Contract,
			Fields: fieldDefs(ValidatorsManifestField, CurrentSupplyField, FinalSupplyField, HeightField,
				NumberOfTransactionsField, TotalRewardedField, LastBehavingField, LastMisbehavingField),
			Methods: []types.CodeDef{
				{Name: "reward", Formals: RewardFormals},
				view("getCurrentSupply", types.TypeBigInt),
				view("getFinalSupply", types.TypeBigInt),
				view("getHeight", types.TypeLong),
				view("getNumberOfTransactions", types.TypeBigInt),
				view("getTotalRewarded", types.TypeBigInt),
			},
		},
		{
			Name:       GasStation,
			Superclass: Storage,
			Fields: fieldDefs(GasStationManifestField, GasPriceField, MaxGasPerTransactionField, IgnoresGasPriceField,
				TargetGasAtRewardField, InflationField),
			Methods: []types.CodeDef{
				view("getGasPrice", types.TypeBigInt),
				view("getMaxGasPerTransaction", types.TypeBigInt),
				view("ignoresGasPrice", types.TypeBool),
				view("getTargetGasAtReward", types.TypeBigInt),
				view("getInflation", types.TypeLong),
			},
		},
		{
			Name:       Versions,
			Superclass: Storage,
			Fields:     fieldDefs(VersionsManifestField, VerificationVersionField),
			Methods: []types.CodeDef{
				view("getVerificationVersion", types.TypeInt),
				{Name: "setVerificationVersion", Formals: []string{types.TypeInt}, Throws: true},
			},
		},
	}
}

// Jar returns the base jar.
func Jar() *types.Jar {
	return &types.Jar{Library: Library, Classes: Classes()}
}
