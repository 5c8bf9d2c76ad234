package gas

import "math/big"

// CostModel prices the resources consumed by transactions.
type CostModel interface {
	// CPUBaseTransactionCost is charged to every non-initial transaction.
	CPUBaseTransactionCost() *big.Int

	// StorageCostOf prices the persistence of size bytes.
	StorageCostOf(size int) *big.Int

	// RAMCostOfObject prices the materialization of an object.
	RAMCostOfObject() *big.Int

	// RAMCostOfField prices the materialization of a field.
	RAMCostOfField() *big.Int

	// RAMCostOfActivationRecord prices a method or constructor invocation.
	RAMCostOfActivationRecord() *big.Int

	// CPUCostOfInvocation prices the dispatch of a method or constructor.
	CPUCostOfInvocation() *big.Int

	// CPUCostForGettingResponseAt prices the read of a response from the store.
	CPUCostForGettingResponseAt() *big.Int

	// CPUCostForInstallingJar prices the verification of a jar of the given size.
	CPUCostForInstallingJar(size int) *big.Int

	// RAMCostForInstallingJar prices the memory needed to verify a jar of the given size.
	RAMCostForInstallingJar(size int) *big.Int

	// CPUCostForLoadingJar prices loading a jar of the given size in a class loader.
	CPUCostForLoadingJar(size int) *big.Int

	// RAMCostForLoadingJar prices the memory of a loaded jar of the given size.
	RAMCostForLoadingJar(size int) *big.Int
}

// Params holds the constants of the standard cost model.
type Params struct {
	BaseTransaction     int64 // BaseTransaction is the CPU cost of every transaction
	StoragePerByte      int64 // StoragePerByte is the storage cost of one persisted byte
	ObjectRAM           int64 // ObjectRAM is the RAM cost of an object
	FieldRAM            int64 // FieldRAM is the RAM cost of a field
	ActivationRecordRAM int64 // ActivationRecordRAM is the RAM cost of an invocation
	Invocation          int64 // Invocation is the CPU cost of an invocation
	ResponseRead        int64 // ResponseRead is the CPU cost of reading a response
	InstallDivisor      int64 // InstallDivisor scales jar size into installation CPU
	LoadDivisor         int64 // LoadDivisor scales jar size into loading CPU
	RAMDivisor          int64 // RAMDivisor scales jar size into RAM
}

// DefaultParams returns the constants of the standard model.
func DefaultParams() Params {
	return Params{
		BaseTransaction:     10,
		StoragePerByte:      1,
		ObjectRAM:           4,
		FieldRAM:            1,
		ActivationRecordRAM: 3,
		Invocation:          10,
		ResponseRead:        10,
		InstallDivisor:      400,
		LoadDivisor:         1000,
		RAMDivisor:          40,
	}
}

// Standard is the default CostModel.
type Standard struct {
	p Params
}

// NewStandard creates a standard model with the given constants.
func NewStandard(p Params) *Standard {
	for _, d := range []*int64{&p.InstallDivisor, &p.LoadDivisor, &p.RAMDivisor} {
		if *d <= 0 {
			*d = 1
		}
	}

	return &Standard{p: p}
}

// Default returns the standard model with default constants.
func Default() *Standard {
	return NewStandard(DefaultParams())
}

func (s *Standard) CPUBaseTransactionCost() *big.Int      { return big.NewInt(s.p.BaseTransaction) }
func (s *Standard) StorageCostOf(size int) *big.Int       { return big.NewInt(s.p.StoragePerByte * int64(size)) }
func (s *Standard) RAMCostOfObject() *big.Int             { return big.NewInt(s.p.ObjectRAM) }
func (s *Standard) RAMCostOfField() *big.Int              { return big.NewInt(s.p.FieldRAM) }
func (s *Standard) RAMCostOfActivationRecord() *big.Int   { return big.NewInt(s.p.ActivationRecordRAM) }
func (s *Standard) CPUCostOfInvocation() *big.Int         { return big.NewInt(s.p.Invocation) }
func (s *Standard) CPUCostForGettingResponseAt() *big.Int { return big.NewInt(s.p.ResponseRead) }

// CPUCostForInstallingJar grows linearly with the size of the jar, plus a constant.
func (s *Standard) CPUCostForInstallingJar(size int) *big.Int {
	return big.NewInt(int64(size)/s.p.InstallDivisor + s.p.BaseTransaction)
}

// RAMCostForInstallingJar grows linearly with the size of the jar.
func (s *Standard) RAMCostForInstallingJar(size int) *big.Int {
	return big.NewInt(int64(size) / s.p.RAMDivisor)
}

// CPUCostForLoadingJar grows linearly with the size of the jar, plus a constant.
func (s *Standard) CPUCostForLoadingJar(size int) *big.Int {
	return big.NewInt(int64(size)/s.p.LoadDivisor + 1)
}

// RAMCostForLoadingJar grows linearly with the size of the jar.
func (s *Standard) RAMCostForLoadingJar(size int) *big.Int {
	return big.NewInt(int64(size) / s.p.RAMDivisor)
}

// Cost returns gas * price, the coins paid for some gas.
func Cost(gas, price *big.Int) *big.Int {
	if gas == nil || price == nil {
		return new(big.Int)
	}

	return new(big.Int).Mul(gas, price)
}
