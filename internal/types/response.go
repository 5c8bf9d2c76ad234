package types

import "math/big"

// ResponseKind discriminates the concrete type of a Response.
type ResponseKind uint8

const (
	KindJarStoreInitialResponse ResponseKind = iota + 1
	KindGameteCreationResponse
	KindInitializationResponse
	KindJarStoreResponse
	KindConstructorCallResponse
	KindMethodCallResponse
)

// Outcome tells how a non-initial transaction ended.
type Outcome uint8

const (
	// Successful transactions completed normally.
	Successful Outcome = iota
	// Exception transactions ended with a checked exception thrown by the code.
	Exception
	// Failed transactions ended with an error; the unused gas is a penalty.
	Failed
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case Successful:
		return "successful"
	case Exception:
		return "exception"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Response is the result of a transaction.
type Response interface {
	Kind() ResponseKind
}

// ResponseWithUpdates is a response that modifies the state of objects.
type ResponseWithUpdates interface {
	Response
	Updates() []Update
}

// ResponseWithEvents is a response that may have emitted events.
type ResponseWithEvents interface {
	Response
	Events() []StorageReference
}

// NonInitialResponse is the response to a non-initial request.
type NonInitialResponse interface {
	ResponseWithUpdates
	GasConsumed() GasCost
	Result() Outcome
	PenaltyGas() *big.Int
	FailureCause() *Failure
}

// GasCost is the gas consumed by a transaction, split by resource.
type GasCost struct {
	CPU     *big.Int // CPU is the gas for computation
	RAM     *big.Int // RAM is the gas for memory
	Storage *big.Int // Storage is the gas for persisted data
}

// NewGasCost returns a zero gas cost.
func NewGasCost() GasCost {
	return GasCost{CPU: new(big.Int), RAM: new(big.Int), Storage: new(big.Int)}
}

// Total returns CPU + RAM + Storage.
func (g GasCost) Total() *big.Int {
	total := new(big.Int)
	for _, v := range []*big.Int{g.CPU, g.RAM, g.Storage} {
		if v != nil {
			total.Add(total, v)
		}
	}

	return total
}

// Failure describes why a transaction failed or which exception it threw.
type Failure struct {
	Class   string // Class is the name of the error class
	Message string // Message is the error message
	Where   string // Where is the code location, if known
}

// Error implements error.
func (f *Failure) Error() string {
	if f.Message == "" {
		return f.Class
	}

	return f.Class + ": " + f.Message
}

// JarStoreInitialResponse is the response to a JarStoreInitialRequest.
type JarStoreInitialResponse struct {
	InstrumentedJar     []byte                 // InstrumentedJar is the verified jar, compressed
	Dependencies        []TransactionReference // Dependencies are the jars it depends on
	VerificationVersion uint32                 // VerificationVersion is the version used to verify it
}

func (*JarStoreInitialResponse) Kind() ResponseKind { return KindJarStoreInitialResponse }

// GameteCreationResponse is the response to a GameteCreationRequest.
type GameteCreationResponse struct {
	UpdateList []Update         // UpdateList holds the state of the new gamete
	Gamete     StorageReference // Gamete is the created account
}

func (*GameteCreationResponse) Kind() ResponseKind  { return KindGameteCreationResponse }
func (r *GameteCreationResponse) Updates() []Update { return r.UpdateList }

// InitializationResponse is the response to an InitializationRequest.
type InitializationResponse struct{}

func (*InitializationResponse) Kind() ResponseKind { return KindInitializationResponse }

// nonInitial holds the fields common to non-initial responses.
type nonInitial struct {
	Outcome    Outcome  // Outcome tells how the transaction ended
	UpdateList []Update // UpdateList are the state changes, sorted
	Gas        GasCost  // Gas is the consumed gas, without penalty
	Penalty    *big.Int // Penalty is the gas charged on failure
	Cause      *Failure // Cause describes the failure or the thrown exception
}

func (r *nonInitial) Updates() []Update      { return r.UpdateList }
func (r *nonInitial) GasConsumed() GasCost   { return r.Gas }
func (r *nonInitial) Result() Outcome        { return r.Outcome }
func (r *nonInitial) FailureCause() *Failure { return r.Cause }

// PenaltyGas returns the penalty, zero unless the transaction failed.
func (r *nonInitial) PenaltyGas() *big.Int {
	if r.Penalty == nil {
		return new(big.Int)
	}

	return r.Penalty
}

// JarStoreResponse is the response to a JarStoreRequest.
type JarStoreResponse struct {
	nonInitial
	InstrumentedJar     []byte                 // InstrumentedJar is set on success
	Dependencies        []TransactionReference // Dependencies are set on success
	VerificationVersion uint32                 // VerificationVersion is set on success
}

func (*JarStoreResponse) Kind() ResponseKind { return KindJarStoreResponse }

// ConstructorCallResponse is the response to a ConstructorCallRequest.
type ConstructorCallResponse struct {
	nonInitial
	EventList []StorageReference // EventList are the emitted events
	NewObject StorageReference   // NewObject is set on success
}

func (*ConstructorCallResponse) Kind() ResponseKind           { return KindConstructorCallResponse }
func (r *ConstructorCallResponse) Events() []StorageReference { return r.EventList }

// MethodCallResponse is the response to a method call, instance, static or system.
type MethodCallResponse struct {
	nonInitial
	EventList   []StorageReference // EventList are the emitted events
	ReturnValue Value              // ReturnValue is set on success for non-void methods
}

func (*MethodCallResponse) Kind() ResponseKind           { return KindMethodCallResponse }
func (r *MethodCallResponse) Events() []StorageReference { return r.EventList }

// NewJarStoreResponse creates a jar store response.
func NewJarStoreResponse(outcome Outcome, updates []Update, gas GasCost, penalty *big.Int, cause *Failure) *JarStoreResponse {
	return &JarStoreResponse{nonInitial: nonInitial{Outcome: outcome, UpdateList: updates, Gas: gas, Penalty: penalty, Cause: cause}}
}

// NewConstructorCallResponse creates a constructor call response.
func NewConstructorCallResponse(outcome Outcome, updates []Update, events []StorageReference, gas GasCost, penalty *big.Int, cause *Failure) *ConstructorCallResponse {
	return &ConstructorCallResponse{
		nonInitial: nonInitial{Outcome: outcome, UpdateList: updates, Gas: gas, Penalty: penalty, Cause: cause},
		EventList:  events,
	}
}

// NewMethodCallResponse creates a method call response.
func NewMethodCallResponse(outcome Outcome, updates []Update, events []StorageReference, gas GasCost, penalty *big.Int, cause *Failure) *MethodCallResponse {
	return &MethodCallResponse{
		nonInitial: nonInitial{Outcome: outcome, UpdateList: updates, Gas: gas, Penalty: penalty, Cause: cause},
		EventList:  events,
	}
}

// InstalledJar is the jar carried by a successful jar installation response.
type InstalledJar struct {
	Instrumented        []byte                 // Instrumented is the compressed verified jar
	Dependencies        []TransactionReference // Dependencies are the jars it depends on
	VerificationVersion uint32                 // VerificationVersion is the version used to verify it
}

// InstalledJarOf returns the jar installed by r, if r is a successful jar installation.
func InstalledJarOf(r Response) (InstalledJar, bool) {
	switch resp := r.(type) {
	case *JarStoreInitialResponse:
		return InstalledJar{resp.InstrumentedJar, resp.Dependencies, resp.VerificationVersion}, true
	case *JarStoreResponse:
		if resp.Outcome == Successful {
			return InstalledJar{resp.InstrumentedJar, resp.Dependencies, resp.VerificationVersion}, true
		}
	}

	return InstalledJar{}, false
}

// UpdatesOf returns the updates of r, or nil if r carries none.
func UpdatesOf(r Response) []Update {
	if withUpdates, ok := r.(ResponseWithUpdates); ok {
		return withUpdates.Updates()
	}

	return nil
}

// EventsOf returns the events of r, or nil if r carries none.
func EventsOf(r Response) []StorageReference {
	if withEvents, ok := r.(ResponseWithEvents); ok {
		return withEvents.Events()
	}

	return nil
}
