package types

import "math/big"

// RequestKind discriminates the concrete type of a Request.
type RequestKind uint8

const (
	KindJarStoreInitialRequest RequestKind = iota + 1
	KindGameteCreationRequest
	KindInitializationRequest
	KindJarStoreRequest
	KindConstructorCallRequest
	KindInstanceMethodCallRequest
	KindStaticMethodCallRequest
	KindInstanceSystemMethodCallRequest
)

// Request is the payload of a transaction.
type Request interface {
	Kind() RequestKind
}

// InitialRequest is a request that can only run before the node is initialized.
type InitialRequest interface {
	Request
	initial()
}

// NonInitialRequest is a request paid by a caller account.
type NonInitialRequest interface {
	Request
	Common() *NonInitialFields
}

// SignedRequest is a non-initial request carrying the caller's signature.
type SignedRequest interface {
	NonInitialRequest
	signed()
}

// SystemRequest is a request that only the node itself can run.
type SystemRequest interface {
	NonInitialRequest
	system()
}

// CodeCallRequest is a request that runs a constructor or a method.
type CodeCallRequest interface {
	NonInitialRequest
	Arguments() []Value
}

// NonInitialFields are shared by every non-initial request.
type NonInitialFields struct {
	Caller    StorageReference     // Caller is the account that pays and whose nonce is used
	GasLimit  *big.Int             // GasLimit is the maximal gas the request may consume
	Classpath TransactionReference // Classpath is the jar whose classes are visible
	Nonce     *big.Int             // Nonce must match the caller's nonce
	ChainID   string               // ChainID must match the node's chain id (signed requests)
	GasPrice  *big.Int             // GasPrice is the coins paid per unit of gas
	Signature []byte               // Signature signs the request without this field
}

// Common returns the fields shared by non-initial requests.
func (f *NonInitialFields) Common() *NonInitialFields {
	return f
}

// JarStoreInitialRequest installs a jar before the node is initialized.
type JarStoreInitialRequest struct {
	Jar          []byte                 // Jar is the encoded archive
	Dependencies []TransactionReference // Dependencies are previously installed jars
}

func (*JarStoreInitialRequest) Kind() RequestKind { return KindJarStoreInitialRequest }
func (*JarStoreInitialRequest) initial()          {}

// GameteCreationRequest creates the gamete account holding the initial supply.
type GameteCreationRequest struct {
	Classpath     TransactionReference // Classpath is the base library jar
	InitialAmount *big.Int             // InitialAmount is the balance of the gamete
	PublicKey     string               // PublicKey is the base64 public key of the gamete
}

func (*GameteCreationRequest) Kind() RequestKind { return KindGameteCreationRequest }
func (*GameteCreationRequest) initial()          {}

// InitializationRequest marks the node as initialized and sets its manifest.
type InitializationRequest struct {
	Classpath TransactionReference // Classpath is the base library jar
	Manifest  StorageReference     // Manifest is the manifest object
}

func (*InitializationRequest) Kind() RequestKind { return KindInitializationRequest }
func (*InitializationRequest) initial()          {}

// JarStoreRequest installs a jar, paid by the caller.
type JarStoreRequest struct {
	NonInitialFields
	Jar          []byte                 // Jar is the encoded archive
	Dependencies []TransactionReference // Dependencies are previously installed jars
}

func (*JarStoreRequest) Kind() RequestKind { return KindJarStoreRequest }
func (*JarStoreRequest) signed()           {}

// ConstructorCallRequest instantiates a storage class.
type ConstructorCallRequest struct {
	NonInitialFields
	Constructor ConstructorSignature // Constructor is the called constructor
	Actuals     []Value              // Actuals are the actual arguments
}

func (*ConstructorCallRequest) Kind() RequestKind    { return KindConstructorCallRequest }
func (*ConstructorCallRequest) signed()              {}
func (r *ConstructorCallRequest) Arguments() []Value { return r.Actuals }

// InstanceMethodCallRequest calls a method on a receiver.
type InstanceMethodCallRequest struct {
	NonInitialFields
	Method   MethodSignature  // Method is the called method
	Receiver StorageReference // Receiver is the object the method runs on
	Actuals  []Value          // Actuals are the actual arguments
}

func (*InstanceMethodCallRequest) Kind() RequestKind    { return KindInstanceMethodCallRequest }
func (*InstanceMethodCallRequest) signed()              {}
func (r *InstanceMethodCallRequest) Arguments() []Value { return r.Actuals }

// StaticMethodCallRequest calls a static method.
type StaticMethodCallRequest struct {
	NonInitialFields
	Method  MethodSignature // Method is the called method
	Actuals []Value         // Actuals are the actual arguments
}

func (*StaticMethodCallRequest) Kind() RequestKind    { return KindStaticMethodCallRequest }
func (*StaticMethodCallRequest) signed()              {}
func (r *StaticMethodCallRequest) Arguments() []Value { return r.Actuals }

// InstanceSystemMethodCallRequest is an unsigned instance method call that
// the node runs on its own behalf, for instance to reward validators.
type InstanceSystemMethodCallRequest struct {
	NonInitialFields
	Method   MethodSignature  // Method is the called method
	Receiver StorageReference // Receiver is the object the method runs on
	Actuals  []Value          // Actuals are the actual arguments
}

func (*InstanceSystemMethodCallRequest) Kind() RequestKind    { return KindInstanceSystemMethodCallRequest }
func (*InstanceSystemMethodCallRequest) system()              {}
func (r *InstanceSystemMethodCallRequest) Arguments() []Value { return r.Actuals }

// IsInitial reports whether r can only run before initialization.
func IsInitial(r Request) bool {
	_, ok := r.(InitialRequest)
	return ok
}

// IsSystem reports whether r is a system request.
func IsSystem(r Request) bool {
	_, ok := r.(SystemRequest)
	return ok
}
