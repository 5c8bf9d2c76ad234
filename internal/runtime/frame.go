package runtime

import "PodLedger/internal/types"

// Frame is what native code sees of the running transaction.
type Frame interface {
	// Caller returns the account running the transaction.
	Caller() *Object

	// New creates an object of the named class, with default field values.
	New(class string) (*Object, error)

	// Emit records an event, which must be an instance of the event class.
	Emit(event *Object) error

	// ChargeCPU consumes CPU gas.
	ChargeCPU(amount int64) error
}

// Native implements a method or constructor in Go. Receiver is the new
// object for constructors and nil for static methods.
type Native func(f Frame, receiver *Object, args []types.Value) (types.Value, error)

// Thrown is an exception thrown by contract code.
type Thrown struct {
	Class   string // Class is the name of the exception class
	Message string // Message describes the exception
}

// Throw builds a Thrown.
func Throw(class, message string) *Thrown {
	return &Thrown{Class: class, Message: message}
}

func (t *Thrown) Error() string {
	if t.Message == "" {
		return t.Class
	}

	return t.Class + ": " + t.Message
}
