package state

import "PodLedger/internal/types"

// Key prefixes of the persisted layout.
var (
	requestPrefix  = []byte("q:")
	responsePrefix = []byte("s:")
	errorPrefix    = []byte("e:")
	historyPrefix  = []byte("h:")
	manifestKey    = []byte("m:")
)

func requestKey(ref types.TransactionReference) []byte {
	return append(append([]byte{}, requestPrefix...), ref[:]...)
}

func responseKey(ref types.TransactionReference) []byte {
	return append(append([]byte{}, responsePrefix...), ref[:]...)
}

func errorKey(ref types.TransactionReference) []byte {
	return append(append([]byte{}, errorPrefix...), ref[:]...)
}

func historyKey(object types.StorageReference) []byte {
	return append(append([]byte{}, historyPrefix...), object.Bytes()...)
}
