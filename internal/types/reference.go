package types

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

const (
	// ReferenceSize is the size of a transaction reference in bytes.
	ReferenceSize = 32

	// StorageReferenceSize is the size of an encoded storage reference.
	StorageReferenceSize = ReferenceSize + 4
)

// TransactionReference identifies a transaction: the blake3 hash of its request.
type TransactionReference [ReferenceSize]byte

// String returns the hex form of the reference.
func (r TransactionReference) String() string {
	return hex.EncodeToString(r[:])
}

// Short returns the first 8 hex characters, for logs.
func (r TransactionReference) Short() string {
	return hex.EncodeToString(r[:4])
}

// IsZero reports whether r is the zero reference.
func (r TransactionReference) IsZero() bool {
	return r == TransactionReference{}
}

// ParseTransactionReference parses the hex form of a transaction reference.
func ParseTransactionReference(s string) (TransactionReference, error) {
	var r TransactionReference

	b, err := hex.DecodeString(s)
	if err != nil {
		return r, fmt.Errorf("parse transaction reference:\n%w", err)
	}

	if len(b) != ReferenceSize {
		return r, fmt.Errorf("transaction reference must be %d bytes, got %d", ReferenceSize, len(b))
	}

	copy(r[:], b)

	return r, nil
}

// TransactionReferenceFromBytes copies a 32-byte slice into a reference.
func TransactionReferenceFromBytes(b []byte) (TransactionReference, error) {
	var r TransactionReference
	if len(b) != ReferenceSize {
		return r, fmt.Errorf("transaction reference must be %d bytes, got %d", ReferenceSize, len(b))
	}

	copy(r[:], b)

	return r, nil
}

// StorageReference identifies a storage object: the transaction that created
// it and a progressive number among the objects created by that transaction.
type StorageReference struct {
	Transaction TransactionReference // Transaction is the creating transaction
	Progressive uint32               // Progressive distinguishes objects of the same transaction
}

// Kind implements Value.
func (r StorageReference) Kind() ValueKind {
	return KindReference
}

// String returns "txhex#progressive".
func (r StorageReference) String() string {
	return r.Transaction.String() + "#" + strconv.FormatUint(uint64(r.Progressive), 16)
}

// Short returns an abbreviated form of the reference for logs.
func (r StorageReference) Short() string {
	return r.Transaction.Short() + "#" + strconv.FormatUint(uint64(r.Progressive), 16)
}

// Bytes returns the 36-byte encoding: the transaction followed by the big-endian progressive.
func (r StorageReference) Bytes() []byte {
	out := make([]byte, StorageReferenceSize)
	copy(out, r.Transaction[:])
	binary.BigEndian.PutUint32(out[ReferenceSize:], r.Progressive)

	return out
}

// StorageReferenceFromBytes decodes the 36-byte encoding of a storage reference.
func StorageReferenceFromBytes(b []byte) (StorageReference, error) {
	var r StorageReference
	if len(b) != StorageReferenceSize {
		return r, fmt.Errorf("storage reference must be %d bytes, got %d", StorageReferenceSize, len(b))
	}

	copy(r.Transaction[:], b[:ReferenceSize])
	r.Progressive = binary.BigEndian.Uint32(b[ReferenceSize:])

	return r, nil
}

// ParseStorageReference parses the "txhex#progressive" form.
func ParseStorageReference(s string) (StorageReference, error) {
	var r StorageReference

	tx, prog, ok := strings.Cut(s, "#")
	if !ok {
		return r, fmt.Errorf("storage reference %q lacks a progressive", s)
	}

	ref, err := ParseTransactionReference(tx)
	if err != nil {
		return r, err
	}

	n, err := strconv.ParseUint(prog, 16, 32)
	if err != nil {
		return r, fmt.Errorf("parse progressive:\n%w", err)
	}

	return StorageReference{Transaction: ref, Progressive: uint32(n)}, nil
}

// CompareStorageReferences orders references by transaction, then progressive.
func CompareStorageReferences(a, b StorageReference) int {
	if c := bytes.Compare(a.Transaction[:], b.Transaction[:]); c != 0 {
		return c
	}

	switch {
	case a.Progressive < b.Progressive:
		return -1
	case a.Progressive > b.Progressive:
		return 1
	default:
		return 0
	}
}
