package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// Names of the supported signature algorithms.
const (
	Ed25519 = "ed25519"
	BLS     = "bls"
	Empty   = "empty"
)

// Algorithm verifies signatures of requests.
type Algorithm interface {
	Name() string
	Verify(publicKey, message, signature []byte) bool
}

// Signer produces signatures verifiable by the algorithm of the same name.
type Signer interface {
	Sign(message []byte) []byte
	PublicKey() []byte
}

// ForName returns the algorithm with the given name.
func ForName(name string) (Algorithm, error) {
	switch name {
	case Ed25519:
		return ed25519Algorithm{}, nil
	case BLS:
		return blsAlgorithm{}, nil
	case Empty:
		return emptyAlgorithm{}, nil
	default:
		return nil, fmt.Errorf("unknown signature algorithm %q", name)
	}
}

// EncodePublicKey returns the base64 form used to store public keys in accounts.
func EncodePublicKey(pk []byte) string {
	return base64.StdEncoding.EncodeToString(pk)
}

// DecodePublicKey reverses EncodePublicKey.
func DecodePublicKey(s string) ([]byte, error) {
	pk, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode public key:\n%w", err)
	}

	return pk, nil
}

// ed25519Algorithm verifies ed25519 signatures.
type ed25519Algorithm struct{}

func (ed25519Algorithm) Name() string { return Ed25519 }

func (ed25519Algorithm) Verify(publicKey, message, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}

	return ed25519.Verify(ed25519.PublicKey(publicKey), message, signature)
}

// Ed25519Signer signs with an ed25519 private key.
type Ed25519Signer struct {
	key ed25519.PrivateKey // key is the private key
}

// GenerateEd25519 creates a signer with a fresh key.
func GenerateEd25519() (*Ed25519Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key:\n%w", err)
	}

	return &Ed25519Signer{key: priv}, nil
}

// NewEd25519Signer wraps an existing private key.
func NewEd25519Signer(key ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{key: key}
}

func (s *Ed25519Signer) Sign(message []byte) []byte { return ed25519.Sign(s.key, message) }
func (s *Ed25519Signer) PublicKey() []byte          { return s.key.Public().(ed25519.PublicKey) }

// emptyAlgorithm accepts every signature. It is meant for tests and for
// networks that do not check signatures.
type emptyAlgorithm struct{}

func (emptyAlgorithm) Name() string                { return Empty }
func (emptyAlgorithm) Verify(_, _, _ []byte) bool { return true }

// EmptySigner produces empty signatures.
type EmptySigner struct{}

func (EmptySigner) Sign([]byte) []byte { return nil }
func (EmptySigner) PublicKey() []byte  { return nil }
