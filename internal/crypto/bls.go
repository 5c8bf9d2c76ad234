package crypto

import (
	"crypto/rand"
	"fmt"

	blst "github.com/supranational/blst/bindings/go"
	"github.com/zeebo/blake3"
)

const (
	// BLSPublicKeySize is the size of a compressed BLS public key in bytes.
	BLSPublicKeySize = 48

	// BLSSignatureSize is the size of a compressed BLS signature in bytes.
	BLSSignatureSize = 96
)

// blsDST is the domain separation tag for BLS signatures.
var blsDST = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_")

// BLSKeyPair is a BLS12-381 key pair, public keys in G1 and signatures in G2.
type BLSKeyPair struct {
	secret *blst.SecretKey // secret is the private key
	public *blst.P1Affine  // public is the public key
}

// GenerateBLSKey creates a new BLS key pair from a random seed.
func GenerateBLSKey() (*BLSKeyPair, error) {
	var ikm [32]byte
	if _, err := rand.Read(ikm[:]); err != nil {
		return nil, fmt.Errorf("generate random seed:\n%w", err)
	}

	return BLSKeyFromSeed(ikm[:])
}

// BLSKeyFromSeed derives a BLS key pair from a seed of at least 32 bytes.
func BLSKeyFromSeed(seed []byte) (*BLSKeyPair, error) {
	if len(seed) < 32 {
		return nil, fmt.Errorf("seed must be at least 32 bytes")
	}

	secret := blst.KeyGen(seed)
	if secret == nil {
		return nil, fmt.Errorf("failed to generate BLS key")
	}

	return &BLSKeyPair{secret: secret, public: new(blst.P1Affine).From(secret)}, nil
}

// BLSKeyFromPassphrase derives a deterministic BLS key pair from a passphrase,
// hashing it with blake3.
func BLSKeyFromPassphrase(passphrase string) (*BLSKeyPair, error) {
	h := blake3.New()
	h.Write([]byte("podledger-bls-keygen"))
	h.Write([]byte(passphrase))

	var seed [32]byte
	h.Sum(seed[:0])

	return BLSKeyFromSeed(seed[:])
}

// Sign creates a BLS signature over the message.
func (k *BLSKeyPair) Sign(message []byte) []byte {
	return new(blst.P2Affine).Sign(k.secret, message, blsDST).Compress()
}

// PublicKey returns the compressed public key.
func (k *BLSKeyPair) PublicKey() []byte {
	return k.public.Compress()
}

// blsAlgorithm verifies BLS signatures.
type blsAlgorithm struct{}

func (blsAlgorithm) Name() string { return BLS }

// Verify checks a BLS signature against a message and compressed public key.
func (blsAlgorithm) Verify(publicKey, message, signature []byte) bool {
	if len(signature) != BLSSignatureSize || len(publicKey) != BLSPublicKeySize {
		return false
	}

	sig := new(blst.P2Affine).Uncompress(signature)
	if sig == nil {
		return false
	}

	pk := new(blst.P1Affine).Uncompress(publicKey)
	if pk == nil {
		return false
	}

	return sig.Verify(true, pk, true, message, blsDST)
}
