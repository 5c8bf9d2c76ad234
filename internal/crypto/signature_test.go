package crypto

import "testing"

func TestAlgorithms(t *testing.T) {
	ed, err := GenerateEd25519()
	if err != nil {
		t.Fatalf("GenerateEd25519 failed: %v", err)
	}

	bls, err := BLSKeyFromPassphrase("validator-0")
	if err != nil {
		t.Fatalf("BLSKeyFromPassphrase failed: %v", err)
	}

	tests := []struct {
		name   string
		signer Signer
	}{
		{Ed25519, ed},
		{BLS, bls},
	}

	message := []byte("request bytes")

	for _, tt := range tests {
		alg, err := ForName(tt.name)
		if err != nil {
			t.Fatalf("ForName(%s) failed: %v", tt.name, err)
		}

		sig := tt.signer.Sign(message)

		if !alg.Verify(tt.signer.PublicKey(), message, sig) {
			t.Errorf("%s: valid signature rejected", tt.name)
		}

		if alg.Verify(tt.signer.PublicKey(), []byte("other bytes"), sig) {
			t.Errorf("%s: signature accepted for another message", tt.name)
		}

		if alg.Verify(tt.signer.PublicKey(), message, sig[:len(sig)-1]) {
			t.Errorf("%s: truncated signature accepted", tt.name)
		}
	}
}

func TestBLSDeterministicFromPassphrase(t *testing.T) {
	a, _ := BLSKeyFromPassphrase("same")
	b, _ := BLSKeyFromPassphrase("same")

	if string(a.PublicKey()) != string(b.PublicKey()) {
		t.Error("same passphrase produced different keys")
	}

	if len(a.PublicKey()) != BLSPublicKeySize {
		t.Errorf("public key size = %d", len(a.PublicKey()))
	}
}

func TestEmptyAndUnknown(t *testing.T) {
	alg, err := ForName(Empty)
	if err != nil {
		t.Fatalf("ForName(empty) failed: %v", err)
	}
	if !alg.Verify(nil, nil, nil) {
		t.Error("empty algorithm rejected a signature")
	}

	if _, err := ForName("sha256dsa"); err == nil {
		t.Error("unknown algorithm accepted")
	}
}

func TestPublicKeyEncoding(t *testing.T) {
	pk := []byte{1, 2, 3, 250}

	decoded, err := DecodePublicKey(EncodePublicKey(pk))
	if err != nil || string(decoded) != string(pk) {
		t.Errorf("DecodePublicKey = %v, %v", decoded, err)
	}

	if _, err := DecodePublicKey("not base64!"); err == nil {
		t.Error("invalid base64 accepted")
	}
}
