package crypto

import (
	"testing"
)

func newTestSigners(t *testing.T) (*KeySigner, *KeySigner) {
	t.Helper()

	edKey, err := GenerateEd25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateEd25519KeyPair() error = %v", err)
	}
	edSigner, err := NewEd25519Signer(edKey)
	if err != nil {
		t.Fatalf("NewEd25519Signer() error = %v", err)
	}

	rsaKey, err := GenerateRSAKeyPair(2048)
	if err != nil {
		t.Fatalf("GenerateRSAKeyPair() error = %v", err)
	}
	rsaSigner, err := NewRSASigner(rsaKey)
	if err != nil {
		t.Fatalf("NewRSASigner() error = %v", err)
	}

	return edSigner, rsaSigner
}

func TestVerifySignature(t *testing.T) {
	edSigner, rsaSigner := newTestSigners(t)
	payload := []byte("a canonical token")

	edSig, err := edSigner.Sign(payload)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	rsaSig, err := rsaSigner.Sign(payload)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	tests := []struct {
		name      string
		signature string
		payload   []byte
		key       string
		wantErr   bool
	}{
		{"ed25519", edSig, payload, edSigner.PublicKey(), false},
		{"rsa", rsaSig, payload, rsaSigner.PublicKey(), false},
		{"signature from another key", rsaSig, payload, edSigner.PublicKey(), true},
		{"modified payload", edSig, []byte("another token"), edSigner.PublicKey(), true},
		{"garbage signature", "abc", payload, edSigner.PublicKey(), true},
		{"garbage key", edSig, payload, "abc", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature(tt.signature, tt.payload, tt.key)
			if tt.wantErr && err == nil {
				t.Fatal("expected verification to fail")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("VerifySignature() error = %v", err)
			}
		})
	}
}

func TestNewSignerFromJWKFile(t *testing.T) {
	privateKey, err := GenerateEd25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateEd25519KeyPair() error = %v", err)
	}
	keyID, err := KeyIDFromPublicKey(privateKey.Public())
	if err != nil {
		t.Fatalf("KeyIDFromPublicKey() error = %v", err)
	}

	dir := t.TempDir()
	if err := SaveKeyToJWKFile(privateKey, keyID, dir, "signing.jwk"); err != nil {
		t.Fatalf("SaveKeyToJWKFile() error = %v", err)
	}

	signer, err := NewSignerFromJWKFile(dir, "signing.jwk")
	if err != nil {
		t.Fatalf("NewSignerFromJWKFile() error = %v", err)
	}

	if signer.KeyID() != keyID {
		t.Errorf("KeyID() = %q, want %q", signer.KeyID(), keyID)
	}
	if signer.Algorithm() != AlgorithmEd25519 {
		t.Errorf("Algorithm() = %q, want %q", signer.Algorithm(), AlgorithmEd25519)
	}

	set, err := signer.JWKSet()
	if err != nil {
		t.Fatalf("JWKSet() error = %v", err)
	}
	if _, ok := set.LookupKeyID(keyID); !ok {
		t.Errorf("JWK set does not contain key %q", keyID)
	}
}
