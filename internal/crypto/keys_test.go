package crypto

import (
	"crypto/ed25519"
	"crypto/rsa"
	"os"
	"path/filepath"
	"testing"
)

// test that only valid RSA key sizes are accepted
func TestGenerateRSAKeyPair(t *testing.T) {
	tests := []struct {
		name    string
		bits    int
		wantErr bool
	}{
		{
			name:    "generate 2048-bit key",
			bits:    2048,
			wantErr: false,
		},
		{
			name:    "generate key with too small size",
			bits:    1024,
			wantErr: true,
		},
		{
			name:    "generate key with invalid size",
			bits:    2500,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			privateKey, err := GenerateRSAKeyPair(tt.bits)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("GenerateRSAKeyPair() error = %v", err)
			}

			if privateKey.N.BitLen() != tt.bits {
				t.Errorf("key bit length = %d, want %d", privateKey.N.BitLen(), tt.bits)
			}
		})
	}
}

// generate a Ed25519 key pair, save the private and public keys to JWK files, read them back and compare
func TestSaveAndReadEd25519JWK(t *testing.T) {
	privateKey, err := GenerateEd25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateEd25519KeyPair() error = %v", err)
	}
	publicKey := privateKey.Public().(ed25519.PublicKey)

	keyID, err := KeyIDFromPublicKey(publicKey)
	if err != nil {
		t.Fatalf("KeyIDFromPublicKey() error = %v", err)
	}

	dir := t.TempDir()

	if err := SaveKeyToJWKFile(privateKey, keyID, dir, "private.jwk"); err != nil {
		t.Fatalf("SaveKeyToJWKFile(private) error = %v", err)
	}
	if err := SaveKeyToJWKFile(publicKey, keyID, dir, "public.jwk"); err != nil {
		t.Fatalf("SaveKeyToJWKFile(public) error = %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, "private.jwk"))
	if err != nil {
		t.Fatalf("stat private key: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("private key mode = %v, want 0600", info.Mode().Perm())
	}

	raw, err := ReadPrivateKeyFromJWKFile(dir, "private.jwk")
	if err != nil {
		t.Fatalf("ReadPrivateKeyFromJWKFile() error = %v", err)
	}
	readPrivate, ok := raw.(ed25519.PrivateKey)
	if !ok {
		t.Fatalf("expected ed25519.PrivateKey, got %T", raw)
	}
	if !privateKey.Equal(readPrivate) {
		t.Errorf("private key read from file does not match")
	}

	publicJWK, err := ReadJWKFile(dir, "public.jwk")
	if err != nil {
		t.Fatalf("ReadJWKFile() error = %v", err)
	}
	readPublic, err := JWKToPublicKey(publicJWK)
	if err != nil {
		t.Fatalf("JWKToPublicKey() error = %v", err)
	}
	if !publicKey.Equal(readPublic.(ed25519.PublicKey)) {
		t.Errorf("public key read from file does not match")
	}

	// a public key file cannot be used as a signing key
	if _, err := ReadPrivateKeyFromJWKFile(dir, "public.jwk"); err == nil {
		t.Errorf("expected an error reading a private key from a public key file")
	}
}

func TestSaveAndReadRSAJWK(t *testing.T) {
	privateKey, err := GenerateRSAKeyPair(2048)
	if err != nil {
		t.Fatalf("GenerateRSAKeyPair() error = %v", err)
	}

	keyID, err := KeyIDFromPublicKey(&privateKey.PublicKey)
	if err != nil {
		t.Fatalf("KeyIDFromPublicKey() error = %v", err)
	}

	dir := t.TempDir()
	if err := SaveKeyToJWKFile(privateKey, keyID, dir, "rsa.jwk"); err != nil {
		t.Fatalf("SaveKeyToJWKFile() error = %v", err)
	}

	raw, err := ReadPrivateKeyFromJWKFile(dir, "rsa.jwk")
	if err != nil {
		t.Fatalf("ReadPrivateKeyFromJWKFile() error = %v", err)
	}
	readPrivate, ok := raw.(*rsa.PrivateKey)
	if !ok {
		t.Fatalf("expected *rsa.PrivateKey, got %T", raw)
	}
	if !privateKey.Equal(readPrivate) {
		t.Errorf("private key read from file does not match")
	}
}

func TestReadJWKFile_Errors(t *testing.T) {
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "garbage.jwk"), []byte("{not json"), 0600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	tests := []struct {
		name     string
		filename string
	}{
		{"missing file", "missing.jwk"},
		{"invalid JSON", "garbage.jwk"},
		{"path escapes the base directory", "../escape.jwk"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadJWKFile(dir, tt.filename); err == nil {
				t.Errorf("expected an error reading %s", tt.filename)
			}
		})
	}
}
