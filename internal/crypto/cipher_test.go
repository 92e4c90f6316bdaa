package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestDeriveKeyMaterial_Deterministic(t *testing.T) {
	// field order must not matter, only the canonical form
	a := map[string]any{"id": "t1", "amount": "10.00"}
	b := map[string]any{"amount": "10.00", "id": "t1"}

	kmA, err := DeriveKeyMaterial(a)
	if err != nil {
		t.Fatalf("DeriveKeyMaterial() error = %v", err)
	}
	kmB, err := DeriveKeyMaterial(b)
	if err != nil {
		t.Fatalf("DeriveKeyMaterial() error = %v", err)
	}
	if kmA != kmB {
		t.Errorf("equal canonical forms derived different key material")
	}

	kmC, err := DeriveKeyMaterial(map[string]any{"id": "t1", "amount": "10.01"})
	if err != nil {
		t.Fatalf("DeriveKeyMaterial() error = %v", err)
	}
	if kmA.Key == kmC.Key {
		t.Errorf("different tokens derived the same key")
	}
}

func TestRevisionCipher(t *testing.T) {
	agreed := map[string]any{"id": "t1", "amount": "10.00"}
	km, err := DeriveKeyMaterial(agreed)
	if err != nil {
		t.Fatalf("DeriveKeyMaterial() error = %v", err)
	}

	plaintext := []byte(`{"transaction":{"id":"t1"}}`)

	ciphertext, err := km.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	t.Run("round trip", func(t *testing.T) {
		got, err := km.Decrypt(ciphertext)
		if err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Errorf("Decrypt() = %s, want %s", got, plaintext)
		}
	})

	t.Run("random nonce", func(t *testing.T) {
		again, err := km.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}
		if again == ciphertext {
			t.Errorf("two encryptions produced the same ciphertext")
		}
	})

	t.Run("wrong token", func(t *testing.T) {
		other, err := DeriveKeyMaterial(map[string]any{"id": "t2", "amount": "10.00"})
		if err != nil {
			t.Fatalf("DeriveKeyMaterial() error = %v", err)
		}

		_, err = other.Decrypt(ciphertext)
		var cryptoErr *CryptoError
		if !errors.As(err, &cryptoErr) || cryptoErr.Code() != ErrCodeDecryption {
			t.Fatalf("expected a decryption error, got %v", err)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		for _, c := range []string{"", "***", "AAAA"} {
			if _, err := km.Decrypt(c); err == nil {
				t.Errorf("Decrypt(%q) expected an error", c)
			}
		}
	})
}
