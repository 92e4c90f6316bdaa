// cipher.go - the revision cipher
//
// Revision payloads (replacement tokens) are encrypted under key material derived from the token the
// two parties currently agree on, so only a holder of that token can read or forge them.
//
// derivation: cSHAKE256(N="", S="STP revision cipher") over the canonical JSON of
// {"purpose":"stp-revision-cipher","token":<agreed token>}, squeezed to 48 bytes:
// bytes 0..31 are the AES-256 key, bytes 32..47 the IV.
//
// encryption: AES-256-GCM with a random 96 bit nonce and the IV as additional data.
// ciphertext wire form: base64(nonce || sealed)
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"

	"golang.org/x/crypto/sha3"
)

const (
	revisionCipherCustomization = "STP revision cipher"
	revisionCipherPurpose       = "stp-revision-cipher"
)

// KeyMaterial is the symmetric key and IV derived from an agreed token
type KeyMaterial struct {
	Key [32]byte
	IV  [16]byte
}

// DeriveKeyMaterial derives the revision cipher key material from reference (usually a token).
// Derivation is deterministic: equal canonical forms give equal key material.
func DeriveKeyMaterial(reference any) (KeyMaterial, error) {
	canonical, err := Canonicalize(struct {
		Purpose string `json:"purpose"`
		Token   any    `json:"token"`
	}{revisionCipherPurpose, reference})
	if err != nil {
		return KeyMaterial{}, err
	}

	h := sha3.NewCShake256(nil, []byte(revisionCipherCustomization))
	_, _ = h.Write(canonical)

	out := make([]byte, 48)
	if _, err := h.Read(out); err != nil {
		return KeyMaterial{}, WrapInternalError(err, "failed to squeeze key material")
	}

	var km KeyMaterial
	copy(km.Key[:], out[:32])
	copy(km.IV[:], out[32:])
	return km, nil
}

func (km KeyMaterial) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(km.Key[:])
	if err != nil {
		return nil, WrapInternalError(err, "failed to create cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, WrapInternalError(err, "failed to create GCM")
	}
	return gcm, nil
}

// Encrypt seals plaintext and returns the base64 wire form
func (km KeyMaterial) Encrypt(plaintext []byte) (string, error) {
	gcm, err := km.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", WrapInternalError(err, "failed to generate nonce")
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, km.IV[:])
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt.
// It fails with a decryption error when the key material differs from the one used to encrypt.
func (km KeyMaterial) Decrypt(ciphertext string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, WrapDecryptionError(err, "ciphertext is not base64")
	}

	gcm, err := km.aead()
	if err != nil {
		return nil, err
	}

	if len(data) < gcm.NonceSize()+gcm.Overhead() {
		return nil, NewDecryptionError("ciphertext too short")
	}

	nonce, sealed := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, km.IV[:])
	if err != nil {
		return nil, WrapDecryptionError(err, "failed to decrypt revision payload")
	}

	return plaintext, nil
}
