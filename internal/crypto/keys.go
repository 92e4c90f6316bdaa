// this file contains functions to generate, save and load signing key pairs
//
// Both Ed25519 and RSA keys are supported. Ed25519 is the recommended key type.
// Keys are saved as JWK sets containing a single key; the private file should be kept by the party,
// the public file is published on /.well-known/jwks.json or handed to peers for manual configuration.

package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"os"

	"github.com/lestrrat-go/jwx/v3/jwk"
)

// GenerateEd25519KeyPair generates a new ED25519 private key
func GenerateEd25519KeyPair() (ed25519.PrivateKey, error) {
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, WrapInternalError(err, "failed to generate key pair")
	}

	return privateKey, nil
}

// GenerateRSAKeyPair generates a new RSA private key (2048, 3072 or 4096 bits)
func GenerateRSAKeyPair(bits int) (*rsa.PrivateKey, error) {
	switch bits {
	case 2048, 3072, 4096:
	default:
		return nil, NewValidationError(fmt.Sprintf("unsupported RSA key size %d (use 2048, 3072 or 4096)", bits))
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, WrapInternalError(err, "failed to generate key pair")
	}

	return privateKey, nil
}

// SaveKeyToJWKFile writes rawKey (Ed25519 or RSA, public or private) as a single-key JWK set.
// Private keys are written with mode 0600, public keys with 0644.
//
// Parameters:
//   - baseDir: The base directory to scope file access (e.g., "./keys")
//   - filename: The filename within the base directory (e.g., "private.jwk")
func SaveKeyToJWKFile(rawKey any, keyID, baseDir, filename string) error {
	jwkKey, err := ToJWK(rawKey, keyID)
	if err != nil {
		return err
	}

	var mode os.FileMode = 0644
	switch rawKey.(type) {
	case ed25519.PrivateKey, *rsa.PrivateKey:
		mode = 0600
	}

	jwkSet := jwk.NewSet()
	if err := jwkSet.AddKey(jwkKey); err != nil {
		return WrapKeyManagementError(err, "failed to add key to set")
	}

	jsonBytes, err := json.MarshalIndent(jwkSet, "", "  ")
	if err != nil {
		return WrapKeyManagementError(err, "failed to marshal JWK set")
	}

	root, err := os.OpenRoot(baseDir)
	if err != nil {
		return WrapKeyManagementError(err, fmt.Sprintf("failed to open root directory %s", baseDir))
	}
	defer root.Close()

	if err := root.WriteFile(filename, jsonBytes, mode); err != nil {
		return WrapKeyManagementError(err, "failed to write file")
	}

	return nil
}

// ReadJWKFile loads the first key of a JWK set file
//
// Parameters:
//   - baseDir: The base directory to scope file access (e.g., "./keys")
//   - filename: The filename within the base directory (e.g., "private.jwk")
func ReadJWKFile(baseDir, filename string) (jwk.Key, error) {
	root, err := os.OpenRoot(baseDir)
	if err != nil {
		return nil, WrapKeyManagementError(err, fmt.Sprintf("failed to open root directory %s", baseDir))
	}
	defer root.Close()

	jsonBytes, err := root.ReadFile(filename)
	if err != nil {
		return nil, WrapKeyManagementError(err, "failed to read file")
	}

	jwkSet, err := jwk.Parse(jsonBytes)
	if err != nil {
		return nil, WrapKeyManagementError(err, "failed to parse JWK set")
	}

	if jwkSet.Len() == 0 {
		return nil, NewKeyManagementError("JWK set is empty")
	}

	key, ok := jwkSet.Key(0)
	if !ok {
		return nil, NewKeyManagementError("failed to get key from set")
	}

	return key, nil
}

// ReadPrivateKeyFromJWKFile loads an Ed25519 or RSA private key from a JWK file.
// The returned value is either ed25519.PrivateKey or *rsa.PrivateKey.
func ReadPrivateKeyFromJWKFile(baseDir, filename string) (any, error) {
	key, err := ReadJWKFile(baseDir, filename)
	if err != nil {
		return nil, err
	}

	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return nil, WrapKeyManagementError(err, "failed to export private key")
	}

	switch pk := raw.(type) {
	case ed25519.PrivateKey:
		return pk, nil
	case *rsa.PrivateKey:
		return pk, nil
	default:
		return nil, NewKeyManagementError(fmt.Sprintf("%s does not contain a private key (got %T)", filename, raw))
	}
}
