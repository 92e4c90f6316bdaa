// JWK (JSON Web Key) helpers for STP signing keys
//
// Providers publish their public keys as a JWK set (/.well-known/jwks.json) so vendors can verify
// the url_signature sent in a Hello. Inside a token each party's public key travels in "portable" form:
// the base64url encoding of the public JWK JSON (RFC 7517).
//
// key ids are the first 16 hex characters of the RFC 7638 SHA-256 thumbprint.
package crypto

import (
	"context"
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

// ToJWK imports a raw Ed25519 or RSA key (public or private) and sets the kid, alg and use fields.
func ToJWK(rawKey any, keyID string) (jwk.Key, error) {
	if keyID == "" {
		return nil, NewValidationError("keyID is required")
	}

	var alg jwa.SignatureAlgorithm
	switch k := rawKey.(type) {
	case ed25519.PrivateKey, ed25519.PublicKey:
		alg = jwa.EdDSA()
	case *rsa.PrivateKey:
		if k == nil {
			return nil, NewValidationError("private key is nil")
		}
		alg = jwa.RS256()
	case *rsa.PublicKey:
		if k == nil {
			return nil, NewValidationError("public key is nil")
		}
		alg = jwa.RS256()
	default:
		return nil, NewValidationError(fmt.Sprintf("unsupported key type %T", rawKey))
	}

	key, err := jwk.Import(rawKey)
	if err != nil {
		return nil, WrapKeyManagementError(err, "failed to create JWK")
	}

	if err := key.Set(jwk.KeyIDKey, keyID); err != nil {
		return nil, WrapKeyManagementError(err, "failed to set key ID")
	}
	if err := key.Set(jwk.AlgorithmKey, alg); err != nil {
		return nil, WrapKeyManagementError(err, "failed to set algorithm")
	}
	if err := key.Set(jwk.KeyUsageKey, jwk.ForSignature); err != nil {
		return nil, WrapKeyManagementError(err, "failed to set key usage")
	}

	return key, nil
}

// JWKToPublicKey exports a JWK to a native public key (ed25519.PublicKey or *rsa.PublicKey).
// Private JWKs are rejected.
func JWKToPublicKey(key jwk.Key) (any, error) {
	if key == nil {
		return nil, NewValidationError("jwk is nil")
	}

	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return nil, WrapKeyManagementError(err, "failed to export public key")
	}

	switch pub := raw.(type) {
	case ed25519.PublicKey:
		return pub, nil
	case *rsa.PublicKey:
		return pub, nil
	default:
		alg, _ := key.Algorithm()
		return nil, NewKeyManagementError(fmt.Sprintf("expected a public key but got key with algorithm %v and type %T", alg, raw))
	}
}

// KeyIDFromPublicKey returns the thumbprint key id of an Ed25519 or RSA public key
func KeyIDFromPublicKey(publicKey any) (string, error) {
	if pk, ok := publicKey.(ed25519.PublicKey); ok && len(pk) != ed25519.PublicKeySize {
		return "", NewValidationError("invalid Ed25519 public key length")
	}

	jwkKey, err := jwk.Import(publicKey)
	if err != nil {
		return "", WrapKeyManagementError(err, "failed to import key")
	}

	return thumbprintKeyID(jwkKey)
}

func thumbprintKeyID(key jwk.Key) (string, error) {
	thumbprint, err := key.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", WrapKeyManagementError(err, "failed to generate thumbprint")
	}

	return fmt.Sprintf("%x", thumbprint)[:16], nil
}

// EncodePortableKey returns the portable form of the public half of key:
// base64url(JSON of the public JWK)
func EncodePortableKey(key jwk.Key) (string, error) {
	if key == nil {
		return "", NewValidationError("jwk is nil")
	}

	pub, err := jwk.PublicKeyOf(key)
	if err != nil {
		return "", WrapKeyManagementError(err, "failed to derive public JWK")
	}

	data, err := json.Marshal(pub)
	if err != nil {
		return "", WrapKeyManagementError(err, "failed to marshal public JWK")
	}

	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodePortableKey parses a portable public key produced by EncodePortableKey
func DecodePortableKey(portable string) (jwk.Key, error) {
	if portable == "" {
		return nil, NewValidationError("portable key is empty")
	}

	data, err := base64.RawURLEncoding.DecodeString(portable)
	if err != nil {
		return nil, WrapValidationError(err, "portable key is not base64url")
	}

	key, err := jwk.ParseKey(data)
	if err != nil {
		return nil, WrapKeyManagementError(err, "portable key is not a JWK")
	}

	// reject private material
	if _, err := JWKToPublicKey(key); err != nil {
		return nil, err
	}

	return key, nil
}

// PortableKeyID returns the key id the holder of a portable key signs with.
// The kid is recomputed from the key material, the kid field inside the JWK is ignored.
func PortableKeyID(portable string) (string, error) {
	key, err := DecodePortableKey(portable)
	if err != nil {
		return "", err
	}

	return thumbprintKeyID(key)
}

// FetchJWKSet fetches a JWK set from a URL
func FetchJWKSet(ctx context.Context, url string) (jwk.Set, error) {
	set, err := jwk.Fetch(ctx, url)
	if err != nil {
		return nil, WrapKeyManagementError(err, "failed to fetch JWK set")
	}

	return set, nil
}
