package crypto

import (
	"crypto/ed25519"
	"crypto/rsa"
	"fmt"

	"github.com/lestrrat-go/jwx/v3/jwk"
)

// Signer is a party's signing oracle.
//
// Sign returns a detached JWS over payload. PublicKey returns the portable encoding of the
// matching public key, which is what peers embed in tokens and pass to VerifySignature.
type Signer interface {
	Sign(payload []byte) (string, error)
	PublicKey() string
	KeyID() string
	Algorithm() Algorithm
}

// KeySigner is the Signer backed by an in-memory Ed25519 or RSA private key
type KeySigner struct {
	privateKey any
	alg        Algorithm
	keyID      string
	publicJWK  jwk.Key
	portable   string
}

// NewEd25519Signer creates a signer using EdDSA
func NewEd25519Signer(privateKey ed25519.PrivateKey) (*KeySigner, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, NewValidationError("invalid Ed25519 private key length")
	}
	return newKeySigner(privateKey, privateKey.Public(), AlgorithmEd25519)
}

// NewRSASigner creates a signer using RS256
func NewRSASigner(privateKey *rsa.PrivateKey) (*KeySigner, error) {
	if privateKey == nil {
		return nil, NewValidationError("private key is nil")
	}
	return newKeySigner(privateKey, &privateKey.PublicKey, AlgorithmRSA)
}

// NewSignerFromJWKFile loads a private key written by SaveKeyToJWKFile (see cmd/keygen)
func NewSignerFromJWKFile(baseDir, filename string) (*KeySigner, error) {
	raw, err := ReadPrivateKeyFromJWKFile(baseDir, filename)
	if err != nil {
		return nil, err
	}

	switch pk := raw.(type) {
	case ed25519.PrivateKey:
		return NewEd25519Signer(pk)
	case *rsa.PrivateKey:
		return NewRSASigner(pk)
	default:
		return nil, NewKeyManagementError(fmt.Sprintf("unsupported private key type %T", raw))
	}
}

func newKeySigner(privateKey, publicKey any, alg Algorithm) (*KeySigner, error) {
	keyID, err := KeyIDFromPublicKey(publicKey)
	if err != nil {
		return nil, err
	}

	publicJWK, err := ToJWK(publicKey, keyID)
	if err != nil {
		return nil, err
	}

	portable, err := EncodePortableKey(publicJWK)
	if err != nil {
		return nil, err
	}

	return &KeySigner{
		privateKey: privateKey,
		alg:        alg,
		keyID:      keyID,
		publicJWK:  publicJWK,
		portable:   portable,
	}, nil
}

func (s *KeySigner) Sign(payload []byte) (string, error) {
	return SignDetached(payload, s.privateKey, s.alg, s.keyID)
}

func (s *KeySigner) PublicKey() string    { return s.portable }
func (s *KeySigner) KeyID() string        { return s.keyID }
func (s *KeySigner) Algorithm() Algorithm { return s.alg }

// JWKSet returns the public key as a JWK set for publication on /.well-known/jwks.json
func (s *KeySigner) JWKSet() (jwk.Set, error) {
	set := jwk.NewSet()
	if err := set.AddKey(s.publicJWK); err != nil {
		return nil, WrapKeyManagementError(err, "failed to add key to set")
	}
	return set, nil
}

// VerifySignature checks a detached signature over payload against a portable public key.
// The signature's kid must match the thumbprint of the portable key.
func VerifySignature(signature string, payload []byte, portableKey string) error {
	key, err := DecodePortableKey(portableKey)
	if err != nil {
		return err
	}

	header, err := ParseHeader(signature)
	if err != nil {
		return WrapSignatureError(err, "malformed signature")
	}

	keyID, err := thumbprintKeyID(key)
	if err != nil {
		return err
	}
	if header.KeyID != keyID {
		return NewSignatureError(fmt.Sprintf("signature kid %q does not match key %q", header.KeyID, keyID))
	}

	publicKey, err := JWKToPublicKey(key)
	if err != nil {
		return err
	}

	return VerifyDetached(signature, payload, publicKey)
}
