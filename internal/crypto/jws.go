// jws.go - Functions for producing and checking detached JWS signatures
//
// STP signatures are JWS compact serializations with a detached payload (RFC 7515 appendix F):
// the signed bytes (canonical token, raw challenge, url id) are never copied into the signature,
// the verifier supplies them. The signing itself is done with github.com/go-jose/go-jose/v4.
package crypto

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/go-jose/go-jose/v4"
)

// JWSHeader represents the protected header of a STP signature
type JWSHeader struct {
	Algorithm string `json:"alg"` // "RS256/EdDSA"
	KeyID     string `json:"kid"` // Key ID
}

// SignDetached signs payload and returns the detached compact serialization (header..signature).
// signingKey must be an ed25519.PrivateKey for EdDSA or a *rsa.PrivateKey for RS256.
func SignDetached(payload []byte, signingKey any, alg Algorithm, keyID string) (string, error) {
	if keyID == "" {
		return "", NewValidationError("keyID is required")
	}

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.SignatureAlgorithm(alg), Key: signingKey},
		(&jose.SignerOptions{}).WithHeader("kid", keyID),
	)
	if err != nil {
		return "", WrapInternalError(err, "failed to create signer")
	}

	jws, err := signer.Sign(payload)
	if err != nil {
		return "", WrapInternalError(err, "failed to sign payload")
	}

	detached, err := jws.DetachedCompactSerialize()
	if err != nil {
		return "", WrapInternalError(err, "failed to serialize JWS")
	}

	return detached, nil
}

// VerifyDetached checks a detached JWS against payload using publicKey
// (ed25519.PublicKey or *rsa.PublicKey).
func VerifyDetached(signature string, payload []byte, publicKey any) error {
	jws, err := jose.ParseDetached(signature, payload, supportedAlgorithms)
	if err != nil {
		return WrapSignatureError(err, "failed to parse JWS")
	}

	if _, err := jws.Verify(publicKey); err != nil {
		return WrapSignatureError(err, "failed to verify JWS")
	}

	return nil
}

// ParseHeader extracts the protected header from a JWS without verifying it.
// Both attached and detached serializations are accepted.
// The function returns an error if the header contains something other than the fields in JWSHeader
func ParseHeader(jwsString string) (JWSHeader, error) {

	// the structure of the jws is Base64URL(Header).Base64URL(Payload).Base64URL(Signature)
	parts := strings.Split(jwsString, ".")
	if len(parts) != 3 {
		return JWSHeader{}, NewValidationError("invalid JWS format")
	}

	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return JWSHeader{}, WrapValidationError(err, "error decoding the header")
	}

	var header JWSHeader

	decoder := json.NewDecoder(bytes.NewReader(headerBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(&header); err != nil {
		return JWSHeader{}, WrapValidationError(err, "error parsing the header")
	}

	if header.Algorithm == "" || header.KeyID == "" {
		return JWSHeader{}, NewValidationError("header must contain alg and kid")
	}

	return header, nil
}
