// algorithm.go defines the signing algorithms supported for STP tokens, challenges and url signatures.
package crypto

import "github.com/go-jose/go-jose/v4"

// Algorithm specifies which signing algorithm to use for JWS signatures
type Algorithm string

const (
	// AlgorithmEd25519: EdDSA with Ed25519 curve (recommended)
	AlgorithmEd25519 Algorithm = "EdDSA"

	// AlgorithmRSA: RS256 (RSA with SHA-256)
	AlgorithmRSA Algorithm = "RS256"
)

// supportedAlgorithms is the allow list passed to the JWS parser
var supportedAlgorithms = []jose.SignatureAlgorithm{jose.EdDSA, jose.RS256}
