// STP tokens are signed over their RFC 8785 (JCS) canonical form.
// this implementation uses the gowebpki/jcs library to perform the canonicalization
package crypto

import (
	"encoding/json"

	"github.com/gowebpki/jcs"
)

// CanonicalizeJSON converts JSON to canonical form per RFC 8785
// This ensures consistent hashing/signing of JSON documents
//
// If the input is not valid JSON, an error is returned (handled by jcs library).
func CanonicalizeJSON(jsonData []byte) ([]byte, error) {
	return jcs.Transform(jsonData)
}

// Canonicalize marshals v and returns its canonical form.
//
// The field set comes from the Go type, key order and number formatting come from JCS,
// so two values with the same logical content always produce the same bytes.
func Canonicalize(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, WrapValidationError(err, "failed to marshal value")
	}
	canonical, err := CanonicalizeJSON(data)
	if err != nil {
		return nil, WrapValidationError(err, "failed to canonicalize value")
	}
	return canonical, nil
}
