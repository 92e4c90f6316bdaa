package crypto

import (
	"crypto/sha512"
	"encoding/hex"
)

// Hash returns the hex encoded SHA-512 digest of data.
//
// Tokens advertise sha512 in their metadata, this is used to fingerprint provider signatures.
func Hash(data []byte) string {
	sum := sha512.Sum512(data)
	return hex.EncodeToString(sum[:])
}

