// Package crypto provides the cryptographic primitives used by STP parties:
// JCS canonicalization, SHA-512 fingerprints, detached JWS signatures over Ed25519/RSA keys,
// portable public keys, revision challenges and the revision cipher.
//
// these are low level functions - the token and stp packages build the protocol on top of them.
package crypto
