// Package server runs a vendor or a provider over HTTP.
//
// The server is configured through environment variables (see internal/config).
// NewServer builds the party runtime for the configured role and registers
//   - the protocol endpoints under /api/stp (internal/stp/stphandlers)
//   - the operator API under /admin
//   - the common endpoints (health, readiness, version, jwks)
//
// Open loads the signing key, the token store and, for the vendor, the bank registry.
//
// middleware is in internal/server/middleware
package server
