// Package handlers provides the infrastructure endpoints served by both the vendor and the provider
// (health, readiness, version and the JWK set).
//
// The protocol and admin handlers live in internal/stp/stphandlers.
package handlers
