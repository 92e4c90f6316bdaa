// Package stphandlers provides the HTTP handlers for the STP protocol and admin routes.
//
// Protocol handlers (vendor: request, pin, response, revision; provider: remediation) decode the
// message strictly, pass it to the party runtime in package stp and answer protocol failures with a
// 200 {success:false} rejection.
//
// Admin handlers are the operator surface used to start and revise transactions. They are not part
// of the protocol and should not be exposed to peers.
package stphandlers
