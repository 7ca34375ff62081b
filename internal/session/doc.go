// Package session owns the client's credential state.
//
// A Manager is the single writer of the bearer token: it restores the
// token persisted by a previous run, adopts tokens from password login
// and OAuth callbacks, propagates the token to the outbound request
// layer, and clears everything on logout. Every public operation returns
// a Result value rather than an error.
package session
