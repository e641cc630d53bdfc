// Package session creates the one Session a pairing revolves around and
// seals/opens envelopes for it.
//
// A receiving Session owns a freshly generated key pair; a sending Session
// only holds the peer's public key, imported from the routing token it was
// given. Sessions are explicit values passed to the pairing and submission
// services; nothing in pfp keeps a session in package state.
package session
