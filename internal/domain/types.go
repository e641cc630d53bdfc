package domain

// RoutingToken is the standard base64 encoding of a session's SPKI public
// key. It is both the relay mailbox address and the key material a sender
// needs to encrypt. Tokens are compared byte-for-byte and never normalized.
type RoutingToken string

// String returns the string form of the token.
func (t RoutingToken) String() string { return string(t) }

// Envelope is a single addressed, encrypted message unit exchanged via the
// relay. Ciphertext is base64 and opaque to everything but the holder of
// the private key matching RoutingToken.
type Envelope struct {
	RoutingToken RoutingToken `json:"receiver"`
	Ciphertext   string       `json:"message"`
}
