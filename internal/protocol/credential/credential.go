// Package credential is the plaintext format carried inside an envelope.
//
// A combined credential is "<username>|PFP|<password>". A password-only
// credential is the bare password with no delimiter. There is no escaping:
// a username that itself contains the delimiter is split at its first
// occurrence and misparses. Peers already in the field depend on this exact
// format, so the limitation is kept rather than fixed unilaterally.
package credential

import "strings"

// Delimiter separates username from password.
const Delimiter = "|PFP|"

// Credential is what the sending device types and the receiving device
// fills in.
type Credential struct {
	Username string
	Password string
}

// HasUsername reports whether the combined form is used.
func (c Credential) HasUsername() bool { return c.Username != "" }

// Encode renders c in wire form.
func Encode(c Credential) string {
	if !c.HasUsername() {
		return c.Password
	}
	return c.Username + Delimiter + c.Password
}

// Decode parses the wire form. Text without a delimiter is a password.
func Decode(plaintext string) Credential {
	username, password, found := strings.Cut(plaintext, Delimiter)
	if !found {
		return Credential{Password: plaintext}
	}
	return Credential{Username: username, Password: password}
}
