package crypto

import (
	"crypto/sha256"
	"encoding/hex"

	"pfp/internal/domain"
)

// Fingerprint returns a short hex fingerprint of a routing token.
//
// It hashes with SHA-256 and truncates to 10 bytes (20 hex chars). Used in
// logs and on screen so both devices can be compared at a glance.
func Fingerprint(token domain.RoutingToken) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:10])
}
