package crypto

import (
	stdcrypto "crypto"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"sort"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// DefaultHash is the OAEP hash (and MGF1 hash) used unless configured
// otherwise. Both sides of a pairing must agree on it.
const DefaultHash = "sha256"

// Hash is an OAEP hash choice.
type Hash struct {
	Name string
	ID   stdcrypto.Hash
	New  func() hash.Hash
}

var hashes = map[string]Hash{
	"sha256":      {Name: "sha256", ID: stdcrypto.SHA256, New: sha256.New},
	"sha384":      {Name: "sha384", ID: stdcrypto.SHA384, New: sha512.New384},
	"sha512":      {Name: "sha512", ID: stdcrypto.SHA512, New: sha512.New},
	"sha3-256":    {Name: "sha3-256", ID: stdcrypto.SHA3_256, New: sha3.New256},
	"blake2b-256": {Name: "blake2b-256", ID: stdcrypto.BLAKE2b_256, New: newBlake2b256},
}

func newBlake2b256() hash.Hash {
	h, _ := blake2b.New256(nil) // only fails for oversized keys
	return h
}

// ParseHash looks a hash up by name. The empty name selects DefaultHash.
func ParseHash(name string) (Hash, error) {
	if name == "" {
		name = DefaultHash
	}
	h, ok := hashes[name]
	if !ok {
		return Hash{}, fmt.Errorf("unsupported OAEP hash %q (supported: %v)", name, HashNames())
	}
	return h, nil
}

// HashNames lists the supported hash names in sorted order.
func HashNames() []string {
	names := make([]string, 0, len(hashes))
	for name := range hashes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Size returns the digest length in bytes.
func (h Hash) Size() int { return h.ID.Size() }

// PaddingOverhead is the fixed per-block cost of OAEP with this hash:
// two digests plus two bytes (RFC 8017 §7.1.1). 66 for SHA-256.
func (h Hash) PaddingOverhead() int { return 2*h.Size() + 2 }
