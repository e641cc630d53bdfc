package chunked

import (
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"unicode/utf8"

	"pfp/internal/crypto"
	"pfp/internal/domain"
	"pfp/internal/secret"
)

// Framing selects how blocks are laid out on the wire.
type Framing string

const (
	FramingLegacy Framing = "legacy"
	FramingSealed Framing = "sealed"
)

// ParseFraming validates a framing name. The empty name means legacy.
func ParseFraming(name string) (Framing, error) {
	switch Framing(name) {
	case "", FramingLegacy:
		return FramingLegacy, nil
	case FramingSealed:
		return FramingSealed, nil
	}
	return "", fmt.Errorf("unknown framing %q (want %q or %q)", name, FramingLegacy, FramingSealed)
}

// Decrypter is the private half of a session key pair.
type Decrypter interface {
	ModulusBytes() int
	DecryptBlock(h crypto.Hash, block []byte) ([]byte, error)
}

// Cipher is a chunked RSA-OAEP scheme. It holds no key material and is
// safe for concurrent use.
type Cipher struct {
	hash    crypto.Hash
	framing Framing
}

// New returns a Cipher using h for OAEP and MGF1.
func New(h crypto.Hash, framing Framing) *Cipher {
	if framing == "" {
		framing = FramingLegacy
	}
	return &Cipher{hash: h, framing: framing}
}

// Hash returns the OAEP hash in use.
func (c *Cipher) Hash() crypto.Hash { return c.hash }

// Framing returns the wire framing in use.
func (c *Cipher) Framing() Framing { return c.framing }

// BlockSize is the ciphertext block size for a key of modulusBytes.
func BlockSize(modulusBytes int) int { return modulusBytes }

// PlaintextChunkSize is the largest chunk one block can carry.
func (c *Cipher) PlaintextChunkSize(modulusBytes int) int {
	return modulusBytes - c.hash.PaddingOverhead()
}

// Encrypt splits plaintext into chunks, encrypts each under pub and
// returns the base64 of the concatenated blocks. With legacy framing an
// empty plaintext produces an empty ciphertext.
func (c *Cipher) Encrypt(pub *rsa.PublicKey, plaintext []byte) (string, error) {
	chunkSize := c.PlaintextChunkSize(pub.Size())
	if chunkSize <= 0 {
		return "", fmt.Errorf("%w: %d-byte modulus leaves no room for %s padding",
			domain.ErrCryptoOperation, pub.Size(), c.hash.Name)
	}

	chunks := split(plaintext, chunkSize)
	out := make([]byte, 0, (len(chunks)+1)*pub.Size())
	if c.framing == FramingSealed {
		header, err := sealHeader(c.hash, pub, len(chunks), digest(plaintext))
		if err != nil {
			return "", err
		}
		out = append(out, header...)
	}
	for i, chunk := range chunks {
		block, err := crypto.EncryptBlock(c.hash, pub, chunk)
		if err != nil {
			return "", fmt.Errorf("encrypting chunk %d: %w", i, err)
		}
		out = append(out, block...)
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Any block that fails to decrypt fails the
// whole message; there is no partial recovery.
func (c *Cipher) Decrypt(key Decrypter, ciphertext string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext is not base64: %v", domain.ErrEncoding, err)
	}
	blockSize := BlockSize(key.ModulusBytes())
	if len(raw)%blockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d is not a multiple of the %d-byte block",
			domain.ErrCryptoOperation, len(raw), blockSize)
	}

	var sum []byte
	if c.framing == FramingSealed {
		if raw, sum, err = openHeader(c.hash, key, raw, blockSize); err != nil {
			return nil, err
		}
	}

	plaintext := make([]byte, 0, max(0, len(raw)/blockSize*c.PlaintextChunkSize(blockSize)))
	for i := 0; i*blockSize < len(raw); i++ {
		chunk, err := key.DecryptBlock(c.hash, raw[i*blockSize:(i+1)*blockSize])
		if err != nil {
			secret.Zero(plaintext)
			return nil, fmt.Errorf("decrypting block %d: %w", i, err)
		}
		plaintext = append(plaintext, chunk...)
		secret.Zero(chunk)
	}
	if c.framing == FramingSealed {
		if err := checkDigest(plaintext, sum); err != nil {
			secret.Zero(plaintext)
			return nil, err
		}
	}

	if !utf8.Valid(plaintext) {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("%w: plaintext is not valid UTF-8", domain.ErrEncoding)
	}
	return plaintext, nil
}

// split cuts data into consecutive chunks of at most size bytes. The
// chunks alias data.
func split(data []byte, size int) [][]byte {
	var chunks [][]byte
	for offset := 0; offset < len(data); offset += size {
		end := offset + size
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[offset:end])
	}
	return chunks
}
