package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"io"

	"pfp/internal/domain"
)

const (
	// MinModulusBits is the smallest modulus accepted anywhere in pfp,
	// both for generated keys and for keys imported from a token.
	MinModulusBits = 4096

	// DefaultModulusBits is the size GenerateKeyPair uses when asked for 0.
	DefaultModulusBits = 4096
)

// KeyPair is an ephemeral RSA key pair owned by one receiving session.
// The public exponent is always 65537.
type KeyPair struct {
	private *rsa.PrivateKey
}

// GenerateKeyPair creates a key pair of the given modulus size from
// crypto/rand. Generation happens once per session; a failure means the
// entropy source is unusable and must not be retried.
func GenerateKeyPair(bits int) (*KeyPair, error) {
	return GenerateKeyPairFrom(rand.Reader, bits)
}

// GenerateKeyPairFrom is GenerateKeyPair with an explicit entropy source.
func GenerateKeyPairFrom(random io.Reader, bits int) (*KeyPair, error) {
	if bits == 0 {
		bits = DefaultModulusBits
	}
	if bits < MinModulusBits {
		return nil, fmt.Errorf("%w: modulus of %d bits is below the %d-bit minimum",
			domain.ErrKeyGeneration, bits, MinModulusBits)
	}
	priv, err := rsa.GenerateKey(random, bits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrKeyGeneration, err)
	}
	return &KeyPair{private: priv}, nil
}

// Public returns the public half.
func (k *KeyPair) Public() *rsa.PublicKey { return &k.private.PublicKey }

// DecryptBlock removes OAEP padding from one modulus-sized block with the
// private key. This is the only path by which the private key is used; it
// is never exported or encoded.
func (k *KeyPair) DecryptBlock(h Hash, block []byte) ([]byte, error) {
	plain, err := rsa.DecryptOAEP(h.New(), nil, k.private, block, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCryptoOperation, err)
	}
	return plain, nil
}

// EncryptBlock applies OAEP to one chunk under pub. len(chunk) must not
// exceed the modulus size minus h.PaddingOverhead().
func EncryptBlock(h Hash, pub *rsa.PublicKey, chunk []byte) ([]byte, error) {
	block, err := rsa.EncryptOAEP(h.New(), rand.Reader, pub, chunk, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCryptoOperation, err)
	}
	return block, nil
}

// ModulusBytes returns the modulus size in bytes.
func (k *KeyPair) ModulusBytes() int { return k.private.Size() }

// ExportPublic returns the canonical SPKI (PKIX, DER) encoding of pub.
func ExportPublic(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: exporting public key: %v", domain.ErrCryptoOperation, err)
	}
	return der, nil
}
