package crypto

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"fmt"

	"pfp/internal/domain"
)

// ToRoutingToken encodes SPKI bytes as a routing token (standard base64,
// padded, no newlines).
func ToRoutingToken(spki []byte) domain.RoutingToken {
	return domain.RoutingToken(base64.StdEncoding.EncodeToString(spki))
}

// TokenForKey exports pub and encodes it as a routing token.
func TokenForKey(pub *rsa.PublicKey) (domain.RoutingToken, error) {
	spki, err := ExportPublic(pub)
	if err != nil {
		return "", err
	}
	return ToRoutingToken(spki), nil
}

// ParseRoutingToken imports the public key carried by token for
// encrypt-only use. The token is decoded exactly as given.
func ParseRoutingToken(token domain.RoutingToken) (*rsa.PublicKey, error) {
	spki, err := base64.StdEncoding.DecodeString(string(token))
	if err != nil {
		return nil, fmt.Errorf("%w: routing token is not base64: %v", domain.ErrEncoding, err)
	}
	parsed, err := x509.ParsePKIXPublicKey(spki)
	if err != nil {
		return nil, fmt.Errorf("%w: routing token is not an SPKI key: %v", domain.ErrCryptoOperation, err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: routing token carries a %T, want RSA", domain.ErrCryptoOperation, parsed)
	}
	if bits := pub.N.BitLen(); bits < MinModulusBits {
		return nil, fmt.Errorf("%w: routing token key is %d bits, want at least %d",
			domain.ErrCryptoOperation, bits, MinModulusBits)
	}
	return pub, nil
}
