package chunked

import (
	"crypto/rsa"
	"crypto/subtle"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"pfp/internal/crypto"
	"pfp/internal/domain"
)

// sealedVersion is the header version written by FramingSealed.
const sealedVersion = 2

// frameHeader is the plaintext of the first block of a sealed message.
type frameHeader struct {
	Version uint8  `cbor:"1,keyasint"`
	Count   uint32 `cbor:"2,keyasint"`
	Digest  []byte `cbor:"3,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic("chunked: CBOR encoder initialization failed: " + err.Error())
	}
	if decMode, err = (cbor.DecOptions{DupMapKey: cbor.DupMapKeyEnforcedAPF}).DecMode(); err != nil {
		panic("chunked: CBOR decoder initialization failed: " + err.Error())
	}
}

// digest covers the plaintext, not the blocks. Anyone holding the routing
// token can encrypt a header, so only the plaintext binds it to the body.
func digest(plaintext []byte) []byte {
	sum := blake3.Sum256(plaintext)
	return sum[:]
}

// sealHeader builds the encrypted header block for count chunks whose
// joined plaintext hashes to sum.
func sealHeader(h crypto.Hash, pub *rsa.PublicKey, count int, sum []byte) ([]byte, error) {
	encoded, err := encMode.Marshal(frameHeader{
		Version: sealedVersion,
		Count:   uint32(count),
		Digest:  sum,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encoding frame header: %v", domain.ErrCryptoOperation, err)
	}
	block, err := crypto.EncryptBlock(h, pub, encoded)
	if err != nil {
		return nil, fmt.Errorf("encrypting frame header: %w", err)
	}
	return block, nil
}

// openHeader checks the header block of a sealed message. It returns the
// chunk blocks that follow it and the plaintext digest they must match.
func openHeader(h crypto.Hash, key Decrypter, raw []byte, blockSize int) (body, sum []byte, err error) {
	if len(raw) < blockSize {
		return nil, nil, fmt.Errorf("%w: sealed message has no header block", domain.ErrCryptoOperation)
	}
	plain, err := key.DecryptBlock(h, raw[:blockSize])
	if err != nil {
		return nil, nil, fmt.Errorf("decrypting frame header: %w", err)
	}
	var header frameHeader
	if err := decMode.Unmarshal(plain, &header); err != nil {
		return nil, nil, fmt.Errorf("%w: decoding frame header: %v", domain.ErrCryptoOperation, err)
	}
	if header.Version != sealedVersion {
		return nil, nil, fmt.Errorf("%w: frame header version %d, want %d",
			domain.ErrCryptoOperation, header.Version, sealedVersion)
	}

	body = raw[blockSize:]
	if got := len(body) / blockSize; got != int(header.Count) {
		return nil, nil, fmt.Errorf("%w: message carries %d blocks, header says %d",
			domain.ErrCryptoOperation, got, header.Count)
	}
	return body, header.Digest, nil
}

// checkDigest compares the joined plaintext against the header digest.
func checkDigest(plaintext, sum []byte) error {
	if subtle.ConstantTimeCompare(digest(plaintext), sum) != 1 {
		return fmt.Errorf("%w: plaintext digest mismatch", domain.ErrCryptoOperation)
	}
	return nil
}
