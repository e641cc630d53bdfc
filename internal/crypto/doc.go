// Package crypto exposes the key material primitives used by pfp.
//
// Contents
//
//   - Ephemeral RSA key pairs for one pairing session (GenerateKeyPair,
//     KeyPair). The private key is only used by KeyPair.DecryptBlock.
//   - SPKI export and the routing token derived from it (ExportPublic,
//     ToRoutingToken, ParseRoutingToken, TokenForKey)
//   - Single-block RSA-OAEP (EncryptBlock, KeyPair.DecryptBlock)
//   - OAEP hash selection by name (ParseHash) and the padding overhead
//     that follows from it (Hash.PaddingOverhead)
//   - Short token fingerprints for display/logging (Fingerprint)
//
// # Notes
//
// Nothing here performs network or disk I/O. Key generation failures wrap
// domain.ErrKeyGeneration; parse failures wrap domain.ErrEncoding or
// domain.ErrCryptoOperation so callers can classify them with errors.Is.
package crypto
