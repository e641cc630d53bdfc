// Package chunked encrypts plaintext of any length under a fixed-size
// RSA-OAEP primitive.
//
// Plaintext is cut into chunks of PlaintextChunkSize bytes (modulus size
// minus the OAEP padding overhead of the configured hash; the last chunk may
// be shorter). Each chunk is encrypted on its own, the modulus-sized blocks
// are concatenated in chunk order and the result is base64 encoded.
// Decryption reverses this, reading the block size from the key rather
// than from any header.
//
// # Framing
//
// FramingLegacy is the wire format understood by existing peers. Chunk i
// decrypts from block i and nothing binds the blocks together: a relay
// that drops trailing blocks yields a shorter plaintext with no error, and
// reordered blocks yield reordered text.
//
// FramingSealed prepends one extra block holding a CBOR header with the
// chunk count and a BLAKE3 digest of the plaintext. The relay holds the
// public key and can encrypt a fresh header, but it cannot compute the
// digest of a plaintext it never sees, so truncation, reordering and
// appended blocks are rejected. It does not authenticate the sender: whoever
// holds the token can still encrypt a whole new message. It is not
// understood by legacy peers, so both sides must be configured for it.
package chunked
