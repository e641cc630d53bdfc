package domain

import "errors"

var (
	// ErrKeyGeneration means no usable key pair could be produced. It is
	// fatal to the session being created and is never retried.
	ErrKeyGeneration = errors.New("key generation failed")

	// ErrCryptoOperation covers malformed keys, invalid padding and
	// ciphertext whose length is not a whole number of blocks. The
	// affected message is dropped.
	ErrCryptoOperation = errors.New("crypto operation failed")

	// ErrEncoding covers invalid base64 and invalid UTF-8.
	ErrEncoding = errors.New("encoding error")

	// ErrTransientNetwork is returned for relay failures that the next
	// submission tick or poll recovers from.
	ErrTransientNetwork = errors.New("transient network error")

	// ErrOriginMismatch marks a pairing message from an origin outside the
	// allow-list. It is logged and dropped, never processed.
	ErrOriginMismatch = errors.New("origin not allowed")
)
