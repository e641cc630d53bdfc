package session

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"pfp/internal/clock"
	"pfp/internal/crypto"
	"pfp/internal/domain"
	"pfp/internal/protocol/chunked"
)

// ErrNoPrivateKey is returned when a sending Session is asked to decrypt.
var ErrNoPrivateKey = fmt.Errorf("%w: session holds no private key", domain.ErrCryptoOperation)

// Session is the state of one pairing. The private key is present only on
// the receiving side and is never encoded, exported or sent.
type Session struct {
	Token     domain.RoutingToken
	PublicKey *rsa.PublicKey
	CreatedAt time.Time

	keys *crypto.KeyPair
}

// CanDecrypt reports whether this is the receiving side of the pairing.
func (s *Session) CanDecrypt() bool { return s.keys != nil }

// Fingerprint is the short display form of the routing token.
func (s *Session) Fingerprint() string { return crypto.Fingerprint(s.Token) }

// KeyGenerator produces a key pair of the requested modulus size.
type KeyGenerator func(bits int) (*crypto.KeyPair, error)

// Service creates sessions and seals/opens envelopes with a fixed cipher.
type Service struct {
	cipher   *chunked.Cipher
	clock    clock.Clock
	bits     int
	generate KeyGenerator
}

// Option configures a Service.
type Option func(*Service)

// WithKeyGenerator replaces crypto.GenerateKeyPair.
func WithKeyGenerator(g KeyGenerator) Option { return func(s *Service) { s.generate = g } }

// WithClock replaces the real clock used for CreatedAt.
func WithClock(c clock.Clock) Option { return func(s *Service) { s.clock = c } }

// New returns a Service generating keys of the given modulus size (0 for
// the default).
func New(cipher *chunked.Cipher, bits int, opts ...Option) *Service {
	s := &Service{
		cipher:   cipher,
		clock:    clock.Real(),
		bits:     bits,
		generate: crypto.GenerateKeyPair,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Cipher returns the chunked cipher sessions are sealed with.
func (s *Service) Cipher() *chunked.Cipher { return s.cipher }

// NewReceiver generates the session key pair and derives its token. A
// failure here is fatal for the pairing and wraps domain.ErrKeyGeneration.
func (s *Service) NewReceiver() (*Session, error) {
	keys, err := s.generate(s.bits)
	if err != nil {
		if !errors.Is(err, domain.ErrKeyGeneration) {
			err = fmt.Errorf("%w: %v", domain.ErrKeyGeneration, err)
		}
		return nil, err
	}
	token, err := crypto.TokenForKey(keys.Public())
	if err != nil {
		return nil, err
	}
	return &Session{
		Token:     token,
		PublicKey: keys.Public(),
		CreatedAt: s.clock.Now(),
		keys:      keys,
	}, nil
}

// NewSender imports the recipient key carried by token.
func (s *Service) NewSender(token domain.RoutingToken) (*Session, error) {
	pub, err := crypto.ParseRoutingToken(token)
	if err != nil {
		return nil, err
	}
	return &Session{
		Token:     token,
		PublicKey: pub,
		CreatedAt: s.clock.Now(),
	}, nil
}

// Seal encrypts plaintext into an envelope addressed to sess.
func (s *Service) Seal(sess *Session, plaintext []byte) (domain.Envelope, error) {
	ct, err := s.cipher.Encrypt(sess.PublicKey, plaintext)
	if err != nil {
		return domain.Envelope{}, err
	}
	return domain.Envelope{RoutingToken: sess.Token, Ciphertext: ct}, nil
}

// Open decrypts an envelope with the session's private key.
func (s *Service) Open(sess *Session, env domain.Envelope) ([]byte, error) {
	if !sess.CanDecrypt() {
		return nil, ErrNoPrivateKey
	}
	return s.cipher.Decrypt(sess.keys, env.Ciphertext)
}
