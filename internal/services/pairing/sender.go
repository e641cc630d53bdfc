package pairing

import (
	"fmt"
	"log/slog"
	"sync"

	"pfp/internal/domain"
	"pfp/internal/services/session"
)

// Sender is the sending side of a pairing.
type Sender struct {
	sessions *session.Service
	allowed  map[string]struct{}
	onPaired func(*session.Session, domain.Offer)
	logger   *slog.Logger

	mu    sync.Mutex
	state State
	sess  *session.Session
	host  string
}

// SenderOption configures a Sender.
type SenderOption func(*Sender)

// WithAllowedOrigins sets the origins whose pairing notifications are
// honoured. With none set every notification is rejected.
func WithAllowedOrigins(origins ...string) SenderOption {
	return func(s *Sender) {
		for _, o := range origins {
			s.allowed[o] = struct{}{}
		}
	}
}

// WithOnPaired registers a callback run after each successful Accept.
func WithOnPaired(f func(*session.Session, domain.Offer)) SenderOption {
	return func(s *Sender) { s.onPaired = f }
}

// WithSenderLogger sets the logger.
func WithSenderLogger(l *slog.Logger) SenderOption { return func(s *Sender) { s.logger = l } }

// NewSender returns an idle Sender.
func NewSender(sessions *session.Service, opts ...SenderOption) *Sender {
	s := &Sender{
		sessions: sessions,
		allowed:  make(map[string]struct{}),
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Accept imports the offered token. A later offer replaces the current
// pairing; a rejected one leaves it untouched.
func (s *Sender) Accept(offer domain.Offer) (*session.Session, error) {
	s.mu.Lock()
	previous := s.state
	if previous == Idle {
		s.state = AwaitingToken
	}
	sess, err := s.sessions.NewSender(offer.Token)
	if err != nil {
		s.state = previous
		s.mu.Unlock()
		return nil, fmt.Errorf("importing routing token: %w", err)
	}
	s.state, s.sess, s.host = Paired, sess, offer.Host
	s.mu.Unlock()

	s.logger.Info("paired", "token", sess.Fingerprint(), "host", offer.Host)
	if s.onPaired != nil {
		s.onPaired(sess, offer)
	}
	return sess, nil
}

// Listen handles pfp_receiver_init notifications on bus until the
// returned cancel func is called.
func (s *Sender) Listen(bus *Bus) (cancel func()) {
	return bus.Subscribe(s.handleNotification)
}

func (s *Sender) handleNotification(n domain.Notification) {
	if n.Type != domain.NotificationReceiverInit {
		s.logger.Debug("ignoring notification", "type", n.Type, "origin", n.Origin)
		return
	}
	if _, ok := s.allowed[n.Origin]; !ok {
		s.logger.Warn("rejected pairing notification",
			"error", fmt.Errorf("%w: %q", domain.ErrOriginMismatch, n.Origin))
		return
	}
	if _, err := s.Accept(domain.Offer{Token: n.Receiver, Host: n.Host}); err != nil {
		s.logger.Warn("rejected pairing notification", "error", err, "origin", n.Origin)
	}
}

// State returns the current pairing state.
func (s *Sender) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Session returns the paired session, or nil while unpaired.
func (s *Sender) Session() *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess
}

// Host returns the host hint of the current pairing.
func (s *Sender) Host() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.host
}
