package pairing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"pfp/internal/domain"
	"pfp/internal/secret"
	"pfp/internal/services/session"
)

const confirmTimeout = 5 * time.Second

// PublishFunc adapts a function to domain.OfferPublisher.
type PublishFunc func(ctx context.Context, offer domain.Offer) error

func (f PublishFunc) PublishOffer(ctx context.Context, offer domain.Offer) error { return f(ctx, offer) }

// Receiver is the receiving side of a pairing.
type Receiver struct {
	sessions  *session.Service
	relay     domain.RelayClient
	publisher domain.OfferPublisher
	confirmer domain.Confirmer
	host      string
	deliver   func(plaintext []byte)
	logger    *slog.Logger

	mu    sync.Mutex
	ctx   context.Context
	state State
	sess  *session.Session
	sub   domain.Subscription
}

// ReceiverOption configures a Receiver.
type ReceiverOption func(*Receiver)

// WithHost sets the host hint carried in the Offer.
func WithHost(host string) ReceiverOption { return func(r *Receiver) { r.host = host } }

// WithConfirmer enables the pfp_receiver_received confirmation sent once
// pairing completes.
func WithConfirmer(c domain.Confirmer) ReceiverOption { return func(r *Receiver) { r.confirmer = c } }

// WithReceiverLogger sets the logger.
func WithReceiverLogger(l *slog.Logger) ReceiverOption { return func(r *Receiver) { r.logger = l } }

// NewReceiver returns an idle Receiver. deliver is called, sequentially,
// with every decrypted payload; the slice is zeroed when it returns.
func NewReceiver(sessions *session.Service, relay domain.RelayClient, publisher domain.OfferPublisher, deliver func([]byte), opts ...ReceiverOption) *Receiver {
	r := &Receiver{
		sessions:  sessions,
		relay:     relay,
		publisher: publisher,
		deliver:   deliver,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start creates the session, subscribes to the relay and then publishes
// its Offer, so nothing sent right after the offer lands is missed. A key
// generation failure is fatal and leaves the Receiver idle.
func (r *Receiver) Start(ctx context.Context) (*session.Session, error) {
	r.mu.Lock()
	if r.state != Idle {
		r.mu.Unlock()
		return nil, errors.New("pairing receiver already started")
	}
	sess, err := r.sessions.NewReceiver()
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.ctx, r.sess, r.state = ctx, sess, AwaitingToken
	r.mu.Unlock()

	sub, err := r.relay.Subscribe(ctx, sess.Token, r.handle)
	if err != nil {
		r.reset()
		return nil, fmt.Errorf("subscribing to relay: %w", err)
	}
	offer := domain.Offer{Token: sess.Token, Host: r.host}
	if err := r.publisher.PublishOffer(ctx, offer); err != nil {
		sub.Stop()
		r.reset()
		return nil, fmt.Errorf("publishing pairing offer: %w", err)
	}

	r.mu.Lock()
	r.sub = sub
	r.mu.Unlock()
	r.logger.Info("awaiting sender", "token", sess.Fingerprint(), "host", r.host)
	return sess, nil
}

func (r *Receiver) reset() {
	r.mu.Lock()
	r.ctx, r.sess, r.state = nil, nil, Idle
	r.mu.Unlock()
}

// Stop releases the relay subscription. The session stays readable.
func (r *Receiver) Stop() {
	r.mu.Lock()
	sub := r.sub
	r.sub = nil
	r.mu.Unlock()
	if sub != nil {
		sub.Stop()
	}
}

// State returns the current pairing state.
func (r *Receiver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Session returns the receiving session, or nil before Start.
func (r *Receiver) Session() *session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess
}

func (r *Receiver) handle(env domain.Envelope) {
	r.mu.Lock()
	sess, ctx := r.sess, r.ctx
	r.mu.Unlock()

	plaintext, err := r.sessions.Open(sess, env)
	if err != nil {
		reason := "undecryptable"
		if errors.Is(err, domain.ErrEncoding) {
			reason = "malformed"
		}
		r.logger.Warn("dropping envelope", "reason", reason, "error", err, "token", sess.Fingerprint())
		return
	}

	r.mu.Lock()
	first := r.state == AwaitingToken
	if first {
		r.state = Paired
	}
	r.mu.Unlock()

	if first {
		r.logger.Info("paired", "token", sess.Fingerprint())
		r.confirm(ctx, sess.Token)
	}
	r.deliver(plaintext)
	secret.Zero(plaintext)
}

func (r *Receiver) confirm(ctx context.Context, token domain.RoutingToken) {
	if r.confirmer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), confirmTimeout)
	defer cancel()
	if err := r.confirmer.ConfirmReceived(ctx, token); err != nil {
		r.logger.Warn("pairing confirmation failed", "error", err)
	}
}
