package app

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"pfp/internal/clock"
	"pfp/internal/crypto"
	"pfp/internal/domain"
	"pfp/internal/protocol/chunked"
	"pfp/internal/relay"
	"pfp/internal/services/pairing"
	"pfp/internal/services/session"
	"pfp/internal/services/submission"
)

// Wire bundles the configured services and clients for the commands.
type Wire struct {
	Config   *Config
	Logger   *slog.Logger
	Clock    clock.Clock
	HTTP     *http.Client
	Cipher   *chunked.Cipher
	Sessions *session.Service
	Relay    *relay.HTTPClient
}

// NewWire constructs the dependency graph from a validated cfg.
func NewWire(cfg *Config, logger *slog.Logger) (*Wire, error) {
	h, err := crypto.ParseHash(cfg.Crypto.Hash)
	if err != nil {
		return nil, err
	}
	framing, err := chunked.ParseFraming(cfg.Crypto.Framing)
	if err != nil {
		return nil, err
	}
	if framing == chunked.FramingSealed {
		logger.Warn("sealed framing enabled; peers using legacy framing cannot read these messages")
	}

	clk := clock.Real()
	cipher := chunked.New(h, framing)
	sessions := session.New(cipher, cfg.Crypto.ModulusBits, session.WithClock(clk))

	// Per-request timeouts are applied by the relay client; this one only
	// stops a stuck connection from outliving a long-poll.
	httpClient := &http.Client{Timeout: mustDuration(cfg.Relay.PollTimeout) + mustDuration(cfg.Relay.SendTimeout)}

	rc := relay.NewHTTP(cfg.Relay.URL, httpClient,
		relay.WithClientClock(clk),
		relay.WithClientLogger(logger.With("component", "relay")))
	rc.SendTimeout = mustDuration(cfg.Relay.SendTimeout)
	rc.PollTimeout = mustDuration(cfg.Relay.PollTimeout)
	rc.RetryInterval = mustDuration(cfg.Relay.RetryInterval)

	return &Wire{
		Config:   cfg,
		Logger:   logger,
		Clock:    clk,
		HTTP:     httpClient,
		Cipher:   cipher,
		Sessions: sessions,
		Relay:    rc,
	}, nil
}

// NewReceiver builds the receiving side of a pairing.
func (w *Wire) NewReceiver(publisher domain.OfferPublisher, confirmer domain.Confirmer, deliver func([]byte)) *pairing.Receiver {
	opts := []pairing.ReceiverOption{
		pairing.WithHost(w.Config.Pairing.Host),
		pairing.WithReceiverLogger(w.Logger.With("component", "pairing")),
	}
	if w.Config.Pairing.Confirm && confirmer != nil {
		opts = append(opts, pairing.WithConfirmer(confirmer))
	}
	return pairing.NewReceiver(w.Sessions, w.Relay, publisher, deliver, opts...)
}

// NewSender builds the sending side of a pairing.
func (w *Wire) NewSender(opts ...pairing.SenderOption) *pairing.Sender {
	opts = append([]pairing.SenderOption{
		pairing.WithAllowedOrigins(w.Config.Pairing.AllowedOrigins...),
		pairing.WithSenderLogger(w.Logger.With("component", "pairing")),
	}, opts...)
	return pairing.NewSender(w.Sessions, opts...)
}

// NewLoop builds a submission loop reading its session from source.
func (w *Wire) NewLoop(source submission.SessionSource, opts ...submission.Option) *submission.Loop {
	opts = append([]submission.Option{
		submission.WithClock(w.Clock),
		submission.WithInterval(mustDuration(w.Config.Submission.Interval)),
		submission.WithSendTimeout(mustDuration(w.Config.Relay.SendTimeout)),
		submission.WithLogger(w.Logger.With("component", "submission")),
	}, opts...)
	return submission.New(w.Sessions, w.Relay, source, opts...)
}

// PairingLink renders offer as a link on the configured base.
func (w *Wire) PairingLink(offer domain.Offer) (string, error) {
	link, err := pairing.EncodeLink(w.Config.Pairing.LinkBase, offer)
	if err != nil {
		return "", fmt.Errorf("building pairing link: %w", err)
	}
	return link, nil
}

// NotifyOrigin is the origin stamped on posted notifications:
// pairing.origin, else the scheme and host of the link base.
func (w *Wire) NotifyOrigin() string {
	if w.Config.Pairing.Origin != "" {
		return w.Config.Pairing.Origin
	}
	u, err := url.Parse(w.Config.Pairing.LinkBase)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// NewNotifier builds a notifier posting to target as NotifyOrigin.
func (w *Wire) NewNotifier(target string) *pairing.Notifier {
	client := &http.Client{Timeout: mustDuration(w.Config.Relay.SendTimeout)}
	return pairing.NewNotifier(target, w.NotifyOrigin(), client)
}

// NewServer builds the relay server from the server section.
func NewServer(cfg *Config, logger *slog.Logger) *relay.Server {
	return relay.NewServer(relay.ServerConfig{
		MaxMessageBytes: cfg.Server.MaxMessageBytes,
		LongPoll:        mustDuration(cfg.Server.LongPoll),
		IdlePurge:       mustDuration(cfg.Server.IdlePurge),
	}, relay.WithServerLogger(logger))
}
