package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pfp/internal/clock"
	"pfp/internal/crypto"
	"pfp/internal/domain"
)

const (
	// MaxQueryMessage is the longest ciphertext sent in the query string.
	// Longer messages are POSTed as the request body.
	MaxQueryMessage = 8 << 10

	// maxResponseBytes bounds how much of a /receive answer is read.
	maxResponseBytes = 2 * DefaultMaxMessageBytes

	DefaultSendTimeout   = 10 * time.Second
	DefaultPollTimeout   = DefaultLongPoll + 5*time.Second
	DefaultRetryInterval = 2 * time.Second
)

// HTTPClient is a domain.RelayClient for the relay's HTTP surface.
type HTTPClient struct {
	Base string
	HTTP *http.Client

	SendTimeout   time.Duration
	PollTimeout   time.Duration
	RetryInterval time.Duration

	clock  clock.Clock
	logger *slog.Logger
}

var _ domain.RelayClient = (*HTTPClient)(nil)

// ClientOption configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithClientClock sets the clock used for retry waits.
func WithClientClock(c clock.Clock) ClientOption { return func(h *HTTPClient) { h.clock = c } }

// WithClientLogger sets the logger for poll failures and filtered envelopes.
func WithClientLogger(l *slog.Logger) ClientOption { return func(h *HTTPClient) { h.logger = l } }

// NewHTTP returns a client for the relay at base. A nil httpClient means
// http.DefaultClient.
func NewHTTP(base string, httpClient *http.Client, opts ...ClientOption) *HTTPClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &HTTPClient{
		Base:          strings.TrimRight(base, "/"),
		HTTP:          httpClient,
		SendTimeout:   DefaultSendTimeout,
		PollTimeout:   DefaultPollTimeout,
		RetryInterval: DefaultRetryInterval,
		clock:         clock.Real(),
		logger:        slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send makes a single delivery attempt. It is fire-and-forget: a 2xx
// answer is all that is checked.
func (c *HTTPClient) Send(ctx context.Context, env domain.Envelope) error {
	ctx, cancel := context.WithTimeout(ctx, c.SendTimeout)
	defer cancel()

	query := url.Values{"receiver": {string(env.RoutingToken)}}
	method, body := http.MethodGet, io.Reader(nil)
	if len(env.Ciphertext) <= MaxQueryMessage {
		query.Set("message", env.Ciphertext)
	} else {
		method, body = http.MethodPost, strings.NewReader(env.Ciphertext)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.Base+"/send?"+query.Encode(), body)
	if err != nil {
		return fmt.Errorf("relay send: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "text/plain")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: relay %s /send: %w", domain.ErrTransientNetwork, strings.ToLower(method), err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%w: relay %s /send: %s", domain.ErrTransientNetwork, strings.ToLower(method), resp.Status)
	}
	return nil
}

// Subscribe starts long-polling for token on a new goroutine. handler is
// called sequentially from that goroutine.
func (c *HTTPClient) Subscribe(ctx context.Context, token domain.RoutingToken, handler func(domain.Envelope)) (domain.Subscription, error) {
	if token == "" {
		return nil, errors.New("relay subscribe: empty routing token")
	}
	sub := newSubscription(ctx)
	go func() {
		defer close(sub.done)
		c.poll(sub.ctx, token, handler)
	}()
	return sub, nil
}

func (c *HTTPClient) poll(ctx context.Context, token domain.RoutingToken, handler func(domain.Envelope)) {
	logger := c.logger.With("token", crypto.Fingerprint(token))
	for ctx.Err() == nil {
		start := c.clock.Now()
		message, err := c.receive(ctx, token)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("relay poll failed; retrying", "error", err, "retry_in", c.RetryInterval)
			select {
			case <-ctx.Done():
				return
			case <-c.clock.After(c.RetryInterval):
			}
			continue
		}
		if message == nil {
			// Nothing queued. A relay that answers without holding the poll
			// is asked again no sooner than RetryInterval.
			if wait := c.RetryInterval - c.clock.Now().Sub(start); wait > 0 {
				select {
				case <-ctx.Done():
					return
				case <-c.clock.After(wait):
				}
			}
			continue
		}
		deliver(logger, token, domain.Envelope{RoutingToken: token, Ciphertext: *message}, handler)
	}
}

// receive performs one long-poll. A nil message means the relay had
// nothing for token within its window.
func (c *HTTPClient) receive(ctx context.Context, token domain.RoutingToken) (*string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.PollTimeout)
	defer cancel()

	query := url.Values{"receiver": {string(token)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Base+"/receive?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("relay receive: %w", err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: relay get /receive: %w", domain.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: relay get /receive: %s", domain.ErrTransientNetwork, resp.Status)
	}
	var message *string
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&message); err != nil {
		return nil, fmt.Errorf("%w: relay get /receive: decoding: %w", domain.ErrTransientNetwork, err)
	}
	return message, nil
}
