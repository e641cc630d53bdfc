package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"pfp/internal/crypto"
	"pfp/internal/domain"
)

// memoryQueue is the per-subscriber backlog. Envelopes beyond it are
// dropped, like any other best-effort delivery.
const memoryQueue = 16

// Memory is an in-process relay shaped like a cross-context notification
// channel: Send broadcasts to every subscriber and each subscriber keeps
// only envelopes addressed to its own token.
type Memory struct {
	mu     sync.Mutex
	subs   map[*memorySub]struct{}
	fail   error
	logger *slog.Logger
}

type memorySub struct {
	owned   domain.RoutingToken
	queue   chan domain.Envelope
	handler func(domain.Envelope)
}

var _ domain.RelayClient = (*Memory)(nil)

// NewMemory returns an empty in-process relay.
func NewMemory(logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Memory{subs: make(map[*memorySub]struct{}), logger: logger}
}

// FailSends makes every Send return err wrapped in
// domain.ErrTransientNetwork until called again with nil.
func (m *Memory) FailSends(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// Send broadcasts env to all subscribers.
func (m *Memory) Send(ctx context.Context, env domain.Envelope) error {
	if err := ctx.Err(); err != nil {
		return errors.Join(domain.ErrTransientNetwork, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return errors.Join(domain.ErrTransientNetwork, m.fail)
	}
	for sub := range m.subs {
		select {
		case sub.queue <- env:
		default:
			m.logger.Warn("memory relay queue full; dropping envelope")
		}
	}
	return nil
}

// Subscribe registers handler for envelopes addressed to token.
func (m *Memory) Subscribe(ctx context.Context, token domain.RoutingToken, handler func(domain.Envelope)) (domain.Subscription, error) {
	if token == "" {
		return nil, errors.New("relay subscribe: empty routing token")
	}
	s := &memorySub{owned: token, queue: make(chan domain.Envelope, memoryQueue), handler: handler}
	m.mu.Lock()
	m.subs[s] = struct{}{}
	m.mu.Unlock()

	sub := newSubscription(ctx)
	logger := m.logger.With("token", crypto.Fingerprint(token))
	go func() {
		defer close(sub.done)
		defer func() {
			m.mu.Lock()
			delete(m.subs, s)
			m.mu.Unlock()
		}()
		for {
			select {
			case <-sub.ctx.Done():
				return
			case env := <-s.queue:
				deliver(logger, s.owned, env, s.handler)
			}
		}
	}()
	return sub, nil
}

// Subscribers returns the number of live subscriptions.
func (m *Memory) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}
