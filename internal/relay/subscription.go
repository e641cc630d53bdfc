package relay

import (
	"context"
	"log/slog"

	"pfp/internal/domain"
)

// Subscription is the cancellation handle returned by Subscribe.
type Subscription struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

var _ domain.Subscription = (*Subscription)(nil)

func newSubscription(parent context.Context) *Subscription {
	ctx, cancel := context.WithCancel(parent)
	return &Subscription{ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

// Stop cancels delivery and waits for the delivering goroutine to exit.
// It is safe to call more than once.
func (s *Subscription) Stop() {
	s.cancel()
	<-s.done
}

// Done is closed once the subscription has fully stopped.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Accept reports whether env is addressed to owned. Shared channels carry
// traffic for unrelated sessions, so a mismatch is a filter, not an error.
func Accept(owned domain.RoutingToken, env domain.Envelope) bool {
	return env.RoutingToken == owned
}

func deliver(logger *slog.Logger, owned domain.RoutingToken, env domain.Envelope, handler func(domain.Envelope)) {
	if !Accept(owned, env) {
		logger.Debug("dropping envelope for another routing token")
		return
	}
	handler(env)
}
