package domain

import "context"

// RelayClient delivers envelopes to, and receives envelopes from, an
// untrusted store-and-forward relay. Delivery is best-effort and unordered.
type RelayClient interface {
	// Send issues a single delivery attempt for env. Failures wrap
	// ErrTransientNetwork.
	Send(ctx context.Context, env Envelope) error

	// Subscribe invokes handler for every envelope addressed to token
	// until the returned Subscription is stopped or ctx ends. Envelopes
	// for any other token are dropped before reaching handler.
	Subscribe(ctx context.Context, token RoutingToken, handler func(Envelope)) (Subscription, error)
}

// Subscription is a cancellation handle for RelayClient.Subscribe.
type Subscription interface {
	// Stop ends delivery and blocks until no handler call is in flight.
	Stop()
}
