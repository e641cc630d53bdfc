package pairing

import (
	"context"
	"sync"

	"pfp/internal/domain"
)

// Bus is an in-process cross-context notification channel. Every
// subscriber sees every notification, tagged with the origin of the
// Endpoint that posted it.
type Bus struct {
	mu   sync.Mutex
	next int
	subs map[int]func(domain.Notification)
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(domain.Notification))}
}

// Subscribe registers handler. Handlers run synchronously on the posting
// goroutine.
func (b *Bus) Subscribe(handler func(domain.Notification)) (cancel func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = handler
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Endpoint returns a posting handle for the context at origin.
func (b *Bus) Endpoint(origin string) *Endpoint {
	return &Endpoint{bus: b, origin: origin}
}

func (b *Bus) broadcast(n domain.Notification) {
	b.mu.Lock()
	handlers := make([]func(domain.Notification), 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()
	for _, h := range handlers {
		h(n)
	}
}

// Endpoint posts on a Bus on behalf of one origin.
type Endpoint struct {
	bus    *Bus
	origin string
}

var (
	_ domain.OfferPublisher = (*Endpoint)(nil)
	_ domain.Confirmer      = (*Endpoint)(nil)
)

// Post stamps n with the endpoint's origin and broadcasts it.
func (e *Endpoint) Post(n domain.Notification) {
	n.Origin = e.origin
	e.bus.broadcast(n)
}

// PublishOffer posts a pfp_receiver_init notification.
func (e *Endpoint) PublishOffer(_ context.Context, offer domain.Offer) error {
	e.Post(domain.Notification{Type: domain.NotificationReceiverInit, Receiver: offer.Token, Host: offer.Host})
	return nil
}

// ConfirmReceived posts a pfp_receiver_received notification.
func (e *Endpoint) ConfirmReceived(_ context.Context, token domain.RoutingToken) error {
	e.Post(domain.Notification{Type: domain.NotificationReceiverReceived, Receiver: token})
	return nil
}
