package domain

import "context"

// OfferPublisher is the out-of-band collaborator that moves an Offer from
// the receiving device to the sending device (pairing link, QR code, a
// cross-window notification...).
type OfferPublisher interface {
	PublishOffer(ctx context.Context, offer Offer) error
}

// Confirmer receives the optional pairing confirmation.
type Confirmer interface {
	ConfirmReceived(ctx context.Context, token RoutingToken) error
}
