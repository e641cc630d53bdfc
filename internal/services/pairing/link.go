package pairing

import (
	"fmt"
	"net/url"
	"strings"

	"pfp/internal/domain"
)

// EncodeLink builds the pairing link for offer: base with the receiver
// and host query parameters set.
func EncodeLink(base string, offer domain.Offer) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: pairing base url: %v", domain.ErrEncoding, err)
	}
	q := u.Query()
	q.Set("receiver", string(offer.Token))
	if offer.Host != "" {
		q.Set("host", offer.Host)
	} else {
		q.Del("host")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ParseLink reads an Offer from a pairing link or from a bare routing
// token.
func ParseLink(s string) (domain.Offer, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return domain.Offer{}, fmt.Errorf("%w: empty pairing link", domain.ErrEncoding)
	}
	if !strings.Contains(s, "?") && !strings.Contains(s, "://") {
		return domain.Offer{Token: domain.RoutingToken(s)}, nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return domain.Offer{}, fmt.Errorf("%w: pairing link: %v", domain.ErrEncoding, err)
	}
	q := u.Query()
	receiver := q.Get("receiver")
	if receiver == "" {
		return domain.Offer{}, fmt.Errorf("%w: pairing link has no receiver", domain.ErrEncoding)
	}
	return domain.Offer{Token: domain.RoutingToken(receiver), Host: q.Get("host")}, nil
}
