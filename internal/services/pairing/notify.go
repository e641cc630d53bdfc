package pairing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"pfp/internal/domain"
)

// maxNotificationBytes bounds a posted notification. A 4096-bit token is
// well under 1 KiB.
const maxNotificationBytes = 16 << 10

// NotifyHandler accepts notifications POSTed as JSON and posts them on bus.
// The notification's origin is the request's Origin header; the body
// cannot set it.
func NotifyHandler(bus *Bus, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", "POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var n domain.Notification
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxNotificationBytes))
		if err := dec.Decode(&n); err != nil {
			logger.Debug("malformed notification", "error", err, "remote", r.RemoteAddr)
			http.Error(w, "malformed notification", http.StatusBadRequest)
			return
		}
		bus.Endpoint(r.Header.Get("Origin")).Post(n)
		w.WriteHeader(http.StatusNoContent)
	})
}

// Notifier posts notifications to a NotifyHandler on behalf of origin.
type Notifier struct {
	url    string
	origin string
	http   *http.Client
}

var (
	_ domain.OfferPublisher = (*Notifier)(nil)
	_ domain.Confirmer      = (*Notifier)(nil)
)

// NewNotifier returns a Notifier posting to url. A nil client means
// http.DefaultClient.
func NewNotifier(url, origin string, client *http.Client) *Notifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &Notifier{url: url, origin: origin, http: client}
}

// PublishOffer posts a pfp_receiver_init notification.
func (n *Notifier) PublishOffer(ctx context.Context, offer domain.Offer) error {
	return n.post(ctx, domain.Notification{Type: domain.NotificationReceiverInit, Receiver: offer.Token, Host: offer.Host})
}

// ConfirmReceived posts a pfp_receiver_received notification.
func (n *Notifier) ConfirmReceived(ctx context.Context, token domain.RoutingToken) error {
	return n.post(ctx, domain.Notification{Type: domain.NotificationReceiverReceived, Receiver: token})
}

func (n *Notifier) post(ctx context.Context, note domain.Notification) error {
	body, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("%w: encoding notification: %v", domain.ErrEncoding, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.origin != "" {
		req.Header.Set("Origin", n.origin)
	}

	resp, err := n.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: posting %s: %v", domain.ErrTransientNetwork, note.Type, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%w: posting %s: status %d", domain.ErrTransientNetwork, note.Type, resp.StatusCode)
	}
	return nil
}
