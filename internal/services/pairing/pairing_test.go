package pairing_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"pfp/internal/crypto"
	"pfp/internal/domain"
	"pfp/internal/protocol/chunked"
	"pfp/internal/protocol/credential"
	"pfp/internal/relay"
	"pfp/internal/services/pairing"
	"pfp/internal/services/session"
	"pfp/internal/testutil"
)

var (
	keyOnce sync.Once
	keys    *crypto.KeyPair
	keyErr  error
)

func sharedKeys(bits int) (*crypto.KeyPair, error) {
	keyOnce.Do(func() { keys, keyErr = crypto.GenerateKeyPair(bits) })
	return keys, keyErr
}

func newSessions(t *testing.T) *session.Service {
	t.Helper()
	h, err := crypto.ParseHash(crypto.DefaultHash)
	if err != nil {
		t.Fatal(err)
	}
	return session.New(chunked.New(h, chunked.FramingLegacy), crypto.DefaultModulusBits, session.WithKeyGenerator(sharedKeys))
}

type countingConfirmer struct {
	mu     sync.Mutex
	tokens []domain.RoutingToken
}

func (c *countingConfirmer) ConfirmReceived(_ context.Context, token domain.RoutingToken) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = append(c.tokens, token)
	return nil
}

func (c *countingConfirmer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tokens)
}

func TestAliceScenario(t *testing.T) {
	sessions := newSessions(t)
	mem := relay.NewMemory(nil)

	offers := make(chan domain.Offer, 1)
	publisher := pairing.PublishFunc(func(_ context.Context, o domain.Offer) error {
		offers <- o
		return nil
	})
	delivered := make(chan string, 4)
	confirmer := &countingConfirmer{}
	receiver := pairing.NewReceiver(sessions, mem, publisher,
		func(p []byte) { delivered <- string(p) },
		pairing.WithHost("accounts.example.com"),
		pairing.WithConfirmer(confirmer))

	if receiver.State() != pairing.Idle {
		t.Fatalf("initial state = %v", receiver.State())
	}
	recvSess, err := receiver.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer receiver.Stop()
	if receiver.State() != pairing.AwaitingToken {
		t.Fatalf("state after Start = %v", receiver.State())
	}

	offer := testutil.RequireReceive(t, offers, time.Second, "offer not published")
	if offer.Token != recvSess.Token || offer.Host != "accounts.example.com" {
		t.Fatalf("offer = %+v", offer)
	}

	sender := pairing.NewSender(sessions)
	sendSess, err := sender.Accept(offer)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if sender.State() != pairing.Paired || sender.Host() != "accounts.example.com" {
		t.Fatalf("sender state = %v host = %q", sender.State(), sender.Host())
	}

	env, err := sessions.Seal(sendSess, []byte(credential.Encode(credential.Credential{Username: "alice", Password: "s3cr3t!"})))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if err := mem.Send(context.Background(), env); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got := credential.Decode(testutil.RequireReceive(t, delivered, 5*time.Second, "credential not delivered"))
	if got.Username != "alice" || got.Password != "s3cr3t!" {
		t.Fatalf("credential = %+v", got)
	}
	if receiver.State() != pairing.Paired {
		t.Fatalf("receiver state = %v", receiver.State())
	}

	// A second update is delivered too; confirmation happens only once.
	env, _ = sessions.Seal(sendSess, []byte("alice|PFP|n3w"))
	if err := mem.Send(context.Background(), env); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if p := testutil.RequireReceive(t, delivered, 5*time.Second, "update not delivered"); p != "alice|PFP|n3w" {
		t.Fatalf("update = %q", p)
	}
	if n := confirmer.count(); n != 1 {
		t.Fatalf("confirmations = %d, want 1", n)
	}
}

func TestReceiverDropsBadEnvelopes(t *testing.T) {
	sessions := newSessions(t)
	mem := relay.NewMemory(nil)
	delivered := make(chan string, 4)
	receiver := pairing.NewReceiver(sessions, mem,
		pairing.PublishFunc(func(context.Context, domain.Offer) error { return nil }),
		func(p []byte) { delivered <- string(p) })

	sess, err := receiver.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer receiver.Stop()

	for _, ct := range []string{"%%% not base64", "AAAA", strings.Repeat("A", 684)} {
		if err := mem.Send(context.Background(), domain.Envelope{RoutingToken: sess.Token, Ciphertext: ct}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	sender, _ := sessions.NewSender(sess.Token)
	env, _ := sessions.Seal(sender, []byte("ok"))
	if err := mem.Send(context.Background(), env); err != nil {
		t.Fatalf("Send: %v", err)
	}

	// Deliveries are sequential, so the valid envelope is the first thing
	// the callback sees.
	if p := testutil.RequireReceive(t, delivered, 5*time.Second, "valid envelope not delivered"); p != "ok" {
		t.Fatalf("delivered = %q", p)
	}
	if receiver.State() != pairing.Paired {
		t.Fatalf("state = %v", receiver.State())
	}
}

func TestReceiverStartFailures(t *testing.T) {
	h, _ := crypto.ParseHash(crypto.DefaultHash)
	failing := session.New(chunked.New(h, chunked.FramingLegacy), 4096,
		session.WithKeyGenerator(func(int) (*crypto.KeyPair, error) { return nil, errors.New("no entropy") }))
	r := pairing.NewReceiver(failing, relay.NewMemory(nil),
		pairing.PublishFunc(func(context.Context, domain.Offer) error { return nil }), func([]byte) {})
	if _, err := r.Start(context.Background()); !errors.Is(err, domain.ErrKeyGeneration) {
		t.Fatalf("err = %v, want ErrKeyGeneration", err)
	}
	if r.State() != pairing.Idle {
		t.Fatalf("state = %v", r.State())
	}

	r = pairing.NewReceiver(newSessions(t), relay.NewMemory(nil),
		pairing.PublishFunc(func(context.Context, domain.Offer) error { return nil }), func([]byte) {})
	if _, err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()
	if _, err := r.Start(context.Background()); err == nil {
		t.Fatal("second Start succeeded")
	}
}

func TestReceiverSubscribesBeforePublishing(t *testing.T) {
	sessions := newSessions(t)
	mem := relay.NewMemory(nil)
	sender := pairing.NewSender(sessions)

	// The sending side answers from inside PublishOffer, before Start returns.
	publisher := pairing.PublishFunc(func(ctx context.Context, offer domain.Offer) error {
		sess, err := sender.Accept(offer)
		if err != nil {
			return err
		}
		env, err := sessions.Seal(sess, []byte("early"))
		if err != nil {
			return err
		}
		return mem.Send(ctx, env)
	})
	delivered := make(chan string, 1)
	receiver := pairing.NewReceiver(sessions, mem, publisher, func(p []byte) { delivered <- string(p) })
	if _, err := receiver.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer receiver.Stop()

	if p := testutil.RequireReceive(t, delivered, 5*time.Second, "envelope sent during publish was lost"); p != "early" {
		t.Fatalf("delivered = %q", p)
	}
}

func TestReceiverPublishFailureUnsubscribes(t *testing.T) {
	mem := relay.NewMemory(nil)
	r := pairing.NewReceiver(newSessions(t), mem,
		pairing.PublishFunc(func(context.Context, domain.Offer) error { return errors.New("no display") }),
		func([]byte) {})
	if _, err := r.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded with a failing publisher")
	}
	if r.State() != pairing.Idle || r.Session() != nil {
		t.Fatalf("state = %v after failed publish", r.State())
	}
	if n := mem.Subscribers(); n != 0 {
		t.Fatalf("subscribers = %d, want 0", n)
	}
}

func TestSenderAcceptRejectsBadToken(t *testing.T) {
	sender := pairing.NewSender(newSessions(t))
	if _, err := sender.Accept(domain.Offer{Token: "bm90IGEga2V5"}); !errors.Is(err, domain.ErrCryptoOperation) {
		t.Fatalf("err = %v, want ErrCryptoOperation", err)
	}
	if sender.State() != pairing.Idle || sender.Session() != nil {
		t.Fatalf("state = %v after rejected offer", sender.State())
	}
}

func TestSenderOriginAllowList(t *testing.T) {
	sessions := newSessions(t)
	recvSess, err := sessions.NewReceiver()
	if err != nil {
		t.Fatal(err)
	}

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	bus := pairing.NewBus()
	sender := pairing.NewSender(sessions,
		pairing.WithAllowedOrigins("https://desktop.example"),
		pairing.WithSenderLogger(logger))
	cancel := sender.Listen(bus)
	defer cancel()

	offerMsg := domain.Notification{Type: domain.NotificationReceiverInit, Receiver: recvSess.Token}

	bus.Endpoint("https://evil.example").Post(offerMsg)
	if sender.State() != pairing.Idle {
		t.Fatalf("state after foreign origin = %v", sender.State())
	}
	if !strings.Contains(logs.String(), "level=WARN") || !strings.Contains(logs.String(), domain.ErrOriginMismatch.Error()) {
		t.Fatalf("origin mismatch not logged at warn:\n%s", logs.String())
	}

	logs.Reset()
	bus.Endpoint("https://desktop.example").Post(domain.Notification{Type: "something_else"})
	if strings.Contains(logs.String(), "level=WARN") || !strings.Contains(logs.String(), "level=DEBUG") {
		t.Fatalf("unrelated notification not filtered at debug:\n%s", logs.String())
	}
	if sender.State() != pairing.Idle {
		t.Fatalf("state after unrelated notification = %v", sender.State())
	}

	bus.Endpoint("https://desktop.example").Post(offerMsg)
	if sender.State() != pairing.Paired || sender.Session().Token != recvSess.Token {
		t.Fatalf("state after allowed origin = %v", sender.State())
	}
}

func TestBusPairingEndToEnd(t *testing.T) {
	sessions := newSessions(t)
	bus := pairing.NewBus()
	mem := relay.NewMemory(nil)

	confirmations := make(chan domain.Notification, 1)
	stopWatching := bus.Subscribe(func(n domain.Notification) {
		if n.Type == domain.NotificationReceiverReceived {
			confirmations <- n
		}
	})
	defer stopWatching()

	sender := pairing.NewSender(sessions, pairing.WithAllowedOrigins("https://desktop.example"))
	stopListening := sender.Listen(bus)
	defer stopListening()

	desktop := bus.Endpoint("https://desktop.example")
	delivered := make(chan string, 1)
	receiver := pairing.NewReceiver(sessions, mem, desktop,
		func(p []byte) { delivered <- string(p) },
		pairing.WithConfirmer(desktop))
	recvSess, err := receiver.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer receiver.Stop()

	if sender.State() != pairing.Paired {
		t.Fatalf("sender state = %v", sender.State())
	}
	env, _ := sessions.Seal(sender.Session(), []byte("hunter2"))
	if err := mem.Send(context.Background(), env); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if p := testutil.RequireReceive(t, delivered, 5*time.Second, "not delivered"); p != "hunter2" {
		t.Fatalf("delivered = %q", p)
	}
	n := testutil.RequireReceive(t, confirmations, 5*time.Second, "no confirmation")
	if n.Receiver != recvSess.Token || n.Origin != "https://desktop.example" {
		t.Fatalf("confirmation = %+v", n)
	}
}

func TestNotifierPairing(t *testing.T) {
	sessions := newSessions(t)
	recvSess, err := sessions.NewReceiver()
	if err != nil {
		t.Fatal(err)
	}

	bus := pairing.NewBus()
	srv := httptest.NewServer(pairing.NotifyHandler(bus, nil))
	defer srv.Close()

	sender := pairing.NewSender(sessions, pairing.WithAllowedOrigins("https://desktop.example"))
	stopListening := sender.Listen(bus)
	defer stopListening()

	confirmations := make(chan domain.Notification, 1)
	stopWatching := bus.Subscribe(func(n domain.Notification) {
		if n.Type == domain.NotificationReceiverReceived {
			confirmations <- n
		}
	})
	defer stopWatching()

	offer := domain.Offer{Token: recvSess.Token, Host: "accounts.example.com"}
	ctx := context.Background()

	if err := pairing.NewNotifier(srv.URL, "https://evil.example", srv.Client()).PublishOffer(ctx, offer); err != nil {
		t.Fatalf("PublishOffer: %v", err)
	}
	if sender.State() != pairing.Idle {
		t.Fatalf("state after foreign origin = %v", sender.State())
	}

	// An origin smuggled in the body is ignored; only the header counts.
	body := `{"type":"pfp_receiver_init","receiver":"` + string(recvSess.Token) + `","Origin":"https://desktop.example"}`
	resp, err := http.Post(srv.URL, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	resp.Body.Close()
	if sender.State() != pairing.Idle {
		t.Fatalf("state after origin in body = %v", sender.State())
	}

	desktop := pairing.NewNotifier(srv.URL, "https://desktop.example", srv.Client())
	if err := desktop.PublishOffer(ctx, offer); err != nil {
		t.Fatalf("PublishOffer: %v", err)
	}
	if sender.State() != pairing.Paired || sender.Host() != "accounts.example.com" {
		t.Fatalf("state = %v host = %q", sender.State(), sender.Host())
	}

	if err := desktop.ConfirmReceived(ctx, recvSess.Token); err != nil {
		t.Fatalf("ConfirmReceived: %v", err)
	}
	n := testutil.RequireReceive(t, confirmations, time.Second, "no confirmation")
	if n.Receiver != recvSess.Token || n.Origin != "https://desktop.example" {
		t.Fatalf("confirmation = %+v", n)
	}
}

func TestNotifyHandlerRejects(t *testing.T) {
	srv := httptest.NewServer(pairing.NotifyHandler(pairing.NewBus(), nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET status = %d", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL, "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed status = %d", resp.StatusCode)
	}

	srv.Close()
	err = pairing.NewNotifier(srv.URL, "", nil).PublishOffer(context.Background(), domain.Offer{Token: "t"})
	if !errors.Is(err, domain.ErrTransientNetwork) {
		t.Fatalf("closed server: want ErrTransientNetwork, got %v", err)
	}
}

func TestLinkRoundTrip(t *testing.T) {
	offer := domain.Offer{Token: "MIICIjANBg+kq/hkiG9w0B==", Host: "accounts.example.com"}
	link, err := pairing.EncodeLink("https://pfp.example/send", offer)
	if err != nil {
		t.Fatalf("EncodeLink: %v", err)
	}
	got, err := pairing.ParseLink(link)
	if err != nil {
		t.Fatalf("ParseLink: %v", err)
	}
	if got != offer {
		t.Fatalf("ParseLink(%q) = %+v, want %+v", link, got, offer)
	}

	bare, err := pairing.ParseLink("  " + string(offer.Token) + "\n")
	if err != nil || bare.Token != offer.Token || bare.Host != "" {
		t.Fatalf("bare token: %+v, %v", bare, err)
	}

	for _, bad := range []string{"", "https://pfp.example/send?host=x"} {
		if _, err := pairing.ParseLink(bad); !errors.Is(err, domain.ErrEncoding) {
			t.Fatalf("ParseLink(%q) err = %v, want ErrEncoding", bad, err)
		}
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[pairing.State]string{pairing.Idle: "idle", pairing.AwaitingToken: "awaiting-token", pairing.Paired: "paired"} {
		if s.String() != want {
			t.Fatalf("%d.String() = %q", s, s.String())
		}
	}
}
