package relay_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"pfp/internal/clock"
	"pfp/internal/domain"
	"pfp/internal/relay"
	"pfp/internal/testutil"
)

type recordedRequest struct {
	method   string
	receiver string
	message  string
	body     string
}

func recordingServer(t *testing.T, status int) (*httptest.Server, <-chan recordedRequest) {
	t.Helper()
	requests := make(chan recordedRequest, 4)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests <- recordedRequest{
			method:   r.Method,
			receiver: r.URL.Query().Get("receiver"),
			message:  r.URL.Query().Get("message"),
			body:     string(body),
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, "ignored")
	}))
	t.Cleanup(ts.Close)
	return ts, requests
}

func TestSendSmallMessageUsesQuery(t *testing.T) {
	ts, requests := recordingServer(t, http.StatusOK)
	client := relay.NewHTTP(ts.URL+"/", nil)

	env := domain.Envelope{RoutingToken: "MIIC+/=", Ciphertext: "abc+/=="}
	if err := client.Send(context.Background(), env); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got := testutil.RequireReceive(t, requests, 5*time.Second, "waiting for request")
	if got.method != http.MethodGet || got.receiver != "MIIC+/=" || got.message != "abc+/==" {
		t.Fatalf("request = %+v", got)
	}
}

func TestSendLargeMessageUsesPost(t *testing.T) {
	ts, requests := recordingServer(t, http.StatusOK)
	client := relay.NewHTTP(ts.URL, nil)

	large := strings.Repeat("Q", relay.MaxQueryMessage+1)
	if err := client.Send(context.Background(), domain.Envelope{RoutingToken: "tok", Ciphertext: large}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got := testutil.RequireReceive(t, requests, 5*time.Second, "waiting for request")
	if got.method != http.MethodPost || got.body != large || got.message != "" {
		t.Fatalf("method = %s, body length = %d, query message = %q", got.method, len(got.body), got.message)
	}
}

func TestSendFailuresAreTransient(t *testing.T) {
	ts, _ := recordingServer(t, http.StatusBadGateway)
	client := relay.NewHTTP(ts.URL, nil)
	err := client.Send(context.Background(), domain.Envelope{RoutingToken: "tok", Ciphertext: "x"})
	if !errors.Is(err, domain.ErrTransientNetwork) {
		t.Fatalf("non-2xx: err = %v, want ErrTransientNetwork", err)
	}

	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()
	client = relay.NewHTTP(closed.URL, nil)
	err = client.Send(context.Background(), domain.Envelope{RoutingToken: "tok", Ciphertext: "x"})
	if !errors.Is(err, domain.ErrTransientNetwork) {
		t.Fatalf("unreachable: err = %v, want ErrTransientNetwork", err)
	}
}

func TestSendTimeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	client := relay.NewHTTP(ts.URL, nil)
	client.SendTimeout = 50 * time.Millisecond
	err := client.Send(context.Background(), domain.Envelope{RoutingToken: "tok", Ciphertext: "x"})
	if !errors.Is(err, domain.ErrTransientNetwork) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want transient deadline error", err)
	}
}

func TestSubscribeAgainstServer(t *testing.T) {
	ts := httptest.NewServer(relay.NewServer(relay.ServerConfig{LongPoll: 100 * time.Millisecond}).Handler())
	defer ts.Close()
	client := relay.NewHTTP(ts.URL, nil)

	received := make(chan domain.Envelope, 4)
	sub, err := client.Subscribe(context.Background(), "tok", func(env domain.Envelope) { received <- env })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Stop()

	if err := client.Send(context.Background(), domain.Envelope{RoutingToken: "other", Ciphertext: "not mine"}); err != nil {
		t.Fatalf("Send other: %v", err)
	}
	if err := client.Send(context.Background(), domain.Envelope{RoutingToken: "tok", Ciphertext: "mine"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	env := testutil.RequireReceive(t, received, 5*time.Second, "waiting for envelope")
	if env.RoutingToken != "tok" || env.Ciphertext != "mine" {
		t.Fatalf("envelope = %+v", env)
	}
	testutil.RequireNoReceive(t, received, 300*time.Millisecond, "unexpected second envelope")
}

func TestSubscribeRetriesAfterFailure(t *testing.T) {
	var polls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch polls.Add(1) {
		case 1:
			http.Error(w, "down", http.StatusServiceUnavailable)
		case 2:
			_, _ = io.WriteString(w, `"payload"`)
		default:
			<-r.Context().Done()
		}
	}))
	defer ts.Close()

	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	client := relay.NewHTTP(ts.URL, nil, relay.WithClientClock(fake))
	received := make(chan domain.Envelope, 1)
	sub, err := client.Subscribe(context.Background(), "tok", func(env domain.Envelope) { received <- env })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Stop()

	// The failed poll parks on the retry timer.
	fake.WaitForTimers(1)
	testutil.RequireNoReceive(t, received, 50*time.Millisecond, "delivered before retry")
	fake.Advance(relay.DefaultRetryInterval)

	env := testutil.RequireReceive(t, received, 5*time.Second, "waiting for retried poll")
	if env.Ciphertext != "payload" {
		t.Fatalf("ciphertext = %q", env.Ciphertext)
	}
}

func TestSubscribeBacksOffOnImmediateNull(t *testing.T) {
	var polls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch polls.Add(1) {
		case 1:
			_, _ = io.WriteString(w, "null")
		case 2:
			_, _ = io.WriteString(w, `"payload"`)
		default:
			<-r.Context().Done()
		}
	}))
	defer ts.Close()

	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	client := relay.NewHTTP(ts.URL, nil, relay.WithClientClock(fake))
	received := make(chan domain.Envelope, 1)
	sub, err := client.Subscribe(context.Background(), "tok", func(env domain.Envelope) { received <- env })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Stop()

	fake.WaitForTimers(1)
	testutil.RequireNoReceive(t, received, 50*time.Millisecond, "polled again without waiting")
	if n := polls.Load(); n != 1 {
		t.Fatalf("polls = %d before the retry interval elapsed, want 1", n)
	}
	fake.Advance(relay.DefaultRetryInterval)

	env := testutil.RequireReceive(t, received, 5*time.Second, "waiting for second poll")
	if env.Ciphertext != "payload" {
		t.Fatalf("ciphertext = %q", env.Ciphertext)
	}
}

func TestSubscriptionStopWaits(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer ts.Close()

	client := relay.NewHTTP(ts.URL, nil)
	sub, err := client.Subscribe(context.Background(), "tok", func(domain.Envelope) {})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	sub.Stop()
	sub.Stop()
	testutil.RequireClosed(t, sub.(*relay.Subscription).Done(), time.Second, "subscription still running")
}

func TestSubscribeRejectsEmptyToken(t *testing.T) {
	if _, err := relay.NewHTTP("http://relay.invalid", nil).Subscribe(context.Background(), "", func(domain.Envelope) {}); err == nil {
		t.Fatal("Subscribe with empty token succeeded")
	}
}

func TestMemoryRelayFiltersByToken(t *testing.T) {
	mem := relay.NewMemory(nil)
	mine := make(chan domain.Envelope, 2)
	theirs := make(chan domain.Envelope, 2)

	subA, _ := mem.Subscribe(context.Background(), "a", func(env domain.Envelope) { mine <- env })
	defer subA.Stop()
	subB, _ := mem.Subscribe(context.Background(), "b", func(env domain.Envelope) { theirs <- env })
	defer subB.Stop()

	if err := mem.Send(context.Background(), domain.Envelope{RoutingToken: "a", Ciphertext: "x"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if env := testutil.RequireReceive(t, mine, time.Second, "a"); env.Ciphertext != "x" {
		t.Fatalf("a got %+v", env)
	}
	testutil.RequireNoReceive(t, theirs, 100*time.Millisecond, "b saw a's envelope")

	mem.FailSends(errors.New("offline"))
	if err := mem.Send(context.Background(), domain.Envelope{RoutingToken: "a"}); !errors.Is(err, domain.ErrTransientNetwork) {
		t.Fatalf("err = %v, want ErrTransientNetwork", err)
	}
}

func TestAccept(t *testing.T) {
	if !relay.Accept("tok", domain.Envelope{RoutingToken: "tok"}) {
		t.Fatal("exact match rejected")
	}
	for _, other := range []domain.RoutingToken{"", "tok ", "TOK", "tok="} {
		if relay.Accept("tok", domain.Envelope{RoutingToken: other}) {
			t.Fatalf("accepted %q", other)
		}
	}
}
