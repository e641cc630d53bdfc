package submission_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pfp/internal/clock"
	"pfp/internal/crypto"
	"pfp/internal/domain"
	"pfp/internal/protocol/chunked"
	"pfp/internal/services/session"
	"pfp/internal/services/submission"
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

// stubRelay records sends. When gate is non-nil each Send blocks until a
// value arrives on it.
type stubRelay struct {
	sent    chan domain.Envelope
	started chan struct{}
	gate    chan struct{}

	mu        sync.Mutex
	failures  int
	permanent error
}

func newStubRelay() *stubRelay {
	return &stubRelay{sent: make(chan domain.Envelope, 16), started: make(chan struct{}, 16)}
}

func (r *stubRelay) Send(ctx context.Context, env domain.Envelope) error {
	r.started <- struct{}{}
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	if r.permanent != nil {
		err := r.permanent
		r.mu.Unlock()
		return err
	}
	if r.failures > 0 {
		r.failures--
		r.mu.Unlock()
		return domain.ErrTransientNetwork
	}
	r.mu.Unlock()
	r.sent <- env
	return nil
}

func (r *stubRelay) Subscribe(context.Context, domain.RoutingToken, func(domain.Envelope)) (domain.Subscription, error) {
	return nil, errors.New("not supported")
}

type fixedSource struct {
	mu   sync.Mutex
	sess *session.Session
}

func (s *fixedSource) Session() *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess
}

func (s *fixedSource) set(sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess = sess
}

type harness struct {
	fake     *clock.FakeClock
	relay    *stubRelay
	sessions *session.Service
	receiver *session.Session
	source   *fixedSource
	loop     *submission.Loop
	sentVals chan string
	errs     chan error
}

func newHarness(t *testing.T, paired bool) *harness {
	t.Helper()
	h, err := crypto.ParseHash(crypto.DefaultHash)
	if err != nil {
		t.Fatal(err)
	}
	hs := &harness{
		fake:     clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		relay:    newStubRelay(),
		sessions: session.New(chunked.New(h, chunked.FramingLegacy), 4096, session.WithKeyGenerator(sharedKeys)),
		source:   &fixedSource{},
		sentVals: make(chan string, 16),
		errs:     make(chan error, 16),
	}
	hs.receiver, err = hs.sessions.NewReceiver()
	if err != nil {
		t.Fatal(err)
	}
	if paired {
		hs.pair(t)
	}
	hs.loop = submission.New(hs.sessions, hs.relay, hs.source,
		submission.WithClock(hs.fake),
		submission.WithOnSent(func(v string) { hs.sentVals <- v }),
		submission.WithOnError(func(err error) { hs.errs <- err }))
	if err := hs.loop.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(hs.loop.Stop)
	hs.fake.WaitForTimers(1)
	return hs
}

func (hs *harness) pair(t *testing.T) {
	t.Helper()
	sender, err := hs.sessions.NewSender(hs.receiver.Token)
	if err != nil {
		t.Fatal(err)
	}
	hs.source.set(sender)
}

func (hs *harness) tick() { hs.fake.Advance(submission.DefaultInterval) }

func (hs *harness) open(t *testing.T, env domain.Envelope) string {
	t.Helper()
	plain, err := hs.sessions.Open(hs.receiver, env)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return string(plain)
}

func eventually(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRapidEditsCollapseIntoOneSend(t *testing.T) {
	hs := newHarness(t, true)

	hs.loop.Set("a")
	hs.loop.Set("al")
	hs.loop.Set("ali")
	if !hs.loop.Dirty() {
		t.Fatal("not dirty after Set")
	}
	hs.tick()

	env := testutil.RequireReceive(t, hs.relay.sent, 5*time.Second, "no send")
	if got := hs.open(t, env); got != "ali" {
		t.Fatalf("sent %q, want ali", got)
	}
	testutil.RequireReceive(t, hs.sentVals, 5*time.Second, "OnSent not called")
	if hs.loop.Dirty() {
		t.Fatal("still dirty after a clean send")
	}

	hs.tick()
	testutil.RequireNoReceive(t, hs.relay.started, 50*time.Millisecond, "clean loop sent again")
	if env.RoutingToken != hs.receiver.Token {
		t.Fatal("envelope not addressed to the receiver")
	}
}

func TestEditDuringSendStaysDirty(t *testing.T) {
	hs := newHarness(t, true)
	hs.relay.gate = make(chan struct{})

	hs.loop.Set("first")
	hs.tick()
	testutil.RequireReceive(t, hs.relay.started, 5*time.Second, "send not started")

	hs.loop.Set("second")
	hs.relay.gate <- struct{}{}
	if v := testutil.RequireReceive(t, hs.sentVals, 5*time.Second, "first send"); v != "first" {
		t.Fatalf("OnSent(%q)", v)
	}
	if !hs.loop.Dirty() {
		t.Fatal("compare-and-clear cleared a newer value")
	}
	<-hs.relay.sent

	hs.tick()
	testutil.RequireReceive(t, hs.relay.started, 5*time.Second, "second send not started")
	hs.relay.gate <- struct{}{}
	env := testutil.RequireReceive(t, hs.relay.sent, 5*time.Second, "second send")
	if got := hs.open(t, env); got != "second" {
		t.Fatalf("sent %q, want second", got)
	}
	testutil.RequireReceive(t, hs.sentVals, 5*time.Second, "second OnSent")
	if hs.loop.Dirty() {
		t.Fatal("dirty after sending the newest value")
	}
}

func TestFailedSendRetriesNextTick(t *testing.T) {
	hs := newHarness(t, true)
	hs.relay.failures = 1

	hs.loop.Set("alice|PFP|s3cr3t!")
	hs.tick()
	if err := testutil.RequireReceive(t, hs.errs, 5*time.Second, "no error reported"); !errors.Is(err, domain.ErrTransientNetwork) {
		t.Fatalf("err = %v", err)
	}
	if !hs.loop.Dirty() {
		t.Fatal("failure cleared the dirty flag")
	}

	hs.tick()
	env := testutil.RequireReceive(t, hs.relay.sent, 5*time.Second, "retry did not send")
	if got := hs.open(t, env); got != "alice|PFP|s3cr3t!" {
		t.Fatalf("sent %q", got)
	}
}

func (r *stubRelay) failPermanently(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.permanent = err
}

func TestPermanentFailureDropsValue(t *testing.T) {
	hs := newHarness(t, true)
	hs.relay.failPermanently(domain.ErrCryptoOperation)

	hs.loop.Set("alice|PFP|s3cr3t!")
	hs.tick()
	if err := testutil.RequireReceive(t, hs.errs, 5*time.Second, "no error reported"); !errors.Is(err, domain.ErrCryptoOperation) {
		t.Fatalf("err = %v", err)
	}
	if hs.loop.Dirty() {
		t.Fatal("permanent failure left the value dirty")
	}
	if err := hs.loop.Err(); !errors.Is(err, domain.ErrCryptoOperation) {
		t.Fatalf("Err() = %v", err)
	}
	<-hs.relay.started

	hs.tick()
	testutil.RequireNoReceive(t, hs.relay.started, 50*time.Millisecond, "dropped value was retried")

	hs.relay.failPermanently(nil)
	hs.loop.Set("alice|PFP|n3w")
	if hs.loop.Err() != nil {
		t.Fatal("Set did not reset Err")
	}
	hs.tick()
	env := testutil.RequireReceive(t, hs.relay.sent, 5*time.Second, "new value not sent")
	if got := hs.open(t, env); got != "alice|PFP|n3w" {
		t.Fatalf("sent %q", got)
	}
}

func TestEmptyValueIsNotSent(t *testing.T) {
	hs := newHarness(t, true)

	hs.loop.Set("")
	hs.tick()
	eventually(t, func() bool { return !hs.loop.Dirty() }, "empty value to clear")
	testutil.RequireNoReceive(t, hs.relay.started, 50*time.Millisecond, "empty value was sent")
}

func TestUnpairedLoopHoldsValue(t *testing.T) {
	hs := newHarness(t, false)

	hs.loop.Set("pending")
	hs.tick()
	testutil.RequireNoReceive(t, hs.relay.started, 50*time.Millisecond, "sent while unpaired")
	if !hs.loop.Dirty() {
		t.Fatal("unpaired tick cleared the value")
	}

	hs.pair(t)
	hs.tick()
	env := testutil.RequireReceive(t, hs.relay.sent, 5*time.Second, "no send after pairing")
	if got := hs.open(t, env); got != "pending" {
		t.Fatalf("sent %q", got)
	}
}

func TestStopReleasesTicker(t *testing.T) {
	hs := newHarness(t, true)
	if err := hs.loop.Start(context.Background()); err == nil {
		t.Fatal("second Start succeeded")
	}
	hs.loop.Stop()
	if n := hs.fake.PendingCount(); n != 0 {
		t.Fatalf("pending timers after Stop = %d", n)
	}
	hs.loop.Stop()

	hs.loop.Set("after stop")
	hs.tick()
	testutil.RequireNoReceive(t, hs.relay.started, 50*time.Millisecond, "stopped loop sent")
}
