package submission

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"pfp/internal/clock"
	"pfp/internal/domain"
	"pfp/internal/secret"
	"pfp/internal/services/session"
)

const (
	DefaultInterval    = 500 * time.Millisecond
	DefaultSendTimeout = 10 * time.Second
)

// SessionSource yields the paired session, or nil while unpaired.
// *pairing.Sender satisfies it.
type SessionSource interface {
	Session() *session.Session
}

// Loop is the polling submission loop. The zero value is not usable; call
// New.
type Loop struct {
	sessions    *session.Service
	relay       domain.RelayClient
	source      SessionSource
	clock       clock.Clock
	interval    time.Duration
	sendTimeout time.Duration
	logger      *slog.Logger
	onSent      func(value string)
	onError     func(error)

	mu      sync.Mutex
	value   string
	version uint64
	dirty   bool
	dropErr error

	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Loop.
type Option func(*Loop)

func WithClock(c clock.Clock) Option { return func(l *Loop) { l.clock = c } }
func WithInterval(d time.Duration) Option { return func(l *Loop) { l.interval = d } }
func WithSendTimeout(d time.Duration) Option { return func(l *Loop) { l.sendTimeout = d } }
func WithLogger(lg *slog.Logger) Option { return func(l *Loop) { l.logger = lg } }
func WithOnSent(f func(value string)) Option { return func(l *Loop) { l.onSent = f } }
func WithOnError(f func(err error)) Option { return func(l *Loop) { l.onError = f } }

// New returns a stopped, clean loop.
func New(sessions *session.Service, relay domain.RelayClient, source SessionSource, opts ...Option) *Loop {
	l := &Loop{
		sessions:    sessions,
		relay:       relay,
		source:      source,
		clock:       clock.Real(),
		interval:    DefaultInterval,
		sendTimeout: DefaultSendTimeout,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Set replaces the pending value and marks the loop dirty.
func (l *Loop) Set(value string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.value = value
	l.version++
	l.dirty = true
	l.dropErr = nil
}

// Dirty reports whether the latest value still has to be sent.
func (l *Loop) Dirty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dirty
}

// Err returns the error that made the loop give up on the last value, or
// nil. Set resets it.
func (l *Loop) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropErr
}

// Start begins ticking on a new goroutine.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		return errors.New("submission loop already started")
	}
	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})
	ticker := l.clock.NewTicker(l.interval)

	go func(done chan struct{}) {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.tick(ctx)
			}
		}
	}(l.done)
	return nil
}

// Stop ends the loop and waits for an in-flight tick to finish. The
// pending value and dirty flag are kept.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (l *Loop) tick(ctx context.Context) {
	l.mu.Lock()
	if !l.dirty {
		l.mu.Unlock()
		return
	}
	value, version := l.value, l.version
	l.mu.Unlock()

	if value == "" {
		l.clearIf(version)
		return
	}
	sess := l.source.Session()
	if sess == nil {
		l.logger.Debug("not paired yet; holding value")
		return
	}

	plaintext := []byte(value)
	env, err := l.sessions.Seal(sess, plaintext)
	secret.Zero(plaintext)
	if err != nil {
		l.fail(err, version)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, l.sendTimeout)
	err = l.relay.Send(sendCtx, env)
	cancel()
	if err != nil {
		l.fail(err, version)
		return
	}

	if !l.clearIf(version) {
		l.logger.Debug("value changed during send; staying dirty")
	}
	l.logger.Debug("value sent", "token", sess.Fingerprint(), "bytes", len(env.Ciphertext))
	if l.onSent != nil {
		l.onSent(value)
	}
}

// clearIf clears the dirty flag if no Set happened after version was
// snapshotted.
func (l *Loop) clearIf(version uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.version != version {
		return false
	}
	l.dirty = false
	return true
}

// retryable reports whether a later tick may succeed with the same value.
func retryable(err error) bool {
	return errors.Is(err, domain.ErrTransientNetwork) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// fail keeps the value dirty on a retryable error and drops it otherwise.
// A value Set after version was snapshotted is never dropped.
func (l *Loop) fail(err error, version uint64) {
	if retryable(err) {
		l.logger.Warn("submission failed; retrying next tick", "error", err)
	} else {
		l.mu.Lock()
		dropped := l.version == version
		if dropped {
			l.dirty = false
			l.dropErr = err
		}
		l.mu.Unlock()
		if dropped {
			l.logger.Error("submission failed; dropping value", "error", err)
		} else {
			l.logger.Warn("submission failed; newer value pending", "error", err)
		}
	}
	if l.onError != nil {
		l.onError(err)
	}
}
