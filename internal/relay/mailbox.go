package relay

import (
	"context"
	"sync"
	"time"

	"pfp/internal/clock"
)

// mailboxes holds at most one undelivered message per receiver plus the
// receivers currently long-polling for one.
type mailboxes struct {
	clock clock.Clock

	mu           sync.Mutex
	boxes        map[string]*mailbox
	lastActivity time.Time
}

type mailbox struct {
	message *string
	waiters []chan string
}

func newMailboxes(c clock.Clock) *mailboxes {
	return &mailboxes{clock: c, boxes: make(map[string]*mailbox), lastActivity: c.Now()}
}

// put hands message to the oldest waiter for receiver, or stores it,
// replacing whatever was stored before.
func (m *mailboxes) put(receiver, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastActivity = m.clock.Now()

	box := m.boxes[receiver]
	if box == nil {
		box = &mailbox{}
		m.boxes[receiver] = box
	}
	if len(box.waiters) > 0 {
		w := box.waiters[0]
		box.waiters = box.waiters[1:]
		w <- message // buffered; each waiter receives at most once
		return
	}
	box.message = &message
}

// take returns the stored message for receiver, or waits up to timeout for
// one to arrive. A nil result means nothing arrived.
func (m *mailboxes) take(ctx context.Context, receiver string, timeout time.Duration) *string {
	m.mu.Lock()
	m.lastActivity = m.clock.Now()
	box := m.boxes[receiver]
	if box != nil && box.message != nil {
		message := box.message
		box.message = nil
		m.dropIfEmpty(receiver, box)
		m.mu.Unlock()
		return message
	}
	if box == nil {
		box = &mailbox{}
		m.boxes[receiver] = box
	}
	w := make(chan string, 1)
	box.waiters = append(box.waiters, w)
	m.mu.Unlock()

	select {
	case message := <-w:
		return &message
	case <-ctx.Done():
	case <-m.clock.After(timeout):
	}

	m.mu.Lock()
	m.removeWaiter(receiver, w)
	m.mu.Unlock()
	// put may have handed over a message between the wake-up and removal.
	select {
	case message := <-w:
		return &message
	default:
		return nil
	}
}

func (m *mailboxes) removeWaiter(receiver string, w chan string) {
	box := m.boxes[receiver]
	if box == nil {
		return
	}
	for i, candidate := range box.waiters {
		if candidate == w {
			box.waiters = append(box.waiters[:i], box.waiters[i+1:]...)
			break
		}
	}
	m.dropIfEmpty(receiver, box)
}

func (m *mailboxes) dropIfEmpty(receiver string, box *mailbox) {
	if box.message == nil && len(box.waiters) == 0 {
		delete(m.boxes, receiver)
	}
}

// purgeIfIdle drops every stored message when nothing has touched the
// relay for at least idle. Waiters keep their channels and time out
// normally.
func (m *mailboxes) purgeIfIdle(idle time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clock.Now().Sub(m.lastActivity) < idle {
		return false
	}
	if len(m.boxes) == 0 {
		return false
	}
	m.boxes = make(map[string]*mailbox)
	return true
}

// size returns the number of receivers with a stored message or a waiter.
func (m *mailboxes) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.boxes)
}
