package bus

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrClosed = errors.New("bus: mailbox closed")
	ErrFull   = errors.New("bus: mailbox full")
)

// Mailbox is a bounded, lock-protected queue handing values from one
// goroutine to another. Send waits up to the send timeout for free space;
// it never blocks forever. Seal ends sending and lets the receiver drain
// what is queued. Values still queued when the mailbox is closed are
// passed to the discard hook.
type Mailbox[T any] struct {
	mu      sync.Mutex
	items   []T
	size    int
	closed  bool // no more sends, set by Seal or Close
	timeout time.Duration
	discard func(T)

	ready chan struct{} // an item was queued
	space chan struct{} // an item was taken
	done  chan struct{} // closed by the first Seal or Close
}

// NewMailbox returns a mailbox holding at most size values. A zero
// sendTimeout makes Send fail with ErrFull as soon as the mailbox is full.
func NewMailbox[T any](size int, sendTimeout time.Duration, discard func(T)) *Mailbox[T] {
	if size < 1 {
		size = 1
	}
	return &Mailbox[T]{
		items:   make([]T, 0, size),
		size:    size,
		timeout: sendTimeout,
		discard: discard,
		ready:   make(chan struct{}, 1),
		space:   make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Send queues v. It fails with ErrClosed once the mailbox is closed and
// with ErrFull when no space frees up within the send timeout. On error
// the caller still owns v.
func (m *Mailbox[T]) Send(v T) error {
	var timer *time.Timer
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return ErrClosed
		}
		if len(m.items) < m.size {
			m.items = append(m.items, v)
			m.mu.Unlock()
			signal(m.ready)
			return nil
		}
		m.mu.Unlock()

		if m.timeout <= 0 {
			return ErrFull
		}
		if timer == nil {
			timer = time.NewTimer(m.timeout)
			defer timer.Stop()
		}
		select {
		case <-m.space:
		case <-m.done:
			return ErrClosed
		case <-timer.C:
			return ErrFull
		}
	}
}

// Receive takes the oldest value, waiting until one is queued or ctx
// ends. It fails with ErrClosed once the mailbox is sealed or closed and
// nothing is left to take.
func (m *Mailbox[T]) Receive(ctx context.Context) (T, error) {
	var zero T
	for {
		m.mu.Lock()
		if len(m.items) > 0 {
			v := m.items[0]
			m.items[0] = zero
			m.items = m.items[1:]
			m.mu.Unlock()
			signal(m.space)
			return v, nil
		}
		if m.closed {
			m.mu.Unlock()
			return zero, ErrClosed
		}
		m.mu.Unlock()

		select {
		case <-m.ready:
		case <-m.done:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Seal rejects further sends. Values already queued stay available to
// Receive. It is safe to call more than once, and Close after Seal still
// discards whatever was not received.
func (m *Mailbox[T]) Seal() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()
	close(m.done)
}

// Close rejects further sends and discards queued values. It is safe to
// call more than once.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	wasClosed := m.closed
	m.closed = true
	queued := m.items
	m.items = nil
	m.mu.Unlock()

	if !wasClosed {
		close(m.done)
	}
	if m.discard != nil {
		for _, v := range queued {
			m.discard(v)
		}
	}
}

// Len reports how many values are queued.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
