// Package broadcast implements the fan-out fabric between one producer (the
// SSH output callback) and any number of consumers (attached clients plus
// the persistence task). The buffer is bounded per receiver: Publish never
// blocks, and a slow receiver loses its oldest pending messages and is told
// how many it missed.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// DefaultCapacity is the per-receiver buffer capacity in messages.
const DefaultCapacity = 1024

// ErrClosed is returned by Recv once the producer is gone and all buffered
// messages have been drained. It is terminal.
var ErrClosed = errors.New("broadcast: hub closed")

// LaggedError reports that a receiver fell behind and the hub dropped its
// oldest buffered messages. The receiver may keep receiving; the dropped
// bytes are gone.
type LaggedError struct {
	Missed uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("broadcast: receiver lagged, missed %d messages", e.Missed)
}

// Hub distributes byte messages from a single producer to many receivers.
// Each receiver gets messages in publish order; receivers do not affect
// each other except through their own lag.
type Hub struct {
	mu       sync.Mutex
	capacity int
	subs     map[*Receiver]struct{}
	closed   bool
}

func New() *Hub {
	return NewWithCapacity(DefaultCapacity)
}

func NewWithCapacity(capacity int) *Hub {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Hub{
		capacity: capacity,
		subs:     make(map[*Receiver]struct{}),
	}
}

// Publish delivers p to every current receiver without blocking. Receivers
// whose buffers are full lose their oldest message and accrue lag. The hub
// keeps a reference to p; callers must not mutate it afterwards.
func (h *Hub) Publish(p []byte) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	subs := make([]*Receiver, 0, len(h.subs))
	for r := range h.subs {
		subs = append(subs, r)
	}
	h.mu.Unlock()

	for _, r := range subs {
		r.push(p)
	}
}

// Subscribe returns a new receiver positioned at the hub's current tail.
// There is no replay; missed history comes from the scrollback log.
func (h *Hub) Subscribe() *Receiver {
	r := &Receiver{
		hub:      h,
		capacity: h.capacity,
		notify:   make(chan struct{}, 1),
	}
	h.mu.Lock()
	if h.closed {
		r.closed = true
	} else {
		h.subs[r] = struct{}{}
	}
	h.mu.Unlock()
	return r
}

// Close marks the producer as gone. Receivers drain their buffers and then
// get ErrClosed. Publish after Close is a no-op.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := make([]*Receiver, 0, len(h.subs))
	for r := range h.subs {
		subs = append(subs, r)
	}
	h.subs = make(map[*Receiver]struct{})
	h.mu.Unlock()

	for _, r := range subs {
		r.close()
	}
}

func (h *Hub) unsubscribe(r *Receiver) {
	h.mu.Lock()
	delete(h.subs, r)
	h.mu.Unlock()
}

// Receiver is one consumer's cursor into the hub's message stream.
type Receiver struct {
	hub      *Hub
	capacity int

	mu      sync.Mutex
	queue   [][]byte
	missed  uint64
	closed  bool
	notify  chan struct{}
}

func (r *Receiver) push(p []byte) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if len(r.queue) >= r.capacity {
		drop := len(r.queue) - r.capacity + 1
		r.queue = append([][]byte(nil), r.queue[drop:]...)
		r.missed += uint64(drop)
	}
	r.queue = append(r.queue, p)
	r.mu.Unlock()
	r.signal()
}

func (r *Receiver) close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.signal()
}

func (r *Receiver) signal() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Recv returns the next message in publish order. If the receiver lagged,
// Recv first reports the gap as a *LaggedError; the caller may continue
// receiving. Once the hub is closed and the buffer drained, Recv returns
// ErrClosed. Recv honors ctx cancellation.
func (r *Receiver) Recv(ctx context.Context) ([]byte, error) {
	for {
		r.mu.Lock()
		if r.missed > 0 {
			n := r.missed
			r.missed = 0
			r.mu.Unlock()
			return nil, &LaggedError{Missed: n}
		}
		if len(r.queue) > 0 {
			msg := r.queue[0]
			r.queue = r.queue[1:]
			r.mu.Unlock()
			return msg, nil
		}
		if r.closed {
			r.mu.Unlock()
			return nil, ErrClosed
		}
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-r.notify:
		}
	}
}

// Cancel detaches the receiver from the hub. Pending messages are discarded
// and subsequent Recv calls return ErrClosed.
func (r *Receiver) Cancel() {
	r.hub.unsubscribe(r)
	r.mu.Lock()
	r.closed = true
	r.queue = nil
	r.mu.Unlock()
	r.signal()
}
