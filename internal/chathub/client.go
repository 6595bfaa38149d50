package chathub

import (
	"context"
	"sync"

	"pairchat/backend/internal/models"
)

// Client is the interface for any type of connection (e.g., WebSocket).
// It abstracts the underlying communication mechanism, allowing the hub to manage
// different client types uniformly.
type Client interface {
	// GetUserID returns the authenticated user behind the connection.
	GetUserID() string

	// Deliver queues ev for the client without blocking. It returns false when the
	// client is closed or its buffer is full; the event is dropped for this client only.
	Deliver(ev models.ChatEvent) bool

	// DeliverWait queues ev, blocking while the buffer is full. It returns false
	// when the client closes or ctx ends first. Used for replay, where nothing may drop.
	DeliverWait(ctx context.Context, ev models.ChatEvent) bool

	// Run starts the client's pumps and connects it to the hub.
	Run()
	// Close shuts the client down. It must be safe to call more than once.
	Close()
}

// Outbox is a bounded, closable send buffer shared by Client implementations.
// The event channel itself is never closed; Done reports shutdown.
type Outbox struct {
	ch   chan models.ChatEvent
	done chan struct{}
	once sync.Once
}

func NewOutbox(size int) *Outbox {
	if size <= 0 {
		size = 1
	}
	return &Outbox{ch: make(chan models.ChatEvent, size), done: make(chan struct{})}
}

func (o *Outbox) Deliver(ev models.ChatEvent) bool {
	if o.Closed() {
		return false
	}
	select {
	case o.ch <- ev:
		return true
	default:
		return false
	}
}

// DeliverWait queues ev, waiting for buffer space until the outbox closes or ctx ends.
func (o *Outbox) DeliverWait(ctx context.Context, ev models.ChatEvent) bool {
	if o.Closed() {
		return false
	}
	select {
	case o.ch <- ev:
		return true
	case <-o.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Close marks the outbox done once; events already queued can still be drained.
func (o *Outbox) Close() {
	o.once.Do(func() { close(o.done) })
}

func (o *Outbox) Closed() bool {
	select {
	case <-o.done:
		return true
	default:
		return false
	}
}

// C is the receive side drained by the write pump.
func (o *Outbox) C() <-chan models.ChatEvent { return o.ch }

// Done is closed by Close.
func (o *Outbox) Done() <-chan struct{} { return o.done }
