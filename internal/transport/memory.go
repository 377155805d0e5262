package transport

import (
	"context"
	"sync"
)

// MemoryBus is an in-process Bus. Each subscriber has a bounded queue and
// messages that do not fit are dropped, like a slow NATS consumer.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[string]map[*memorySub]struct{}
	closed bool
	done   chan struct{}
	buffer int
}

type memorySub struct {
	ch chan []byte
}

func NewMemoryBus(buffer int) *MemoryBus {
	if buffer <= 0 {
		buffer = 64
	}
	return &MemoryBus{
		subs:   make(map[string]map[*memorySub]struct{}),
		done:   make(chan struct{}),
		buffer: buffer,
	}
}

func (b *MemoryBus) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	for sub := range b.subs[subject] {
		msg := append([]byte(nil), data...)
		select {
		case sub.ch <- msg:
		default:
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, subject string, handler Handler) error {
	sub := &memorySub{ch: make(chan []byte, b.buffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if b.subs[subject] == nil {
		b.subs[subject] = make(map[*memorySub]struct{})
	}
	b.subs[subject][sub] = struct{}{}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.subs[subject], sub)
		b.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.done:
			return ErrClosed
		case msg := <-sub.ch:
			handler(msg)
		}
	}
}

func (b *MemoryBus) subscribers(subject string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[subject])
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
	return nil
}
