package handlers

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/vladlpavlov/Pythagoras-sub001/internal/model"
)

// FireAndForgetHandler runs handleFn for every payload on a single background worker.
// Payloads are handled in the order they were accepted.
type FireAndForgetHandler[T any] struct {
	HandlerId string
	ch        chan T
	done      chan struct{}
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	teardown  func()
}

func NewFireAndForgetHandler[T any](
	ctx context.Context,
	config model.ScopeConfig,
	handleFn func(context.Context, T),
	teardown func(),
) *FireAndForgetHandler[T] {
	h := &FireAndForgetHandler[T]{
		HandlerId: uuid.New().String(),
		ch:        make(chan T, config.BufferSize),
		done:      make(chan struct{}),
		teardown:  teardown,
	}
	ready := make(chan struct{})
	go func() {
		defer close(h.done)
		close(ready)
		// ranging drains whatever is buffered once Close closes the channel
		for msg := range h.ch {
			handleFn(ctx, msg)
		}
	}()
	<-ready
	return h
}

// Fire enqueues the payload. It is dropped if the handler is already closed
// or ctx is done before the queue accepts it.
func (h *FireAndForgetHandler[T]) Fire(ctx context.Context, payload T) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	select {
	case <-ctx.Done():
	case h.ch <- payload:
	}
}

// Close stops accepting payloads, waits until the queue is drained and runs teardown.
func (h *FireAndForgetHandler[T]) Close() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.ch)
		h.mu.Unlock()
		<-h.done
		if h.teardown != nil {
			h.teardown()
		}
	})
}
