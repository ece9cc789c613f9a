// Package channel provides a generic producer-push / consumer-pull event
// stream with explicit cancellation.
package channel

import (
	"context"
	"errors"
	"sync"
)

// ErrStreamClosed is returned by Send after the consumer has canceled.
var ErrStreamClosed = errors.New("stream closed")

// Stream carries events from one producer to one consumer. The producer ends
// the stream with Close; the consumer may abandon it at any point with Cancel,
// which runs the onCancel hook to release whatever resource feeds the
// producer (typically a network connection).
//
// Only the producer closes the event channel, so Send never races a close.
type Stream[T any] struct {
	events     chan T
	canceled   chan struct{}
	closeOnce  sync.Once
	cancelOnce sync.Once
	onCancel   func()
}

// New creates a Stream with the given buffer size. onCancel may be nil.
func New[T any](buffer int, onCancel func()) *Stream[T] {
	return &Stream[T]{
		events:   make(chan T, buffer),
		canceled: make(chan struct{}),
		onCancel: onCancel,
	}
}

// Send delivers one event to the consumer. It blocks until the event is
// buffered, the consumer cancels, or ctx expires. Must not be called after
// Close.
func (s *Stream[T]) Send(ctx context.Context, v T) error {
	select {
	case <-s.canceled:
		return ErrStreamClosed
	default:
	}
	select {
	case s.events <- v:
		return nil
	case <-s.canceled:
		return ErrStreamClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close marks the producer side finished. Buffered events remain readable;
// a ranging consumer terminates once they drain.
func (s *Stream[T]) Close() {
	s.closeOnce.Do(func() { close(s.events) })
}

// Cancel abandons the stream from the consumer side and runs the onCancel
// hook exactly once. The producer observes the cancellation on its next Send.
func (s *Stream[T]) Cancel() {
	s.cancelOnce.Do(func() {
		close(s.canceled)
		if s.onCancel != nil {
			s.onCancel()
		}
	})
}

// Recv returns the next event. ok is false once the producer has closed the
// stream and the buffer is drained, or when ctx expires.
func (s *Stream[T]) Recv(ctx context.Context) (v T, ok bool) {
	select {
	case v, ok = <-s.events:
		return v, ok
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}

// Events exposes the underlying channel for range-style consumption.
func (s *Stream[T]) Events() <-chan T {
	return s.events
}

// Canceled is closed once the consumer has abandoned the stream.
func (s *Stream[T]) Canceled() <-chan struct{} {
	return s.canceled
}
