// Package pushpull bridges a callback-driven producer to a pull-based,
// cancelable consumer.
//
// The producer pushes results through an emit callback at arbitrary times;
// the consumer pulls them with Next. Results that arrive before anyone asks
// are queued; a consumer that asks before anything arrives is parked until
// the next emit. Either side may run ahead.
package pushpull

import (
	"context"
	"errors"
	"iter"
	"sync"
)

// ErrConcurrentNext is returned when Next is called while another Next is
// still waiting. An adapter serves one consumer.
var ErrConcurrentNext = errors.New("pushpull: concurrent Next")

// Result is one step of the sequence. Done marks the end; Value is the zero
// value when Done is set.
type Result[T any] struct {
	Value T
	Done  bool
}

// Subscribe starts a producer that reports through emit and returns a
// function that stops it. emit may be called from any goroutine, including
// synchronously from within Subscribe.
type Subscribe[T any] func(emit func(Result[T])) (cancel func())

// Adapter is the pull side of a subscription.
//
// Invariant: the queue and the waiter are never both non-empty.
type Adapter[T any] struct {
	mu       sync.Mutex
	queue    []Result[T]
	waiter   chan Result[T]
	closed   bool
	canceled bool
	cancel   func()
}

// New subscribes immediately and returns the pull side.
func New[T any](subscribe Subscribe[T]) *Adapter[T] {
	a := &Adapter[T]{}
	cancel := subscribe(a.emit)

	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()
	return a
}

func (a *Adapter[T]) emit(r Result[T]) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	if r.Done {
		var zero T
		r.Value = zero
		a.closed = true
	}
	if w := a.waiter; w != nil {
		a.waiter = nil
		a.mu.Unlock()
		w <- r
		return
	}
	a.queue = append(a.queue, r)
	a.mu.Unlock()
}

// Next returns the next result, blocking until one is emitted. After the
// sequence is done or canceled, and the queue is drained, Next keeps
// reporting Done. If ctx ends first Next returns ctx.Err() and no value is
// lost.
func (a *Adapter[T]) Next(ctx context.Context) (Result[T], error) {
	a.mu.Lock()
	if len(a.queue) > 0 {
		r := a.pop()
		a.mu.Unlock()
		return r, nil
	}
	if a.closed {
		a.mu.Unlock()
		return Result[T]{Done: true}, nil
	}
	if a.waiter != nil {
		a.mu.Unlock()
		return Result[T]{}, ErrConcurrentNext
	}
	w := make(chan Result[T], 1)
	a.waiter = w
	a.mu.Unlock()

	select {
	case r := <-w:
		return r, nil
	case <-ctx.Done():
		a.mu.Lock()
		if a.waiter == w {
			a.waiter = nil
			a.mu.Unlock()
			return Result[T]{}, ctx.Err()
		}
		a.mu.Unlock()
		// An emit already claimed the waiter; its value is in flight.
		r := <-w
		a.mu.Lock()
		a.queue = append([]Result[T]{r}, a.queue...)
		a.mu.Unlock()
		return Result[T]{}, ctx.Err()
	}
}

func (a *Adapter[T]) pop() Result[T] {
	r := a.queue[0]
	a.queue[0] = Result[T]{}
	a.queue = a.queue[1:]
	if len(a.queue) == 0 {
		a.queue = nil
	}
	return r
}

// Cancel stops the subscription and resolves a waiting Next as Done. Values
// queued before Cancel remain retrievable. Safe to call multiple times.
func (a *Adapter[T]) Cancel() {
	a.mu.Lock()
	if a.canceled {
		a.mu.Unlock()
		return
	}
	a.canceled = true
	a.closed = true
	cancel := a.cancel
	w := a.waiter
	a.waiter = nil
	a.mu.Unlock()

	if w != nil {
		w <- Result[T]{Done: true}
	}
	if cancel != nil {
		cancel()
	}
}

// All yields values until the sequence is done. A ctx error is yielded once
// and ends the loop. Leaving the loop early cancels the adapter.
func (a *Adapter[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			r, err := a.Next(ctx)
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			if r.Done {
				return
			}
			if !yield(r.Value, nil) {
				a.Cancel()
				return
			}
		}
	}
}
