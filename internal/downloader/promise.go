package downloader

import (
	"context"
	"sync"
)

// Promise is a one-shot result: it settles once, either fulfilled or
// rejected, and never changes afterwards.
type Promise struct {
	mu        sync.Mutex
	done      chan struct{}
	settled   bool
	err       error
	observers []func(error)
}

// NewPromise returns a pending promise.
func NewPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

// Fulfill settles the promise successfully. It reports false when already settled.
func (p *Promise) Fulfill() bool {
	return p.settle(nil)
}

// Reject settles the promise with err. It reports false when already settled.
func (p *Promise) Reject(err error) bool {
	if err == nil {
		panic("downloader: promise rejected with nil error")
	}
	return p.settle(err)
}

func (p *Promise) settle(err error) bool {
	p.mu.Lock()
	if p.settled {
		p.mu.Unlock()
		return false
	}
	p.settled = true
	p.err = err
	observers := p.observers
	p.observers = nil
	close(p.done)
	p.mu.Unlock()

	for _, fn := range observers {
		fn(err)
	}
	return true
}

// Done is closed once the promise settles.
func (p *Promise) Done() <-chan struct{} {
	return p.done
}

// IsPending reports whether the promise has not settled yet.
func (p *Promise) IsPending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.settled
}

// Err returns the rejection error, or nil while pending or when fulfilled.
func (p *Promise) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// result returns whether the promise settled and its error.
func (p *Promise) result() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settled, p.err
}

// Wait blocks until the promise settles or ctx is done.
func (p *Promise) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnSettled calls fn with the result once settled; immediately when it already is.
func (p *Promise) OnSettled(fn func(err error)) {
	p.mu.Lock()
	if !p.settled {
		p.observers = append(p.observers, fn)
		p.mu.Unlock()
		return
	}
	err := p.err
	p.mu.Unlock()
	fn(err)
}
