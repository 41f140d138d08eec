// Package worker bounds concurrent blocking calls to the store and embedder.
package worker

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned by Do after Close.
var ErrClosed = errors.New("worker pool closed")

// Pool runs functions with at most Size of them in flight at once.
// Callers block for a slot, which is the backpressure mechanism.
type Pool struct {
	size int64
	sem  *semaphore.Weighted
	once sync.Once
	done chan struct{}
}

// New creates a pool with size slots. Non-positive sizes become 1.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		size: int64(size),
		sem:  semaphore.NewWeighted(int64(size)),
		done: make(chan struct{}),
	}
}

// Size returns the number of slots.
func (p *Pool) Size() int { return int(p.size) }

// Do runs fn on a pool slot and waits for it. If ctx ends first, Do
// returns ctx.Err() at once; fn keeps its slot until it returns and its
// result is dropped.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	errc := make(chan error, 1)
	go func() {
		defer p.sem.Release(1)
		errc <- fn(ctx)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close rejects new work and waits for in-flight calls to finish.
func (p *Pool) Close() {
	p.once.Do(func() { close(p.done) })
	// Draining every slot means nothing is running.
	_ = p.sem.Acquire(context.Background(), p.size)
	p.sem.Release(p.size)
}

// Call runs fn on the pool and returns its value.
func Call[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
