package worker

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolClosed is returned by Do after Close.
var ErrPoolClosed = errors.New("worker pool closed")

type job struct {
	fn   func() error
	done chan error
}

// Pool runs blocking work (storage I/O) on a fixed set of goroutines so
// connection loops never fork unbounded work towards the database. Do
// submits a job and waits for it, which keeps per-connection frame
// processing in arrival order while capping store concurrency.
type Pool struct {
	jobs chan job

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

func NewPool(size, queueSize int) *Pool {
	if size <= 0 {
		size = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &Pool{
		jobs:   make(chan job, queueSize),
		closed: make(chan struct{}),
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case j := <-p.jobs:
			j.done <- j.fn()
		case <-p.closed:
			return
		}
	}
}

// Do runs fn on the pool and blocks until it finishes or ctx is done.
// A job that was already picked up keeps running even if the caller
// gives up waiting; its result is discarded.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	j := job{fn: fn, done: make(chan error, 1)}

	select {
	case p.jobs <- j:
	case <-p.closed:
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the workers. Queued jobs that were not picked up are
// abandoned; their callers receive ErrPoolClosed only if they had not
// yet enqueued.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
	})
	p.wg.Wait()
}
