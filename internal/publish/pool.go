package publish

import (
	"errors"
	"fmt"
	"sync"
)

// ErrPoolClosed is returned by futures submitted after Close.
var ErrPoolClosed = errors.New("publish pool closed")

// Future is the pending result of a submitted function.
type Future struct {
	done chan struct{}
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(err error) {
	f.err = err
	close(f.done)
}

// Done is closed once the function has returned.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the function returns. Submitted functions carry their
// own context, so a cancelled caller still waits for them to unwind.
func (f *Future) Wait() error {
	<-f.done
	return f.err
}

// WaitAll waits for every future and returns their errors in order. It
// never returns while a submitted function is queued or running.
func WaitAll(futures ...*Future) []error {
	errs := make([]error, len(futures))
	for i, f := range futures {
		errs[i] = f.Wait()
	}
	return errs
}

type job struct {
	fn     func() error
	future *Future
}

// Pool runs submitted functions on a fixed number of goroutines.
type Pool struct {
	jobs     chan job
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
	stopOnce sync.Once
}

// NewPool starts a pool with the given number of workers.
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{jobs: make(chan job, workers*64)}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		j.future.resolve(run(j.fn))
	}
}

func run(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("publish panic: %v", r)
		}
	}()
	return fn()
}

// Submit queues fn and returns its future. It blocks only while the queue is full.
func (p *Pool) Submit(fn func() error) *Future {
	f := newFuture()

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		f.resolve(ErrPoolClosed)
		return f
	}
	p.jobs <- job{fn: fn, future: f}
	return f
}

// Close stops accepting work and waits for queued functions to finish.
func (p *Pool) Close() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.jobs)
		p.mu.Unlock()
	})
	p.wg.Wait()
}
