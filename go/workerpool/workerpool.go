// Package workerpool provides a fixed-size pool of worker goroutines fed
// from an unbounded queue. It is the unit of data-parallelism for gallery
// ingestion and archive building.
package workerpool

import (
	"sync"
)

// Pool runs submitted functions on a fixed number of goroutines. A Pool is
// single-use: after Wait() returns it may not be reused.
type Pool struct {
	queue chan func()
	wg    sync.WaitGroup

	mtx  sync.Mutex
	done bool
}

// New returns a Pool running the given number of worker goroutines.
func New(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		queue: make(chan func(), workers),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for fn := range p.queue {
				fn()
			}
		}()
	}
	return p
}

// Go submits fn to the pool. It may block if all workers are busy and the
// queue is full. Panics if called after Wait().
func (p *Pool) Go(fn func()) {
	p.mtx.Lock()
	if p.done {
		p.mtx.Unlock()
		panic("workerpool: Go() called after Wait()")
	}
	p.mtx.Unlock()
	p.queue <- fn
}

// Wait shuts down the pool and blocks until all submitted functions have
// finished. Panics if called twice.
func (p *Pool) Wait() {
	p.mtx.Lock()
	if p.done {
		p.mtx.Unlock()
		panic("workerpool: Wait() called twice")
	}
	p.done = true
	p.mtx.Unlock()
	close(p.queue)
	p.wg.Wait()
}
