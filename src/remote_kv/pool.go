package remote_kv

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
)

var ErrPoolClosed = errors.New("worker pool closed")

// Task is one independent unit of work.
type Task func() error

// Pool runs tasks on a fixed set of goroutines. With queueSize 0 the queue
// is unbounded and Submit never blocks; otherwise Submit blocks while the
// queue is full. Tasks complete in no particular order.
type Pool struct {
	workers   int
	queueSize int
	onError   func(error)

	mu     sync.Mutex
	ready  *sync.Cond // queue non-empty or closing
	space  *sync.Cond // bounded queue has room or closing
	queue  []Task
	closed bool
	wg     sync.WaitGroup
}

// NewPool starts workers goroutines. workers <= 0 means runtime.NumCPU().
// onError receives every task error and recovered panic; it may be nil.
func NewPool(workers, queueSize int, onError func(error)) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &Pool{
		workers:   workers,
		queueSize: queueSize,
		onError:   onError,
	}
	p.ready = sync.NewCond(&p.mu)
	p.space = sync.NewCond(&p.mu)

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) Submit(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.queueSize > 0 && len(p.queue) >= p.queueSize && !p.closed {
		p.space.Wait()
	}
	if p.closed {
		return ErrPoolClosed
	}
	p.queue = append(p.queue, task)
	p.ready.Signal()
	return nil
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int {
	return p.workers
}

// Pending returns the number of queued tasks not yet picked up.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Close rejects new work, runs everything already queued, and waits for the
// workers to exit.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.ready.Broadcast()
	p.space.Broadcast()
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.ready.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		task := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		if len(p.queue) == 0 {
			p.queue = nil
		}
		p.space.Signal()
		p.mu.Unlock()

		p.run(task)
	}
}

// a panicking task is reported like a failed one
func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.report(fmt.Errorf("task panicked: %v", r))
		}
	}()
	if err := task(); err != nil {
		p.report(err)
	}
}

func (p *Pool) report(err error) {
	if p.onError != nil {
		p.onError(err)
	}
}
