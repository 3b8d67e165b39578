// Package pool implements the bounded FIFO worker pool that serializes
// request handling against the shared store.
//
// The queue is protected by one mutex and two condition variables: Submit
// blocks on notFull while the queue is at capacity, workers block on
// notEmpty while it is empty. Shutdown flips a flag, wakes every waiter,
// lets the workers drain what is queued and joins them.
package pool

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrShutdown is returned by Submit after Shutdown has begun.
var ErrShutdown = errors.New("pool: shut down")

// Job is one unit of request-handling work.
type Job func()

// Pool is a fixed set of workers draining a bounded FIFO queue.
type Pool struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	queue    []Job
	capacity int
	shutdown bool

	wg     sync.WaitGroup
	logger *slog.Logger
}

// New starts workers goroutines draining a queue of the given capacity.
func New(workers, capacity int, logger *slog.Logger) *Pool {
	p := &Pool{
		capacity: capacity,
		logger:   logger.With("component", "pool"),
	}
	p.notEmpty = sync.NewCond(&p.mu)
	p.notFull = sync.NewCond(&p.mu)

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker(i)
	}
	p.logger.Info("worker pool started", "workers", workers, "capacity", capacity)
	return p
}

// Submit enqueues a job, blocking while the queue is full.
func (p *Pool) Submit(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.queue) >= p.capacity && !p.shutdown {
		p.notFull.Wait()
	}
	if p.shutdown {
		return ErrShutdown
	}
	p.queue = append(p.queue, job)
	p.notEmpty.Signal()
	return nil
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.shutdown {
			p.notEmpty.Wait()
		}
		if len(p.queue) == 0 && p.shutdown {
			p.mu.Unlock()
			return
		}
		job := p.queue[0]
		p.queue = p.queue[1:]
		p.notFull.Signal()
		p.mu.Unlock()

		job()
	}
}

// Shutdown stops intake, lets the workers drain the queue and joins them.
// Safe to call more than once.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	already := p.shutdown
	p.shutdown = true
	p.notEmpty.Broadcast()
	p.notFull.Broadcast()
	p.mu.Unlock()

	if already {
		return
	}
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

// QueueLen reports the current queue depth (for tests and introspection).
func (p *Pool) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}
